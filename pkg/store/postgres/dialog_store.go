package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/ragcore/ragcore/pkg/ragerr"
	"github.com/ragcore/ragcore/pkg/ragtypes"
)

// CreateFeedback implements [store.DialogStore]. The unique constraint
// on memory_id enforces the at-most-one-feedback-per-entry invariant.
func (s *Store) CreateFeedback(ctx context.Context, fb ragtypes.Feedback) (int64, error) {
	const q = `
		INSERT INTO feedback (memory_id, text, rating, favorite, has_thread, thread_title)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	var rating any
	if fb.Rating > 0 {
		rating = fb.Rating
	}

	var id int64
	err := s.pool.QueryRow(ctx, q, fb.MemoryID, fb.Text, rating, fb.Favorite, fb.HasThread, fb.ThreadTitle).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ragerr.New(ragerr.Conflict, "feedback already exists for this memory entry")
		}
		if isForeignKeyViolation(err) {
			return 0, ragerr.New(ragerr.NotFound, "memory entry not found")
		}
		return 0, ragerr.Wrap(ragerr.Store, "create feedback", err)
	}
	return id, nil
}

// UpdateFeedback implements [store.DialogStore].
func (s *Store) UpdateFeedback(ctx context.Context, fb ragtypes.Feedback) error {
	const q = `
		UPDATE feedback
		SET    text       = $2,
		       rating     = $3,
		       favorite   = $4,
		       updated_at = now()
		WHERE  id = $1`

	var rating any
	if fb.Rating > 0 {
		rating = fb.Rating
	}

	tag, err := s.pool.Exec(ctx, q, fb.ID, fb.Text, rating, fb.Favorite)
	if err != nil {
		return ragerr.Wrap(ragerr.Store, "update feedback", err)
	}
	if tag.RowsAffected() == 0 {
		return ragerr.New(ragerr.NotFound, "feedback not found")
	}
	return nil
}

// GetFeedbackByMemoryID implements [store.DialogStore].
func (s *Store) GetFeedbackByMemoryID(ctx context.Context, memoryID int64) (*ragtypes.Feedback, error) {
	q := feedbackSelect + `WHERE memory_id = $1`
	return s.queryOneFeedback(ctx, q, memoryID)
}

// GetFeedback implements [store.DialogStore].
func (s *Store) GetFeedback(ctx context.Context, id int64) (ragtypes.Feedback, error) {
	q := feedbackSelect + `WHERE id = $1`
	fb, err := s.queryOneFeedback(ctx, q, id)
	if err != nil {
		return ragtypes.Feedback{}, err
	}
	if fb == nil {
		return ragtypes.Feedback{}, ragerr.New(ragerr.NotFound, "feedback not found")
	}
	return *fb, nil
}

// ListFavorites implements [store.DialogStore].
func (s *Store) ListFavorites(ctx context.Context) ([]ragtypes.Feedback, error) {
	q := feedbackSelect + `WHERE favorite ORDER BY updated_at DESC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Store, "list favorites", err)
	}
	fbs, err := collectFeedback(rows)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Store, "list favorites: scan rows", err)
	}
	return fbs, nil
}

// ListThreads implements [store.DialogStore].
func (s *Store) ListThreads(ctx context.Context) ([]ragtypes.Feedback, error) {
	q := feedbackSelect + `WHERE has_thread ORDER BY updated_at DESC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Store, "list threads", err)
	}
	fbs, err := collectFeedback(rows)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Store, "list threads: scan rows", err)
	}
	return fbs, nil
}

// MarkHasThread implements [store.DialogStore].
func (s *Store) MarkHasThread(ctx context.Context, feedbackID int64, title string) error {
	const q = `
		UPDATE feedback
		SET    has_thread   = true,
		       thread_title = $2,
		       updated_at   = now()
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, feedbackID, title)
	if err != nil {
		return ragerr.Wrap(ragerr.Store, "mark has thread", err)
	}
	if tag.RowsAffected() == 0 {
		return ragerr.New(ragerr.NotFound, "feedback not found")
	}
	return nil
}

// AppendMessage implements [store.DialogStore]. thread_messages.id is
// BIGSERIAL, giving the monotonically-increasing-per-thread ordering
// invariant required by spec §4.12.
func (s *Store) AppendMessage(ctx context.Context, msg ragtypes.ThreadMessage) (ragtypes.ThreadMessage, error) {
	refsJSON, err := json.Marshal(msg.References)
	if err != nil {
		return ragtypes.ThreadMessage{}, ragerr.Wrap(ragerr.Internal, "marshal references", err)
	}
	chunkIDsJSON, err := json.Marshal(msg.ChunkIDs)
	if err != nil {
		return ragtypes.ThreadMessage{}, ragerr.Wrap(ragerr.Internal, "marshal chunk ids", err)
	}

	const q = `
		INSERT INTO thread_messages (feedback_id, text, is_user, refs, chunk_ids)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err = s.pool.QueryRow(ctx, q, msg.ThreadID, msg.Text, msg.IsUser, refsJSON, chunkIDsJSON).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ragtypes.ThreadMessage{}, ragerr.New(ragerr.NotFound, "thread not found")
		}
		return ragtypes.ThreadMessage{}, ragerr.Wrap(ragerr.Store, "append message", err)
	}
	return msg, nil
}

// ListMessages implements [store.DialogStore].
func (s *Store) ListMessages(ctx context.Context, threadID int64) ([]ragtypes.ThreadMessage, error) {
	const q = `
		SELECT id, feedback_id, text, is_user, refs, chunk_ids, created_at
		FROM   thread_messages
		WHERE  feedback_id = $1
		ORDER  BY created_at, id`

	rows, err := s.pool.Query(ctx, q, threadID)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Store, "list messages", err)
	}

	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ragtypes.ThreadMessage, error) {
		var (
			m                      ragtypes.ThreadMessage
			refsJSON, chunkIDsJSON []byte
		)
		if err := row.Scan(&m.ID, &m.ThreadID, &m.Text, &m.IsUser, &refsJSON, &chunkIDsJSON, &m.CreatedAt); err != nil {
			return ragtypes.ThreadMessage{}, err
		}
		if err := json.Unmarshal(refsJSON, &m.References); err != nil {
			return ragtypes.ThreadMessage{}, err
		}
		if err := json.Unmarshal(chunkIDsJSON, &m.ChunkIDs); err != nil {
			return ragtypes.ThreadMessage{}, err
		}
		return m, nil
	})
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Store, "list messages: scan rows", err)
	}
	if msgs == nil {
		msgs = []ragtypes.ThreadMessage{}
	}
	return msgs, nil
}

const feedbackSelect = `
	SELECT id, memory_id, text, coalesce(rating, 0), favorite, has_thread, thread_title, created_at, updated_at
	FROM   feedback
	`

func (s *Store) queryOneFeedback(ctx context.Context, q string, arg any) (*ragtypes.Feedback, error) {
	rows, err := s.pool.Query(ctx, q, arg)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Store, "query feedback", err)
	}
	fbs, err := collectFeedback(rows)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Store, "query feedback: scan rows", err)
	}
	if len(fbs) == 0 {
		return nil, nil
	}
	return &fbs[0], nil
}

func collectFeedback(rows pgx.Rows) ([]ragtypes.Feedback, error) {
	fbs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ragtypes.Feedback, error) {
		var f ragtypes.Feedback
		if err := row.Scan(&f.ID, &f.MemoryID, &f.Text, &f.Rating, &f.Favorite, &f.HasThread, &f.ThreadTitle, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return ragtypes.Feedback{}, err
		}
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	if fbs == nil {
		fbs = []ragtypes.Feedback{}
	}
	return fbs, nil
}

func isUniqueViolation(err error) bool {
	return pgErrCode(err) == "23505"
}

func isForeignKeyViolation(err error) bool {
	return pgErrCode(err) == "23503"
}
