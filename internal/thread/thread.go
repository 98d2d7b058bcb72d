// Package thread implements the thread manager (C12): append-only
// follow-up dialog rooted in a prior memory entry, with optional
// per-turn retrieval enhancement, per spec.md §4.12.
package thread

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ragcore/ragcore/internal/resilience"
	"github.com/ragcore/ragcore/internal/retrieval"
	"github.com/ragcore/ragcore/internal/synthesize"
	"github.com/ragcore/ragcore/pkg/provider/embedder"
	"github.com/ragcore/ragcore/pkg/provider/llm"
	"github.com/ragcore/ragcore/pkg/ragerr"
	"github.com/ragcore/ragcore/pkg/ragtypes"
	"github.com/ragcore/ragcore/pkg/store"
)

// recentAssistantTurns is the number of prior assistant turns folded
// into the question as additional context for a retrieval-enhanced
// append (spec.md §4.12: "the last two assistant turns").
const recentAssistantTurns = 2

// continuationPrompt is the system prompt used for a no-retrieval
// append: continue the dialog using only what is already visible in
// the thread history.
const continuationPrompt = `You are continuing an ongoing dialog that was seeded by a prior retrieval-grounded
answer. Respond helpfully using only the conversation so far; do not invent new citations.`

// Thread is the metadata record returned by [Manager.Create]. Its ID is
// the bound Feedback row's id (thread id == feedback id, spec.md §3).
type Thread struct {
	ID       int64
	MemoryID int64
	Title    string
}

// Manager implements thread creation, turn appending, and listing
// against a [store.DialogStore] + [store.MemoryStore]. Per-thread
// appends are serialized by a striped mutex keyed by thread id
// (grounded on the teacher's internal/app.SessionManager per-session
// locking), so concurrent appends to different threads proceed in
// parallel while appends to the same thread serialize — preserving the
// monotonic message id invariant of spec.md §8 property 6.
type Manager struct {
	store    store.DialogStore
	memory   store.MemoryStore
	embedder embedder.Provider
	searcher *retrieval.Searcher
	synth    *synthesize.Synthesizer
	llm      llm.Provider

	locks sync.Map // int64 (thread id) -> *sync.Mutex
}

// New creates a [Manager] backed by the given collaborators. llmProvider
// is used both for the no-retrieval continuation path and, via synth,
// for the retrieval-enhanced path. The Manager applies no inflight limit
// of its own, and internal/app passes the provider it also hands to
// internal/qa, before qa's LLM_MAX_INFLIGHT gate, so thread calls are
// not counted against that limit.
func New(st store.Store, embed embedder.Provider, llmProvider llm.Provider) *Manager {
	return &Manager{
		store:    st,
		memory:   st,
		embedder: embed,
		searcher: retrieval.NewSearcher(st),
		synth:    synthesize.New(llmProvider),
		llm:      llmProvider,
	}
}

// Create starts a new thread for memoryID, seeded with the parent
// MemoryEntry's original question and answer as its first two messages
// (spec.md §4.12's Empty -> Active transition). If a Feedback row
// already exists for memoryID (e.g. created by a prior rating or
// favorite action) but has no thread yet, that row is upgraded in
// place rather than erroring — thread id == feedback id either way.
// Returns ragerr.NotFound if memoryID does not exist, ragerr.Conflict
// if a thread already exists for it.
func (m *Manager) Create(ctx context.Context, memoryID int64, title string) (Thread, error) {
	entry, err := m.memory.Get(ctx, memoryID)
	if err != nil {
		return Thread{}, wrapStore("fetch memory entry", err)
	}

	existing, err := m.store.GetFeedbackByMemoryID(ctx, memoryID)
	if err != nil {
		return Thread{}, wrapStore("lookup existing feedback", err)
	}

	var feedbackID int64
	if existing != nil {
		if existing.HasThread {
			return Thread{}, ragerr.New(ragerr.Conflict, "a thread already exists for this memory entry")
		}
		feedbackID = existing.ID
	} else {
		id, err := m.store.CreateFeedback(ctx, ragtypes.Feedback{MemoryID: memoryID})
		if err != nil {
			return Thread{}, wrapStore("create feedback row", err)
		}
		feedbackID = id
	}

	if err := m.store.MarkHasThread(ctx, feedbackID, title); err != nil {
		return Thread{}, wrapStore("mark thread active", err)
	}

	lock := m.lockFor(feedbackID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := m.store.AppendMessage(ctx, ragtypes.ThreadMessage{
		ThreadID: feedbackID,
		Text:     entry.Text,
		IsUser:   true,
	}); err != nil {
		return Thread{}, wrapStore("seed thread with original question", err)
	}
	if _, err := m.store.AppendMessage(ctx, ragtypes.ThreadMessage{
		ThreadID:   feedbackID,
		Text:       entry.Answer,
		IsUser:     false,
		References: entry.References,
		ChunkIDs:   entry.ChunkIDs,
	}); err != nil {
		return Thread{}, wrapStore("seed thread with original answer", err)
	}

	return Thread{ID: feedbackID, MemoryID: memoryID, Title: title}, nil
}

// Append persists userText as a new user turn on threadID, then
// produces and persists the assistant's reply. When enhance is true,
// the turn embeds userText, retrieves up to k fresh chunks, and
// synthesizes in Direct mode with those chunks plus the last two
// assistant turns folded into the question as additional context; the
// assistant message is persisted with the resulting references/chunk
// ids. When enhance is false, the reply is produced from the visible
// thread history alone, with no references. Appends to the same
// threadID are serialized; failures fail the request outright (spec.md
// §7: "Thread append failures fail the request").
func (m *Manager) Append(ctx context.Context, threadID int64, userText string, enhance bool, k int) (ragtypes.ThreadMessage, error) {
	lock := m.lockFor(threadID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := m.store.AppendMessage(ctx, ragtypes.ThreadMessage{
		ThreadID: threadID,
		Text:     userText,
		IsUser:   true,
	}); err != nil {
		return ragtypes.ThreadMessage{}, wrapStore("append user turn", err)
	}

	history, err := m.store.ListMessages(ctx, threadID)
	if err != nil {
		return ragtypes.ThreadMessage{}, wrapStore("list thread history", err)
	}

	var (
		answer   synthesize.Answer
		chunkIDs []int64
	)
	if enhance {
		answer, chunkIDs, err = m.answerWithRetrieval(ctx, userText, history, k)
	} else {
		answer, err = m.answerFromHistory(ctx, history)
	}
	if err != nil {
		return ragtypes.ThreadMessage{}, err
	}

	assistant, err := m.store.AppendMessage(ctx, ragtypes.ThreadMessage{
		ThreadID:   threadID,
		Text:       answer.Text,
		IsUser:     false,
		References: answer.References,
		ChunkIDs:   chunkIDs,
	})
	if err != nil {
		return ragtypes.ThreadMessage{}, wrapStore("append assistant turn", err)
	}
	return assistant, nil
}

// Threads lists every active thread (GET /threads, spec.md §6).
func (m *Manager) Threads(ctx context.Context) ([]Thread, error) {
	fbs, err := m.store.ListThreads(ctx)
	if err != nil {
		return nil, wrapStore("list threads", err)
	}
	out := make([]Thread, len(fbs))
	for i, fb := range fbs {
		out[i] = Thread{ID: fb.ID, MemoryID: fb.MemoryID, Title: fb.ThreadTitle}
	}
	return out, nil
}

// List returns every message for threadID in created_at order (spec.md
// §4.12's list operation).
func (m *Manager) List(ctx context.Context, threadID int64) ([]ragtypes.ThreadMessage, error) {
	msgs, err := m.store.ListMessages(ctx, threadID)
	if err != nil {
		return nil, wrapStore("list thread messages", err)
	}
	return msgs, nil
}

// answerWithRetrieval embeds userText, retrieves up to k chunks, and
// synthesizes in Direct mode with the last recentAssistantTurns
// assistant turns folded into the question as additional context.
func (m *Manager) answerWithRetrieval(ctx context.Context, userText string, history []ragtypes.ThreadMessage, k int) (synthesize.Answer, []int64, error) {
	var qvec []float32
	err := resilience.Retry(ctx, resilience.RetryConfig{}, func(ctx context.Context) error {
		v, err := m.embedder.Embed(ctx, userText)
		if err != nil {
			return err
		}
		qvec = v
		return nil
	})
	if err != nil {
		return synthesize.Answer{}, nil, ragerr.Wrap(ragerr.Upstream, "embed thread turn", err)
	}

	chunks, err := m.searcher.Search(ctx, qvec, retrieval.ClampK(k))
	if err != nil {
		return synthesize.Answer{}, nil, ragerr.Wrap(ragerr.Store, "thread retrieval", err)
	}

	question := userText
	if recap := recentAssistantRecap(history); recap != "" {
		question = fmt.Sprintf("Recent answers in this thread:\n%s\n\nNew question: %s", recap, userText)
	}

	answer, err := m.synth.Direct(ctx, question, chunks)
	if err != nil {
		return synthesize.Answer{}, nil, ragerr.Wrap(ragerr.Upstream, "synthesize thread turn", err)
	}
	return answer, chunkIDsOf(chunks), nil
}

// answerFromHistory produces a reply conditioned only on the visible
// thread history, with no retrieval and no references.
func (m *Manager) answerFromHistory(ctx context.Context, history []ragtypes.ThreadMessage) (synthesize.Answer, error) {
	req := llm.CompletionRequest{
		SystemPrompt: continuationPrompt,
		Messages:     historyToMessages(history),
	}
	resp, err := m.llm.Complete(ctx, req)
	if err != nil {
		return synthesize.Answer{}, ragerr.Wrap(ragerr.Upstream, "continue thread", err)
	}
	return synthesize.Answer{Text: resp.Content}, nil
}

func (m *Manager) lockFor(threadID int64) *sync.Mutex {
	v, _ := m.locks.LoadOrStore(threadID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func historyToMessages(history []ragtypes.ThreadMessage) []llm.Message {
	out := make([]llm.Message, len(history))
	for i, msg := range history {
		role := "assistant"
		if msg.IsUser {
			role = "user"
		}
		out[i] = llm.Message{Role: role, Content: msg.Text}
	}
	return out
}

// recentAssistantRecap joins the text of the last recentAssistantTurns
// assistant messages in history, oldest first, for use as additional
// synthesis context.
func recentAssistantRecap(history []ragtypes.ThreadMessage) string {
	var assistant []string
	for _, msg := range history {
		if !msg.IsUser {
			assistant = append(assistant, msg.Text)
		}
	}
	if len(assistant) > recentAssistantTurns {
		assistant = assistant[len(assistant)-recentAssistantTurns:]
	}
	return strings.Join(assistant, "\n")
}

func chunkIDsOf(chunks []ragtypes.ScoredChunk) []int64 {
	ids := make([]int64, len(chunks))
	for i, c := range chunks {
		ids[i] = c.Chunk.ID
	}
	return ids
}

// wrapStore tags err as ragerr.Store unless it already carries a
// taxonomy Kind (e.g. NotFound/Conflict from the store layer itself),
// in which case that Kind is preserved by wrapping transparently
// (fmt.Errorf's %w, not ragerr.Wrap) instead of being overwritten.
func wrapStore(msg string, err error) error {
	if err == nil {
		return nil
	}
	if ragerr.KindOf(err) != ragerr.Internal {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return ragerr.Wrap(ragerr.Store, msg, err)
}
