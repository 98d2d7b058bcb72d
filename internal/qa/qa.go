// Package qa implements the QA pipeline orchestrator (C11): the
// end-to-end query path composing the memory cache, vector retrieval,
// chunk classifier, subquestion planner, answer synthesizer, verifier,
// and graph enricher into a single `Answer` operation, per spec.md
// §4.11.
package qa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ragcore/ragcore/internal/classify"
	"github.com/ragcore/ragcore/internal/config"
	"github.com/ragcore/ragcore/internal/graphenrich"
	"github.com/ragcore/ragcore/internal/memorycache"
	"github.com/ragcore/ragcore/internal/observe"
	"github.com/ragcore/ragcore/internal/plan"
	"github.com/ragcore/ragcore/internal/resilience"
	"github.com/ragcore/ragcore/internal/retrieval"
	"github.com/ragcore/ragcore/internal/synthesize"
	"github.com/ragcore/ragcore/internal/verify"
	"github.com/ragcore/ragcore/pkg/provider/embedder"
	"github.com/ragcore/ragcore/pkg/provider/llm"
	"github.com/ragcore/ragcore/pkg/ragerr"
	"github.com/ragcore/ragcore/pkg/ragtypes"
	"github.com/ragcore/ragcore/pkg/store"
)

// digestChars is the per-chunk character count used to build the
// subquestion planner's context digest (spec.md §4.8).
const digestChars = 300

// Request is the input to [Pipeline.Answer], mirroring POST /query's
// body (spec.md §6). The three feature-toggle fields are pointers so a
// caller (internal/httpapi) can distinguish "omitted" (apply the
// default of true) from an explicit false; MaxResults of 0 is treated
// as "use the default of 5" by [retrieval.ClampK] — rejecting an
// explicit max_results=0 with BAD_INPUT is the HTTP layer's job, since
// only it sees JSON field presence.
type Request struct {
	Query             string
	MaxResults        int
	UseMemory         *bool
	UseAmplification  *bool
	UseSmartSelection *bool

	// Simple forces classification, amplification, and verification
	// off for this request regardless of Use*/cfg (backs
	// POST /query/simple, spec.md §6).
	Simple bool
}

// Response is the output of [Pipeline.Answer], matching POST /query's
// response shape (spec.md §6).
type Response struct {
	Query             string
	Answer            string
	Chunks            []ragtypes.ScoredChunk
	Entities          []ragtypes.EntityHit
	Communities       []ragtypes.CommunityHit
	References        []ragtypes.Reference
	Subquestions      []ragtypes.SubAnswer
	VerificationScore *float64

	// LowConfidence is true when VerificationScore is non-nil and below
	// cfg.Pipeline.VerificationThreshold (spec.md §4.10).
	LowConfidence bool

	FromMemory       bool
	MemoryID         int64
	ProcessingTimeMS int64
}

// Pipeline wires C1-C10 into the single end-to-end operation described
// by spec.md §4.11. Construct with [New]; safe for concurrent use by
// multiple goroutines handling independent requests.
type Pipeline struct {
	embedder   embedder.Provider
	chunks     store.ChunkReader
	memory     *memorycache.Cache
	searcher   *retrieval.Searcher
	classifier *classify.Classifier
	planner    *plan.Planner
	synth      *synthesize.Synthesizer
	verifier   *verify.Verifier
	graph      *graphenrich.Guard
	metrics    *observe.Metrics

	cfg          config.PipelineConfig
	embedTimeout time.Duration
	dbTimeout    time.Duration
}

// Option configures a [Pipeline] beyond the defaults [New] applies.
type Option func(*Pipeline)

// WithMetrics overrides the [observe.Metrics] instance used for
// per-stage histograms and the inflight-call gauge. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New creates a [Pipeline] backed by embed (C1), llmProvider (C2), and
// st (C3), configured from cfg. llmProvider is wrapped once in a
// [gatedLLM] shared by every LLM-calling stage so LLM_MAX_INFLIGHT is
// enforced globally, per spec §5.
func New(embed embedder.Provider, llmProvider llm.Provider, st store.Store, cfg config.Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		embedder:     embed,
		chunks:       st,
		cfg:          cfg.Pipeline,
		embedTimeout: cfg.Embedder.RequestTimeout,
		dbTimeout:    cfg.Postgres.RequestTimeout,
		metrics:      observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(p)
	}

	gated := newGatedLLM(llmProvider, cfg.LLM.MaxInflight, p.metrics)

	p.memory = memorycache.New(st, st, memorycache.WithSimilarityThreshold(cfg.Pipeline.MemorySimilarityThreshold))
	p.searcher = retrieval.NewSearcher(st)
	p.classifier = classify.New(gated,
		classify.WithConcurrency(cfg.Pipeline.ClassifyConcurrency),
		classify.WithMinKeep(cfg.Pipeline.MinKeepChunks),
	)
	p.planner = plan.New(gated, plan.WithMaxSubquestions(cfg.Pipeline.MaxSubquestions))
	p.synth = synthesize.New(gated)
	p.verifier = verify.New(gated)
	p.graph = graphenrich.NewGuard(graphenrich.NewEnricher(st))

	return p
}

// Answer runs the full ten-step pipeline of spec.md §4.11 and returns a
// populated [Response]. The overall call is bounded by the
// configuration's pipeline deadline; on expiry, in-flight work is
// cancelled and Answer fails with ragerr.Timeout.
func (p *Pipeline) Answer(ctx context.Context, req Request) (_ Response, err error) {
	defer func() {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ragerr.Wrap(ragerr.Timeout, "query deadline exceeded", err)
		}
	}()
	start := time.Now()

	if strings.TrimSpace(req.Query) == "" {
		return Response{}, ragerr.New(ragerr.BadInput, "query must not be empty")
	}

	if p.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Deadline)
		defer cancel()
	}

	useMemory := p.cfg.EnableMemory && boolOr(req.UseMemory, true)
	useSmartSelection := !req.Simple && p.cfg.EnableChunkClassification && boolOr(req.UseSmartSelection, true)
	useAmplification := !req.Simple && p.cfg.EnableSubquestionAmplification && boolOr(req.UseAmplification, true)

	// Step 1: exact memory lookup needs no embedding at all.
	if useMemory {
		var hit *memorycache.Hit
		err := p.withDBTimeout(ctx, func(ctx context.Context) (err error) {
			hit, err = p.memory.LookupExact(ctx, req.Query)
			return err
		})
		if err != nil {
			return Response{}, ragerr.Wrap(ragerr.Store, "memory exact lookup", err)
		}
		if hit != nil {
			p.recordMemoryLookup(ctx, "exact_hit")
			return p.memoryResponse(ctx, req, hit, start), nil
		}
	}

	// Step 2: embed the question once; the vector is reused for the
	// semantic memory check below and for step 3's retrieval.
	qvec, err := p.embedWithRetry(ctx, req.Query)
	if err != nil {
		return Response{}, ragerr.Wrap(ragerr.Upstream, "embed question", err)
	}

	if useMemory {
		var hit *memorycache.Hit
		err := p.withDBTimeout(ctx, func(ctx context.Context) (err error) {
			hit, err = p.memory.LookupSemantic(ctx, qvec)
			return err
		})
		if err != nil {
			return Response{}, ragerr.Wrap(ragerr.Store, "memory semantic lookup", err)
		}
		if hit != nil {
			p.recordMemoryLookup(ctx, "semantic_hit")
			return p.memoryResponse(ctx, req, hit, start), nil
		}
		p.recordMemoryLookup(ctx, "miss")
	}

	// Step 3: vector retrieval, then near-duplicate suppression.
	k := retrieval.ClampK(req.MaxResults)
	var hits []ragtypes.ScoredChunk
	err = p.withDBTimeout(ctx, func(ctx context.Context) (err error) {
		hits, err = p.searcher.Search(ctx, qvec, k)
		return err
	})
	if err != nil {
		return Response{}, ragerr.Wrap(ragerr.Store, "vector search", err)
	}
	hits = retrieval.Deduplicate(hits)

	if len(hits) == 0 {
		return p.noChunksResponse(req, start), nil
	}

	// Step 4: classify, or treat every retrieved chunk as selected.
	var selected []ragtypes.ScoredChunk
	if useSmartSelection {
		hits, err = p.classifier.ClassifyAll(ctx, req.Query, hits)
		if err != nil {
			return Response{}, ragerr.Wrap(ragerr.Upstream, "classify chunks", err)
		}
		selected = relevantOnly(hits)
	} else {
		selected = hits
	}

	// Step 5: amplification trigger and subquestion fan-out/fan-in.
	var subAnswers []ragtypes.SubAnswer
	if useAmplification && selectedLength(selected) > p.cfg.AmplificationMinContextLength {
		subqs, err := p.planner.Plan(ctx, req.Query, digest(selected))
		if err != nil {
			slog.Warn("qa: subquestion planning failed, proceeding unamplified", "error", err)
		} else if len(subqs) > 0 {
			subAnswers = p.answerSubquestions(ctx, subqs, selected)
		}
	}

	// Step 6: final synthesis.
	var synthesized synthesize.Answer
	if len(subAnswers) > 0 {
		synthesized, err = p.synth.Amplified(ctx, req.Query, selected, subAnswers)
	} else {
		synthesized, err = p.synth.Direct(ctx, req.Query, selected)
	}
	if err != nil {
		return Response{}, ragerr.Wrap(ragerr.Upstream, "synthesize answer", err)
	}

	// Step 7: verification (advisory — never fails the request).
	var verificationScore *float64
	var lowConfidence bool
	if !req.Simple && p.cfg.EnableAnswerVerification {
		score, err := p.verifier.Score(ctx, req.Query, synthesized.Text, selected)
		if err != nil {
			slog.Warn("qa: verification failed, omitting score", "error", err)
		} else {
			verificationScore = &score
			lowConfidence = score < p.cfg.VerificationThreshold
		}
	}

	// Graph enrichment is computed before persistence (not after, as
	// spec.md §4.11 numbers it) since a persisted MemoryEntry's
	// denormalized Entities/Communities fields need this result — see
	// DESIGN.md's internal/qa entry for the full rationale.
	chunkIDs := chunkIDsOf(selected)
	var graphResult graphenrich.Result
	_ = p.withDBTimeout(ctx, func(ctx context.Context) error {
		graphResult = p.graph.Enrich(ctx, chunkIDs)
		return nil
	})

	// Step 8 (persist): failures are logged, never fail the request.
	var memoryID int64
	if useMemory {
		var id int64
		err := p.withDBTimeout(ctx, func(ctx context.Context) (err error) {
			id, _, err = p.memory.Insert(ctx, ragtypes.MemoryEntry{
				Text:        req.Query,
				Embedding:   qvec,
				Answer:      synthesized.Text,
				References:  synthesized.References,
				ChunkIDs:    chunkIDs,
				Entities:    entityIDsOf(graphResult.Entities),
				Communities: communityIDsOf(graphResult.Communities),
			})
			return err
		})
		if err != nil {
			slog.Warn("qa: memory insert failed, answer still returned", "error", err)
		} else {
			memoryID = id
		}
	}

	p.recordQueryHandled(ctx, len(subAnswers) > 0)

	return Response{
		Query:             req.Query,
		Answer:            synthesized.Text,
		Chunks:            hits,
		Entities:          graphResult.Entities,
		Communities:       graphResult.Communities,
		References:        synthesized.References,
		Subquestions:      subAnswers,
		VerificationScore: verificationScore,
		LowConfidence:     lowConfidence,
		FromMemory:        false,
		MemoryID:          memoryID,
		ProcessingTimeMS:  time.Since(start).Milliseconds(),
	}, nil
}

// ClassifyChunks backs the standalone POST /query/classify-chunks
// endpoint: fetches chunkIDs and runs C7 classification alone.
func (p *Pipeline) ClassifyChunks(ctx context.Context, query string, chunkIDs []int64) ([]ragtypes.ScoredChunk, error) {
	var chunks []ragtypes.Chunk
	err := p.withDBTimeout(ctx, func(ctx context.Context) (err error) {
		chunks, err = p.chunks.FetchChunks(ctx, chunkIDs)
		return err
	})
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Store, "fetch chunks", err)
	}
	scored := make([]ragtypes.ScoredChunk, len(chunks))
	for i, c := range chunks {
		scored[i] = ragtypes.ScoredChunk{Chunk: c}
	}
	out, err := p.classifier.ClassifyAll(ctx, query, scored)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Upstream, "classify chunks", err)
	}
	return out, nil
}

// GenerateSubquestions backs the standalone
// POST /query/generate-subquestions endpoint: runs C8 directly,
// bypassing the context-length activation trigger of §4.8 (a caller
// hitting this endpoint has already decided it wants subquestions).
func (p *Pipeline) GenerateSubquestions(ctx context.Context, query, contextDigest string) ([]string, error) {
	subqs, err := p.planner.Plan(ctx, query, contextDigest)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Upstream, "generate subquestions", err)
	}
	return subqs, nil
}

// VerifyAnswer backs the standalone POST /query/verify-answer endpoint:
// runs C10 against a single raw context string, wrapped as one
// synthetic chunk since [verify.Verifier.Score] numbers its context
// block from a chunk slice.
func (p *Pipeline) VerifyAnswer(ctx context.Context, query, answer, contextText string) (float64, error) {
	score, err := p.verifier.Score(ctx, query, answer, []ragtypes.ScoredChunk{
		{Chunk: ragtypes.Chunk{ID: 1, Text: contextText}},
	})
	if err != nil {
		return 0, ragerr.Wrap(ragerr.Upstream, "verify answer", err)
	}
	return score, nil
}

// answerSubquestions synthesizes a short Direct answer per subquestion,
// fanned out with up to SUBQ_CONCURRENCY concurrent calls (spec §5). A
// failed sub-answer is omitted rather than aborting the group, mirroring
// internal/classify's bounded errgroup shape.
func (p *Pipeline) answerSubquestions(ctx context.Context, subqs []string, selected []ragtypes.ScoredChunk) []ragtypes.SubAnswer {
	concurrency := p.cfg.SubquestionConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	answers := make([]*ragtypes.SubAnswer, len(subqs))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, q := range subqs {
		i, q := i, q
		eg.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-egCtx.Done():
				return nil //nolint:nilerr // a cancelled slot is not a sub-answer failure worth surfacing
			}
			defer func() { <-sem }()

			ans, err := p.synth.Direct(egCtx, q, selected)
			if err != nil {
				slog.Warn("qa: sub-answer failed, omitting from amplified synthesis", "subquestion", q, "error", err)
				return nil
			}
			answers[i] = &ragtypes.SubAnswer{Question: q, Answer: ans.Text}
			return nil
		})
	}
	_ = eg.Wait() // sub-answer failures never abort the group; see above.

	out := make([]ragtypes.SubAnswer, 0, len(answers))
	for _, a := range answers {
		if a != nil {
			out = append(out, *a)
		}
	}
	return out
}

// embedWithRetry embeds text, retried once with jitter on failure
// (spec §7: embedding is an idempotent upstream read).
func (p *Pipeline) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := p.withEmbedTimeout(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, resilience.RetryConfig{}, func(ctx context.Context) error {
			v, err := p.embedder.Embed(ctx, text)
			if err != nil {
				return err
			}
			vec = v
			return nil
		})
	})
	return vec, err
}

// memoryResponse builds a Response for a memory-cache hit (steps 1/2
// "on hit, touch and return"). Graph enrichment is recomputed from the
// entry's chunk ids so the response still carries entities/communities
// even though the full pipeline never ran; this is a Store-only read,
// so it does not violate scenario S1's "no LLM calls made" assertion.
func (p *Pipeline) memoryResponse(ctx context.Context, req Request, hit *memorycache.Hit, start time.Time) Response {
	chunkIDs := hit.Entry.ChunkIDs
	var graphResult graphenrich.Result
	_ = p.withDBTimeout(ctx, func(ctx context.Context) error {
		graphResult = p.graph.Enrich(ctx, chunkIDs)
		return nil
	})

	scored := make([]ragtypes.ScoredChunk, len(hit.Chunks))
	for i, c := range hit.Chunks {
		scored[i] = ragtypes.ScoredChunk{Chunk: c}
	}

	return Response{
		Query:            req.Query,
		Answer:           hit.Entry.Answer,
		Chunks:           scored,
		Entities:         graphResult.Entities,
		Communities:      graphResult.Communities,
		References:       hit.Entry.References,
		FromMemory:       true,
		MemoryID:         hit.Entry.ID,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	}
}

// noChunksResponse builds the fixed-refusal Response for the "no
// chunks exist" boundary behavior (spec.md §8): 200, empty chunks,
// verification_score null.
func (p *Pipeline) noChunksResponse(req Request, start time.Time) Response {
	return Response{
		Query:            req.Query,
		Answer:           synthesize.NoContextRefusal,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	}
}

// withDBTimeout runs fn with ctx bounded by the configured Postgres
// request timeout, if any, releasing the timer as soon as fn returns.
func (p *Pipeline) withDBTimeout(ctx context.Context, fn func(context.Context) error) error {
	if p.dbTimeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, p.dbTimeout)
	defer cancel()
	return fn(ctx)
}

// withEmbedTimeout runs fn with ctx bounded by the configured embedder
// request timeout, if any, releasing the timer as soon as fn returns.
func (p *Pipeline) withEmbedTimeout(ctx context.Context, fn func(context.Context) error) error {
	if p.embedTimeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, p.embedTimeout)
	defer cancel()
	return fn(ctx)
}

func (p *Pipeline) recordMemoryLookup(ctx context.Context, outcome string) {
	if p.metrics != nil {
		p.metrics.RecordMemoryLookup(ctx, outcome)
	}
}

func (p *Pipeline) recordQueryHandled(ctx context.Context, amplified bool) {
	if p.metrics == nil {
		return
	}
	mode := "direct"
	if amplified {
		mode = "amplified"
	}
	p.metrics.RecordQueryHandled(ctx, mode)
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func relevantOnly(chunks []ragtypes.ScoredChunk) []ragtypes.ScoredChunk {
	out := make([]ragtypes.ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Relevant {
			out = append(out, c)
		}
	}
	return out
}

func selectedLength(chunks []ragtypes.ScoredChunk) int {
	n := 0
	for _, c := range chunks {
		n += len(c.Chunk.Text)
	}
	return n
}

// digest builds the planner's context digest: the first digestChars
// characters of each selected chunk (spec.md §4.8).
func digest(chunks []ragtypes.ScoredChunk) string {
	var b strings.Builder
	for _, c := range chunks {
		text := c.Chunk.Text
		if len(text) > digestChars {
			text = text[:digestChars]
		}
		fmt.Fprintf(&b, "%s\n", text)
	}
	return b.String()
}

func chunkIDsOf(chunks []ragtypes.ScoredChunk) []int64 {
	ids := make([]int64, len(chunks))
	for i, c := range chunks {
		ids[i] = c.Chunk.ID
	}
	return ids
}

func entityIDsOf(hits []ragtypes.EntityHit) []string {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.EntityID
	}
	return ids
}

func communityIDsOf(hits []ragtypes.CommunityHit) []int64 {
	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.CommunityID
	}
	return ids
}
