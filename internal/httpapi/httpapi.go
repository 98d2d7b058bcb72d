// Package httpapi implements the HTTP surface of spec.md §6: the only
// observable boundary of the core. Routing uses net/http.ServeMux's
// Go 1.22+ method-pattern syntax ("POST /query", …), grounded on the
// teacher's internal/health.Handler.Register and
// cmd/glyphoxa/main.go wiring style — no web framework dependency was
// present in the teacher's HTTP surface, so none is introduced here.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ragcore/ragcore/internal/feedback"
	"github.com/ragcore/ragcore/internal/health"
	"github.com/ragcore/ragcore/internal/qa"
	"github.com/ragcore/ragcore/internal/thread"
	"github.com/ragcore/ragcore/pkg/ragerr"
	"github.com/ragcore/ragcore/pkg/ragtypes"
	"github.com/ragcore/ragcore/pkg/store"
)

// Server holds every collaborator a handler needs and exposes a
// net/http.Handler via [Server.Mux].
type Server struct {
	pipeline *qa.Pipeline
	threads  *thread.Manager
	feedback *feedback.Manager
	memory   store.MemoryStore
	health   *health.Handler

	// enhanceDefault is the value an omitted enhance_with_retrieval
	// field resolves to on POST /thread/message, set from
	// ENABLE_DIALOG_RETRIEVAL (spec.md §6).
	enhanceDefault bool
}

// New creates a [Server]. health may be nil, in which case no /health
// route is registered (used by callers that wire health separately).
// enhanceDefault controls the default for an omitted
// enhance_with_retrieval field on POST /thread/message.
func New(pipeline *qa.Pipeline, threads *thread.Manager, fb *feedback.Manager, mem store.MemoryStore, h *health.Handler, enhanceDefault bool) *Server {
	return &Server{pipeline: pipeline, threads: threads, feedback: fb, memory: mem, health: h, enhanceDefault: enhanceDefault}
}

// Mux builds the routed handler for every spec.md §6 endpoint.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("POST /query/simple", s.handleQuerySimple)
	mux.HandleFunc("POST /query/classify-chunks", s.handleClassifyChunks)
	mux.HandleFunc("POST /query/generate-subquestions", s.handleGenerateSubquestions)
	mux.HandleFunc("POST /query/verify-answer", s.handleVerifyAnswer)

	mux.HandleFunc("GET /memory/stats", s.handleMemoryStats)
	mux.HandleFunc("GET /memory/entry/{id}", s.handleMemoryGet)
	mux.HandleFunc("DELETE /memory/entry/{id}", s.handleMemoryDelete)
	mux.HandleFunc("DELETE /memory/clear", s.handleMemoryClear)

	mux.HandleFunc("POST /feedback", s.handleFeedback)
	mux.HandleFunc("GET /favorites", s.handleFavorites)

	mux.HandleFunc("POST /thread/create", s.handleThreadCreate)
	mux.HandleFunc("GET /threads", s.handleThreads)
	mux.HandleFunc("GET /thread/{id}", s.handleThreadGet)
	mux.HandleFunc("POST /thread/message", s.handleThreadMessage)

	if s.health != nil {
		s.health.Register(mux)
	}

	return mux
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("httpapi: encode response failed", "error", err)
	}
}

// writeError maps err to its taxonomy status code (spec.md §7) and
// writes a `{"error": "..."}` body.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, ragerr.HTTPStatus(err), map[string]string{"error": err.Error()})
}

// badInput writes a 400 response for a decoding/validation failure that
// never reached a pipeline collaborator, so has no ragerr.Error to wrap.
func badInput(w http.ResponseWriter, msg string) {
	writeError(w, ragerr.New(ragerr.BadInput, msg))
}

// decodeJSON decodes r's body into v, reporting a BAD_INPUT message on
// any malformed-JSON failure.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return ragerr.New(ragerr.BadInput, "malformed JSON body: "+err.Error())
	}
	return nil
}

// pathInt64 parses the {id} path value as an int64, writing a 400 on
// failure. ok is false if the caller should stop handling the request.
func pathInt64(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		badInput(w, "invalid "+name+" path value: "+raw)
		return 0, false
	}
	return id, true
}

// ---- POST /query, POST /query/simple ----

// queryRequest mirrors POST /query's body (spec.md §6). Pointer fields
// distinguish "omitted" (apply default) from an explicit value; a
// *present* MaxResults of 0 is explicitly rejected (the boundary
// behavior "max_results=0 ⇒ 400"), which only this HTTP layer can tell
// apart from an omitted field.
type queryRequest struct {
	Query             string `json:"query"`
	MaxResults        *int   `json:"max_results"`
	UseMemory         *bool  `json:"use_memory"`
	UseAmplification  *bool  `json:"use_amplification"`
	UseSmartSelection *bool  `json:"use_smart_selection"`
}

// toQARequest converts qr to an internal/qa.Request, returning a
// BAD_INPUT error for max_results=0 (spec.md §8 boundary behavior).
// max_results>50 is left to qa's retrieval.ClampK to clamp silently.
func (qr queryRequest) toQARequest() (qa.Request, error) {
	if strings.TrimSpace(qr.Query) == "" {
		return qa.Request{}, ragerr.New(ragerr.BadInput, "query must not be empty")
	}
	maxResults := 0
	if qr.MaxResults != nil {
		if *qr.MaxResults == 0 {
			return qa.Request{}, ragerr.New(ragerr.BadInput, "max_results must not be 0")
		}
		maxResults = *qr.MaxResults
	}
	return qa.Request{
		Query:             qr.Query,
		MaxResults:        maxResults,
		UseMemory:         qr.UseMemory,
		UseAmplification:  qr.UseAmplification,
		UseSmartSelection: qr.UseSmartSelection,
	}, nil
}

// queryResponse mirrors POST /query's response shape (spec.md §6).
type queryResponse struct {
	Query             string         `json:"query"`
	Answer            string         `json:"answer"`
	Chunks            []chunkDTO     `json:"chunks"`
	Entities          []entityDTO    `json:"entities"`
	Communities       []communityDTO `json:"communities"`
	References        []string       `json:"references"`
	Subquestions      []subAnswerDTO `json:"subquestions,omitempty"`
	VerificationScore *float64       `json:"verification_score"`
	LowConfidence     bool           `json:"low_confidence"`
	FromMemory        bool           `json:"from_memory"`
	MemoryID          int64          `json:"memory_id"`
	ProcessingTimeMS  int64          `json:"processing_time"`
}

type chunkDTO struct {
	ID         int64   `json:"id"`
	Text       string  `json:"text"`
	Source     string  `json:"source"`
	Similarity float64 `json:"similarity"`
}

type entityDTO struct {
	Entity     string  `json:"entity"`
	EntityType string  `json:"entity_type"`
	Relevance  float64 `json:"relevance"`
}

type communityDTO struct {
	CommunityID int64    `json:"community_id"`
	Summary     string   `json:"summary"`
	Entities    []string `json:"entities"`
	Relevance   float64  `json:"relevance"`
}

type subAnswerDTO struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

func toQueryResponse(resp qa.Response) queryResponse {
	chunks := make([]chunkDTO, len(resp.Chunks))
	for i, c := range resp.Chunks {
		chunks[i] = chunkDTO{ID: c.Chunk.ID, Text: c.Chunk.Text, Source: c.Chunk.Source, Similarity: c.Similarity}
	}
	entities := make([]entityDTO, len(resp.Entities))
	for i, e := range resp.Entities {
		entities[i] = entityDTO{Entity: e.EntityID, EntityType: e.Type, Relevance: e.Relevance}
	}
	communities := make([]communityDTO, len(resp.Communities))
	for i, c := range resp.Communities {
		communities[i] = communityDTO{CommunityID: c.CommunityID, Summary: c.Summary, Entities: c.Entities, Relevance: c.Relevance}
	}
	references := make([]string, len(resp.References))
	for i, r := range resp.References {
		references[i] = r.Source
	}
	subqs := make([]subAnswerDTO, len(resp.Subquestions))
	for i, sq := range resp.Subquestions {
		subqs[i] = subAnswerDTO{Question: sq.Question, Answer: sq.Answer}
	}
	return queryResponse{
		Query:             resp.Query,
		Answer:            resp.Answer,
		Chunks:            chunks,
		Entities:          entities,
		Communities:       communities,
		References:        references,
		Subquestions:      subqs,
		VerificationScore: resp.VerificationScore,
		LowConfidence:     resp.LowConfidence,
		FromMemory:        resp.FromMemory,
		MemoryID:          resp.MemoryID,
		ProcessingTimeMS:  resp.ProcessingTimeMS,
	}
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	s.runQuery(w, r, false)
}

func (s *Server) handleQuerySimple(w http.ResponseWriter, r *http.Request) {
	s.runQuery(w, r, true)
}

func (s *Server) runQuery(w http.ResponseWriter, r *http.Request, simple bool) {
	var qr queryRequest
	if err := decodeJSON(r, &qr); err != nil {
		writeError(w, err)
		return
	}
	req, err := qr.toQARequest()
	if err != nil {
		writeError(w, err)
		return
	}
	req.Simple = simple

	resp, err := s.pipeline.Answer(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toQueryResponse(resp))
}

// ---- POST /query/classify-chunks ----

type classifyRequest struct {
	Query    string  `json:"query"`
	ChunkIDs []int64 `json:"chunk_ids"`
}

type classifyResultDTO struct {
	ChunkID  int64 `json:"chunk_id"`
	Relevant bool  `json:"relevant"`
}

func (s *Server) handleClassifyChunks(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		badInput(w, "query must not be empty")
		return
	}
	out, err := s.pipeline.ClassifyChunks(r.Context(), req.Query, req.ChunkIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	dtos := make([]classifyResultDTO, len(out))
	for i, c := range out {
		dtos[i] = classifyResultDTO{ChunkID: c.Chunk.ID, Relevant: c.Relevant}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ---- POST /query/generate-subquestions ----

type subquestionsRequest struct {
	Query   string `json:"query"`
	Context string `json:"context"`
}

func (s *Server) handleGenerateSubquestions(w http.ResponseWriter, r *http.Request) {
	var req subquestionsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		badInput(w, "query must not be empty")
		return
	}
	subqs, err := s.pipeline.GenerateSubquestions(r.Context(), req.Query, req.Context)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subqs)
}

// ---- POST /query/verify-answer ----

type verifyRequest struct {
	Query   string `json:"query"`
	Answer  string `json:"answer"`
	Context string `json:"context"`
}

type scoreResponse struct {
	Score float64 `json:"score"`
}

func (s *Server) handleVerifyAnswer(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" || strings.TrimSpace(req.Answer) == "" {
		badInput(w, "query and answer must not be empty")
		return
	}
	score, err := s.pipeline.VerifyAnswer(r.Context(), req.Query, req.Answer, req.Context)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scoreResponse{Score: score})
}

// ---- Memory ----

type memoryStatsResponse struct {
	TotalEntries    int     `json:"total_entries"`
	TotalAccesses   int     `json:"total_accesses"`
	AverageAccesses float64 `json:"average_accesses"`
}

func (s *Server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.memory.Stats(r.Context())
	if err != nil {
		writeError(w, ragerr.Wrap(ragerr.Store, "memory stats", err))
		return
	}
	writeJSON(w, http.StatusOK, memoryStatsResponse{
		TotalEntries:    stats.TotalEntries,
		TotalAccesses:   stats.TotalAccesses,
		AverageAccesses: stats.AverageAccesses,
	})
}

type memoryEntryResponse struct {
	ID          int64    `json:"id"`
	Text        string   `json:"text"`
	Answer      string   `json:"answer"`
	References  []string `json:"references"`
	ChunkIDs    []int64  `json:"chunk_ids"`
	AccessCount int      `json:"access_count"`
}

func (s *Server) handleMemoryGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	entry, err := s.memory.Get(r.Context(), id)
	if err != nil {
		writeError(w, wrapMemoryErr("fetch memory entry", err))
		return
	}
	refs := make([]string, len(entry.References))
	for i, ref := range entry.References {
		refs[i] = ref.Source
	}
	writeJSON(w, http.StatusOK, memoryEntryResponse{
		ID:          entry.ID,
		Text:        entry.Text,
		Answer:      entry.Answer,
		References:  refs,
		ChunkIDs:    entry.ChunkIDs,
		AccessCount: entry.AccessCount,
	})
}

func (s *Server) handleMemoryDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	if err := s.memory.Delete(r.Context(), id); err != nil {
		writeError(w, wrapMemoryErr("delete memory entry", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMemoryClear(w http.ResponseWriter, r *http.Request) {
	if err := s.memory.Clear(r.Context()); err != nil {
		writeError(w, ragerr.Wrap(ragerr.Store, "clear memory", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// wrapMemoryErr preserves a store-returned NotFound rather than
// overwriting it with Store, mirroring internal/thread's wrapStore.
func wrapMemoryErr(msg string, err error) error {
	if ragerr.KindOf(err) != ragerr.Internal {
		return err
	}
	return ragerr.Wrap(ragerr.Store, msg, err)
}

// ---- Feedback ----

type feedbackRequest struct {
	MemoryID     int64   `json:"memory_id"`
	FeedbackText *string `json:"feedback_text"`
	Rating       *int    `json:"rating"`
	IsFavorite   *bool   `json:"is_favorite"`
}

type feedbackResponse struct {
	ID       int64  `json:"id"`
	MemoryID int64  `json:"memory_id"`
	Text     string `json:"feedback_text"`
	Rating   int    `json:"rating"`
	Favorite bool   `json:"is_favorite"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	fb, err := s.feedback.Submit(r.Context(), feedback.Submission{
		MemoryID: req.MemoryID,
		Text:     req.FeedbackText,
		Rating:   req.Rating,
		Favorite: req.IsFavorite,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, feedbackResponse{
		ID: fb.ID, MemoryID: fb.MemoryID, Text: fb.Text, Rating: fb.Rating, Favorite: fb.Favorite,
	})
}

func (s *Server) handleFavorites(w http.ResponseWriter, r *http.Request) {
	ids, err := s.feedback.Favorites(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

// ---- Threads ----

type threadCreateRequest struct {
	MemoryID    int64  `json:"memory_id"`
	ThreadTitle string `json:"thread_title"`
}

type threadResponse struct {
	ID       int64  `json:"id"`
	MemoryID int64  `json:"memory_id"`
	Title    string `json:"title"`
}

func (s *Server) handleThreadCreate(w http.ResponseWriter, r *http.Request) {
	var req threadCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	th, err := s.threads.Create(r.Context(), req.MemoryID, req.ThreadTitle)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, threadResponse{ID: th.ID, MemoryID: th.MemoryID, Title: th.Title})
}

func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := s.threads.Threads(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	dtos := make([]threadResponse, len(threads))
	for i, th := range threads {
		dtos[i] = threadResponse{ID: th.ID, MemoryID: th.MemoryID, Title: th.Title}
	}
	writeJSON(w, http.StatusOK, dtos)
}

type threadMessageDTO struct {
	ID         int64    `json:"id"`
	ThreadID   int64    `json:"thread_id"`
	Text       string   `json:"text"`
	IsUser     bool     `json:"is_user"`
	References []string `json:"references,omitempty"`
	ChunkIDs   []int64  `json:"chunk_ids,omitempty"`
}

func toThreadMessageDTO(msg ragtypes.ThreadMessage) threadMessageDTO {
	refs := make([]string, len(msg.References))
	for i, r := range msg.References {
		refs[i] = r.Source
	}
	return threadMessageDTO{
		ID: msg.ID, ThreadID: msg.ThreadID, Text: msg.Text, IsUser: msg.IsUser,
		References: refs, ChunkIDs: msg.ChunkIDs,
	}
}

func (s *Server) handleThreadGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	msgs, err := s.threads.List(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	dtos := make([]threadMessageDTO, len(msgs))
	for i, m := range msgs {
		dtos[i] = toThreadMessageDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

type threadMessageRequest struct {
	FeedbackID           int64  `json:"feedback_id"`
	Message              string `json:"message"`
	EnhanceWithRetrieval *bool  `json:"enhance_with_retrieval"`
	MaxResults           *int   `json:"max_results"`
}

func (s *Server) handleThreadMessage(w http.ResponseWriter, r *http.Request) {
	var req threadMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		badInput(w, "message must not be empty")
		return
	}
	enhance := s.enhanceDefault
	if req.EnhanceWithRetrieval != nil {
		enhance = *req.EnhanceWithRetrieval
	}
	k := 3
	if req.MaxResults != nil {
		k = *req.MaxResults
	}

	msg, err := s.threads.Append(r.Context(), req.FeedbackID, req.Message, enhance, k)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toThreadMessageDTO(msg))
}
