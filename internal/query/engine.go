package query

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/llm"
	"github.com/docqa/backend/internal/metrics"
	"github.com/docqa/backend/internal/models"
	"github.com/docqa/backend/internal/prompt"
	"github.com/docqa/backend/internal/retrieval"
	"github.com/docqa/backend/internal/store"
	"github.com/docqa/backend/pkg/logger"
	"github.com/docqa/backend/pkg/utils"
)

const (
	DefaultTopK              = 3
	DefaultMaxTopK           = 5
	DefaultMaxQuestionLength = 1000
	previewRunes             = 200
)

// AnswerCache stores finished responses by key.
type AnswerCache interface {
	GetAnswer(ctx context.Context, key string, dst interface{}) (bool, error)
	SetAnswer(ctx context.Context, key string, answer interface{}) error
}

type Config struct {
	DefaultTopK       int
	MaxTopK           int
	MaxQuestionLength int
	// CompletionReserve is subtracted from each model's context window to
	// leave room for the answer.
	CompletionReserve int
}

type Engine struct {
	store     *store.Store
	retriever *retrieval.Retriever
	router    *llm.Router
	cache     AnswerCache
	cfg       Config
}

type Option func(*Engine)

func WithAnswerCache(cache AnswerCache) Option {
	return func(e *Engine) {
		e.cache = cache
	}
}

type Request struct {
	Question string
	TopK     int
	// OnAttempt, if set, is called after every model attempt.
	OnAttempt func(Attempt)
}

type Attempt struct {
	ModelID   string `json:"model_id"`
	Model     string `json:"model"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

type Response struct {
	ID            string            `json:"id"`
	Question      string            `json:"question"`
	Answer        string            `json:"answer"`
	Citations     []models.Citation `json:"citations"`
	ModelUsed     string            `json:"model_used"`
	ChunksUsed    int               `json:"chunks_used"`
	ContextTokens int               `json:"context_tokens"`
	Attempts      []Attempt         `json:"attempts"`
	LatencyMS     int               `json:"latency_ms"`
	Cached        bool              `json:"cached"`
}

func NewEngine(st *store.Store, retriever *retrieval.Retriever, router *llm.Router, cfg Config, opts ...Option) *Engine {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = DefaultTopK
	}
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = DefaultMaxTopK
	}
	if cfg.MaxQuestionLength <= 0 {
		cfg.MaxQuestionLength = DefaultMaxQuestionLength
	}

	e := &Engine{
		store:     st,
		retriever: retriever,
		router:    router,
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AvailableModels lists model names in priority order.
func (e *Engine) AvailableModels() []string {
	ms := e.router.Models()
	names := make([]string, len(ms))
	for i, m := range ms {
		names[i] = m.Name
	}
	return names
}

// Answer runs retrieval and model failover for one question.
func (e *Engine) Answer(ctx context.Context, req Request) (*Response, error) {
	startTime := time.Now()

	question, topK, err := e.validate(req)
	if err != nil {
		metrics.AskTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	if e.store.Stats().TotalChunks == 0 {
		metrics.AskTotal.WithLabelValues("no_documents").Inc()
		return nil, fmt.Errorf("%w: please upload a document first", models.ErrNoDocumentsIndexed)
	}

	queryID := uuid.New().String()
	logger.Info("Processing question",
		zap.String("query_id", queryID),
		zap.String("question", question),
		zap.Int("top_k", topK),
	)

	cacheKey := utils.CacheKey(e.store.Generation(), question, strconv.Itoa(topK))
	if cached := e.fromCache(ctx, cacheKey); cached != nil {
		cached.ID = queryID
		cached.Cached = true
		cached.LatencyMS = int(time.Since(startTime).Milliseconds())
		metrics.AskTotal.WithLabelValues("cached").Inc()
		return cached, nil
	}

	retrieved, err := e.retriever.Retrieve(ctx, question, topK)
	if err != nil {
		metrics.AskTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to retrieve chunks: %w", err)
	}
	// The store may have been cleared since the stats check.
	if retrieved.Candidates == 0 {
		metrics.AskTotal.WithLabelValues("no_documents").Inc()
		return nil, fmt.Errorf("%w: please upload a document first", models.ErrNoDocumentsIndexed)
	}
	results := retrieved.Results
	metrics.RetrievedChunks.Observe(float64(len(results)))

	prompts := make(map[string]prompt.Prompt)
	render := func(m llm.Model) (string, error) {
		budget := math.MaxInt32
		if m.MaxContextTokens > 0 {
			budget = m.MaxContextTokens - e.cfg.CompletionReserve
		}
		p, err := prompt.Build(question, results, budget)
		if err != nil {
			return "", err
		}
		prompts[m.ID] = p
		return p.Text, nil
	}

	var attempts []Attempt
	observe := func(o models.ModelCallOutcome) {
		a := Attempt{
			ModelID:   o.ModelID,
			Model:     o.Model,
			Status:    string(o.Status),
			Reason:    o.Reason,
			ElapsedMS: o.Elapsed.Milliseconds(),
		}
		attempts = append(attempts, a)
		if req.OnAttempt != nil {
			req.OnAttempt(a)
		}
	}

	result, err := e.router.Complete(ctx, render, observe)
	if err != nil {
		status := "error"
		if errors.Is(err, models.ErrAllModelsUnavailable) {
			status = "all_models_failed"
		}
		metrics.AskTotal.WithLabelValues(status).Inc()
		metrics.AskDuration.WithLabelValues(status).Observe(time.Since(startTime).Seconds())
		logger.Warn("Question failed",
			zap.String("query_id", queryID),
			zap.Error(err),
		)
		return nil, err
	}

	used := prompts[result.Model.ID]
	latency := time.Since(startTime)
	resp := &Response{
		ID:            queryID,
		Question:      question,
		Answer:        result.Answer,
		Citations:     Citations(used.Used),
		ModelUsed:     result.Model.Name,
		ChunksUsed:    len(used.Used),
		ContextTokens: used.ContextTokens,
		Attempts:      attempts,
		LatencyMS:     int(latency.Milliseconds()),
	}

	metrics.AskTotal.WithLabelValues("success").Inc()
	metrics.AskDuration.WithLabelValues("success").Observe(latency.Seconds())
	metrics.ContextTokens.Observe(float64(used.ContextTokens))

	e.toCache(ctx, cacheKey, resp)

	logger.Info("Question answered",
		zap.String("query_id", queryID),
		zap.String("model", result.Model.ID),
		zap.Int("chunks_used", resp.ChunksUsed),
		zap.Int("latency_ms", resp.LatencyMS),
	)
	return resp, nil
}

func (e *Engine) validate(req Request) (string, int, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return "", 0, fmt.Errorf("%w: question is empty", models.ErrInvalidQuestion)
	}
	if n := utf8.RuneCountInString(question); n > e.cfg.MaxQuestionLength {
		return "", 0, fmt.Errorf("%w: question is %d characters, limit is %d",
			models.ErrInvalidQuestion, n, e.cfg.MaxQuestionLength)
	}

	topK := req.TopK
	switch {
	case topK < 0:
		return "", 0, fmt.Errorf("%w: top_k must not be negative", models.ErrInvalidQuestion)
	case topK == 0:
		topK = e.cfg.DefaultTopK
	case topK > e.cfg.MaxTopK:
		topK = e.cfg.MaxTopK
	}
	return question, topK, nil
}

func (e *Engine) fromCache(ctx context.Context, key string) *Response {
	if e.cache == nil {
		return nil
	}
	var resp Response
	ok, err := e.cache.GetAnswer(ctx, key, &resp)
	if err != nil {
		logger.Warn("Answer cache read failed", zap.Error(err))
		return nil
	}
	if !ok {
		metrics.CacheMisses.WithLabelValues("answer").Inc()
		return nil
	}
	metrics.CacheHits.WithLabelValues("answer").Inc()
	return &resp
}

func (e *Engine) toCache(ctx context.Context, key string, resp *Response) {
	if e.cache == nil {
		return
	}
	if err := e.cache.SetAnswer(ctx, key, resp); err != nil {
		logger.Warn("Answer cache write failed", zap.Error(err))
	}
}

// Citations describes the chunks that went into the answering prompt.
func Citations(used []models.RetrievalResult) []models.Citation {
	citations := make([]models.Citation, 0, len(used))
	for _, r := range used {
		citations = append(citations, models.Citation{
			Filename:       r.Filename,
			ChunkIndex:     r.ChunkIndex,
			RelevanceScore: math.Round(r.Score*1000) / 1000,
			TextPreview:    preview(r.Text),
		})
	}
	return citations
}

func preview(text string) string {
	if utf8.RuneCountInString(text) <= previewRunes {
		return text
	}
	return string([]rune(text)[:previewRunes]) + "..."
}
