package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/metrics"
	"github.com/docqa/backend/internal/models"
	"github.com/docqa/backend/pkg/circuitbreaker"
	"github.com/docqa/backend/pkg/logger"
)

const DefaultModelTimeout = 8 * time.Second

var ErrNoModels = errors.New("no models configured")

// Model is one entry of the priority-ordered failover list.
type Model struct {
	ID               string
	Name             string
	MaxContextTokens int
	Timeout          time.Duration
}

// RenderFunc produces the prompt for a model, sized to its context window.
// An error skips the model without calling it.
type RenderFunc func(m Model) (string, error)

// ObserveFunc is notified after every attempt, in order.
type ObserveFunc func(outcome models.ModelCallOutcome)

type Result struct {
	Answer   string
	Model    Model
	Outcomes []models.ModelCallOutcome
}

// ExhaustedError is returned when every configured model failed.
type ExhaustedError struct {
	Outcomes []models.ModelCallOutcome
	// PartialModel names the first model that responded without a usable
	// answer, if any.
	PartialModel string
}

func (e *ExhaustedError) Error() string {
	reasons := make([]string, len(e.Outcomes))
	for i, o := range e.Outcomes {
		reasons[i] = fmt.Sprintf("%s: %s", o.Model, o.Reason)
	}
	return fmt.Sprintf("%s: %s", models.ErrAllModelsUnavailable, strings.Join(reasons, "; "))
}

func (e *ExhaustedError) Unwrap() error { return models.ErrAllModelsUnavailable }

type State int

const (
	StateIdle State = iota
	StateTrying
	StateSuccess
	StateAllFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTrying:
		return "trying"
	case StateSuccess:
		return "success"
	case StateAllFailed:
		return "all_failed"
	default:
		return "unknown"
	}
}

// Router tries models strictly in order, one at a time, until one answers.
type Router struct {
	models    []Model
	completer Completer
	breakers  map[string]*circuitbreaker.CircuitBreaker
	now       func() time.Time
}

type RouterOption func(*Router)

// WithCircuitBreakers gives every model its own breaker built from cfg.
func WithCircuitBreakers(cfg circuitbreaker.Config) RouterOption {
	return func(r *Router) {
		r.breakers = make(map[string]*circuitbreaker.CircuitBreaker, len(r.models))
		for _, m := range r.models {
			r.breakers[m.ID] = circuitbreaker.New(m.ID, cfg)
		}
	}
}

func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) {
		r.now = now
	}
}

func NewRouter(completer Completer, modelList []Model, opts ...RouterOption) (*Router, error) {
	if len(modelList) == 0 {
		return nil, ErrNoModels
	}

	r := &Router{
		models:    make([]Model, len(modelList)),
		completer: completer,
		now:       time.Now,
	}
	copy(r.models, modelList)
	for i := range r.models {
		if r.models[i].Timeout <= 0 {
			r.models[i].Timeout = DefaultModelTimeout
		}
		if r.models[i].Name == "" {
			r.models[i].Name = r.models[i].ID
		}
	}

	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Router) Models() []Model {
	out := make([]Model, len(r.models))
	copy(out, r.models)
	return out
}

// failover is the per-request state of one Complete call.
type failover struct {
	state    State
	current  int
	outcomes []models.ModelCallOutcome
	answer   string
}

func (f *failover) transition(to State) {
	logger.Debug("Failover state changed",
		zap.String("from", f.state.String()),
		zap.String("to", to.String()),
		zap.Int("model_index", f.current),
	)
	f.state = to
}

// Complete walks the model list until one model returns a usable answer.
// Cancelling ctx aborts the walk and returns ctx's error.
func (r *Router) Complete(ctx context.Context, render RenderFunc, observe ObserveFunc) (*Result, error) {
	run := &failover{state: StateIdle}

	for run.state != StateSuccess && run.state != StateAllFailed {
		switch run.state {
		case StateIdle:
			run.current = 0
			run.transition(StateTrying)

		case StateTrying:
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			outcome := r.attempt(ctx, r.models[run.current], render)
			run.outcomes = append(run.outcomes, outcome)
			if observe != nil {
				observe(outcome)
			}

			switch {
			case outcome.Succeeded():
				run.answer = outcome.Answer
				run.transition(StateSuccess)
			case ctx.Err() != nil:
				return nil, ctx.Err()
			case run.current == len(r.models)-1:
				run.transition(StateAllFailed)
			default:
				run.current++
			}
		}
	}

	if run.state == StateAllFailed {
		metrics.FailoverExhausted.Inc()
		exhausted := &ExhaustedError{Outcomes: run.outcomes}
		for _, o := range run.outcomes {
			if o.Partial {
				exhausted.PartialModel = o.Model
				break
			}
		}
		logger.Warn("All models failed",
			zap.Int("models", len(run.outcomes)),
			zap.String("partial_model", exhausted.PartialModel),
		)
		return nil, exhausted
	}

	return &Result{
		Answer:   run.answer,
		Model:    r.models[run.current],
		Outcomes: run.outcomes,
	}, nil
}

func (r *Router) attempt(ctx context.Context, m Model, render RenderFunc) models.ModelCallOutcome {
	outcome := models.ModelCallOutcome{ModelID: m.ID, Model: m.Name}
	defer func() {
		metrics.ModelAttempts.WithLabelValues(m.ID, string(outcome.Status)).Inc()
		logger.Info("Model attempt finished",
			zap.String("model", m.ID),
			zap.String("status", string(outcome.Status)),
			zap.Duration("elapsed", outcome.Elapsed),
			zap.String("reason", outcome.Reason),
		)
	}()

	prompt, err := render(m)
	if err != nil {
		outcome.Status = models.CallSkipped
		outcome.Reason = err.Error()
		return outcome
	}

	var ticket circuitbreaker.Ticket
	breaker := r.breakers[m.ID]
	if breaker != nil {
		ticket, err = breaker.Allow()
		if err != nil {
			outcome.Status = models.CallSkipped
			outcome.Reason = "circuit open"
			return outcome
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, m.Timeout)
	start := r.now()
	answer, err := r.completer.Complete(callCtx, m.ID, prompt)
	outcome.Elapsed = r.now().Sub(start)
	timedOut := callCtx.Err() == context.DeadlineExceeded
	cancel()

	metrics.ModelAttemptDuration.WithLabelValues(m.ID).Observe(outcome.Elapsed.Seconds())

	if err == nil && strings.TrimSpace(answer) == "" {
		err = fmt.Errorf("%w: empty content", ErrMalformedResponse)
	}
	if breaker != nil {
		breaker.Done(ticket, err == nil)
	}

	if err == nil {
		outcome.Status = models.CallSucceeded
		outcome.Answer = strings.TrimSpace(answer)
		return outcome
	}

	outcome.Status, outcome.Reason, outcome.Partial = classify(ctx, err, timedOut, m.Timeout)
	return outcome
}

func classify(parent context.Context, err error, timedOut bool, timeout time.Duration) (models.CallStatus, string, bool) {
	if parent.Err() != nil {
		return models.CallFailed, "request cancelled", false
	}

	var netErr net.Error
	if timedOut || errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return models.CallTimedOut, fmt.Sprintf("timeout after %s", timeout), false
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.Is(err, ErrMalformedResponse) || errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return models.CallFailed, "malformed response", true
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	switch {
	case status == http.StatusTooManyRequests:
		return models.CallFailed, "rate limited (HTTP 429)", false
	case status != 0:
		return models.CallFailed, fmt.Sprintf("HTTP %d", status), false
	}

	return models.CallFailed, fmt.Sprintf("network error: %v", err), false
}
