package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docqa/backend/internal/models"
	"github.com/docqa/backend/pkg/circuitbreaker"
)

type behavior func(ctx context.Context) (string, error)

func answer(text string) behavior {
	return func(context.Context) (string, error) { return text, nil }
}

func fails(err error) behavior {
	return func(context.Context) (string, error) { return "", err }
}

func hangs() behavior {
	return func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
}

type scriptedCompleter struct {
	mu       sync.Mutex
	script   map[string]behavior
	calls    []string
	prompts  map[string]string
	inFlight int
	maxSeen  int
}

func newScripted(script map[string]behavior) *scriptedCompleter {
	return &scriptedCompleter{script: script, prompts: map[string]string{}}
}

func (s *scriptedCompleter) Complete(ctx context.Context, modelID, prompt string) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, modelID)
	s.prompts[modelID] = prompt
	s.inFlight++
	if s.inFlight > s.maxSeen {
		s.maxSeen = s.inFlight
	}
	b := s.script[modelID]
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if b == nil {
		return "", errors.New("unscripted model")
	}
	return b(ctx)
}

func threeModels(timeout time.Duration) []Model {
	return []Model{
		{ID: "m1", Name: "Model One", MaxContextTokens: 8000, Timeout: timeout},
		{ID: "m2", Name: "Model Two", MaxContextTokens: 4000, Timeout: timeout},
		{ID: "m3", Name: "Model Three", MaxContextTokens: 3000, Timeout: timeout},
	}
}

func renderAll(m Model) (string, error) { return "prompt for " + m.ID, nil }

func TestNewRouter_RequiresModels(t *testing.T) {
	_, err := NewRouter(newScripted(nil), nil)
	assert.ErrorIs(t, err, ErrNoModels)
}

func TestNewRouter_DefaultTimeout(t *testing.T) {
	r, err := NewRouter(newScripted(nil), []Model{{ID: "x"}})
	require.NoError(t, err)
	assert.Equal(t, DefaultModelTimeout, r.Models()[0].Timeout)
	assert.Equal(t, "x", r.Models()[0].Name)
}

func TestRouter_FirstModelSucceeds(t *testing.T) {
	c := newScripted(map[string]behavior{"m1": answer("  Paris.  "), "m2": answer("unused")})
	r, err := NewRouter(c, threeModels(time.Second))
	require.NoError(t, err)

	res, err := r.Complete(context.Background(), renderAll, nil)
	require.NoError(t, err)
	assert.Equal(t, "Paris.", res.Answer)
	assert.Equal(t, "m1", res.Model.ID)
	assert.Equal(t, []string{"m1"}, c.calls)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, models.CallSucceeded, res.Outcomes[0].Status)
}

func TestRouter_TimeoutFailsOverToNextModel(t *testing.T) {
	c := newScripted(map[string]behavior{"m1": hangs(), "m2": answer("from m2"), "m3": answer("unused")})
	r, err := NewRouter(c, threeModels(30*time.Millisecond))
	require.NoError(t, err)

	var observed []models.ModelCallOutcome
	res, err := r.Complete(context.Background(), renderAll, func(o models.ModelCallOutcome) {
		observed = append(observed, o)
	})
	require.NoError(t, err)

	assert.Equal(t, "from m2", res.Answer)
	assert.Equal(t, "Model Two", res.Model.Name)
	assert.Equal(t, []string{"m1", "m2"}, c.calls)
	assert.Equal(t, "prompt for m2", c.prompts["m2"])

	require.Len(t, observed, 2)
	assert.Equal(t, models.CallTimedOut, observed[0].Status)
	assert.Contains(t, observed[0].Reason, "timeout")
	assert.Equal(t, models.CallSucceeded, observed[1].Status)
	assert.Equal(t, 1, c.maxSeen, "attempts must not overlap")
}

func TestRouter_AllModelsFail(t *testing.T) {
	c := newScripted(map[string]behavior{
		"m1": fails(&openai.APIError{HTTPStatusCode: 429, Message: "slow down"}),
		"m2": fails(errors.New("connection refused")),
		"m3": answer("   "),
	})
	r, err := NewRouter(c, threeModels(time.Second))
	require.NoError(t, err)

	res, err := r.Complete(context.Background(), renderAll, nil)
	assert.Nil(t, res)
	require.ErrorIs(t, err, models.ErrAllModelsUnavailable)

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	require.Len(t, exhausted.Outcomes, 3)
	assert.Equal(t, "m1", exhausted.Outcomes[0].ModelID)
	assert.Equal(t, "m2", exhausted.Outcomes[1].ModelID)
	assert.Equal(t, "m3", exhausted.Outcomes[2].ModelID)
	assert.Contains(t, exhausted.Outcomes[0].Reason, "rate limited")
	assert.Contains(t, exhausted.Outcomes[1].Reason, "network error")
	assert.Equal(t, "malformed response", exhausted.Outcomes[2].Reason)
	assert.Equal(t, "Model Three", exhausted.PartialModel)
	assert.Equal(t, []string{"m1", "m2", "m3"}, c.calls)
}

func TestRouter_HTTPErrorStatus(t *testing.T) {
	c := newScripted(map[string]behavior{
		"m1": fails(&openai.RequestError{HTTPStatusCode: 502, Err: errors.New("bad gateway")}),
	})
	r, err := NewRouter(c, threeModels(time.Second)[:1])
	require.NoError(t, err)

	_, err = r.Complete(context.Background(), renderAll, nil)
	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, "HTTP 502", exhausted.Outcomes[0].Reason)
	assert.Empty(t, exhausted.PartialModel)
}

func TestRouter_SkipsModelWhenPromptDoesNotFit(t *testing.T) {
	c := newScripted(map[string]behavior{"m2": answer("fits here")})
	r, err := NewRouter(c, threeModels(time.Second))
	require.NoError(t, err)

	render := func(m Model) (string, error) {
		if m.ID == "m1" {
			return "", errors.New("prompt does not fit")
		}
		return "small prompt", nil
	}

	res, err := r.Complete(context.Background(), render, nil)
	require.NoError(t, err)
	assert.Equal(t, "m2", res.Model.ID)
	assert.Equal(t, []string{"m2"}, c.calls)
	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, models.CallSkipped, res.Outcomes[0].Status)
}

func TestRouter_OpenCircuitSkipsModel(t *testing.T) {
	c := newScripted(map[string]behavior{"m1": fails(errors.New("down")), "m2": answer("ok")})
	r, err := NewRouter(c, threeModels(time.Second)[:2],
		WithCircuitBreakers(circuitbreaker.Config{FailureThreshold: 1, OpenTimeout: time.Hour}))
	require.NoError(t, err)

	_, err = r.Complete(context.Background(), renderAll, nil)
	require.NoError(t, err)
	res, err := r.Complete(context.Background(), renderAll, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"m1", "m2", "m2"}, c.calls)
	assert.Equal(t, models.CallSkipped, res.Outcomes[0].Status)
	assert.Equal(t, "circuit open", res.Outcomes[0].Reason)
}

func TestRouter_CancelledRequestStops(t *testing.T) {
	c := newScripted(map[string]behavior{"m1": answer("never")})
	r, err := NewRouter(c, threeModels(time.Second))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = r.Complete(ctx, renderAll, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, c.calls)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "trying", StateTrying.String())
	assert.Equal(t, "success", StateSuccess.String())
	assert.Equal(t, "all_failed", StateAllFailed.String())
}
