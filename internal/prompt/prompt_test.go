package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docqa/backend/internal/models"
)

func words(n int, w string) string {
	return strings.TrimSpace(strings.Repeat(w+" ", n))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 0, EstimateTokens("   \n"))
	assert.Equal(t, 1, EstimateTokens("hello"))
	assert.Equal(t, 13, EstimateTokens(words(10, "w")))
	assert.Equal(t, 130, EstimateTokens(words(100, "w")))
}

func TestBuild_TemplateAndOrder(t *testing.T) {
	results := []models.RetrievalResult{
		{Filename: "low.txt", ChunkIndex: 4, Text: "low scored text", Score: 0.2},
		{Filename: "high.txt", ChunkIndex: 1, Text: "high scored text", Score: 0.9},
	}

	p, err := Build("What is scored?", results, 8000)
	require.NoError(t, err)

	assert.Contains(t, p.Text, "Answer using ONLY the provided context.")
	assert.Contains(t, p.Text, `say "I don't know."`)
	assert.Contains(t, p.Text, "[source: high.txt, chunk 1]\nhigh scored text")
	assert.Contains(t, p.Text, "---")
	assert.Contains(t, p.Text, "Question:\nWhat is scored?")
	assert.Less(t, strings.Index(p.Text, "high.txt"), strings.Index(p.Text, "low.txt"))

	require.Len(t, p.Used, 2)
	assert.Equal(t, "high.txt", p.Used[0].Filename)
	assert.Greater(t, p.ContextTokens, TemplateOverhead)

	// Input order is untouched.
	assert.Equal(t, "low.txt", results[0].Filename)
}

func TestFit_DropsLowestScoredWholeChunks(t *testing.T) {
	results := []models.RetrievalResult{
		{Filename: "a", Text: words(100, "alpha"), Score: 0.9},
		{Filename: "b", Text: words(100, "beta"), Score: 0.3},
		{Filename: "c", Text: words(100, "gamma"), Score: 0.6},
	}

	all := Fit(results, 10000)
	require.Len(t, all, 3)

	two := Fit(results, 300)
	require.Len(t, two, 2)
	assert.Equal(t, "a", two[0].Filename)
	assert.Equal(t, "c", two[1].Filename)
	for _, r := range two {
		assert.Equal(t, words(100, map[string]string{"a": "alpha", "c": "gamma"}[r.Filename]), r.Text)
	}

	one := Fit(results, 150)
	require.Len(t, one, 1)
	assert.Equal(t, "a", one[0].Filename)

	assert.Empty(t, Fit(results, 10))
}

func TestBuild_FitsWithinBudget(t *testing.T) {
	var results []models.RetrievalResult
	for i := 0; i < 5; i++ {
		results = append(results, models.RetrievalResult{
			Filename: "doc.txt", ChunkIndex: i, Text: words(300, "token"), Score: 1 - float64(i)/10,
		})
	}

	p, err := Build("how many tokens", results, 1000)
	require.NoError(t, err)
	assert.LessOrEqual(t, p.ContextTokens, 1000)
	assert.Len(t, p.Used, 2)
	assert.Equal(t, 0, p.Used[0].ChunkIndex)
	assert.Equal(t, 1, p.Used[1].ChunkIndex)
}

func TestBuild_QuestionTooLarge(t *testing.T) {
	_, err := Build(words(1000, "why"), nil, 500)
	assert.ErrorIs(t, err, ErrDoesNotFit)
}

func TestBuild_EmptyContext(t *testing.T) {
	p, err := Build("anything?", nil, 1000)
	require.NoError(t, err)
	assert.Empty(t, p.Used)
	assert.Contains(t, p.Text, "Context:\n\n\nQuestion:\nanything?")
}
