// Package prompt renders grounded prompts and fits retrieved context into a
// model's token budget.
package prompt

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/docqa/backend/internal/models"
)

// TemplateOverhead is the token allowance for the fixed template text.
const TemplateOverhead = 150

// ErrDoesNotFit means the question and template alone exceed the budget.
var ErrDoesNotFit = errors.New("prompt does not fit the context window")

const template = `You are a retrieval-augmented assistant.
Answer using ONLY the provided context.
If the answer is not in the context, say "I don't know."

Cite sources using:
[source: filename, chunk]

Context:
%s

Question:
%s

Answer:`

const separator = "\n\n---\n\n"

type Prompt struct {
	Text string
	// Used holds the chunks rendered into Text, by descending score.
	Used []models.RetrievalResult
	// ContextTokens is the estimate for context, question and template together.
	ContextTokens int
}

// EstimateTokens approximates the token count as 1.3 tokens per
// whitespace-separated word.
func EstimateTokens(text string) int {
	return int(float64(len(strings.Fields(text))) * 1.3)
}

// Fit keeps the highest-scored chunks whose rendered context fits within
// budget tokens, dropping whole chunks from the low end. The input is not
// modified.
func Fit(results []models.RetrievalResult, budget int) []models.RetrievalResult {
	kept := ranked(results)
	for len(kept) > 0 && EstimateTokens(renderContext(kept)) > budget {
		kept = kept[:len(kept)-1]
	}
	return kept
}

// Build fits results into budget after reserving room for the question and
// the template, then renders the prompt.
func Build(question string, results []models.RetrievalResult, budget int) (Prompt, error) {
	reserved := TemplateOverhead + EstimateTokens(question)
	if reserved > budget {
		return Prompt{}, fmt.Errorf("%w: needs %d tokens before context, budget is %d",
			ErrDoesNotFit, reserved, budget)
	}

	used := Fit(results, budget-reserved)
	context := renderContext(used)
	return Prompt{
		Text:          fmt.Sprintf(template, context, question),
		Used:          used,
		ContextTokens: EstimateTokens(context) + reserved,
	}, nil
}

func ranked(results []models.RetrievalResult) []models.RetrievalResult {
	out := make([]models.RetrievalResult, len(results))
	copy(out, results)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

func renderContext(results []models.RetrievalResult) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("[source: %s, chunk %d]\n%s", r.Filename, r.ChunkIndex, r.Text)
	}
	return strings.Join(parts, separator)
}
