// Package chunker splits extracted document text into overlapping fixed-size windows.
package chunker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/docqa/backend/internal/models"
)

const (
	DefaultSize    = 600
	DefaultOverlap = 100
)

var ErrInvalidConfig = errors.New("chunker: overlap must be positive and smaller than size")

// Chunker cuts text into windows of size runes, each starting size-overlap
// runes after the previous one. The last window absorbs whatever is left once
// the remainder fits in a single window.
type Chunker struct {
	size    int
	overlap int
}

type Option func(*Chunker)

func WithSize(size int) Option {
	return func(c *Chunker) { c.size = size }
}

func WithOverlap(overlap int) Option {
	return func(c *Chunker) { c.overlap = overlap }
}

func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{size: DefaultSize, overlap: DefaultOverlap}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap <= 0 || c.overlap >= c.size {
		return nil, fmt.Errorf("%w (size=%d, overlap=%d)", ErrInvalidConfig, c.size, c.overlap)
	}
	return c, nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk returns the ordered chunks of text for one document.
func (c *Chunker) Chunk(docID, filename, text string) ([]models.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, models.ErrEmptyInput
	}

	runes := []rune(text)
	total := len(runes)
	step := c.size - c.overlap

	chunks := make([]models.Chunk, 0, total/step+1)
	for start, idx := 0, 0; ; start, idx = start+step, idx+1 {
		end := start + c.size
		last := total-start <= c.size
		if last {
			end = total
		}

		chunks = append(chunks, models.Chunk{
			ID:         fmt.Sprintf("%s:%d", docID, idx),
			DocumentID: docID,
			Filename:   filename,
			Index:      idx,
			Start:      start,
			End:        end,
			Text:       string(runes[start:end]),
		})

		if last {
			break
		}
	}

	return chunks, nil
}
