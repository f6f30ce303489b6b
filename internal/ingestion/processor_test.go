package ingestion

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docqa/backend/internal/chunker"
	"github.com/docqa/backend/internal/index"
	"github.com/docqa/backend/internal/models"
	"github.com/docqa/backend/internal/store"
)

type mockRunner struct {
	output []byte
	err    error
	name   string
	args   []string
}

func (m *mockRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	m.name = name
	m.args = args
	return m.output, m.err
}

func newProcessor(t *testing.T, runner CommandRunner) (*Processor, *store.Store) {
	t.Helper()
	ch, err := chunker.New()
	require.NoError(t, err)
	st := store.New(index.NewTFIDFIndex())
	return NewProcessor(st, ch, NewExtractorWithRunner(runner), 0), st
}

func TestDocumentType(t *testing.T) {
	tests := []struct {
		filename string
		want     string
		wantErr  bool
	}{
		{"notes.txt", TypeTXT, false},
		{"REPORT.PDF", TypePDF, false},
		{"archive.tar.txt", TypeTXT, false},
		{"slides.docx", "", true},
		{"noextension", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.filename, func(t *testing.T) {
			got, err := DocumentType(tc.filename)
			if tc.wantErr {
				assert.ErrorIs(t, err, models.ErrUnsupportedType)
				assert.ErrorIs(t, err, models.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestIngest_Text(t *testing.T) {
	p, st := newProcessor(t, &mockRunner{})

	text := strings.Repeat("a", 1500)
	res, err := p.Ingest(context.Background(), []byte(text), "letters.txt")
	require.NoError(t, err)

	assert.Equal(t, "letters.txt", res.Filename)
	assert.Equal(t, TypeTXT, res.DocumentType)
	assert.Equal(t, 3, res.ChunksCreated)
	assert.Equal(t, 3, res.TotalChunksInStore)
	assert.NotEmpty(t, res.DocumentID)

	res, err = p.Ingest(context.Background(), []byte("short second document"), "two.txt")
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChunksCreated)
	assert.Equal(t, 4, res.TotalChunksInStore)
	assert.Equal(t, store.Stats{TotalChunks: 4, TotalDocuments: 2}, st.Stats())
}

func TestIngest_Rejections(t *testing.T) {
	p, st := newProcessor(t, &mockRunner{})

	_, err := p.Ingest(context.Background(), []byte("x"), "image.png")
	assert.ErrorIs(t, err, models.ErrUnsupportedType)

	big := make([]byte, DefaultMaxBytes+1)
	_, err = p.Ingest(context.Background(), big, "big.txt")
	assert.ErrorIs(t, err, models.ErrTooLarge)

	_, err = p.Ingest(context.Background(), []byte(" \n\t "), "blank.txt")
	assert.ErrorIs(t, err, models.ErrEmptyInput)

	assert.Equal(t, store.Stats{}, st.Stats())
}

func TestIngest_ExactlyMaxBytesAccepted(t *testing.T) {
	p, _ := newProcessor(t, &mockRunner{})
	content := []byte(strings.Repeat("word ", DefaultMaxBytes/5))
	require.Len(t, content, DefaultMaxBytes)

	_, err := p.Ingest(context.Background(), content, "limit.txt")
	assert.NoError(t, err)
}

func TestIngest_PDF(t *testing.T) {
	runner := &mockRunner{output: []byte("Page one text.\n\fPage two text.\n\f")}
	p, _ := newProcessor(t, runner)

	res, err := p.Ingest(context.Background(), []byte("%PDF-1.4 fake"), "paper.pdf")
	require.NoError(t, err)
	assert.Equal(t, TypePDF, res.DocumentType)
	assert.Equal(t, 1, res.ChunksCreated)
	assert.Equal(t, "pdftotext", runner.name)
	assert.Equal(t, "-", runner.args[len(runner.args)-1])
}

func TestIngest_PDFFailures(t *testing.T) {
	p, _ := newProcessor(t, &mockRunner{})
	_, err := p.Ingest(context.Background(), []byte("not a pdf"), "fake.pdf")
	assert.ErrorIs(t, err, models.ErrExtractionFailed)

	p, _ = newProcessor(t, &mockRunner{err: errors.New("pdftotext crashed")})
	_, err = p.Ingest(context.Background(), []byte("%PDF-1.7"), "broken.pdf")
	assert.ErrorIs(t, err, models.ErrExtractionFailed)
	assert.Contains(t, err.Error(), "pdftotext failed")

	p, _ = newProcessor(t, &mockRunner{output: []byte("\f \f")})
	_, err = p.Ingest(context.Background(), []byte("%PDF-1.7"), "scanned.pdf")
	assert.ErrorIs(t, err, models.ErrEmptyInput)
}

func TestExtract_TextDecoding(t *testing.T) {
	e := NewExtractorWithRunner(&mockRunner{})

	got, err := e.Extract(context.Background(), TypeTXT, []byte("\xef\xbb\xbfline one\r\nline two\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", got)

	// "café" in Windows-1252.
	got, err = e.Extract(context.Background(), TypeTXT, []byte{'c', 'a', 'f', 0xe9})
	require.NoError(t, err)
	assert.Equal(t, "café", got)
}
