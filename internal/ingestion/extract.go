package ingestion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/docqa/backend/internal/models"
)

const (
	TypePDF = "pdf"
	TypeTXT = "txt"
)

var ErrPDFToolNotFound = errors.New("pdftotext not found in PATH: install poppler (brew install poppler / apt install poppler-utils)")

// CommandRunner runs an external program and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Extractor turns uploaded bytes into plain text.
type Extractor struct {
	runner CommandRunner
}

func NewExtractor() *Extractor {
	return &Extractor{runner: execRunner{}}
}

func NewExtractorWithRunner(runner CommandRunner) *Extractor {
	return &Extractor{runner: runner}
}

// CheckPDFTool reports whether pdftotext can be found.
func CheckPDFTool() error {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		return ErrPDFToolNotFound
	}
	return nil
}

func (e *Extractor) Extract(ctx context.Context, docType string, content []byte) (string, error) {
	var (
		text string
		err  error
	)
	switch docType {
	case TypeTXT:
		text = decodeText(content)
	case TypePDF:
		text, err = e.extractPDF(ctx, content)
	default:
		return "", fmt.Errorf("%w: %s", models.ErrUnsupportedType, docType)
	}
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return "", models.ErrEmptyInput
	}
	return text, nil
}

// decodeText reads UTF-8, falling back to Windows-1252 for legacy files.
func decodeText(content []byte) string {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	if utf8.Valid(content) {
		return string(content)
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(content)
	if err != nil {
		return strings.ToValidUTF8(string(content), "")
	}
	return string(decoded)
}

func (e *Extractor) extractPDF(ctx context.Context, content []byte) (string, error) {
	if !bytes.HasPrefix(content, []byte("%PDF-")) {
		return "", fmt.Errorf("%w: not a PDF file", models.ErrExtractionFailed)
	}

	tmp, err := os.CreateTemp("", "docqa-*.pdf")
	if err != nil {
		return "", fmt.Errorf("%w: create temp file: %v", models.ErrExtractionFailed, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return "", fmt.Errorf("%w: write temp file: %v", models.ErrExtractionFailed, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: close temp file: %v", models.ErrExtractionFailed, err)
	}

	// "-" sends the text to stdout.
	out, err := e.runner.Run(ctx, "pdftotext", "-layout", "-enc", "UTF-8", tmp.Name(), "-")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%w: %v", models.ErrExtractionFailed, ErrPDFToolNotFound)
		}
		return "", fmt.Errorf("%w: pdftotext failed: %v", models.ErrExtractionFailed, err)
	}

	// Pages are separated by form feeds.
	pages := strings.Split(strings.ToValidUTF8(string(out), ""), "\f")
	kept := pages[:0]
	for _, p := range pages {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n"), nil
}
