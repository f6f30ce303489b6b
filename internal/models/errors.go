package models

import (
	"errors"
	"fmt"
)

// ErrValidation is the parent of every input error rejected before any state
// is touched.
var ErrValidation = errors.New("validation failed")

var (
	// ErrUnsupportedType indicates an upload whose extension is not .pdf or .txt.
	ErrUnsupportedType = fmt.Errorf("%w: unsupported file type", ErrValidation)

	// ErrTooLarge indicates an upload above the configured size limit.
	ErrTooLarge = fmt.Errorf("%w: file too large", ErrValidation)

	// ErrInvalidQuestion indicates an empty or over-length question, or a negative top_k.
	ErrInvalidQuestion = fmt.Errorf("%w: invalid question", ErrValidation)

	// ErrInvalidTopK indicates a non-positive retrieval depth.
	ErrInvalidTopK = fmt.Errorf("%w: top_k must be positive", ErrValidation)
)

var (
	// ErrEmptyInput indicates the extracted text is empty or whitespace only.
	ErrEmptyInput = errors.New("no text content extracted from document")

	// ErrExtractionFailed indicates the file could not be turned into text.
	ErrExtractionFailed = errors.New("text extraction failed")

	// ErrIndex indicates an internal index inconsistency such as a vector
	// dimension mismatch. The index is left as it was.
	ErrIndex = errors.New("index error")

	// ErrNoDocumentsIndexed indicates a question asked against an empty store.
	ErrNoDocumentsIndexed = errors.New("no documents uploaded")

	// ErrAllModelsUnavailable indicates every configured model failed.
	ErrAllModelsUnavailable = errors.New("all models unavailable")
)
