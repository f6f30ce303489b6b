package models

import "time"

// Document is an uploaded file registered in the store.
type Document struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Type      string    `json:"type"`
	ChunkIDs  []string  `json:"chunk_ids"`
	CreatedAt time.Time `json:"created_at"`
}

// Chunk is a window of a document's extracted text. Start and End are rune
// offsets into that text. Seq is the global insertion order assigned by the
// index and is what ties are broken on.
type Chunk struct {
	ID         string
	DocumentID string
	Filename   string
	Index      int
	Start      int
	End        int
	Text       string
	Seq        int64
}

// RetrievalResult is a ranked chunk used to build a prompt and its citations.
type RetrievalResult struct {
	ChunkID    string
	DocumentID string
	Filename   string
	ChunkIndex int
	Text       string
	Score      float64
}

// Citation references a chunk that was part of the answering prompt.
type Citation struct {
	Filename       string  `json:"filename"`
	ChunkIndex     int     `json:"chunk_index"`
	RelevanceScore float64 `json:"relevance_score"`
	TextPreview    string  `json:"text_preview"`
}

type CallStatus string

const (
	CallSucceeded CallStatus = "success"
	CallTimedOut  CallStatus = "timeout"
	CallFailed    CallStatus = "error"
	CallSkipped   CallStatus = "skipped"
)

// ModelCallOutcome records one model attempt inside a single ask.
type ModelCallOutcome struct {
	ModelID string        `json:"model_id"`
	Model   string        `json:"model"`
	Status  CallStatus    `json:"status"`
	Elapsed time.Duration `json:"-"`
	Reason  string        `json:"reason,omitempty"`
	Answer  string        `json:"-"`
	// Partial is set when the model responded but the body was unusable.
	Partial bool `json:"partial,omitempty"`
}

func (o ModelCallOutcome) Succeeded() bool {
	return o.Status == CallSucceeded
}
