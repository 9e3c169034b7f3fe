package model

import (
	"time"
)

// JobState mirrors the answering backend's job lifecycle.
type JobState string

const (
	JobQueued   JobState = "queued"
	JobStarted  JobState = "started"
	JobFinished JobState = "finished"
	JobFailed   JobState = "failed"
)

// ChatRequest is the payload for submitting a query to the backend.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ChatResponse acknowledges a submitted query with the job to stream.
type ChatResponse struct {
	JobID  string   `json:"job_id"`
	Status JobState `json:"status"`
}

// JobStatus reports the backend's view of a submitted job.
type JobStatus struct {
	JobID       string     `json:"job_id"`
	Status      JobState   `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// PDFMetadata describes a document available to the backend.
type PDFMetadata struct {
	Filename  string `json:"filename"`
	Title     string `json:"title,omitempty"`
	PageCount int    `json:"page_count"`
	SizeBytes int64  `json:"size_bytes"`
}

// PDFPage is the extracted text of one document page.
type PDFPage struct {
	Filename   string `json:"filename"`
	PageNumber int    `json:"page_number"`
	Text       string `json:"text"`
	WordCount  int    `json:"word_count"`
}

// UploadResult acknowledges a document upload.
type UploadResult struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Filename  string `json:"filename"`
	PageCount int    `json:"page_count"`
	SizeBytes int64  `json:"size_bytes"`
}

// SearchMatch is one hit from an in-document text search.
type SearchMatch struct {
	PageNumber    int    `json:"page_number"`
	Context       string `json:"context"`
	StartPosition int    `json:"start_position"`
	EndPosition   int    `json:"end_position"`
}

// SearchResult is the response to an in-document text search.
type SearchResult struct {
	Filename string        `json:"filename"`
	Query    string        `json:"query"`
	Results  []SearchMatch `json:"results"`
}
