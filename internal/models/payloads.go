package models

import "time"

// These structs define the JSON messages exchanged over the processing and
// completion channels between the registry and the OCR worker.

// ProcessingRequest asks the OCR worker to extract text from a stored document.
// Filename is the name the document was uploaded with, not the normalized one.
type ProcessingRequest struct {
	DocumentID string `json:"documentId"`
	Filename   string `json:"filename"`
}

// CompletionEvent reports the text extracted for a document.
type CompletionEvent struct {
	DocumentID  string    `json:"documentId"`
	OCRText     string    `json:"ocrText"`
	ProcessedAt time.Time `json:"processedAt"`
}
