package models

import "time"

// DocumentRecord is the persisted metadata for an uploaded document.
// ID doubles as the blob-store key and the search-index id.
type DocumentRecord struct {
	ID         string    `firestore:"id" json:"id"`
	Filename   string    `firestore:"filename" json:"filename"`
	Filesize   int64     `firestore:"filesize" json:"filesize"`
	MimeType   string    `firestore:"filetype,omitempty" json:"filetype,omitempty"`
	ObjectKey  string    `firestore:"objectKey,omitempty" json:"objectKey,omitempty"`
	UploadDate time.Time `firestore:"uploadDate" json:"uploadDate"`
	OCRDone    bool      `firestore:"ocrJobDone" json:"ocrJobDone"`
	OCRText    string    `firestore:"ocrText,omitempty" json:"ocrText,omitempty"`
}
