package models

import (
	"time"
)

type Attachment struct {
	ID          int       `json:"id" db:"id"`
	MessageID   int       `json:"message_id" db:"message_id"`
	FileName    string    `json:"file_name" db:"file_name"`
	StoragePath string    `json:"-" db:"storage_path"`
	MimeType    string    `json:"mime_type" db:"mime_type"`
	SizeBytes   int64     `json:"size_bytes" db:"size_bytes"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// AttachmentMeta is what the upload path knows about a file once its bytes
// have been placed in storage.
type AttachmentMeta struct {
	FileName    string
	StoragePath string
	MimeType    string
	SizeBytes   int64
}
