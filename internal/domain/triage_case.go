package domain

import "time"

// TriageCase records one uploaded artifact and its metadata. Records are
// immutable once written.
type TriageCase struct {
	ID          string
	Filename    string
	ContentType string
	SizeBytes   int64
	Note        *string
	FilePath    string
	CreatedAt   time.Time
}

// PublicCase is the outward-facing view of a TriageCase. The storage path
// stays internal.
type PublicCase struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	Note        *string   `json:"note"`
	CreatedAt   time.Time `json:"created_at"`
}

// Public strips the storage location from a TriageCase.
func (c *TriageCase) Public() PublicCase {
	return PublicCase{
		ID:          c.ID,
		Filename:    c.Filename,
		ContentType: c.ContentType,
		SizeBytes:   c.SizeBytes,
		Note:        c.Note,
		CreatedAt:   c.CreatedAt,
	}
}
