package records

import (
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/curafile/curafile/internal/domain/sharing"
)

// downloadURLTTL bounds the lifetime of presigned download links.
const downloadURLTTL = 15 * time.Minute

// storedTypes are the record types a document can carry. ALL only exists as
// a grant scope and vaccinations are structured entries, not files.
var storedTypes = []sharing.RecordType{
	sharing.RecordConsultations,
	sharing.RecordPrescriptions,
	sharing.RecordLabResults,
	sharing.RecordMedicalDocuments,
}

func storable(t sharing.RecordType) bool {
	for _, st := range storedTypes {
		if st == t {
			return true
		}
	}
	return false
}

// Document is the metadata of one uploaded file. The bytes live in the blob
// store under ObjectKey.
type Document struct {
	ID             uuid.UUID          `json:"id"`
	OwnerPatientID uuid.UUID          `json:"-"`
	RecordType     sharing.RecordType `json:"record_type"`
	Title          string             `json:"title"`
	FileName       string             `json:"file_name"`
	ContentType    string             `json:"content_type"`
	SizeBytes      int64              `json:"size_bytes"`
	SHA256         string             `json:"sha256"`
	ObjectKey      string             `json:"-"`
	UploadedBy     uuid.UUID          `json:"-"`
	CreatedAt      time.Time          `json:"created_at"`
}

type UploadInput struct {
	RecordType  sharing.RecordType
	Title       string
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Download is a short-lived link to a document's bytes.
type Download struct {
	URL       string    `json:"url"`
	FileName  string    `json:"file_name"`
	ExpiresAt time.Time `json:"expires_at"`
}
