// Package central implements the client for the central coordination
// API: fetching uploads to interrogate, resolving the recipient public
// key, and reporting interrogation outcomes. All network calls go
// through the resilient transport layer.
package central

import (
	"time"

	"github.com/google/uuid"
)

// FileUpload describes a file the central API wants interrogated.
type FileUpload struct {
	ID            uuid.UUID `json:"id"`
	StorageAlias  string    `json:"storage_alias"`
	ObjectKey     string    `json:"object_key,omitempty"`
	EncryptedSize int64     `json:"encrypted_size"`
	// DecryptedSHA256 is the uploader-supplied content checksum. It is
	// carried for reporting, never recomputed here.
	DecryptedSHA256 string `json:"decrypted_sha256,omitempty"`
}

// Object returns the object key for the upload, defaulting to the
// file ID.
func (f *FileUpload) Object() string {
	if f.ObjectKey != "" {
		return f.ObjectKey
	}
	return f.ID.String()
}

// RecipientKey is the central API's response to a recipient key fetch.
type RecipientKey struct {
	KeyID string `json:"key_id"`
	// PublicKey is the base64-encoded X25519 public key.
	PublicKey string `json:"public_key"`
}

// Outcome is the terminal status of one interrogation.
type Outcome string

const (
	// OutcomeAccepted means the header was re-encrypted and the object
	// placed in the interrogation bucket.
	OutcomeAccepted Outcome = "accepted"
	// OutcomeRejected means the object was permanently rejected.
	OutcomeRejected Outcome = "rejected"
)

// InterrogationReport is posted to the central API exactly once per
// terminal outcome.
type InterrogationReport struct {
	FileID         uuid.UUID `json:"file_id"`
	StorageAlias   string    `json:"storage_alias"`
	InterrogatedAt time.Time `json:"interrogated_at"`
	Status         Outcome   `json:"status"`
	Reason         string    `json:"reason,omitempty"`
}
