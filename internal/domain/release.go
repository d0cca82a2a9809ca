package domain

import (
	"encoding/json"
	"time"
)

// ReleaseStatus tracks a release through its processing state machine.
type ReleaseStatus string

// Release status constants. RECEIVED and PROCESSING are re-enterable,
// FAILED is retryable, PUBLISHED and DELETED are terminal.
const (
	ReleaseReceived   ReleaseStatus = "R"
	ReleaseProcessing ReleaseStatus = "P"
	ReleasePublished  ReleaseStatus = "D"
	ReleaseFailed     ReleaseStatus = "F"
	ReleaseDeleted    ReleaseStatus = "E"
)

// Terminal reports whether no further processing can move the release.
func (s ReleaseStatus) Terminal() bool {
	return s == ReleasePublished || s == ReleaseDeleted
}

// Repository represents one VCS-hosted repository known to the system.
//
// (Provider, ProviderID) is unique, and so is (Provider, FullName). ProviderID
// is the provider's native identifier rather than the display name, because
// names change on rename/transfer. A row may carry only a FullName and no
// ProviderID for repositories imported from pre-multi-provider deployments.
type Repository struct {
	ID            string    `json:"id"             db:"id"`
	Provider      string    `json:"provider"       db:"provider"`
	ProviderID    string    `json:"provider_id"    db:"provider_id"`
	FullName      string    `json:"full_name"      db:"full_name"`
	DefaultBranch string    `json:"default_branch" db:"default_branch"`
	HTMLURL       string    `json:"html_url"       db:"html_url"`
	Description   string    `json:"description"    db:"description"`
	LicenseSPDX   string    `json:"license_spdx"   db:"license_spdx"`
	Hook          string    `json:"hook"           db:"hook"`
	EnabledByUser string    `json:"enabled_by_user" db:"enabled_by_user_id"`
	CreatedAt     time.Time `json:"created_at"     db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"     db:"updated_at"`
}

// Enabled reports whether the repository has an installed webhook.
func (r *Repository) Enabled() bool {
	return r.Hook != ""
}

// Release is one VCS release event materialized as a durable
// record-creation workflow. (Provider, ProviderID) is unique: a release can
// be ingested from its provider at most once.
type Release struct {
	ID           string          `json:"id"            db:"id"`
	Provider     string          `json:"provider"      db:"provider"`
	ProviderID   string          `json:"provider_id"   db:"provider_id"`
	Tag          string          `json:"tag"           db:"tag"`
	Status       ReleaseStatus   `json:"status"        db:"status"`
	Errors       json.RawMessage `json:"errors,omitempty" db:"errors"`
	RepositoryID string          `json:"repository_id" db:"repository_id"`
	EventPayload json.RawMessage `json:"-"             db:"event_payload"`
	RecordID     string          `json:"record_id,omitempty" db:"record_id"`
	CreatedAt    time.Time       `json:"created_at"    db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"    db:"updated_at"`
}
