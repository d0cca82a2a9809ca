package domain

import "time"

// AccountDataVersion is stamped into every serialized AccountData blob so the
// layout can evolve without guessing at old payloads.
const AccountDataVersion = 1

// RepoSnapshot is the cached remote state of one repository the user has
// admin rights on, captured at the last sync.
type RepoSnapshot struct {
	ID            string `json:"id"`
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
}

// AccountData is the typed per-account cache kept alongside the OAuth link:
// the remote admin-rights snapshot, the last sync timestamp, and the token
// that the provider embeds in webhook callback URLs.
//
// The service layer treats this as a cache to reconcile against, never as the
// sole source of truth for access control.
type AccountData struct {
	Version      int                     `json:"version"`
	ExternalID   string                  `json:"external_id"`
	Login        string                  `json:"login"`
	Name         string                  `json:"name,omitempty"`
	WebhookToken string                  `json:"webhook_token"`
	Repos        map[string]RepoSnapshot `json:"repos"`
	LastSync     time.Time               `json:"last_sync"`
}

// Account is one user's link to a VCS provider, owned jointly with the OAuth
// collaborator: it stores the tokens the collaborator issued plus the typed
// sync cache.
type Account struct {
	ID           string      `json:"id"            db:"id"`
	UserID       string      `json:"user_id"       db:"user_id"`
	Provider     string      `json:"provider"      db:"provider"`
	AccessToken  string      `json:"-"             db:"access_token"`
	SessionToken string      `json:"-"             db:"session_token"`
	Data         AccountData `json:"data"          db:"extra_data"`
	CreatedAt    time.Time   `json:"created_at"    db:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"    db:"updated_at"`
}
