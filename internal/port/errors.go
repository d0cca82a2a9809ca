package port

import (
	"errors"
	"fmt"
)

// Sentinel errors used across ports.
var (
	ErrTokenNotFound   = errors.New("provider access token not found")
	ErrReleaseNotFound = errors.New("release not found")
)

// RepositoryAccessError means the authenticated user lacks rights to a
// resolved repository. Surfaced as 403, never retried.
type RepositoryAccessError struct {
	UserID string
	Repo   string
	RepoID string
}

func (e *RepositoryAccessError) Error() string {
	return fmt.Sprintf("user %s cannot access repository %s (%s)", e.UserID, e.Repo, e.RepoID)
}

// RepositoryNotFoundError means the requested repository is unknown locally.
type RepositoryNotFoundError struct {
	Repo string
}

func (e *RepositoryNotFoundError) Error() string {
	return fmt.Sprintf("repository %s does not exist", e.Repo)
}

// RepositoryDisabledError means a webhook event targeted a repository with no
// active hook. Treated as a conflict, never retried.
type RepositoryDisabledError struct {
	Repo string
}

func (e *RepositoryDisabledError) Error() string {
	return fmt.Sprintf("repository %s is not enabled for webhooks", e.Repo)
}

// ReleaseAlreadyReceivedError means a release with the same provider identity
// was already ingested.
type ReleaseAlreadyReceivedError struct {
	Provider   string
	ProviderID string
}

func (e *ReleaseAlreadyReceivedError) Error() string {
	return fmt.Sprintf("release %s:%s has already been received", e.Provider, e.ProviderID)
}

// InvalidSenderError means the webhook delivery could not be attributed to a
// linked user.
type InvalidSenderError struct {
	Receiver string
}

func (e *InvalidSenderError) Error() string {
	return fmt.Sprintf("invalid sender for %s event", e.Receiver)
}

// RemoteAccountNotFoundError means no provider link exists for the user.
// Requires re-running account initialization, not a retry.
type RemoteAccountNotFoundError struct {
	UserID string
}

func (e *RemoteAccountNotFoundError) Error() string {
	return fmt.Sprintf("remote account not found for user %s", e.UserID)
}

// RemoteAccountDataNotSetError means the user's provider link is missing
// expected setup state, such as the webhook token or the last sync timestamp.
type RemoteAccountDataNotSetError struct {
	UserID string
	Field  string
}

func (e *RemoteAccountDataNotSetError) Error() string {
	return fmt.Sprintf("remote account data %q not set for user %s", e.Field, e.UserID)
}

// ProviderNotRegisteredError is a configuration error: a receiver or caller
// referenced a provider id that was never registered. Fatal, not retryable.
type ProviderNotRegisteredError struct {
	ID string
}

func (e *ProviderNotRegisteredError) Error() string {
	return fmt.Sprintf("vcs provider %q is not registered", e.ID)
}

// UnexpectedProviderResponseError means the provider API answered with a
// status the operation does not document.
type UnexpectedProviderResponseError struct {
	Provider   string
	Operation  string
	StatusCode int
}

func (e *UnexpectedProviderResponseError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d from %s", e.Provider, e.StatusCode, e.Operation)
}

// ReleaseArchiveFetchError means the release archive could not be resolved or
// fetched after exhausting the documented fallback paths.
type ReleaseArchiveFetchError struct {
	URL        string
	StatusCode int
}

func (e *ReleaseArchiveFetchError) Error() string {
	return fmt.Sprintf("release archive %s could not be fetched (status %d)", e.URL, e.StatusCode)
}

// InvalidMetadataError means a repository-supplied metadata file could not be
// used by the deposit collaborator. Handled terminally, not retried.
type InvalidMetadataError struct {
	File   string
	Reason string
}

func (e *InvalidMetadataError) Error() string {
	return fmt.Sprintf("metadata file %s is not valid: %s", e.File, e.Reason)
}
