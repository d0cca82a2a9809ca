package domain

import "time"

// Generic provider-neutral models: the lowest common factor of the otherwise
// large and heterogeneous responses returned by VCS provider APIs. Provider
// adapters are responsible for converting API responses into these types, and
// the service layer depends on nothing else when talking to a provider.
//
// Identifiers are strings throughout; provider-native IDs are not assumed to
// be numeric across providers.

// GenericWebhook is a provider-side webhook registration.
type GenericWebhook struct {
	ID           string `json:"id"`
	RepositoryID string `json:"repository_id"`
	URL          string `json:"url"`
}

// GenericRepository is a provider-neutral repository snapshot.
type GenericRepository struct {
	ID            string `json:"id"`
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	HTMLURL       string `json:"html_url"`
	Description   string `json:"description,omitempty"`
	LicenseSPDX   string `json:"license_spdx,omitempty"`
}

// ApplyTo copies the remote snapshot onto a stored repository row and reports
// whether anything changed. The internal and provider identifiers are left
// untouched.
func (g GenericRepository) ApplyTo(repo *Repository) bool {
	changed := false
	apply := func(dst *string, src string) {
		if *dst != src {
			*dst = src
			changed = true
		}
	}
	apply(&repo.FullName, g.FullName)
	apply(&repo.DefaultBranch, g.DefaultBranch)
	apply(&repo.HTMLURL, g.HTMLURL)
	apply(&repo.Description, g.Description)
	apply(&repo.LicenseSPDX, g.LicenseSPDX)
	return changed
}

// FromRepository builds the generic snapshot of a stored repository row.
func FromRepository(repo *Repository) GenericRepository {
	return GenericRepository{
		ID:            repo.ProviderID,
		FullName:      repo.FullName,
		DefaultBranch: repo.DefaultBranch,
		HTMLURL:       repo.HTMLURL,
		Description:   repo.Description,
		LicenseSPDX:   repo.LicenseSPDX,
	}
}

// GenericRelease is a provider-neutral release representation.
//
// PublishedAt may differ from CreatedAt, and may even be in the future for
// pre-scheduled releases (common on GitLab).
type GenericRelease struct {
	ID          string     `json:"id"`
	TagName     string     `json:"tag_name"`
	Name        string     `json:"name,omitempty"`
	Body        string     `json:"body,omitempty"`
	HTMLURL     string     `json:"html_url"`
	TarballURL  string     `json:"tarball_url,omitempty"`
	ZipballURL  string     `json:"zipball_url,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// GenericUser is a provider-neutral user representation.
type GenericUser struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
}

// GenericOwnerType distinguishes personal from organization ownership.
type GenericOwnerType int

const (
	OwnerPerson GenericOwnerType = iota + 1
	OwnerOrganization
)

// GenericOwner is the owning user or organization of a repository.
type GenericOwner struct {
	ID          string           `json:"id"`
	PathName    string           `json:"path_name"`
	Type        GenericOwnerType `json:"type"`
	DisplayName string           `json:"display_name,omitempty"`
}

// GenericContributor is one entry of a repository's contributor list. It may
// describe an entity that was never a registered user of the provider, for
// example on imported repositories.
type GenericContributor struct {
	ID                 string `json:"id"`
	Username           string `json:"username"`
	DisplayName        string `json:"display_name,omitempty"`
	Company            string `json:"company,omitempty"`
	ContributionsCount int    `json:"contributions_count,omitempty"`
}
