package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/arturoeanton/go-release-archiver/internal/domain"
	"github.com/arturoeanton/go-release-archiver/internal/port"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresStore handles all relational database operations.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection and returns a store instance.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Migrate applies the schema. All statements are idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// --- Repositories ---

const repositoryColumns = `id, provider, COALESCE(provider_id, ''), full_name, default_branch,
	html_url, description, license_spdx, COALESCE(hook, ''), COALESCE(enabled_by_user_id, ''),
	created_at, updated_at`

func scanRepository(row interface{ Scan(...any) error }) (*domain.Repository, error) {
	var r domain.Repository
	err := row.Scan(
		&r.ID, &r.Provider, &r.ProviderID, &r.FullName, &r.DefaultBranch,
		&r.HTMLURL, &r.Description, &r.LicenseSPDX, &r.Hook, &r.EnabledByUser,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRepository inserts a new repository row.
func (s *PostgresStore) CreateRepository(ctx context.Context, repo *domain.Repository) error {
	if repo.ID == "" {
		repo.ID = uuid.NewString()
	}
	query := `
		INSERT INTO vcs_repositories
			(id, provider, provider_id, full_name, default_branch, html_url, description, license_spdx, hook, enabled_by_user_id)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''))
		RETURNING created_at, updated_at`

	err := s.db.QueryRowContext(ctx, query,
		repo.ID, repo.Provider, repo.ProviderID, repo.FullName, repo.DefaultBranch,
		repo.HTMLURL, repo.Description, repo.LicenseSPDX, repo.Hook, repo.EnabledByUser,
	).Scan(&repo.CreatedAt, &repo.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	return nil
}

// GetRepository returns a repository by its provider identity, (nil, nil) if absent.
func (s *PostgresStore) GetRepository(ctx context.Context, provider, providerID string) (*domain.Repository, error) {
	query := `SELECT ` + repositoryColumns + ` FROM vcs_repositories
	          WHERE provider = $1 AND provider_id = $2`

	repo, err := scanRepository(s.db.QueryRowContext(ctx, query, provider, providerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get repository: %w", err)
	}
	return repo, nil
}

// GetRepositoryByID returns a repository by its internal id, (nil, nil) if absent.
func (s *PostgresStore) GetRepositoryByID(ctx context.Context, id string) (*domain.Repository, error) {
	query := `SELECT ` + repositoryColumns + ` FROM vcs_repositories WHERE id = $1`

	repo, err := scanRepository(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get repository by id: %w", err)
	}
	return repo, nil
}

// UpdateRepositoryMetadata persists the descriptive fields of a repository.
func (s *PostgresStore) UpdateRepositoryMetadata(ctx context.Context, repo *domain.Repository) error {
	query := `UPDATE vcs_repositories
	          SET full_name = $2, default_branch = $3, html_url = $4, description = $5,
	              license_spdx = $6, updated_at = NOW()
	          WHERE id = $1`

	if _, err := s.db.ExecContext(ctx, query,
		repo.ID, repo.FullName, repo.DefaultBranch, repo.HTMLURL, repo.Description, repo.LicenseSPDX,
	); err != nil {
		return fmt.Errorf("update repository metadata: %w", err)
	}
	return nil
}

// UpdateRepositoryHook sets or clears the installed hook and the enabling user.
func (s *PostgresStore) UpdateRepositoryHook(ctx context.Context, id, hook, enabledByUser string) error {
	query := `UPDATE vcs_repositories
	          SET hook = NULLIF($2, ''), enabled_by_user_id = NULLIF($3, ''), updated_at = NOW()
	          WHERE id = $1`

	if _, err := s.db.ExecContext(ctx, query, id, hook, enabledByUser); err != nil {
		return fmt.Errorf("update repository hook: %w", err)
	}
	return nil
}

// DisableAbsentRepositories revokes local ownership for every repository the
// user had enabled that is no longer in the remote admin-rights set, and drops
// the matching association rows. Returns the provider ids that were disabled.
func (s *PostgresStore) DisableAbsentRepositories(ctx context.Context, provider, userID string, presentIDs []string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		UPDATE vcs_repositories
		SET hook = NULL, enabled_by_user_id = NULL, updated_at = NOW()
		WHERE provider = $1 AND enabled_by_user_id = $2
		  AND NOT (provider_id = ANY ($3))
		RETURNING COALESCE(provider_id, '')`,
		provider, userID, pq.Array(presentIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("disable absent repositories: %w", err)
	}
	var disabled []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan disabled repository: %w", err)
		}
		disabled = append(disabled, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("disable absent repositories: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM vcs_repository_users u
		USING vcs_repositories r
		WHERE u.repository_id = r.id AND u.user_id = $2
		  AND r.provider = $1 AND NOT (r.provider_id = ANY ($3))`,
		provider, userID, pq.Array(presentIDs),
	); err != nil {
		return nil, fmt.Errorf("remove stale repository users: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return disabled, nil
}

func (s *PostgresStore) listRepositories(ctx context.Context, query string, args ...any) ([]domain.Repository, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	var repos []domain.Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		repos = append(repos, *r)
	}
	return repos, rows.Err()
}

// ListUserRepositories returns the repositories the user is associated with.
func (s *PostgresStore) ListUserRepositories(ctx context.Context, provider, userID string) ([]domain.Repository, error) {
	query := `SELECT ` + repositoryColumns + ` FROM vcs_repositories
	          JOIN vcs_repository_users ON repository_id = id
	          WHERE provider = $1 AND user_id = $2
	          ORDER BY full_name`
	return s.listRepositories(ctx, query, provider, userID)
}

// ListUserEnabledRepositories returns the user's repositories with an active hook.
func (s *PostgresStore) ListUserEnabledRepositories(ctx context.Context, provider, userID string) ([]domain.Repository, error) {
	query := `SELECT ` + repositoryColumns + ` FROM vcs_repositories
	          JOIN vcs_repository_users ON repository_id = id
	          WHERE provider = $1 AND user_id = $2 AND hook IS NOT NULL
	          ORDER BY full_name`
	return s.listRepositories(ctx, query, provider, userID)
}

// AddRepositoryUser grants a user access to a repository.
func (s *PostgresStore) AddRepositoryUser(ctx context.Context, repositoryID, userID string) error {
	query := `INSERT INTO vcs_repository_users (repository_id, user_id)
	          VALUES ($1, $2)
	          ON CONFLICT (repository_id, user_id) DO UPDATE SET updated_at = NOW()`

	if _, err := s.db.ExecContext(ctx, query, repositoryID, userID); err != nil {
		return fmt.Errorf("add repository user: %w", err)
	}
	return nil
}

// RemoveRepositoryUser revokes a user's access to a repository.
func (s *PostgresStore) RemoveRepositoryUser(ctx context.Context, repositoryID, userID string) error {
	query := `DELETE FROM vcs_repository_users WHERE repository_id = $1 AND user_id = $2`

	if _, err := s.db.ExecContext(ctx, query, repositoryID, userID); err != nil {
		return fmt.Errorf("remove repository user: %w", err)
	}
	return nil
}

// ListRepositoryUsers returns the ids of users associated with a repository.
func (s *PostgresStore) ListRepositoryUsers(ctx context.Context, repositoryID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM vcs_repository_users WHERE repository_id = $1`, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("list repository users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan repository user: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// --- Releases ---

const releaseColumns = `id, provider, COALESCE(provider_id, ''), tag, status, errors,
	COALESCE(repository_id::text, ''), event_payload, COALESCE(record_id, ''), created_at, updated_at`

func scanRelease(row interface{ Scan(...any) error }) (*domain.Release, error) {
	var r domain.Release
	var status string
	err := row.Scan(
		&r.ID, &r.Provider, &r.ProviderID, &r.Tag, &status, &r.Errors,
		&r.RepositoryID, &r.EventPayload, &r.RecordID, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = domain.ReleaseStatus(status)
	return &r, nil
}

// CreateRelease inserts a release. The (provider, provider_id) unique
// constraint is the sole duplicate-ingestion guard; violations surface as
// *port.ReleaseAlreadyReceivedError.
func (s *PostgresStore) CreateRelease(ctx context.Context, release *domain.Release) error {
	if release.ID == "" {
		release.ID = uuid.NewString()
	}
	query := `
		INSERT INTO vcs_releases
			(id, provider, provider_id, tag, status, repository_id, event_payload, record_id)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, '')::uuid, $7, NULLIF($8, ''))
		RETURNING created_at, updated_at`

	err := s.db.QueryRowContext(ctx, query,
		release.ID, release.Provider, release.ProviderID, release.Tag, string(release.Status),
		release.RepositoryID, []byte(release.EventPayload), release.RecordID,
	).Scan(&release.CreatedAt, &release.UpdatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return &port.ReleaseAlreadyReceivedError{Provider: release.Provider, ProviderID: release.ProviderID}
	}
	if err != nil {
		return fmt.Errorf("create release: %w", err)
	}
	return nil
}

// GetRelease returns a release by its provider identity, (nil, nil) if absent.
func (s *PostgresStore) GetRelease(ctx context.Context, provider, providerID string) (*domain.Release, error) {
	query := `SELECT ` + releaseColumns + ` FROM vcs_releases
	          WHERE provider = $1 AND provider_id = $2`

	rel, err := scanRelease(s.db.QueryRowContext(ctx, query, provider, providerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get release: %w", err)
	}
	return rel, nil
}

// GetPendingRelease loads a release only while it is still processable.
func (s *PostgresStore) GetPendingRelease(ctx context.Context, provider, providerID string) (*domain.Release, error) {
	query := `SELECT ` + releaseColumns + ` FROM vcs_releases
	          WHERE provider = $1 AND provider_id = $2 AND status IN ($3, $4)`

	rel, err := scanRelease(s.db.QueryRowContext(ctx, query, provider, providerID,
		string(domain.ReleaseReceived), string(domain.ReleaseFailed)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending release: %w", err)
	}
	return rel, nil
}

// UpdateReleaseStatus moves a release to the given state.
func (s *PostgresStore) UpdateReleaseStatus(ctx context.Context, id string, status domain.ReleaseStatus) error {
	query := `UPDATE vcs_releases SET status = $2, updated_at = NOW() WHERE id = $1`

	if _, err := s.db.ExecContext(ctx, query, id, string(status)); err != nil {
		return fmt.Errorf("update release status: %w", err)
	}
	return nil
}

// SetReleaseErrors durably records the latest failure payload and marks the
// release failed.
func (s *PostgresStore) SetReleaseErrors(ctx context.Context, id string, errs json.RawMessage) error {
	query := `UPDATE vcs_releases SET errors = $2, status = $3, updated_at = NOW() WHERE id = $1`

	if _, err := s.db.ExecContext(ctx, query, id, []byte(errs), string(domain.ReleaseFailed)); err != nil {
		return fmt.Errorf("set release errors: %w", err)
	}
	return nil
}

// SetReleasePublished records the terminal success state and the weak record
// reference produced by the archive deposit.
func (s *PostgresStore) SetReleasePublished(ctx context.Context, id, recordID string) error {
	query := `UPDATE vcs_releases
	          SET status = $2, record_id = NULLIF($3, ''), errors = NULL, updated_at = NOW()
	          WHERE id = $1`

	if _, err := s.db.ExecContext(ctx, query, id, string(domain.ReleasePublished), recordID); err != nil {
		return fmt.Errorf("set release published: %w", err)
	}
	return nil
}

// LatestRelease returns the chronologically latest release of a repository,
// optionally filtered by status. (nil, nil) when there is none.
func (s *PostgresStore) LatestRelease(ctx context.Context, repositoryID string, status domain.ReleaseStatus) (*domain.Release, error) {
	query := `SELECT ` + releaseColumns + ` FROM vcs_releases
	          WHERE repository_id = $1 AND ($2 = '' OR status = $2)
	          ORDER BY created_at DESC
	          LIMIT 1`

	rel, err := scanRelease(s.db.QueryRowContext(ctx, query, repositoryID, string(status)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest release: %w", err)
	}
	return rel, nil
}

// ListRepositoryReleases returns a repository's releases sorted by creation date.
func (s *PostgresStore) ListRepositoryReleases(ctx context.Context, repositoryID string) ([]domain.Release, error) {
	query := `SELECT ` + releaseColumns + ` FROM vcs_releases
	          WHERE repository_id = $1 ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}
	defer rows.Close()

	var releases []domain.Release
	for rows.Next() {
		r, err := scanRelease(rows)
		if err != nil {
			return nil, fmt.Errorf("scan release: %w", err)
		}
		releases = append(releases, *r)
	}
	return releases, rows.Err()
}

// --- Accounts ---

const accountColumns = `id, user_id, provider, access_token, session_token, extra_data, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*domain.Account, error) {
	var a domain.Account
	var data []byte
	err := row.Scan(&a.ID, &a.UserID, &a.Provider, &a.AccessToken, &a.SessionToken,
		&data, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &a.Data); err != nil {
		return nil, fmt.Errorf("decode account data: %w", err)
	}
	return &a, nil
}

// GetAccount returns a user's provider link, (nil, nil) if absent.
func (s *PostgresStore) GetAccount(ctx context.Context, provider, userID string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM vcs_accounts WHERE provider = $1 AND user_id = $2`

	a, err := scanAccount(s.db.QueryRowContext(ctx, query, provider, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// GetAccountByWebhookToken resolves an inbound webhook delivery to the account
// it was registered for.
func (s *PostgresStore) GetAccountByWebhookToken(ctx context.Context, provider, token string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM vcs_accounts
	          WHERE provider = $1 AND extra_data ->> 'webhook_token' = $2`

	a, err := scanAccount(s.db.QueryRowContext(ctx, query, provider, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account by webhook token: %w", err)
	}
	return a, nil
}

// SaveAccount upserts a provider link by (user, provider).
func (s *PostgresStore) SaveAccount(ctx context.Context, account *domain.Account) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	account.Data.Version = domain.AccountDataVersion
	data, err := json.Marshal(account.Data)
	if err != nil {
		return fmt.Errorf("encode account data: %w", err)
	}

	query := `
		INSERT INTO vcs_accounts (id, user_id, provider, access_token, session_token, extra_data)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			session_token = EXCLUDED.session_token,
			extra_data = EXCLUDED.extra_data,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`

	err = s.db.QueryRowContext(ctx, query,
		account.ID, account.UserID, account.Provider,
		account.AccessToken, account.SessionToken, data,
	).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

// DeleteAccount removes a user's provider link.
func (s *PostgresStore) DeleteAccount(ctx context.Context, provider, userID string) error {
	query := `DELETE FROM vcs_accounts WHERE provider = $1 AND user_id = $2`

	if _, err := s.db.ExecContext(ctx, query, provider, userID); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}

// ListStaleAccounts selects accounts untouched since the threshold.
func (s *PostgresStore) ListStaleAccounts(ctx context.Context, provider string, olderThan time.Time) ([]domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM vcs_accounts
	          WHERE provider = $1 AND updated_at < $2`

	rows, err := s.db.QueryContext(ctx, query, provider, olderThan)
	if err != nil {
		return nil, fmt.Errorf("list stale accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// FindUserByExternalID maps a provider-side user id to the local user that
// linked it, "" when unknown.
func (s *PostgresStore) FindUserByExternalID(ctx context.Context, provider, externalID string) (string, error) {
	query := `SELECT user_id FROM vcs_accounts
	          WHERE provider = $1 AND extra_data ->> 'external_id' = $2`

	var userID string
	err := s.db.QueryRowContext(ctx, query, provider, externalID).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find user by external id: %w", err)
	}
	return userID, nil
}

// --- Audit ---

// WriteAudit appends one audit record. Details must already be JSON.
func (s *PostgresStore) WriteAudit(userID, action, resource, details, ip, userAgent string) error {
	if details == "" {
		details = "{}"
	}
	query := `INSERT INTO vcs_audit_log (id, user_id, action, resource, details, ip, user_agent)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if _, err := s.db.Exec(query, uuid.NewString(), userID, action, resource, details, ip, userAgent); err != nil {
		return fmt.Errorf("write audit: %w", err)
	}
	return nil
}

// ListAuditLogs returns recent audit logs with optional action filtering.
func (s *PostgresStore) ListAuditLogs(ctx context.Context, limit int, action string) ([]domain.AuditLog, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := `SELECT id, user_id, action, resource, details, ip, user_agent, created_at
	          FROM vcs_audit_log
	          WHERE ($2 = '' OR action = $2)
	          ORDER BY created_at DESC
	          LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit, action)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.AuditLog
	for rows.Next() {
		var l domain.AuditLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.Action, &l.Resource,
			&l.Details, &l.IP, &l.UserAgent, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// --- TokenSource ---

// AccessToken returns the stored OAuth access token, "" when the user has no
// linked account.
func (s *PostgresStore) AccessToken(ctx context.Context, provider, userID string) (string, error) {
	account, err := s.GetAccount(ctx, provider, userID)
	if err != nil {
		return "", err
	}
	if account == nil {
		return "", nil
	}
	return account.AccessToken, nil
}

// WebhookToken returns the token embedded in the user's webhook callback URLs.
func (s *PostgresStore) WebhookToken(ctx context.Context, provider, userID string) (string, error) {
	account, err := s.GetAccount(ctx, provider, userID)
	if err != nil {
		return "", err
	}
	if account == nil {
		return "", &port.RemoteAccountNotFoundError{UserID: userID}
	}
	if account.Data.WebhookToken == "" {
		return "", &port.RemoteAccountDataNotSetError{UserID: userID, Field: "webhook_token"}
	}
	return account.Data.WebhookToken, nil
}
