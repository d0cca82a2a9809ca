package store

// Schema DDL, applied idempotently at startup.
//
// provider_id is stored as NULL when unknown (historical imports) so that the
// (provider, provider_id) unique constraints do not bind rows that only carry
// a display name.
const schema = `
CREATE TABLE IF NOT EXISTS vcs_repositories (
	id                  UUID PRIMARY KEY,
	provider            TEXT NOT NULL,
	provider_id         TEXT,
	full_name           TEXT NOT NULL,
	default_branch      TEXT NOT NULL,
	html_url            TEXT NOT NULL DEFAULT '',
	description         TEXT NOT NULL DEFAULT '',
	license_spdx        TEXT NOT NULL DEFAULT '',
	hook                TEXT,
	enabled_by_user_id  TEXT,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT uq_vcs_repositories_provider_provider_id UNIQUE (provider, provider_id),
	CONSTRAINT uq_vcs_repositories_provider_full_name UNIQUE (provider, full_name)
);

CREATE TABLE IF NOT EXISTS vcs_releases (
	id             UUID PRIMARY KEY,
	provider       TEXT NOT NULL,
	provider_id    TEXT,
	tag            TEXT NOT NULL DEFAULT '',
	status         CHAR(1) NOT NULL,
	errors         JSONB,
	repository_id  UUID REFERENCES vcs_repositories (id),
	event_payload  JSONB,
	record_id      TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT uq_vcs_releases_provider_provider_id UNIQUE (provider, provider_id)
);

CREATE INDEX IF NOT EXISTS ix_vcs_releases_record_id ON vcs_releases (record_id);

CREATE TABLE IF NOT EXISTS vcs_repository_users (
	repository_id  UUID NOT NULL REFERENCES vcs_repositories (id),
	user_id        TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (repository_id, user_id)
);

CREATE TABLE IF NOT EXISTS vcs_accounts (
	id             UUID PRIMARY KEY,
	user_id        TEXT NOT NULL,
	provider       TEXT NOT NULL,
	access_token   TEXT NOT NULL DEFAULT '',
	session_token  TEXT NOT NULL DEFAULT '',
	extra_data     JSONB NOT NULL DEFAULT '{}',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT uq_vcs_accounts_user_provider UNIQUE (user_id, provider)
);

CREATE INDEX IF NOT EXISTS ix_vcs_accounts_webhook_token
	ON vcs_accounts (provider, (extra_data ->> 'webhook_token'));

CREATE TABLE IF NOT EXISTS vcs_audit_log (
	id          UUID PRIMARY KEY,
	user_id     TEXT NOT NULL,
	action      TEXT NOT NULL,
	resource    TEXT NOT NULL,
	details     JSONB NOT NULL DEFAULT '{}',
	ip          TEXT NOT NULL DEFAULT '',
	user_agent  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS ix_vcs_audit_log_user ON vcs_audit_log (user_id, created_at);
`
