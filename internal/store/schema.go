package store

// Schema is the DDL applied by config.SetupTestDatabase to stand up an
// integration-test database. It is the table shape the stores in this
// package read and write; no migration tooling ships with this tree, so
// nothing applies it outside the tests.
const Schema = `
CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	slug       TEXT NOT NULL UNIQUE,
	platform   TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS api_keys (
	id            TEXT PRIMARY KEY,
	key_hash      TEXT NOT NULL UNIQUE,
	key_prefix    TEXT NOT NULL,
	project_id    TEXT NOT NULL REFERENCES projects(id),
	scopes        TEXT[] NOT NULL,
	expires_at    TIMESTAMPTZ,
	last_used_at  TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_api_keys_key_hash ON api_keys(key_hash);

CREATE TABLE IF NOT EXISTS error_events (
	id              TEXT PRIMARY KEY,
	project_id      TEXT NOT NULL REFERENCES projects(id),
	occurred_at     TIMESTAMPTZ NOT NULL,
	message         TEXT NOT NULL,
	stack_trace     TEXT NOT NULL DEFAULT '',
	environment     TEXT NOT NULL,
	release_version TEXT NOT NULL DEFAULT '',
	user_id         TEXT NOT NULL DEFAULT '',
	user_email      TEXT NOT NULL DEFAULT '',
	user_ip         TEXT NOT NULL DEFAULT '',
	browser         TEXT NOT NULL DEFAULT '',
	os              TEXT NOT NULL DEFAULT '',
	url             TEXT NOT NULL DEFAULT '',
	tags            JSONB NOT NULL DEFAULT '{}',
	extra           JSONB NOT NULL DEFAULT '{}',
	fingerprint     TEXT NOT NULL,
	level           TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_error_events_project_fingerprint ON error_events(project_id, fingerprint);
CREATE INDEX IF NOT EXISTS idx_error_events_project_occurred_at ON error_events(project_id, occurred_at);

CREATE TABLE IF NOT EXISTS issues (
	id            TEXT PRIMARY KEY,
	project_id    TEXT NOT NULL REFERENCES projects(id),
	fingerprint   TEXT NOT NULL,
	message       TEXT NOT NULL,
	level         TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'unresolved',
	first_seen    TIMESTAMPTZ NOT NULL,
	last_seen     TIMESTAMPTZ NOT NULL,
	event_count   BIGINT NOT NULL DEFAULT 0,
	user_count    BIGINT NOT NULL DEFAULT 0,
	environments  TEXT[] NOT NULL DEFAULT '{}',
	tags          JSONB NOT NULL DEFAULT '{}',
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (project_id, fingerprint)
);

CREATE INDEX IF NOT EXISTS idx_issues_project_last_seen ON issues(project_id, last_seen DESC);
`
