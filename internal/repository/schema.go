package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements create the dispatch tables. Each statement is idempotent.
// The users table belongs to the identity service; it is created here only so
// a fresh database can serve contact lookups.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS notification_types (
		id          UUID PRIMARY KEY,
		code        TEXT NOT NULL UNIQUE,
		name        TEXT NOT NULL,
		category    TEXT NOT NULL,
		priority    TEXT NOT NULL DEFAULT 'medium',
		is_active   BOOLEAN NOT NULL DEFAULT TRUE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS notification_channels (
		id            UUID PRIMARY KEY,
		code          TEXT NOT NULL,
		name          TEXT NOT NULL,
		tenant_id     TEXT,
		channel_type  TEXT NOT NULL,
		config        JSONB NOT NULL DEFAULT '{}'::jsonb,
		is_active     BOOLEAN NOT NULL DEFAULT TRUE,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS notification_channels_code_tenant_uq
		ON notification_channels (code, COALESCE(tenant_id, ''))`,
	`CREATE TABLE IF NOT EXISTS notification_templates (
		id                    UUID PRIMARY KEY,
		code                  TEXT NOT NULL,
		notification_type_id  UUID NOT NULL REFERENCES notification_types(id),
		channel_id            UUID NOT NULL REFERENCES notification_channels(id),
		tenant_id             TEXT,
		language              TEXT NOT NULL DEFAULT 'en',
		subject_template      TEXT NOT NULL DEFAULT '',
		content_template      TEXT NOT NULL DEFAULT '',
		html_template         TEXT NOT NULL DEFAULT '',
		is_active             BOOLEAN NOT NULL DEFAULT TRUE,
		created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS notification_templates_code_channel_lang_tenant_uq
		ON notification_templates (code, channel_id, language, COALESCE(tenant_id, ''))`,
	`CREATE TABLE IF NOT EXISTS notification_preferences (
		id                    UUID PRIMARY KEY,
		tenant_id             TEXT NOT NULL,
		user_id               TEXT NOT NULL,
		notification_type_id  UUID NOT NULL REFERENCES notification_types(id),
		email_enabled         BOOLEAN NOT NULL DEFAULT TRUE,
		sms_enabled           BOOLEAN NOT NULL DEFAULT FALSE,
		in_app_enabled        BOOLEAN NOT NULL DEFAULT TRUE,
		push_enabled          BOOLEAN NOT NULL DEFAULT FALSE,
		dnd_enabled           BOOLEAN NOT NULL DEFAULT FALSE,
		dnd_start             TIME NOT NULL DEFAULT '22:00',
		dnd_end               TIME NOT NULL DEFAULT '08:00',
		urgent_bypass_dnd     BOOLEAN NOT NULL DEFAULT TRUE,
		created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (tenant_id, user_id, notification_type_id)
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id                    UUID PRIMARY KEY,
		tenant_id             TEXT NOT NULL,
		user_id               TEXT NOT NULL,
		notification_type_id  UUID NOT NULL REFERENCES notification_types(id),
		channel_id            UUID NOT NULL REFERENCES notification_channels(id),
		template_id           UUID REFERENCES notification_templates(id) ON DELETE SET NULL,
		subject               TEXT NOT NULL DEFAULT '',
		content               TEXT NOT NULL DEFAULT '',
		html_content          TEXT NOT NULL DEFAULT '',
		data                  JSONB NOT NULL DEFAULT '{}'::jsonb,
		status                TEXT NOT NULL DEFAULT 'pending',
		is_read               BOOLEAN NOT NULL DEFAULT FALSE,
		read_at               TIMESTAMPTZ,
		recipient_address     TEXT NOT NULL DEFAULT '',
		error_message         TEXT NOT NULL DEFAULT '',
		external_id           TEXT NOT NULL DEFAULT '',
		scheduled_at          TIMESTAMPTZ,
		sent_at               TIMESTAMPTZ,
		version               INTEGER NOT NULL DEFAULT 0,
		created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS notifications_due_idx
		ON notifications (scheduled_at) WHERE status = 'pending'`,
	`CREATE INDEX IF NOT EXISTS notifications_user_unread_idx
		ON notifications (tenant_id, user_id) WHERE is_read = FALSE`,
	`CREATE INDEX IF NOT EXISTS notifications_user_created_idx
		ON notifications (tenant_id, user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS users (
		id             TEXT NOT NULL,
		tenant_id      TEXT NOT NULL,
		email          TEXT NOT NULL DEFAULT '',
		phone          TEXT NOT NULL DEFAULT '',
		push_endpoint  TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (tenant_id, id)
	)`,
}

// Migrate applies the schema inside a single transaction.
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}
