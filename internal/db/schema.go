package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_snapshots (
	session_id              UUID PRIMARY KEY,
	phone                   VARCHAR(32)  NOT NULL,
	state                   VARCHAR(32)  NOT NULL,
	reason                  VARCHAR(32)  NOT NULL,
	cnpj                    VARCHAR(14)  NOT NULL DEFAULT '',
	cnpj_status             VARCHAR(16)  NOT NULL,
	cnpj_name               TEXT         NOT NULL DEFAULT '',
	valor                   NUMERIC(14,2),
	valor_status            VARCHAR(16)  NOT NULL,
	descricao               TEXT         NOT NULL DEFAULT '',
	descricao_status        VARCHAR(16)  NOT NULL,
	invoice                 JSONB        NOT NULL,
	interaction_count       INTEGER      NOT NULL DEFAULT 0,
	assistant_message_count INTEGER      NOT NULL DEFAULT 0,
	extraction_call_count   INTEGER      NOT NULL DEFAULT 0,
	ttl_seconds             INTEGER      NOT NULL,
	created_at              TIMESTAMPTZ  NOT NULL,
	updated_at              TIMESTAMPTZ  NOT NULL,
	snapshot_at             TIMESTAMPTZ  NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_session_snapshots_phone_cnpj
	ON session_snapshots (phone, cnpj) WHERE state = 'approved';

CREATE INDEX IF NOT EXISTS idx_session_snapshots_state_updated
	ON session_snapshots (state, updated_at);

CREATE TABLE IF NOT EXISTS session_messages (
	session_id UUID        NOT NULL REFERENCES session_snapshots(session_id) ON DELETE CASCADE,
	position   INTEGER     NOT NULL,
	role       VARCHAR(16) NOT NULL,
	text       TEXT        NOT NULL,
	sent_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, position)
);
`

// Migrate creates the snapshot tables when missing
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return ErrNoDatabase
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
