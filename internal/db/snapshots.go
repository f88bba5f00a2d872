package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/facturaIA/nfse-chat-service/internal/conversation"
	"github.com/facturaIA/nfse-chat-service/internal/invoice"
	"github.com/facturaIA/nfse-chat-service/internal/session"
)

// ErrSnapshotNotFound is returned when no snapshot exists for a session
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Snapshot is the persisted copy of a session
type Snapshot struct {
	SessionID   string             `json:"session_id"`
	Phone       string             `json:"phone"`
	State       conversation.State `json:"state"`
	Reason      session.Reason     `json:"reason"`
	TaxID       string             `json:"cnpj"`
	TaxIDName   string             `json:"cnpj_name,omitempty"`
	Amount      *decimal.Decimal   `json:"valor,omitempty"`
	Description string             `json:"descricao"`
	Invoice     invoice.Data       `json:"invoice"`

	InteractionCount      int `json:"interaction_count"`
	AssistantMessageCount int `json:"assistant_message_count"`
	ExtractionCallCount   int `json:"extraction_call_count"`

	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	SnapshotAt time.Time `json:"snapshot_at"`

	Messages []session.Message `json:"messages,omitempty"`
}

// SnapshotRepository persists session snapshots in PostgreSQL
type SnapshotRepository struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewSnapshotRepository creates a repository over pool
func NewSnapshotRepository(pool *pgxpool.Pool, log zerolog.Logger) *SnapshotRepository {
	return &SnapshotRepository{pool: pool, log: log}
}

const upsertSnapshot = `
	INSERT INTO session_snapshots (
		session_id, phone, state, reason,
		cnpj, cnpj_status, cnpj_name,
		valor, valor_status, descricao, descricao_status, invoice,
		interaction_count, assistant_message_count, extraction_call_count,
		ttl_seconds, created_at, updated_at, snapshot_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, NOW())
	ON CONFLICT (session_id) DO UPDATE SET
		state = EXCLUDED.state,
		reason = EXCLUDED.reason,
		cnpj = EXCLUDED.cnpj,
		cnpj_status = EXCLUDED.cnpj_status,
		cnpj_name = EXCLUDED.cnpj_name,
		valor = EXCLUDED.valor,
		valor_status = EXCLUDED.valor_status,
		descricao = EXCLUDED.descricao,
		descricao_status = EXCLUDED.descricao_status,
		invoice = EXCLUDED.invoice,
		interaction_count = EXCLUDED.interaction_count,
		assistant_message_count = EXCLUDED.assistant_message_count,
		extraction_call_count = EXCLUDED.extraction_call_count,
		ttl_seconds = EXCLUDED.ttl_seconds,
		updated_at = EXCLUDED.updated_at,
		snapshot_at = NOW()
`

// WriteSnapshot upserts the session row and replaces its transcript in one
// transaction.
func (r *SnapshotRepository) WriteSnapshot(ctx context.Context, s *session.Session, reason session.Reason) error {
	if r.pool == nil {
		return ErrNoDatabase
	}

	invoiceJSON, err := json.Marshal(s.Invoice)
	if err != nil {
		return fmt.Errorf("failed to encode invoice: %w", err)
	}

	var amount *string
	if a := s.Invoice.Amount.Amount; a != nil {
		v := a.StringFixed(2)
		amount = &v
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, upsertSnapshot,
		s.ID, s.Phone, string(s.State), string(reason),
		s.Invoice.TaxID.Normalized, string(s.Invoice.TaxID.Status), s.Invoice.TaxID.DisplayName,
		amount, string(s.Invoice.Amount.Status),
		s.Invoice.Description.Text, string(s.Invoice.Description.Status), invoiceJSON,
		s.InteractionCount, s.AssistantMessageCount, s.ExtractionCallCount,
		s.TTLSeconds, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM session_messages WHERE session_id = $1`, s.ID); err != nil {
		return fmt.Errorf("failed to clear transcript: %w", err)
	}

	if len(s.Transcript) > 0 {
		batch := &pgx.Batch{}
		for i, m := range s.Transcript {
			batch.Queue(`INSERT INTO session_messages (session_id, position, role, text, sent_at) VALUES ($1, $2, $3, $4, $5)`,
				s.ID, i, string(m.Role), m.Text, m.Timestamp)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to write transcript: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	r.log.Debug().
		Str("session_id", s.ID).
		Str("state", string(s.State)).
		Str("reason", string(reason)).
		Int("messages", len(s.Transcript)).
		Msg("snapshot written")
	return nil
}

const selectSnapshot = `
	SELECT session_id::text, phone, state, reason, cnpj, cnpj_name, valor::text, descricao, invoice,
	       interaction_count, assistant_message_count, extraction_call_count,
	       created_at, updated_at, snapshot_at
	FROM session_snapshots
`

// Get returns the snapshot of a session with its transcript
func (r *SnapshotRepository) Get(ctx context.Context, sessionID string) (*Snapshot, error) {
	if r.pool == nil {
		return nil, ErrNoDatabase
	}

	snap, err := scanSnapshot(r.pool.QueryRow(ctx, selectSnapshot+` WHERE session_id = $1`, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT role, text, sent_at FROM session_messages
		WHERE session_id = $1
		ORDER BY position
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m session.Message
		var role string
		if err := rows.Scan(&role, &m.Text, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Role = session.Role(role)
		snap.Messages = append(snap.Messages, m)
	}
	return snap, rows.Err()
}

// ListStale returns non-terminal snapshots not updated since cutoff. These are
// sessions whose active slot disappeared without a final snapshot.
func (r *SnapshotRepository) ListStale(ctx context.Context, cutoff time.Time) ([]Snapshot, error) {
	if r.pool == nil {
		return nil, ErrNoDatabase
	}

	active := make([]string, 0, len(conversation.ActiveStates()))
	for _, st := range conversation.ActiveStates() {
		active = append(active, string(st))
	}

	rows, err := r.pool.Query(ctx, selectSnapshot+`
		WHERE state = ANY($1) AND updated_at < $2
		ORDER BY updated_at
	`, active, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, rows.Err()
}

// MarkExpired moves a non-terminal snapshot to expired
func (r *SnapshotRepository) MarkExpired(ctx context.Context, sessionID string, now time.Time) error {
	if r.pool == nil {
		return ErrNoDatabase
	}

	active := make([]string, 0, len(conversation.ActiveStates()))
	for _, st := range conversation.ActiveStates() {
		active = append(active, string(st))
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE session_snapshots
		SET state = $1, reason = $2, updated_at = $3, snapshot_at = NOW()
		WHERE session_id = $4 AND state = ANY($5)
	`, string(conversation.Expired), string(session.ReasonExpired), now, sessionID, active)
	if err != nil {
		return fmt.Errorf("failed to expire snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSnapshotNotFound
	}
	return nil
}

// SuggestDescription returns the description used most often on approved
// invoices for the same phone and tax ID.
func (r *SnapshotRepository) SuggestDescription(ctx context.Context, phone, taxID string) (string, bool, error) {
	if r.pool == nil {
		return "", false, ErrNoDatabase
	}

	var description string
	err := r.pool.QueryRow(ctx, `
		SELECT descricao
		FROM session_snapshots
		WHERE phone = $1 AND cnpj = $2 AND state = $3 AND descricao <> ''
		GROUP BY descricao
		ORDER BY COUNT(*) DESC, MAX(updated_at) DESC
		LIMIT 1
	`, phone, taxID, string(conversation.Approved)).Scan(&description)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return description, true, nil
}

func scanSnapshot(row pgx.Row) (*Snapshot, error) {
	var (
		snap        Snapshot
		state       string
		reason      string
		amount      *string
		invoiceJSON []byte
	)
	err := row.Scan(
		&snap.SessionID, &snap.Phone, &state, &reason,
		&snap.TaxID, &snap.TaxIDName, &amount, &snap.Description, &invoiceJSON,
		&snap.InteractionCount, &snap.AssistantMessageCount, &snap.ExtractionCallCount,
		&snap.CreatedAt, &snap.UpdatedAt, &snap.SnapshotAt,
	)
	if err != nil {
		return nil, err
	}

	if snap.State, err = conversation.ParseState(state); err != nil {
		return nil, err
	}
	snap.Reason = session.Reason(reason)

	if amount != nil {
		d, err := decimal.NewFromString(*amount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse stored amount: %w", err)
		}
		snap.Amount = &d
	}
	if err := json.Unmarshal(invoiceJSON, &snap.Invoice); err != nil {
		return nil, fmt.Errorf("failed to decode stored invoice: %w", err)
	}
	return &snap, nil
}
