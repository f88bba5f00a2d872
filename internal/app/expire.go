package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/facturaIA/nfse-chat-service/internal/db"
	"github.com/facturaIA/nfse-chat-service/internal/events"
	"github.com/facturaIA/nfse-chat-service/internal/session"
)

// ExpireReport summarizes one run of the expiration job
type ExpireReport struct {
	Checked int
	// Expired holds the active sessions that were (or would be) expired
	Expired []*session.Session
	// Orphaned holds snapshots left in an active state after their slot
	// disappeared
	Orphaned []db.Snapshot
	DryRun   bool
}

// Expire sweeps the active sessions and then closes the snapshots whose slot
// is gone. With dryRun nothing is written.
func Expire(ctx context.Context, st *Stores, publisher events.Publisher, dryRun bool, log zerolog.Logger) (*ExpireReport, error) {
	sweep, err := st.Store.Sweep(ctx, dryRun)
	if err != nil {
		return nil, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	report := &ExpireReport{Checked: sweep.Checked, Expired: sweep.Expired, DryRun: dryRun}

	if !dryRun {
		for _, s := range sweep.Expired {
			if err := publisher.Publish(ctx, events.SessionExpired, events.SessionPayload{
				SessionID:   s.ID,
				Phone:       s.Phone,
				State:       string(s.State),
				CNPJ:        s.Invoice.TaxID.Normalized,
				Amount:      s.Invoice.Amount.Formatted,
				Description: s.Invoice.Description.Text,
			}); err != nil {
				log.Warn().Err(err).Str("session_id", s.ID).Msg("failed to publish expiration")
			}
		}
	}

	if st.Snapshots == nil {
		return report, nil
	}

	// snapshots are only written on state events, so a stale snapshot may
	// still belong to a live conversation
	live := make(map[string]bool)
	active, err := st.Store.ListActive(ctx)
	if err != nil {
		return report, err
	}
	for _, s := range active {
		if !s.IsExpired(st.Store.Now()) {
			live[s.ID] = true
		}
	}

	cutoff := st.Store.Now().Add(-st.Store.TTL())
	stale, err := st.Snapshots.ListStale(ctx, cutoff)
	if err != nil {
		return report, fmt.Errorf("failed to list stale snapshots: %w", err)
	}

	for _, snap := range stale {
		if live[snap.SessionID] {
			continue
		}
		report.Orphaned = append(report.Orphaned, snap)
		if dryRun {
			continue
		}
		err := st.Snapshots.MarkExpired(ctx, snap.SessionID, st.Store.Now())
		if errors.Is(err, db.ErrSnapshotNotFound) {
			// finished by a turn in the meantime
			continue
		}
		if err != nil {
			return report, err
		}
		log.Info().Str("session_id", snap.SessionID).Msg("orphaned snapshot expired")
	}
	return report, nil
}
