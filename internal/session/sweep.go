package session

import (
	"context"
	"errors"
)

// SweepReport summarizes one expiration pass
type SweepReport struct {
	Checked int
	Expired []*Session
	DryRun  bool
}

// Sweep marks every idle active session as expired. Each record is locked
// for the read-then-write so it never races a turn for the same phone.
func (s *Store) Sweep(ctx context.Context, dryRun bool) (*SweepReport, error) {
	report := &SweepReport{DryRun: dryRun}

	sessions, err := s.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	for _, listed := range sessions {
		report.Checked++
		if !listed.IsExpired(s.now()) {
			continue
		}
		if dryRun {
			report.Expired = append(report.Expired, listed)
			continue
		}

		expired, err := s.sweepOne(ctx, listed.Phone)
		if err != nil {
			return report, err
		}
		if expired != nil {
			report.Expired = append(report.Expired, expired)
		}
	}
	return report, nil
}

func (s *Store) sweepOne(ctx context.Context, phone string) (*Session, error) {
	unlock, err := s.Lock(ctx, phone)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sess, err := s.backend.Load(ctx, phone)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	if sess.State.IsTerminal() || !sess.IsExpired(now) {
		return nil, nil
	}
	if err := s.expire(ctx, sess, now); err != nil {
		return nil, err
	}
	return sess, nil
}
