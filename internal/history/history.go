// Package history suggests invoice descriptions from earlier approved
// invoices for the same customer.
package history

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/facturaIA/nfse-chat-service/internal/conversation"
	"github.com/facturaIA/nfse-chat-service/internal/session"
)

// Suggester looks up the description previously used for a customer
type Suggester interface {
	SuggestDescription(ctx context.Context, phone, taxID string) (string, bool, error)
}

// Advisor wraps a Suggester so lookups are best effort
type Advisor struct {
	suggester Suggester
	log       zerolog.Logger
}

// NewAdvisor creates an advisor. A nil suggester disables suggestions.
func NewAdvisor(suggester Suggester, log zerolog.Logger) *Advisor {
	return &Advisor{suggester: suggester, log: log}
}

// Suggest returns a description or false. Errors are logged and swallowed.
func (a *Advisor) Suggest(ctx context.Context, phone, taxID string) (string, bool) {
	if a == nil || a.suggester == nil || taxID == "" {
		return "", false
	}

	desc, ok, err := a.suggester.SuggestDescription(ctx, phone, taxID)
	if err != nil {
		a.log.Warn().Err(err).Str("cnpj", taxID).Msg("description history lookup failed")
		return "", false
	}
	desc = strings.TrimSpace(desc)
	if !ok || desc == "" {
		return "", false
	}
	return desc, true
}

type key struct {
	phone string
	taxID string
}

// Memory keeps approved descriptions in process memory. It records them as
// a session.SnapshotWriter so it can sit next to the store.
type Memory struct {
	mu     sync.RWMutex
	counts map[key]map[string]int
}

// NewMemory creates an empty in-memory history
func NewMemory() *Memory {
	return &Memory{counts: make(map[key]map[string]int)}
}

// Record counts one approved invoice
func (m *Memory) Record(phone, taxID, description string) {
	if taxID == "" || description == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{phone, taxID}
	if m.counts[k] == nil {
		m.counts[k] = make(map[string]int)
	}
	m.counts[k][description]++
}

// WriteSnapshot records the invoice of every approved session
func (m *Memory) WriteSnapshot(_ context.Context, s *session.Session, _ session.Reason) error {
	if s.State == conversation.Approved {
		m.Record(s.Phone, s.Invoice.TaxID.Normalized, s.Invoice.Description.Text)
	}
	return nil
}

// SuggestDescription returns the most used description; ties go to the
// alphabetically first one so the answer is stable.
func (m *Memory) SuggestDescription(_ context.Context, phone, taxID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := m.counts[key{phone, taxID}]
	if len(counts) == 0 {
		return "", false, nil
	}

	descs := make([]string, 0, len(counts))
	for d := range counts {
		descs = append(descs, d)
	}
	sort.Slice(descs, func(i, j int) bool {
		if counts[descs[i]] != counts[descs[j]] {
			return counts[descs[i]] > counts[descs[j]]
		}
		return descs[i] < descs[j]
	})
	return descs[0], true, nil
}
