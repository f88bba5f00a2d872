package issuance

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/facturaIA/nfse-chat-service/internal/session"
)

// MockGateway simulates a successful issuance without calling any provider
type MockGateway struct {
	providerCNPJ string
	now          func() time.Time
	log          zerolog.Logger
}

// NewMockGateway creates a simulated gateway for providerCNPJ
func NewMockGateway(providerCNPJ string, log zerolog.Logger) *MockGateway {
	return &MockGateway{providerCNPJ: providerCNPJ, now: time.Now, log: log}
}

// Issue returns a simulated authorization
func (g *MockGateway) Issue(ctx context.Context, s *session.Session) (*Result, error) {
	req, err := NewRequest(s, g.providerCNPJ)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := g.now()
	number := fmt.Sprintf("%06d", randomUint64()%999999)
	result := &Result{
		ID:             uuid.NewString(),
		Status:         "CONCLUIDO",
		DocumentNumber: number,
		Series:         "001",
		AccessKey:      fmt.Sprintf("41%s%s55805000%s0000000001", now.Format("0601"), req.ProviderCNPJ, number),
		Protocol:       fmt.Sprintf("%015d", randomUint64()%999999999999999),
		Message:        "Autorizado o uso da NFSe (SIMULAÇÃO - MOCK)",
		IssuedAt:       now,
		Amount:         req.Amount,
		XMLURL:         fmt.Sprintf("https://mock.nfse.local/nfse/%s/xml", req.IntegrationID),
		PDFURL:         fmt.Sprintf("https://mock.nfse.local/nfse/%s/pdf", req.IntegrationID),
	}

	g.log.Info().
		Str("session_id", s.ID).
		Str("numero", result.DocumentNumber).
		Msg("simulated invoice issued")
	return result, nil
}

func randomUint64() uint64 {
	u := uuid.New()
	return binary.BigEndian.Uint64(u[:8])
}
