// Package issuance hands confirmed invoices to the NFS-e issuance gateway.
package issuance

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/facturaIA/nfse-chat-service/internal/session"
)

// ErrIncompleteInvoice is returned when the session data is not ready to issue
var ErrIncompleteInvoice = errors.New("invoice data is incomplete")

// DefaultISSRate is the municipal service tax rate shown in the mirror
var DefaultISSRate = decimal.RequireFromString("0.02")

// Request is what the gateway receives
type Request struct {
	IntegrationID string          `json:"idIntegracao"`
	ProviderCNPJ  string          `json:"prestador"`
	CustomerCNPJ  string          `json:"tomador"`
	CustomerName  string          `json:"razaoSocial,omitempty"`
	Description   string          `json:"discriminacao"`
	Amount        decimal.Decimal `json:"valor"`
	ISSRate       decimal.Decimal `json:"aliquota"`
}

// NewRequest builds the gateway request from a confirmed session
func NewRequest(s *session.Session, providerCNPJ string) (*Request, error) {
	inv := s.Invoice
	if !inv.IsComplete() || inv.Amount.Amount == nil {
		return nil, ErrIncompleteInvoice
	}
	return &Request{
		IntegrationID: s.ID,
		ProviderCNPJ:  providerCNPJ,
		CustomerCNPJ:  inv.TaxID.Normalized,
		CustomerName:  inv.TaxID.DisplayName,
		Description:   inv.Description.Text,
		Amount:        *inv.Amount.Amount,
		ISSRate:       DefaultISSRate,
	}, nil
}

// Result is the gateway answer for an issued invoice
type Result struct {
	ID             string          `json:"id"`
	Status         string          `json:"status"`
	DocumentNumber string          `json:"numero"`
	Series         string          `json:"serie"`
	AccessKey      string          `json:"chave"`
	Protocol       string          `json:"protocolo"`
	Message        string          `json:"mensagem"`
	IssuedAt       time.Time       `json:"emissao"`
	Amount         decimal.Decimal `json:"valor"`
	PDFURL         string          `json:"pdf"`
	XMLURL         string          `json:"xml"`
	// ReceiptURL is a temporary link to the archived receipt, when archived
	ReceiptURL string `json:"receipt_url,omitempty"`
}

// Issuer submits a confirmed session for issuance
type Issuer interface {
	Issue(ctx context.Context, s *session.Session) (*Result, error)
}
