package issuance

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/facturaIA/nfse-chat-service/internal/session"
)

// DocumentStore is the archive the receipts go to
type DocumentStore interface {
	UploadDocument(ctx context.Context, phone, filename string, body []byte, contentType string, at time.Time) (string, error)
	PresignedURL(ctx context.Context, objectPath string) (string, error)
}

// ArchivingIssuer stores a receipt of every issued invoice. Archiving is
// best effort: the invoice is already issued when it runs.
type ArchivingIssuer struct {
	next  Issuer
	store DocumentStore
	log   zerolog.Logger
}

// NewArchivingIssuer decorates next
func NewArchivingIssuer(next Issuer, store DocumentStore, log zerolog.Logger) *ArchivingIssuer {
	return &ArchivingIssuer{next: next, store: store, log: log}
}

// Issue issues through the wrapped issuer and archives the receipt
func (a *ArchivingIssuer) Issue(ctx context.Context, s *session.Session) (*Result, error) {
	result, err := a.next.Issue(ctx, s)
	if err != nil {
		return nil, err
	}

	receipt := struct {
		SessionID string            `json:"session_id"`
		Phone     string            `json:"phone"`
		Request   *Request          `json:"request,omitempty"`
		Result    *Result           `json:"result"`
		Messages  []session.Message `json:"messages"`
	}{
		SessionID: s.ID,
		Phone:     s.Phone,
		Result:    result,
		Messages:  s.Transcript,
	}
	if req, err := NewRequest(s, ""); err == nil {
		receipt.Request = req
	}

	body, err := json.Marshal(receipt)
	if err != nil {
		a.log.Warn().Err(err).Str("session_id", s.ID).Msg("failed to encode receipt")
		return result, nil
	}

	path, err := a.store.UploadDocument(ctx, s.Phone, result.DocumentNumber+".json", body, "application/json", result.IssuedAt)
	if err != nil {
		a.log.Warn().Err(err).Str("session_id", s.ID).Msg("failed to archive receipt")
		return result, nil
	}

	url, err := a.store.PresignedURL(ctx, path)
	if err != nil {
		a.log.Warn().Err(err).Str("object", path).Msg("failed to presign receipt")
		return result, nil
	}
	result.ReceiptURL = url
	return result, nil
}
