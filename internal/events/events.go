// Package events publishes session and invoice lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types, also used as routing keys
const (
	SessionConfirmed = "session.confirmed"
	SessionCancelled = "session.cancelled"
	SessionExpired   = "session.expired"
	InvoiceIssued    = "invoice.issued"
	InvoiceFailed    = "invoice.failed"
)

// Event is the envelope sent to the broker
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEvent wraps data in an envelope
func NewEvent(eventType, source string, data interface{}) (*Event, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      body,
	}, nil
}

// SessionPayload is the data of session.* events
type SessionPayload struct {
	SessionID   string `json:"session_id"`
	Phone       string `json:"phone"`
	State       string `json:"state"`
	CNPJ        string `json:"cnpj,omitempty"`
	Amount      string `json:"valor,omitempty"`
	Description string `json:"descricao,omitempty"`
}

// InvoicePayload is the data of invoice.* events
type InvoicePayload struct {
	SessionID      string `json:"session_id"`
	Phone          string `json:"phone"`
	DocumentNumber string `json:"numero,omitempty"`
	AccessKey      string `json:"chave_acesso,omitempty"`
	Protocol       string `json:"protocolo,omitempty"`
	Amount         string `json:"valor,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Publisher sends events. Publishing is best effort for callers.
type Publisher interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
	Close() error
}

// NopPublisher drops every event; used when no broker is configured
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, interface{}) error { return nil }
func (NopPublisher) Close() error                                       { return nil }
