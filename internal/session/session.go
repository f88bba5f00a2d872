package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/facturaIA/nfse-chat-service/internal/conversation"
	"github.com/facturaIA/nfse-chat-service/internal/invoice"
)

// Role of a transcript entry
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one transcript entry
type Message struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Suggestion is a description taken from the customer's history, offered
// while the description is still missing.
type Suggestion struct {
	TaxID       string `json:"tax_id"`
	Description string `json:"description"`
	Declined    bool   `json:"declined,omitempty"`
}

// Pending reports whether the suggestion still waits for an answer
func (s *Suggestion) Pending() bool {
	return s != nil && !s.Declined
}

// Session is the root aggregate of one invoice conversation
type Session struct {
	ID         string             `json:"session_id"`
	Phone      string             `json:"phone"`
	State      conversation.State `json:"state"`
	Invoice    invoice.Data       `json:"invoice"`
	Transcript []Message          `json:"transcript"`

	InteractionCount      int `json:"interaction_count"`
	AssistantMessageCount int `json:"assistant_message_count"`
	ExtractionCallCount   int `json:"extraction_call_count"`

	PendingSuggestion *Suggestion `json:"pending_suggestion,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	TTLSeconds int64     `json:"ttl_seconds"`
}

// New starts a collecting session for phone
func New(phone string, ttl time.Duration, now time.Time) *Session {
	return &Session{
		ID:         uuid.NewString(),
		Phone:      phone,
		State:      conversation.Collecting,
		Invoice:    invoice.Empty(),
		Transcript: []Message{},
		CreatedAt:  now,
		UpdatedAt:  now,
		TTLSeconds: int64(ttl / time.Second),
	}
}

// TTL returns the configured time to live
func (s *Session) TTL() time.Duration {
	return time.Duration(s.TTLSeconds) * time.Second
}

// AddUserMessage appends an inbound message and counts the interaction
func (s *Session) AddUserMessage(text string, now time.Time) {
	s.append(RoleUser, text, now)
	s.InteractionCount++
}

// AddAssistantMessage appends an outbound reply
func (s *Session) AddAssistantMessage(text string, now time.Time) {
	s.append(RoleAssistant, text, now)
	s.AssistantMessageCount++
}

// AddSystemMessage appends an internal note (issuance results, expiry)
func (s *Session) AddSystemMessage(text string, now time.Time) {
	s.append(RoleSystem, text, now)
}

func (s *Session) append(role Role, text string, now time.Time) {
	s.Transcript = append(s.Transcript, Message{Role: role, Text: text, Timestamp: now})
	s.UpdatedAt = now
}

// UpdateInvoice replaces the invoice data with an already merged value
func (s *Session) UpdateInvoice(data invoice.Data, now time.Time) {
	s.Invoice = data
	s.UpdatedAt = now
}

// TransitionTo moves the session through the state machine
func (s *Session) TransitionTo(to conversation.State, now time.Time) error {
	next, err := conversation.Transition(s.State, to)
	if err != nil {
		return err
	}
	s.State = next
	s.UpdatedAt = now
	return nil
}

// IncrementExtractionCalls counts one call to an extraction model
func (s *Session) IncrementExtractionCalls() {
	s.ExtractionCallCount++
}

// SetSuggestion records a pending history suggestion
func (s *Session) SetSuggestion(taxID, description string) {
	s.PendingSuggestion = &Suggestion{TaxID: taxID, Description: description}
}

// DeclineSuggestion keeps the suggestion around so it is not offered again
// for the same tax ID.
func (s *Session) DeclineSuggestion() {
	if s.PendingSuggestion != nil {
		s.PendingSuggestion.Declined = true
	}
}

// ClearSuggestion drops the suggestion
func (s *Session) ClearSuggestion() {
	s.PendingSuggestion = nil
}

// IsExpired reports whether the session has been idle longer than its TTL
func (s *Session) IsExpired(now time.Time) bool {
	return now.Sub(s.UpdatedAt) > s.TTL()
}

// IsActive reports whether the session can still receive data
func (s *Session) IsActive(now time.Time) bool {
	return !s.State.IsTerminal() && !s.IsExpired(now)
}

// RecentHistory returns the last n user/assistant messages
func (s *Session) RecentHistory(n int) []Message {
	var out []Message
	for i := len(s.Transcript) - 1; i >= 0 && len(out) < n; i-- {
		m := s.Transcript[i]
		if m.Role == RoleSystem {
			continue
		}
		out = append(out, m)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Clone returns a deep copy, so a failed turn never leaks into the stored value
func (s *Session) Clone() *Session {
	c := *s
	c.Transcript = append([]Message(nil), s.Transcript...)
	if s.PendingSuggestion != nil {
		sug := *s.PendingSuggestion
		c.PendingSuggestion = &sug
	}
	return &c
}
