package invoice

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MinDescriptionLength = 10
	MaxDescriptionLength = 500
)

// DescriptionField is the service description as extracted and validated
type DescriptionField struct {
	Raw       string      `json:"raw_extracted,omitempty"`
	Text      string      `json:"text,omitempty"`
	Suggested string      `json:"suggested,omitempty"` // set with StatusWarning while a suggestion awaits confirmation
	Issue     string      `json:"issue,omitempty"`
	ErrorCode string      `json:"error_code,omitempty"`
	Status    FieldStatus `json:"status"`
}

// ValidateDescription trims raw and checks its length in characters
func ValidateDescription(raw string) DescriptionField {
	text := strings.TrimSpace(raw)
	if text == "" {
		return DescriptionField{Status: StatusAbsent}
	}

	field := DescriptionField{Raw: raw}
	n := utf8.RuneCountInString(text)

	switch {
	case n < MinDescriptionLength:
		field.Status = StatusError
		field.ErrorCode = CodeTooShort
		field.Issue = fmt.Sprintf("Descrição deve ter pelo menos %d caracteres (informado: %d)", MinDescriptionLength, n)
	case n > MaxDescriptionLength:
		field.Status = StatusError
		field.ErrorCode = CodeTooLong
		field.Issue = fmt.Sprintf("Descrição não pode exceder %d caracteres (informado: %d)", MaxDescriptionLength, n)
	default:
		field.Text = text
		field.Status = StatusValidated
	}
	return field
}

// SuggestDescription marks the description as waiting for the user to accept
// a text taken from history.
func SuggestDescription(text string) DescriptionField {
	return DescriptionField{
		Suggested: strings.TrimSpace(text),
		Status:    StatusWarning,
	}
}
