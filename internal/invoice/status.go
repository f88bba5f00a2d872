package invoice

import (
	"encoding/json"
	"fmt"
)

// FieldStatus is the validation state of a single extracted field
type FieldStatus string

const (
	StatusValidated FieldStatus = "validated"
	StatusAbsent    FieldStatus = "absent"
	StatusError     FieldStatus = "error"
	StatusWarning   FieldStatus = "warning"
)

// Error codes attached to fields with StatusError
const (
	CodeFormatInvalid     = "FORMAT_INVALID"
	CodeCheckDigitInvalid = "CHECK_DIGIT_INVALID"
	CodeAmountInvalid     = "AMOUNT_INVALID"
	CodeTooShort          = "TOO_SHORT"
	CodeTooLong           = "TOO_LONG"
)

// ParseFieldStatus converts a stored or model-supplied status. Empty and the
// legacy "null" spelling both mean absent; anything else unknown is rejected.
func ParseFieldStatus(s string) (FieldStatus, error) {
	switch s {
	case "validated":
		return StatusValidated, nil
	case "absent", "null", "":
		return StatusAbsent, nil
	case "error":
		return StatusError, nil
	case "warning":
		return StatusWarning, nil
	}
	return "", fmt.Errorf("unknown field status %q", s)
}

// UnmarshalJSON rejects unknown statuses at the boundary
func (s *FieldStatus) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseFieldStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
