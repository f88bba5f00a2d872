package invoice

import (
	"fmt"
	"strings"
)

var (
	firstDigitWeights  = []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	secondDigitWeights = []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

// TaxIDField is the customer CNPJ as extracted and validated
type TaxIDField struct {
	Raw         string      `json:"raw_extracted,omitempty"`
	Normalized  string      `json:"normalized,omitempty"`
	Issue       string      `json:"issue,omitempty"`
	ErrorCode   string      `json:"error_code,omitempty"`
	DisplayName string      `json:"display_name,omitempty"` // razao social, when looked up
	Status      FieldStatus `json:"status"`
}

// ValidateTaxID normalizes raw to digits and validates length, repetition
// and both mod-11 check digits.
func ValidateTaxID(raw string) TaxIDField {
	field := TaxIDField{Raw: strings.TrimSpace(raw), Status: StatusAbsent}
	if field.Raw == "" {
		return field
	}

	digits := cleanDigits(field.Raw)

	if len(digits) != 14 {
		field.Status = StatusError
		field.ErrorCode = CodeFormatInvalid
		field.Issue = fmt.Sprintf("CNPJ deve ter 14 dígitos (informado: %d)", len(digits))
		return field
	}

	if strings.Count(digits, digits[:1]) == len(digits) {
		field.Status = StatusError
		field.ErrorCode = CodeFormatInvalid
		field.Issue = "CNPJ não pode ter todos os dígitos iguais"
		return field
	}

	if !CheckDigitsValid(digits) {
		field.Status = StatusError
		field.ErrorCode = CodeCheckDigitInvalid
		field.Issue = "Dígitos verificadores do CNPJ estão incorretos"
		return field
	}

	field.Normalized = digits
	field.Status = StatusValidated
	return field
}

// CheckDigitsValid reports whether the last two digits of a 14 digit string
// match the computed check digits. It does not reject repeated digits.
func CheckDigitsValid(digits string) bool {
	if len(digits) != 14 {
		return false
	}
	d := make([]int, 14)
	for i, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
		d[i] = int(r - '0')
	}
	check1 := checkDigit(d[:12], firstDigitWeights)
	check2 := checkDigit(d[:13], secondDigitWeights)
	return d[12] == check1 && d[13] == check2
}

func checkDigit(digits, weights []int) int {
	sum := 0
	for i, w := range weights {
		sum += digits[i] * w
	}
	if sum%11 < 2 {
		return 0
	}
	return 11 - sum%11
}

// FormatTaxID renders 14 digits as 00.000.000/0000-00
func FormatTaxID(digits string) string {
	if len(digits) != 14 {
		return digits
	}
	return fmt.Sprintf("%s.%s.%s/%s-%s", digits[0:2], digits[2:5], digits[5:8], digits[8:12], digits[12:14])
}

// cleanDigits removes everything that is not a digit
func cleanDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
