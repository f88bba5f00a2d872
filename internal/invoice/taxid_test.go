package invoice

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTaxID(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantStatus FieldStatus
		wantCode   string
		wantNorm   string
	}{
		{"valid digits", "11222333000181", StatusValidated, "", "11222333000181"},
		{"valid formatted", "11.222.333/0001-81", StatusValidated, "", "11222333000181"},
		{"valid second sample", "11.444.777/0001-61", StatusValidated, "", "11444777000161"},
		{"empty is absent", "   ", StatusAbsent, "", ""},
		{"too short", "1122233300018", StatusError, CodeFormatInvalid, ""},
		{"too long", "112223330001810", StatusError, CodeFormatInvalid, ""},
		{"all zeros", "00000000000000", StatusError, CodeFormatInvalid, ""},
		{"all ones", "11111111111111", StatusError, CodeFormatInvalid, ""},
		{"wrong check digits", "11222333000182", StatusError, CodeCheckDigitInvalid, ""},
		{"wrong first check digit", "11222333000191", StatusError, CodeCheckDigitInvalid, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateTaxID(tt.raw)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantCode, got.ErrorCode)
			assert.Equal(t, tt.wantNorm, got.Normalized)
			if got.Status == StatusError {
				assert.NotEmpty(t, got.Issue)
			}
		})
	}
}

// referenceCheck recomputes the check digits independently
func referenceCheck(base string) string {
	calc := func(s string, start int) int {
		sum, w := 0, start
		for i := 0; i < len(s); i++ {
			sum += int(s[i]-'0') * w
			w--
			if w < 2 {
				w = 9
			}
		}
		r := sum % 11
		if r < 2 {
			return 0
		}
		return 11 - r
	}
	d1 := calc(base, 5)
	d2 := calc(base+fmt.Sprint(d1), 6)
	return fmt.Sprintf("%d%d", d1, d2)
}

func TestCheckDigitsAcceptsOnlyComputedSuffix(t *testing.T) {
	bases := []string{"112223330001", "114447770001", "123456780001", "987654320001", "000000010001"}

	for _, base := range bases {
		good := referenceCheck(base)
		for suffix := 0; suffix < 100; suffix++ {
			candidate := fmt.Sprintf("%s%02d", base, suffix)
			assert.Equal(t, candidate[12:] == good, CheckDigitsValid(candidate), candidate)
		}
	}
}

func TestRepeatedDigitsRejectedEvenWhenCheckDigitsMatch(t *testing.T) {
	for d := '0'; d <= '9'; d++ {
		candidate := strings.Repeat(string(d), 14)
		got := ValidateTaxID(candidate)
		assert.Equal(t, StatusError, got.Status, candidate)
		assert.Equal(t, CodeFormatInvalid, got.ErrorCode, candidate)
	}
	// all zeros passes the arithmetic but must still be refused
	assert.True(t, CheckDigitsValid("00000000000000"))
}

func TestFormatTaxID(t *testing.T) {
	assert.Equal(t, "11.222.333/0001-81", FormatTaxID("11222333000181"))
	assert.Equal(t, "123", FormatTaxID("123"))
}
