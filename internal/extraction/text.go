package extraction

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var punctuation = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)

// Fold lowercases s and strips accents, so "Não" and "nao" compare equal
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// normalize folds s, drops punctuation and collapses whitespace
func normalize(s string) string {
	return strings.Join(strings.Fields(punctuation.ReplaceAllString(Fold(s), " ")), " ")
}

func setOf(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

func contains(set map[string]struct{}, s string) bool {
	_, ok := set[s]
	return ok
}

var (
	affirmatives = setOf("sim", "s", "confirmo", "confirmar", "confirma", "ok", "pode emitir", "yes")
	negatives    = setOf("nao", "n", "cancelar", "cancela", "no")
)

// IsAffirmative reports whether text confirms, e.g. "Sim!" or "sim, pode emitir"
func IsAffirmative(text string) bool {
	return matchesToken(text, affirmatives, "sim", "confirmo")
}

// words that make a leading "não" a refusal rather than "não sei"
var declineFollowUps = setOf("obrigado", "obrigada", "quero", "precisa", "preciso",
	"emitir", "emita", "emite", "confirmo", "pode", "cancela", "cancelar")

// IsNegative reports whether text declines, e.g. "Não" or "nao, obrigado".
// A longer message starting with "não" only counts when the next word
// refuses too.
func IsNegative(text string) bool {
	if matchesToken(text, negatives, "cancelar", "cancela") {
		return true
	}
	words := strings.Fields(normalize(text))
	return len(words) > 1 && words[0] == "nao" && contains(declineFollowUps, words[1])
}

// matchesToken accepts the whole message as a token, or a longer message
// whose first word is one of the leading words.
func matchesToken(text string, tokens map[string]struct{}, leading ...string) bool {
	msg := normalize(text)
	if contains(tokens, msg) {
		return true
	}
	first, _, found := strings.Cut(msg, " ")
	if !found {
		return false
	}
	for _, w := range leading {
		if first == w {
			return true
		}
	}
	return false
}
