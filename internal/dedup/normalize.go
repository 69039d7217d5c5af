package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	urlExpr = regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+`)
	// A mention starts the text or follows a non-word rune, which keeps e-mail addresses intact.
	mentionExpr = regexp.MustCompile(`(^|[^\w@])@[\w.\-]+(?:@[\w\-]+(?:\.[\w\-]+)+)?`)
)

// Normalize strips URLs and @-mentions, collapses whitespace and lowercases.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	text := norm.NFC.String(raw)
	text = urlExpr.ReplaceAllString(text, " ")
	text = mentionExpr.ReplaceAllString(text, "$1 ")
	text = strings.Join(strings.Fields(text), " ")
	return strings.ToLower(text)
}

// Fingerprint is the SHA-256 hex digest of an already normalized text.
func Fingerprint(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Similarity scores two normalized texts in [0,1] by the overlap of their word sets.
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}

	left := tokenSet(a)
	right := tokenSet(b)
	if len(left) == 0 || len(right) == 0 {
		return 0.0
	}

	shared := 0
	for tok := range left {
		if _, ok := right[tok]; ok {
			shared++
		}
	}
	union := len(left) + len(right) - shared
	return float64(shared) / float64(union)
}

func tokenSet(text string) map[string]struct{} {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// CompareIDs orders source item ids: numerically when both are integers, lexically otherwise.
func CompareIDs(a, b string) int {
	x, okA := new(big.Int).SetString(a, 10)
	y, okB := new(big.Int).SetString(b, 10)
	if okA && okB {
		return x.Cmp(y)
	}
	return strings.Compare(a, b)
}
