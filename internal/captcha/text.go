// Package captcha solves the form's image challenge through a vision model
// and normalises the answer.
package captcha

import "strings"

// lookalikes maps characters the model tends to return for plain digits.
var lookalikes = map[rune]rune{
	'₀': '0', '₁': '1', '₂': '2', '₃': '3', '₄': '4',
	'₅': '5', '₆': '6', '₇': '7', '₈': '8', '₉': '9',
	'⁰': '0', '¹': '1', '²': '2', '³': '3', '⁴': '4',
	'⁵': '5', '⁶': '6', '⁷': '7', '⁸': '8', '⁹': '9',
	'θ': '0', 'O': '0', 'o': '0',
}

// CleanText folds lookalike characters to digits and keeps only ASCII
// letters and digits.
func CleanText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.TrimSpace(text) {
		if d, ok := lookalikes[r]; ok {
			b.WriteRune(d)
			continue
		}
		if r < 128 && (r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Plausible reports whether text is long enough to be worth submitting.
func Plausible(text string, minLen int) bool {
	return len(text) >= minLen && len(text) > 0
}
