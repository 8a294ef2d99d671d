package transform

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	xtransform "golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Letters without a canonical decomposition.
var folds = strings.NewReplacer(
	"ß", "ss", "ẞ", "ss",
	"æ", "ae", "Æ", "ae",
	"œ", "oe", "Œ", "oe",
	"ø", "o", "Ø", "o",
	"ł", "l", "Ł", "l",
	"đ", "d", "Đ", "d",
	"þ", "th", "Þ", "th",
)

// Slugify normalizes a word for the word index: diacritics are removed,
// ligatures folded, the result lowercased and anything but letters and
// digits dropped. It returns "" when nothing is left.
func Slugify(word string) string {
	t := xtransform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := xtransform.String(t, folds.Replace(word))
	if err != nil {
		return ""
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, s)
}
