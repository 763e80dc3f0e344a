// Package translit holds the deterministic text fallbacks used after content
// refinement: a Ukrainian to Russian letter substitution and a Latin URL slug.
package translit

import (
	"strings"
	"unicode"
)

// DefaultSlug is returned when nothing sluggable is left of the input.
const DefaultSlug = "product"

var ukToRu = strings.NewReplacer(
	"і", "и", "І", "И",
	"ї", "и", "Ї", "И",
	"є", "е", "Є", "Е",
	"ґ", "г", "Ґ", "Г",
	"'", "", "’", "", "ʼ", "",
)

// UkToRu replaces the letters that exist only in Ukrainian with their closest
// Russian counterparts. It is a fallback for missing translations, not a
// translator.
func UkToRu(s string) string {
	return ukToRu.Replace(s)
}

// Ukrainian national romanization (2010), plus the Russian-only letters.
var latin = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "h", 'ґ': "g", 'д': "d", 'е': "e",
	'є': "ie", 'ж': "zh", 'з': "z", 'и': "y", 'і': "i", 'ї': "i", 'й': "i",
	'к': "k", 'л': "l", 'м': "m", 'н': "n", 'о': "o", 'п': "p", 'р': "r",
	'с': "s", 'т': "t", 'у': "u", 'ф': "f", 'х': "kh", 'ц': "ts", 'ч': "ch",
	'ш': "sh", 'щ': "shch", 'ь': "", 'ю': "iu", 'я': "ia",
	'ы': "y", 'э': "e", 'ё': "io", 'ъ': "",
}

// Word-initial forms.
var latinInitial = map[rune]string{
	'є': "ye", 'ї': "yi", 'й': "y", 'ю': "yu", 'я': "ya",
}

// Slugify lowercases s, romanizes Cyrillic and collapses everything that is
// not [a-z0-9] into single hyphens. The result matches
// ^[a-z0-9]+(-[a-z0-9]+)*$ and Slugify(Slugify(s)) == Slugify(s).
func Slugify(s string) string {
	var b strings.Builder
	runes := []rune(strings.ToLower(s))
	pendingHyphen := false
	wordStart := true

	emit := func(str string) {
		if str == "" {
			return
		}
		if pendingHyphen && b.Len() > 0 {
			b.WriteByte('-')
		}
		pendingHyphen = false
		b.WriteString(str)
	}

	for i, r := range runes {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			emit(string(r))
			wordStart = false
		case r == '\'' || r == '’' || r == 'ʼ':
			// apostrophes are dropped without splitting the word
		case latin[r] != "" || r == 'ь' || r == 'ъ':
			out := latin[r]
			if wordStart {
				if initial, ok := latinInitial[r]; ok {
					out = initial
				}
			}
			if r == 'г' && i > 0 && runes[i-1] == 'з' {
				out = "gh"
			}
			emit(out)
			wordStart = false
		default:
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				// letters outside both alphabets have no romanization
				wordStart = false
				continue
			}
			pendingHyphen = true
			wordStart = true
		}
	}

	if b.Len() == 0 {
		return DefaultSlug
	}
	return b.String()
}
