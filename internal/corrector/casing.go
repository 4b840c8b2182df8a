package corrector

import (
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type casePattern int

const (
	caseLower casePattern = iota
	caseTitle
	caseUpper
	caseMixed
)

func classify(word string) casePattern {
	upper, letters := 0, 0
	firstUpper := false
	for i, r := range word {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
			if i == 0 {
				firstUpper = true
			}
		}
	}
	switch {
	case upper == 0:
		return caseLower
	case upper == letters && letters > 1:
		return caseUpper
	case upper == 1 && firstUpper:
		return caseTitle
	default:
		return caseMixed
	}
}

func lower(s string) string {
	return cases.Lower(language.English).String(s)
}

// restoreCase applies the case pattern of the original word to repl.
// Replacements that carry their own capitals (e.g. "I've") keep them.
func restoreCase(p casePattern, repl string) string {
	switch p {
	case caseUpper:
		return cases.Upper(language.English).String(repl)
	case caseTitle:
		r, size := utf8.DecodeRuneInString(repl)
		if r == utf8.RuneError {
			return repl
		}
		return cases.Upper(language.English).String(string(r)) + repl[size:]
	default:
		return repl
	}
}
