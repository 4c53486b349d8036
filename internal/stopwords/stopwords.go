// Package stopwords implements the French query preprocessing described in
// spec.md §4.5: stopword removal, acronym/proper-noun preservation, and
// lexical-AND query construction for the content_tsv full-text index.
//
// The list below is version "v1" — fixed and embedded at compile time,
// resolving spec.md §9's open question that the original stopword list was
// hand-curated and unversioned. Any future change to this list must bump
// ListVersion so ingestion-time and query-time behaviour can be correlated
// in logs.
package stopwords

import (
	"strings"
	"unicode"
)

// ListVersion identifies the curated stopword list in use.
const ListVersion = "v1"

// list holds 147 common French stopwords: articles, prepositions,
// conjunctions, pronouns, and high-frequency auxiliary verb forms.
var list = map[string]bool{
	"au": true, "aux": true, "avec": true, "ce": true, "ces": true,
	"dans": true, "de": true, "des": true, "du": true, "elle": true,
	"elles": true, "en": true, "et": true, "eux": true, "il": true,
	"ils": true, "je": true, "la": true, "le": true, "les": true,
	"leur": true, "leurs": true, "lui": true, "ma": true, "mais": true,
	"me": true, "même": true, "mes": true, "moi": true, "mon": true,
	"ne": true, "nos": true, "notre": true, "nous": true, "on": true,
	"ou": true, "où": true, "par": true, "pas": true, "pour": true,
	"qu": true, "que": true, "qui": true, "sa": true, "se": true,
	"ses": true, "son": true, "sur": true, "ta": true, "te": true,
	"tes": true, "toi": true, "ton": true, "tu": true, "un": true,
	"une": true, "vos": true, "votre": true, "vous": true, "c": true,
	"d": true, "j": true, "l": true, "m": true, "n": true, "s": true,
	"t": true, "y": true, "à": true, "a": true, "ai": true, "as": true,
	"avons": true, "avez": true, "ont": true, "suis": true, "es": true,
	"est": true, "sommes": true, "êtes": true, "sont": true, "serai": true,
	"seras": true, "sera": true, "serons": true, "serez": true, "seront": true,
	"étais": true, "était": true, "étions": true, "étiez": true, "étaient": true,
	"aurai": true, "auras": true, "aura": true, "aurons": true, "aurez": true,
	"auront": true, "avais": true, "avait": true, "avions": true, "aviez": true,
	"avaient": true, "cela": true, "ceci": true, "celui": true, "celle": true,
	"ceux": true, "celles": true, "ici": true, "là": true, "alors": true,
	"aussi": true, "ainsi": true, "donc": true, "car": true, "comme": true,
	"si": true, "ni": true, "quand": true, "tout": true, "tous": true,
	"toute": true, "toutes": true, "plus": true, "moins": true, "très": true,
	"bien": true, "être": true, "avoir": true, "faire": true, "fait": true,
	"peut": true, "peu": true, "sans": true, "sous": true, "entre": true,
	"chez": true, "dont": true, "quel": true, "quelle": true, "quels": true,
	"quelles": true, "afin": true, "lorsque": true, "cette": true, "cet": true,
}

// IsStopword reports whether the lowercased token is a French stopword.
func IsStopword(token string) bool {
	return list[strings.ToLower(token)]
}

// isAcronym reports whether a token (in its original casing) has two or
// more uppercase letters — e.g. "RTT", "CDI".
func isAcronym(token string) bool {
	count := 0
	for _, r := range token {
		if unicode.IsUpper(r) {
			count++
		}
	}
	return count >= 2
}

// isCapitalized reports whether a token starts with an uppercase letter.
func isCapitalized(token string) bool {
	for _, r := range token {
		return unicode.IsUpper(r)
	}
	return false
}

// Analysis is the result of preprocessing one query for lexical search.
type Analysis struct {
	// Tokens is the significant-token list (stopwords removed, acronyms
	// and proper nouns preserved), lowercased for index matching.
	Tokens []string
	// HasAcronym is true if any token has ≥2 uppercase letters.
	HasAcronym bool
	// HasProperNoun is true if any token after the first begins with an
	// uppercase letter.
	HasProperNoun bool
}

// Tsquery joins the significant tokens with the lexical-AND operator of the
// stemmed text index ("&", PostgreSQL's tsquery AND). An empty Analysis
// (query was entirely stopwords) yields an empty string, signalling the
// caller to fall back to pure vector search.
func (a Analysis) Tsquery() string {
	return strings.Join(a.Tokens, " & ")
}

// tokenize splits text on anything that is not a letter or digit,
// preserving the original casing of each returned token for the caller to
// inspect before any lowercasing decision is made.
func tokenize(text string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// Analyze preprocesses a raw user query for lexical search per spec.md §4.5:
// lowercase, strip punctuation, remove stopwords, but preserve acronyms and
// proper nouns (checked against each token's original casing before it is
// folded to lowercase for index matching).
func Analyze(query string) Analysis {
	raw := tokenize(query)

	var a Analysis
	for i, tok := range raw {
		acronym := isAcronym(tok)
		properNoun := i > 0 && isCapitalized(tok) && !acronym
		if acronym {
			a.HasAcronym = true
		}
		if properNoun {
			a.HasProperNoun = true
		}

		lower := strings.ToLower(tok)
		if IsStopword(lower) && !acronym && !properNoun {
			continue
		}
		a.Tokens = append(a.Tokens, lower)
	}
	return a
}
