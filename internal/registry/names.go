package registry

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// confusabilityThreshold is the Jaro-Winkler score above which two enrolled
// names are flagged as confusable even without a shared phonetic code.
const confusabilityThreshold = 0.88

// NameWarning flags a pair of enrolled names likely to be confused in
// ambiguity disclosures ("Speaker A (Speaker B?)"). Two voices named "Jon"
// and "John" read as one person to whoever is scanning the transcript, so
// the pair is surfaced at enrollment-import time.
type NameWarning struct {
	// A and B are the confusable enrolled names.
	A string
	B string

	// Phonetic is true when the names share a Double Metaphone code;
	// otherwise the pair matched on string similarity alone.
	Phonetic bool

	// Similarity is the Jaro-Winkler score of the pair.
	Similarity float64
}

// AuditNames checks every pair of enrolled names for phonetic or
// near-lexical collisions. A pair is flagged when the names share a Double
// Metaphone code or their Jaro-Winkler similarity exceeds the
// confusability threshold. Order of warnings follows the input order.
func AuditNames(names []string) []NameWarning {
	type encoded struct {
		name      string
		primary   string
		secondary string
	}

	enc := make([]encoded, 0, len(names))
	for _, n := range names {
		trimmed := strings.TrimSpace(n)
		if trimmed == "" {
			continue
		}
		p, s := matchr.DoubleMetaphone(trimmed)
		enc = append(enc, encoded{name: trimmed, primary: p, secondary: s})
	}

	var warnings []NameWarning
	for i := 0; i < len(enc); i++ {
		for j := i + 1; j < len(enc); j++ {
			a, b := enc[i], enc[j]
			if strings.EqualFold(a.name, b.name) {
				warnings = append(warnings, NameWarning{A: a.name, B: b.name, Phonetic: true, Similarity: 1})
				continue
			}

			phonetic := codesOverlap(a.primary, a.secondary, b.primary, b.secondary)
			sim := matchr.JaroWinkler(strings.ToLower(a.name), strings.ToLower(b.name), false)
			if phonetic || sim >= confusabilityThreshold {
				warnings = append(warnings, NameWarning{A: a.name, B: b.name, Phonetic: phonetic, Similarity: sim})
			}
		}
	}
	return warnings
}

// codesOverlap reports whether any non-empty phonetic code is shared between
// the two name encodings.
func codesOverlap(ap, as, bp, bs string) bool {
	for _, a := range []string{ap, as} {
		if a == "" {
			continue
		}
		if a == bp || (bs != "" && a == bs) {
			return true
		}
	}
	return false
}
