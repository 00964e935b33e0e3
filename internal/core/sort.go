package core

import (
	"slices"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// SortParticipants returns a copy of participants ordered by bib number.
//
// Two bibs that both start with an integer compare numerically on that
// integer; any other pair compares by locale collation of the raw text.
// The sort is stable, so participants with equal keys keep input order.
func SortParticipants(participants []Participant) []Participant {
	sorted := slices.Clone(participants)
	cmp := newBibComparator()
	slices.SortStableFunc(sorted, func(a, b Participant) int {
		return cmp.Compare(a.BibNumber, b.BibNumber)
	})
	return sorted
}

// BibComparator orders bib numbers. It is not safe for concurrent use.
type BibComparator struct {
	col *collate.Collator
}

func newBibComparator() *BibComparator {
	return &BibComparator{col: collate.New(language.Und)}
}

// Compare returns -1, 0 or +1.
func (c *BibComparator) Compare(a, b string) int {
	an, aok := leadingInt(a)
	bn, bok := leadingInt(b)
	if aok && bok {
		return an.compare(bn)
	}
	return c.col.CompareString(a, b)
}

// bigInt is an arbitrary-length decimal integer without leading zeros.
type bigInt struct {
	neg    bool
	digits string
}

// leadingInt parses the integer prefix of s the way a lenient parser
// would: optional spaces, optional sign, then at least one digit.
// Anything after the digits is ignored, so "12b" reads as 12.
func leadingInt(s string) (bigInt, bool) {
	s = strings.TrimLeft(s, " \t\r\n")
	var n bigInt
	if s != "" && (s[0] == '+' || s[0] == '-') {
		n.neg = s[0] == '-'
		s = s[1:]
	}
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return bigInt{}, false
	}
	n.digits = strings.TrimLeft(s[:end], "0")
	if n.digits == "" {
		n.digits = "0"
		n.neg = false
	}
	return n, true
}

func (a bigInt) compare(b bigInt) int {
	if a.neg != b.neg {
		if a.neg {
			return -1
		}
		return 1
	}
	mag := compareMagnitude(a.digits, b.digits)
	if a.neg {
		return -mag
	}
	return mag
}

func compareMagnitude(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}
