// Package rpmver implements the rpmvercmp total ordering over
// (epoch, version, release) triples, including the tilde pre-release rule.
//
// This is the one place the algorithm lives: full triples are ordered by
// [Compare], and dependency-version bounds by [CompareStrings].
package rpmver

import (
	"strconv"
	"strings"
)

// Triple is an (epoch, version, release) version, the unit rpmvercmp
// compares. A missing epoch is represented as 0 by the caller — see
// [rpmqd.Package.EpochOrZero] — since the absent/present distinction only
// matters for equality checks, not for ordering.
type Triple struct {
	Epoch   int
	Version string
	Release string
}

// Ordering mirrors the comparison result vocabulary used across this
// module.
type Ordering int

const (
	Less Ordering = iota - 1
	Equal
	Greater
)

// Compare returns the rpmvercmp ordering of a relative to b: epoch first,
// then version, then release, with the first non-equal component deciding.
func Compare(a, b Triple) Ordering {
	if a.Epoch != b.Epoch {
		if a.Epoch < b.Epoch {
			return Less
		}
		return Greater
	}
	if o := compareSegment(a.Version, b.Version); o != Equal {
		return o
	}
	return compareSegment(a.Release, b.Release)
}

// CompareStrings runs rpmvercmp directly on two bare version strings,
// without any epoch/release component. Used where only a single rpm-md
// version attribute is being compared, e.g. a dependency bound against a
// user-supplied version string.
func CompareStrings(a, b string) Ordering {
	return compareSegment(a, b)
}

// compareSegment implements rpmvercmp for a single segment string (a
// version or a release), applied the same way to either. Ported from the
// reference algorithm: walk both strings in lockstep, skip runs of
// non-alphanumeric separators (tilde aside), and compare alternating
// digit/letter runs.
func compareSegment(a, b string) Ordering {
	if a == b {
		return Equal
	}

	for {
		a = strings.TrimLeftFunc(a, isSeparator)
		b = strings.TrimLeftFunc(b, isSeparator)

		// Tilde sorts before everything else, including end-of-string.
		switch {
		case strings.HasPrefix(a, "~") && strings.HasPrefix(b, "~"):
			a, b = a[1:], b[1:]
			continue
		case strings.HasPrefix(a, "~"):
			return Less
		case strings.HasPrefix(b, "~"):
			return Greater
		}

		if a == "" || b == "" {
			break
		}

		aNum := isDigit(rune(a[0]))
		var aSeg, bSeg string
		if aNum {
			aSeg, a = splitRun(a, isDigit)
			bSeg, b = splitRun(b, isDigit)
		} else {
			aSeg, a = splitRun(a, isAlpha)
			bSeg, b = splitRun(b, isAlpha)
		}

		switch {
		case bSeg == "" && aNum:
			// Numeric beats a missing (or differently-typed) segment.
			return Greater
		case bSeg == "" && !aNum:
			return Less
		}

		if aNum {
			aSeg = strings.TrimLeft(aSeg, "0")
			bSeg = strings.TrimLeft(bSeg, "0")
			switch {
			case len(aSeg) > len(bSeg):
				return Greater
			case len(aSeg) < len(bSeg):
				return Less
			}
		}

		if c := strings.Compare(aSeg, bSeg); c != 0 {
			if c < 0 {
				return Less
			}
			return Greater
		}
	}

	switch {
	case a == "" && b == "":
		return Equal
	case a != "":
		return Greater
	default:
		return Less
	}
}

func isSeparator(r rune) bool { return !isAlnum(r) && r != '~' }

func isAlpha(r rune) bool { return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' }

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func isAlnum(r rune) bool { return isAlpha(r) || isDigit(r) }

func splitRun(s string, f func(rune) bool) (string, string) {
	i := strings.IndexFunc(s, func(r rune) bool { return !f(r) })
	if i == -1 {
		return s, ""
	}
	return s[:i], s[i:]
}

// FormatEVR renders an epoch:version-release string, omitting the epoch
// prefix when it is zero, matching the conventional rpm display format.
func FormatEVR(t Triple) string {
	var b strings.Builder
	if t.Epoch != 0 {
		b.WriteString(strconv.Itoa(t.Epoch))
		b.WriteByte(':')
	}
	b.WriteString(t.Version)
	b.WriteByte('-')
	b.WriteString(t.Release)
	return b.String()
}
