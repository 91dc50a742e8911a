package reconcile

import (
	"regexp"
	"strconv"

	"github.com/rotisserie/eris"
)

// Extraction rule versions. Joins carry the version that produced them, so
// changing a pattern means adding a version here, never editing an old one:
// already-reconciled listings keep their meaning until explicitly re-run.
const (
	// VersionLegacy matched bare 4-6 digit tokens with no variant suffix.
	VersionLegacy = "1.0"
	// VersionCurrent matches 3-7 digit tokens with an optional -N/-NN
	// variant suffix, e.g. "10251-1".
	VersionCurrent = "2.0"
)

var identifierPatterns = map[string]*regexp.Regexp{
	VersionLegacy:  regexp.MustCompile(`\b\d{4,6}\b`),
	VersionCurrent: regexp.MustCompile(`\b\d{3,7}(?:-\d{1,2})?\b`),
}

// ExtractIdentifiers returns the set-number candidates found in text under
// the given rule version, duplicate-free and in first-occurrence order.
func ExtractIdentifiers(text string, version string) ([]string, error) {
	pattern, ok := identifierPatterns[version]
	if !ok {
		return nil, eris.Errorf("reconcile: unknown extraction version %q", version)
	}

	matches := pattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil, nil
	}

	seen := make(map[string]struct{}, len(matches))
	candidates := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		candidates = append(candidates, m)
	}
	return candidates, nil
}

// Condition values resolved from listing text.
const (
	ConditionNew     = "new"
	ConditionUsed    = "used"
	ConditionUnknown = "unknown"
)

// Attributes holds the auxiliary values extracted alongside identifiers.
type Attributes struct {
	PieceCount            int
	PieceCountEstimated   bool
	MinifigCount          int
	MinifigCountEstimated bool
	Condition             string
}

// countPattern pairs a regex whose first capture group is a number with a
// flag saying whether the surrounding phrase marks the number as estimated.
type countPattern struct {
	re        *regexp.Regexp
	estimated bool
}

// Estimated patterns come first: a number next to a qualifier is always
// flagged estimated even though the plain pattern would match it too.
var piecePatterns = []countPattern{
	{regexp.MustCompile(`(?i)(?:approx\.?|about|around|roughly|ca\.?|~)\s*(\d{1,6})\s*\+?\s*(?:pieces?|pcs?\.?|parts?|teile)`), true},
	{regexp.MustCompile(`(?i)\b(\d{1,6})\s*\+\s*(?:pieces?|pcs?\.?|parts?|teile)`), true},
	{regexp.MustCompile(`(?i)\b(\d{1,6})\s*(?:pieces?|pcs?\.?|parts?|teile)\b`), false},
}

var minifigPatterns = []countPattern{
	{regexp.MustCompile(`(?i)(?:approx\.?|about|around|roughly|ca\.?|~)\s*(\d{1,4})\s*(?:minifig(?:ure)?s?|figs?)\b`), true},
	{regexp.MustCompile(`(?i)\b(\d{1,4})\s*(?:minifig(?:ure)?s?|figs?)\b`), false},
}

var (
	newConditionPattern  = regexp.MustCompile(`(?i)\b(?:brand\s+new|new|sealed|unopened|misb|bnib|nisb)\b`)
	usedConditionPattern = regexp.MustCompile(`(?i)\b(?:used|pre-?owned|opened|second\s*hand|gebraucht)\b`)
)

// ExtractAttributes pulls piece count, minifig count and condition from text.
// First matching pattern wins per family; counts must be positive, with no
// upper-bound capping.
func ExtractAttributes(text string) Attributes {
	attrs := Attributes{Condition: ConditionUnknown}

	if n, estimated, ok := matchCount(text, piecePatterns); ok {
		attrs.PieceCount = n
		attrs.PieceCountEstimated = estimated
	}
	if n, estimated, ok := matchCount(text, minifigPatterns); ok {
		attrs.MinifigCount = n
		attrs.MinifigCountEstimated = estimated
	}

	// New indicators are checked before used indicators.
	if newConditionPattern.MatchString(text) {
		attrs.Condition = ConditionNew
	} else if usedConditionPattern.MatchString(text) {
		attrs.Condition = ConditionUsed
	}
	return attrs
}

func matchCount(text string, patterns []countPattern) (int, bool, bool) {
	for _, p := range patterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			continue
		}
		return n, p.estimated, true
	}
	return 0, false, false
}
