package trim

import (
	"io"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// TrimUnknown is returned when no ladder token matches the badge text.
// Callers must treat it as "cannot trim-compare", never as a wildcard.
const TrimUnknown = "UNKNOWN"

// Relation describes how a listing's trim relates to a fingerprint's trim
// on the same ladder.
type Relation string

const (
	// RelationExact means both trims sit on the same rung.
	RelationExact Relation = "exact"
	// RelationUpgrade means the listing sits exactly one rung below the
	// fingerprint: a cheaper trim proven to resell at the higher trim's
	// price point.
	RelationUpgrade Relation = "upgrade"
	// RelationRejected covers downgrades, gaps of more than one rung, and
	// unranked or unknown trims.
	RelationRejected Relation = "rejected"
)

// Ladder is a hand-curated trim ranking for one platform class, ordered
// lowest to highest.
type Ladder []string

// Rank returns the zero-based rung of a trim label, or -1 when unranked.
func (l Ladder) Rank(label string) int {
	for i, t := range l {
		if strings.EqualFold(t, label) {
			return i
		}
	}
	return -1
}

// Table holds the trim ladders for all known platform classes plus the
// per-class badge tokens ordered longest-first for extraction.
type Table struct {
	ladders map[string]Ladder
	tokens  map[string][]string
}

// defaultLadders is the built-in curation. Ladders are maintained by hand
// per platform class, never inferred from data.
var defaultLadders = map[string]Ladder{
	"toyota:landcruiser": {"WORKMATE", "GX", "GXL", "VX", "SAHARA"},
	"toyota:prado":       {"GX", "GXL", "VX", "KAKADU"},
	"toyota:hilux":       {"WORKMATE", "SR", "SR5", "ROGUE", "GR SPORT"},
	"ford:ranger":        {"XL", "XLS", "XLT", "SPORT", "WILDTRAK", "RAPTOR"},
	"nissan:navara":      {"SL", "ST", "ST-X", "PRO-4X"},
}

// DefaultTable returns a Table backed by the built-in ladder curation.
func DefaultTable() *Table {
	return newTable(defaultLadders)
}

// ladderFile is the YAML shape for ladder overrides.
type ladderFile struct {
	Ladders map[string][]string `yaml:"ladders"`
}

// LoadTable reads a YAML ladder file. Classes present in the file replace
// the built-in ladder for that class; absent classes keep the default.
func LoadTable(r io.Reader) (*Table, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "trim: read ladder file")
	}

	var f ladderFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, eris.Wrap(err, "trim: parse ladder file")
	}

	merged := make(map[string]Ladder, len(defaultLadders))
	for class, ladder := range defaultLadders {
		merged[class] = ladder
	}
	for class, rungs := range f.Ladders {
		if len(rungs) == 0 {
			return nil, eris.Errorf("trim: empty ladder for class %q", class)
		}
		merged[strings.ToLower(class)] = Ladder(rungs)
	}

	return newTable(merged), nil
}

func newTable(ladders map[string]Ladder) *Table {
	t := &Table{
		ladders: make(map[string]Ladder, len(ladders)),
		tokens:  make(map[string][]string, len(ladders)),
	}
	for class, ladder := range ladders {
		t.ladders[class] = ladder

		toks := make([]string, len(ladder))
		copy(toks, ladder)
		// Longest first so "ST" never matches inside "ST-X".
		sort.Slice(toks, func(i, j int) bool {
			if len(toks[i]) != len(toks[j]) {
				return len(toks[i]) > len(toks[j])
			}
			return toks[i] < toks[j]
		})
		t.tokens[class] = toks
	}
	return t
}

// Ladder returns the ladder for a platform class.
func (t *Table) Ladder(class string) (Ladder, bool) {
	l, ok := t.ladders[strings.ToLower(class)]
	return l, ok
}

// Allowed compares a listing trim against a fingerprint trim on the class
// ladder. The asymmetry is deliberate: buying one rung below what you have
// proven you can sell is a plausible play; the reverse is not.
func (t *Table) Allowed(class, listingTrim, fingerprintTrim string) Relation {
	if listingTrim == TrimUnknown || fingerprintTrim == TrimUnknown {
		return RelationRejected
	}
	if strings.EqualFold(listingTrim, fingerprintTrim) {
		return RelationExact
	}

	ladder, ok := t.Ladder(class)
	if !ok {
		return RelationRejected
	}
	lr, fr := ladder.Rank(listingTrim), ladder.Rank(fingerprintTrim)
	if lr < 0 || fr < 0 {
		return RelationRejected
	}
	if fr-lr == 1 {
		return RelationUpgrade
	}
	return RelationRejected
}

// ExtractTrim scans badge text for the first ladder token of the class,
// checking longer tokens before shorter ones.
func (t *Table) ExtractTrim(class, badge string) string {
	toks, ok := t.tokens[strings.ToLower(class)]
	if !ok || badge == "" {
		return TrimUnknown
	}

	upper := strings.ToUpper(badge)
	for _, tok := range toks {
		if containsToken(upper, strings.ToUpper(tok)) {
			return tok
		}
	}
	return TrimUnknown
}

// containsToken reports whether tok appears in s on word boundaries, so a
// short token never fires inside a longer badge ("ST" inside "ST-X").
func containsToken(s, tok string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], tok)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(tok)
		if boundary(s, start-1) && boundary(s, end) {
			return true
		}
		idx = start + 1
	}
}

func boundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	c := s[i]
	return c == ' ' || c == '/' || c == ',' || c == '(' || c == ')'
}
