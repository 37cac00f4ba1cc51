package domain

import (
	"sort"
	"strings"

	"github.com/agext/levenshtein"
)

// ResolverParams are the tuning knobs for device resolution. The defaults were
// tuned empirically against small household catalogs; they are configurable
// because a different catalog may need a different closeness band.
type ResolverParams struct {
	MinScore         float64
	AmbiguityBand    float64
	AmbiguityFloor   float64
	ContainmentBonus float64
	MaxOptions       int
}

// DefaultResolverParams returns the stock tuning.
func DefaultResolverParams() ResolverParams {
	return ResolverParams{
		MinScore:         0.55,
		AmbiguityBand:    0.08,
		AmbiguityFloor:   0.60,
		ContainmentBonus: 0.15,
		MaxOptions:       5,
	}
}

// Outcome classifies a resolution attempt.
type Outcome int

const (
	NotFound Outcome = iota
	Matched
	Ambiguous
)

// Resolution is the result of matching spoken text against a device catalog.
// Device is set for Matched, Options for Ambiguous.
type Resolution struct {
	Outcome Outcome
	Device  *Device
	Options []Device
}

// Spoken aliases folded before matching. Order matters: "lights" must become
// "light" before "light" becomes "bulb".
var synonyms = [][2]string{
	{"air conditioner", "ac"},
	{"airconditioner", "ac"},
	{"television", "tv"},
	{"lights", "light"},
	{"lamp", "bulb"},
	{"light", "bulb"},
	{"pc", "computer"},
}

// Normalize lowercases s, folds spoken synonyms, and collapses it to
// alphanumeric tokens separated by single spaces.
func Normalize(s string) string {
	s = strings.ToLower(s)
	for _, sub := range synonyms {
		s = strings.ReplaceAll(s, sub[0], sub[1])
	}
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// SearchText builds the normalized haystack a device is matched against:
// room, name, type and "type id" joined together.
func SearchText(d Device) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{d.Room, d.Name, d.Type, d.Type + " " + d.ID} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, p)
		}
	}
	return Normalize(strings.Join(parts, " "))
}

var levParams = levenshtein.NewParams()

// similarity scores the target against the candidate text. Catalog text is
// much longer than spoken targets (room + name + type + id), so a whole-string
// ratio would drown short utterances; instead the target is compared against
// every candidate token window of the same length and the best ratio wins.
func similarity(target string, targetTokens []string, candTokens []string) float64 {
	if len(candTokens) <= len(targetTokens) {
		return levenshtein.Similarity(target, strings.Join(candTokens, " "), levParams)
	}
	best := 0.0
	n := len(targetTokens)
	for i := 0; i+n <= len(candTokens); i++ {
		window := strings.Join(candTokens[i:i+n], " ")
		if s := levenshtein.Similarity(target, window, levParams); s > best {
			best = s
		}
	}
	return best
}

func tokenSubset(sub, super []string) bool {
	if len(sub) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(super))
	for _, t := range super {
		set[t] = struct{}{}
	}
	for _, t := range sub {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

type candidate struct {
	score  float64
	device Device
}

// Resolve matches free-form spoken text against a device snapshot.
// Ambiguity between near-tied candidates is reported rather than silently
// picking one; the caller is expected to re-resolve with a clarified target.
func Resolve(devices []Device, target string, params ResolverParams) Resolution {
	targetNorm := Normalize(target)
	if targetNorm == "" || len(devices) == 0 {
		return Resolution{Outcome: NotFound}
	}
	targetTokens := strings.Fields(targetNorm)

	scored := make([]candidate, 0, len(devices))
	for _, d := range devices {
		candTokens := strings.Fields(SearchText(d))
		s := similarity(targetNorm, targetTokens, candTokens)
		if tokenSubset(targetTokens, candTokens) {
			s += params.ContainmentBonus
		}
		scored = append(scored, candidate{score: s, device: d})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	top := scored[0]
	if top.score < params.MinScore {
		return Resolution{Outcome: NotFound}
	}

	limit := params.MaxOptions
	if limit > len(scored) {
		limit = len(scored)
	}
	var options []Device
	for _, c := range scored[:limit] {
		if top.score-c.score <= params.AmbiguityBand && c.score >= params.AmbiguityFloor {
			options = append(options, c.device)
		}
	}
	if len(options) >= 2 {
		return Resolution{Outcome: Ambiguous, Options: options}
	}
	return Resolution{Outcome: Matched, Device: &top.device}
}
