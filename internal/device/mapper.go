package device

import (
	"strings"

	"github.com/sahilm/fuzzy"

	"lumen/internal/logging"
)

// Fuzzy matches below this score are treated as no match. The score scale
// comes from the matcher's internal bonus/penalty weights; short accidental
// overlaps land well below zero.
const minFuzzyScore = 0

// Match is the outcome of resolving a spoken name against the device list.
type Match struct {
	Device *Device
	// Candidates is set when the name was ambiguous; the caller should ask
	// the user to pick one.
	Candidates []Device
	// Method records how the match was made: exact, case-insensitive,
	// partial, or fuzzy.
	Method string
}

// Resolved reports whether exactly one device matched.
func (m Match) Resolved() bool { return m.Device != nil }

// Ambiguous reports whether several devices matched equally well.
func (m Match) Ambiguous() bool { return len(m.Candidates) > 1 }

// Resolve maps a spoken device name to a registered device. Matching is
// staged: exact, then case-insensitive, then substring in either direction,
// then fuzzy. Each stage that yields exactly one device wins; a stage that
// yields several returns them as candidates for clarification.
func Resolve(name string, devices []Device) Match {
	log := logging.S(logging.CategoryDevice)
	name = strings.TrimSpace(name)
	if name == "" || len(devices) == 0 {
		return Match{}
	}

	for _, d := range devices {
		if d.Name == name {
			dev := d
			return Match{Device: &dev, Method: "exact"}
		}
	}

	lower := strings.ToLower(name)
	var ci []Device
	for _, d := range devices {
		if strings.ToLower(d.Name) == lower {
			ci = append(ci, d)
		}
	}
	if len(ci) == 1 {
		return Match{Device: &ci[0], Method: "case-insensitive"}
	}
	if len(ci) > 1 {
		return Match{Candidates: ci, Method: "case-insensitive"}
	}

	var partial []Device
	for _, d := range devices {
		dn := strings.ToLower(d.Name)
		if strings.Contains(dn, lower) || strings.Contains(lower, dn) {
			partial = append(partial, d)
		}
	}
	if len(partial) == 1 {
		return Match{Device: &partial[0], Method: "partial"}
	}
	if len(partial) > 1 {
		log.Debugw("ambiguous device name", "name", name, "candidates", len(partial))
		return Match{Candidates: partial, Method: "partial"}
	}

	names := make([]string, len(devices))
	for i, d := range devices {
		names[i] = d.Name
	}
	results := fuzzy.Find(name, names)
	if len(results) > 0 && results[0].Score > minFuzzyScore {
		// A clear winner only if the runner-up is meaningfully worse.
		if len(results) > 1 && results[1].Score == results[0].Score {
			cands := []Device{devices[results[0].Index], devices[results[1].Index]}
			return Match{Candidates: cands, Method: "fuzzy"}
		}
		dev := devices[results[0].Index]
		log.Debugw("fuzzy device match", "name", name, "matched", dev.Name, "score", results[0].Score)
		return Match{Device: &dev, Method: "fuzzy"}
	}

	return Match{}
}
