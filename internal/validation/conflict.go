package validation

import (
	"math"
	"time"
)

// GroupByEntity groups candidates by endpoint pair alone (ignoring type),
// the broader grouping conflict detection operates over (spec §4.4 stage 4:
// "same entity pair").
func GroupByEntity(candidates []Candidate) map[string][]Candidate {
	groups := make(map[string][]Candidate)
	for _, c := range candidates {
		key := c.entityKey()
		groups[key] = append(groups[key], c)
	}
	return groups
}

// temporalSpreadThreshold and the severity constants below cover the three
// dimensions spec §4.4 stage 4 defines a trigger condition for but no
// explicit severity formula (temporal, scope, confidence) — see DESIGN.md's
// Open Question decision for the calibration rationale.
const temporalSpreadThreshold = 7 * 24 * time.Hour

// DetectConflicts scans every pair within one entity group across all four
// dimensions spec §4.4 stage 4 names, applying the compound severity boost
// when a pair conflicts on 2+ dimensions simultaneously.
func DetectConflicts(group []Candidate) []Conflict {
	var conflicts []Conflict

	for i := 0; i < len(group); i++ {
		for j := i + 1; j < len(group); j++ {
			a, b := group[i], group[j]
			var pairConflicts []Conflict

			if a.Type != b.Type {
				severity := 0.5 + 0.3*1.0 + 0.2*evidenceConflictFactor(a, b)
				pairConflicts = append(pairConflicts, Conflict{Dimension: DimensionSemantic, Severity: clamp01(severity), A: a, B: b})
			}

			if !a.Timestamp.IsZero() && !b.Timestamp.IsZero() {
				spread := a.Timestamp.Sub(b.Timestamp)
				if spread < 0 {
					spread = -spread
				}
				if spread > temporalSpreadThreshold && (a.Type != b.Type || math.Abs(a.Confidence-b.Confidence) > 0.1) {
					pairConflicts = append(pairConflicts, Conflict{Dimension: DimensionTemporal, Severity: 0.45, A: a, B: b})
				}
			}

			if a.Scope != "" && b.Scope != "" && a.Scope != b.Scope {
				pairConflicts = append(pairConflicts, Conflict{Dimension: DimensionScope, Severity: 0.35, A: a, B: b})
			}

			if math.Abs(a.Confidence-b.Confidence) > 0.25 {
				pairConflicts = append(pairConflicts, Conflict{Dimension: DimensionConfidence, Severity: clamp01(math.Abs(a.Confidence - b.Confidence)), A: a, B: b})
			}

			if len(pairConflicts) >= 2 {
				for k := range pairConflicts {
					pairConflicts[k].Severity = clamp01(pairConflicts[k].Severity * 1.2)
				}
			}
			conflicts = append(conflicts, pairConflicts...)
		}
	}
	return conflicts
}

func evidenceConflictFactor(a, b Candidate) float64 {
	if math.Abs(a.Confidence-b.Confidence) > 0.3 {
		return 1.0
	}
	return 0.0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// OverallSeverity implements spec §4.4 stage 4's aggregate formula:
// max(severities)*0.7 + avg*0.2 + count_factor*0.1.
func OverallSeverity(conflicts []Conflict) float64 {
	if len(conflicts) == 0 {
		return 0
	}
	var max, sum float64
	for _, c := range conflicts {
		if c.Severity > max {
			max = c.Severity
		}
		sum += c.Severity
	}
	avg := sum / float64(len(conflicts))
	countFactor := float64(len(conflicts)) / 5.0
	if countFactor > 1 {
		countFactor = 1
	}
	return max*0.7 + avg*0.2 + countFactor*0.1
}

// hasDimension reports whether any conflict in the slice is on dim.
func hasDimension(conflicts []Conflict, dim Dimension) bool {
	for _, c := range conflicts {
		if c.Dimension == dim {
			return true
		}
	}
	return false
}

// isCompound reports whether at least two distinct dimensions appear across
// the conflict set (spec §4.4 stage 4: "Compound conflict = >= 2 dimensions").
func isCompound(conflicts []Conflict) bool {
	seen := make(map[Dimension]bool)
	for _, c := range conflicts {
		seen[c.Dimension] = true
	}
	return len(seen) >= 2
}
