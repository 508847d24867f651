package validation

import (
	"math"
	"time"
)

// History is a bounded, oldest-first record of past resolutions, used
// by the machine_learning fallback strategy (spec §4.4 stage 5: "feeds back
// into a bounded history (<=1000 entries) for learning").
type History struct {
	entries []historyEntry
	max     int
}

type historyEntry struct {
	entityType string
	dimension  Dimension
	winningMode string
	resolution Resolution
}

// NewHistory creates a history bounded to max entries (spec default 1000).
func NewHistory(max int) *History {
	if max <= 0 {
		max = 1000
	}
	return &History{max: max}
}

func (h *History) record(dimension Dimension, res Resolution) {
	h.entries = append(h.entries, historyEntry{
		entityType:  string(res.Selected.Type),
		dimension:   dimension,
		winningMode: res.Selected.Mode,
		resolution:  res,
	})
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
}

// similarCount returns, per winning mode, how many historical entries share
// entityType and dimension with the current case — the "historical cases
// similar by feature similarity >= 0.7" spec §4.4 stage 5 calls for,
// simplified to an exact (type, dimension) feature match.
func (h *History) similarCount(entityType string, dimension Dimension) map[string]int {
	byMode := make(map[string]int)
	for _, e := range h.entries {
		if e.entityType == entityType && e.dimension == dimension {
			byMode[e.winningMode]++
		}
	}
	return byMode
}

// Resolve picks one of the five strategies per spec §4.4 stage 5's rules
// and returns the resolution for one entity-pair's conflict group.
func Resolve(candidates []Candidate, conflicts []Conflict, hist *History) Resolution {
	switch {
	case isCompound(conflicts) || len(conflicts) > 3:
		return resolveConsensus(candidates, conflicts)
	case hasDimension(conflicts, DimensionSemantic):
		return resolveEvidenceBased(candidates, conflicts, StrategyEvidenceBased)
	case hasDimension(conflicts, DimensionTemporal):
		return resolveRecencyWeighted(candidates, conflicts)
	default:
		if hist != nil {
			if res, ok := resolveMachineLearning(candidates, conflicts, hist); ok {
				return res
			}
		}
		return resolveEvidenceBased(candidates, conflicts, StrategyEvidenceBased)
	}
}

type scopeTypeKey struct {
	Type  string
	Scope Scope
}

// resolveConsensus groups by (type, scope) and picks the group maximizing
// totalConfidence * sqrt(|group|) (spec §4.4 stage 5).
func resolveConsensus(candidates []Candidate, conflicts []Conflict) Resolution {
	groups := make(map[scopeTypeKey][]Candidate)
	for _, c := range candidates {
		key := scopeTypeKey{Type: string(c.Type), Scope: c.Scope}
		groups[key] = append(groups[key], c)
	}

	var bestKey scopeTypeKey
	var bestScore float64
	first := true
	for key, group := range groups {
		var total float64
		for _, c := range group {
			total += c.Confidence
		}
		score := total * math.Sqrt(float64(len(group)))
		if first || score > bestScore {
			bestScore = score
			bestKey = key
			first = false
		}
	}

	winningGroup := groups[bestKey]
	selected := highestConfidence(winningGroup)
	return buildResolution(selected, candidates, StrategyConsensus,
		"selected the (type, scope) group maximizing total confidence weighted by group size")
}

// resolveEvidenceBased scores each candidate's own evidence strength
// (confidence as a proxy, since full evidence retrieval requires the
// relational store and this stage operates on in-memory candidates) and
// picks the strongest.
func resolveEvidenceBased(candidates []Candidate, conflicts []Conflict, strategy Strategy) Resolution {
	selected := highestConfidence(candidates)
	return buildResolution(selected, candidates, strategy, "strongest evidence (highest confidence) candidate selected")
}

// resolveRecencyWeighted scores candidates by exp(-age/7d)*confidence (spec
// §4.4 stage 5) and picks the highest.
func resolveRecencyWeighted(candidates []Candidate, conflicts []Conflict) Resolution {
	now := time.Now().UTC()
	var best Candidate
	var bestScore float64
	first := true
	for _, c := range candidates {
		age := now.Sub(c.Timestamp)
		if age < 0 {
			age = 0
		}
		score := math.Exp(-age.Hours()/(7*24)) * c.Confidence
		if first || score > bestScore {
			best = c
			bestScore = score
			first = false
		}
	}
	return buildResolution(best, candidates, StrategyRecencyWeighted, "most recent, highest-decayed-confidence candidate selected")
}

// resolveMachineLearning applies the learned-history fallback: fires only
// when >= 10 similar historical cases exist and one mode won at least 70%
// of them (spec §4.4 stage 5: "similarity >= 0.7").
func resolveMachineLearning(candidates []Candidate, conflicts []Conflict, hist *History) (Resolution, bool) {
	if len(candidates) == 0 {
		return Resolution{}, false
	}
	entityType := string(candidates[0].Type)
	var dim Dimension
	if len(conflicts) > 0 {
		dim = conflicts[0].Dimension
	}

	byMode := hist.similarCount(entityType, dim)
	var totalCases int
	for _, n := range byMode {
		totalCases += n
	}
	if totalCases < 10 {
		return Resolution{}, false
	}

	var winningMode string
	var winningCount int
	for mode, n := range byMode {
		if n > winningCount {
			winningCount = n
			winningMode = mode
		}
	}
	if float64(winningCount)/float64(totalCases) < 0.7 {
		return Resolution{}, false
	}

	for _, c := range candidates {
		if c.Mode == winningMode {
			return buildResolution(c, candidates, StrategyMachineLearning,
				"historical mode preference ("+winningMode+") met the 70% similarity threshold"), true
		}
	}
	return Resolution{}, false
}

func highestConfidence(candidates []Candidate) Candidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Confidence > best.Confidence {
			best = c
		}
	}
	return best
}

func buildResolution(selected Candidate, all []Candidate, strategy Strategy, reasoning string) Resolution {
	var rejected []Candidate
	for _, c := range all {
		if c.RelationshipID != selected.RelationshipID || c.Mode != selected.Mode {
			rejected = append(rejected, c)
		}
	}
	return Resolution{
		Selected:   selected,
		Rejected:   rejected,
		Confidence: selected.Confidence,
		Strategy:   strategy,
		Reasoning:  reasoning,
	}
}
