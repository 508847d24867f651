package validation

import (
	"context"
	"fmt"
	"strings"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/store"
)

// PreValidate deduplicates by (from_lc, type_lc, to_lc), keeping the
// highest-priority candidate of each semantic key, and drops rows missing a
// source/target/type or with an out-of-range confidence (spec §4.4 stage 1).
func PreValidate(candidates []Candidate) []Candidate {
	best := make(map[string]Candidate, len(candidates))
	order := make([]string, 0, len(candidates))

	for _, c := range candidates {
		if c.From == "" || c.To == "" || c.Type == "" {
			continue
		}
		if c.Confidence < 0 || c.Confidence > 1 {
			continue
		}
		c.Priority = priorityFor(c)

		key := c.semanticKey()
		existing, ok := best[key]
		if !ok {
			order = append(order, key)
			best[key] = c
			continue
		}
		if c.Priority > existing.Priority || (c.Priority == existing.Priority && c.Confidence > existing.Confidence) {
			best[key] = c
		}
	}

	out := make([]Candidate, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out
}

// priorityFor ranks a candidate's mode the way spec §4.4.d implies:
// triangulated consensus outranks individual analysis, which outranks batch.
func priorityFor(c Candidate) int {
	switch c.Mode {
	case "triangulated":
		return 2
	case "individual":
		return 1
	default:
		return 0
	}
}

// CollectEvidence gathers the three evidence sources spec §4.4 stage 2
// lists: the candidate's own relationship row, the endpoint POIs'
// descriptions, and sibling relationships sharing an endpoint.
func CollectEvidence(ctx context.Context, s *store.Store, c Candidate) ([]EvidenceItem, error) {
	var items []EvidenceItem

	if c.RelationshipID != "" {
		own, err := s.EvidenceForRelationship(ctx, c.RelationshipID)
		if err != nil {
			return nil, fmt.Errorf("validation: own evidence: %w", err)
		}
		for _, e := range own {
			items = append(items, EvidenceItem{Type: "own", Content: e.Reason, Confidence: e.Confidence, Timestamp: e.CreatedAt})
		}

		rel, err := s.GetRelationship(ctx, c.RelationshipID)
		if err != nil {
			return nil, fmt.Errorf("validation: relationship lookup: %w", err)
		}
		if rel != nil {
			for _, poiID := range []string{rel.SourcePOIID, rel.TargetPOIID} {
				poi, err := s.GetPOI(ctx, poiID)
				if err != nil {
					return nil, fmt.Errorf("validation: poi lookup: %w", err)
				}
				if poi != nil && poi.Description != "" {
					items = append(items, EvidenceItem{Type: "poi_description", Content: poi.Description, Confidence: rel.Confidence})
				}
			}

			for _, poiID := range []string{rel.SourcePOIID, rel.TargetPOIID} {
				siblings, err := s.SiblingRelationships(ctx, rel.RunID, poiID, rel.ID)
				if err != nil {
					return nil, fmt.Errorf("validation: siblings: %w", err)
				}
				for _, sib := range siblings {
					items = append(items, EvidenceItem{Type: "sibling", Content: string(sib.Type), Confidence: sib.Confidence})
				}
			}
		}
	}

	return items, nil
}

// ModeGroup is one semantic key's candidates, split by analysis mode, for
// cross-mode comparison (spec §4.4 stage 3).
type ModeGroup struct {
	SemanticKey string
	ByMode      map[string][]Candidate
}

// GroupByMode groups candidates by semantic key, then by mode within each
// group.
func GroupByMode(candidates []Candidate) map[string]*ModeGroup {
	groups := make(map[string]*ModeGroup)
	for _, c := range candidates {
		key := c.semanticKey()
		g, ok := groups[key]
		if !ok {
			g = &ModeGroup{SemanticKey: key, ByMode: make(map[string][]Candidate)}
			groups[key] = g
		}
		g.ByMode[c.Mode] = append(g.ByMode[c.Mode], c)
	}
	return groups
}

// similarity computes the spec §4.4 stage 3 pairwise similarity:
// 0.3*type_match + 0.35*from_similar + 0.35*to_similar.
func similarity(a, b Candidate) float64 {
	score := 0.0
	if a.Type == b.Type {
		score += 0.3
	}
	score += 0.35 * entitySimilarity(a.From, b.From)
	score += 0.35 * entitySimilarity(a.To, b.To)
	return score
}

// entitySimilarity implements spec's "equality, substring, or shared
// underscore/dot token" entity-similarity rule.
func entitySimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	al, bl := strings.ToLower(a), strings.ToLower(b)
	if al == bl {
		return 1.0
	}
	if strings.Contains(al, bl) || strings.Contains(bl, al) {
		return 0.7
	}
	if sharesToken(al, bl) {
		return 0.4
	}
	return 0.0
}

func sharesToken(a, b string) bool {
	split := func(s string) []string {
		return strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == '.' })
	}
	at := split(a)
	bt := split(b)
	for _, x := range at {
		if x == "" {
			continue
		}
		for _, y := range bt {
			if x == y {
				return true
			}
		}
	}
	return false
}

// Comparison is the per-semantic-key result of cross-mode comparison.
type Comparison struct {
	SemanticKey    string
	ModesAgree     bool
	MeanSimilarity float64
}

// CrossModeComparison implements spec §4.4 stage 3 over every group
// GroupByMode produced: computes pairwise similarity across all candidates
// in a group and whether their per-mode confidences agree.
func CrossModeComparison(groups map[string]*ModeGroup) []Comparison {
	out := make([]Comparison, 0, len(groups))
	for key, g := range groups {
		var all []Candidate
		var confidences []float64
		for _, list := range g.ByMode {
			all = append(all, list...)
			for _, c := range list {
				confidences = append(confidences, c.Confidence)
			}
		}

		var simSum float64
		var pairs int
		for i := 0; i < len(all); i++ {
			for j := i + 1; j < len(all); j++ {
				simSum += similarity(all[i], all[j])
				pairs++
			}
		}
		mean := 1.0
		if pairs > 0 {
			mean = simSum / float64(pairs)
		}

		out = append(out, Comparison{
			SemanticKey:    key,
			ModesAgree:     modesAgree(confidences),
			MeanSimilarity: mean,
		})
	}
	return out
}

// modesAgree reports whether the confidences from two modes agree: spec
// §4.4 stage 3, "variance of their confidences < 0.15".
func modesAgree(confidences []float64) bool {
	if len(confidences) < 2 {
		return true
	}
	var mean float64
	for _, c := range confidences {
		mean += c
	}
	mean /= float64(len(confidences))

	var variance float64
	for _, c := range confidences {
		d := c - mean
		variance += d * d
	}
	variance /= float64(len(confidences))
	return variance < 0.15
}
