// Package scoring implements the confirmation scorer: a pure, deterministic
// multi-factor classifier that decides, per matched record, whether a match
// against a candidate is genuine, a false positive, or needs a human.
package scoring

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/merchantiq/matchd/internal/model"
)

const (
	baseline = 0.5

	// Recommendation thresholds. Scores in between go to human review.
	confirmThreshold = 0.8
	excludeThreshold = 0.4
)

// commonWords are brand names that double as everyday words. A match on one
// of these carries no signal by itself.
var commonWords = map[string]struct{}{
	"apple":  {},
	"shell":  {},
	"target": {},
	"amazon": {},
	"orange": {},
	"mint":   {},
	"square": {},
	"circle": {},
	"star":   {},
	"sun":    {},
	"moon":   {},
	"crown":  {},
}

// contradictions maps a common-word brand to narrative terms that indicate
// the literal meaning of the word rather than the brand. The penalty is
// applied at most once per record.
var contradictions = map[string][]string{
	"apple":  {"orchard", "farm", "fruit", "produce", "market"},
	"shell":  {"beach", "seafood", "fish", "ocean"},
	"target": {"shooting", "range", "practice"},
	"amazon": {"river", "rainforest", "jungle"},
	"orange": {"juice", "grove", "fruit", "county"},
	"mint":   {"tea", "herb", "leaf", "garden"},
	"sun":    {"tanning", "solar", "rise", "set"},
	"moon":   {"light", "rise", "phase"},
}

// contextPatterns signal a genuine commercial transaction: storefront
// keywords, store numbers, long numeric ids, web domains, service tiers.
var contextPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(store|shop|market|station)\b`),
	regexp.MustCompile(`#\d+`),
	regexp.MustCompile(`\d{3,}`),
	regexp.MustCompile(`(?i)\.(com|net|org|co|io)\b`),
	regexp.MustCompile(`(?i)\b(prime|plus|pro|premium)\b`),
}

// Score classifies one (candidate, record) pair. info is the category
// metadata for the record's category code; nil means the code is unknown.
// declaredSector is the candidate's declared sector.
//
// The score starts at a neutral 0.5 and each factor adds or subtracts,
// in a fixed order; the result is clamped to [0, 1] and rounded to three
// decimals. Factors are returned in evaluation order for the audit trail.
func Score(candidateName string, rec model.Record, info *model.CategoryInfo, declaredSector string) model.Decision {
	score := baseline
	var factors []string

	narrative := strings.ToLower(rec.Narrative)
	name := strings.ToLower(strings.TrimSpace(candidateName))

	// Factor 1: sector alignment between record category and candidate.
	if info != nil && info.Sector != "" {
		if strings.EqualFold(info.Sector, declaredSector) {
			score += 0.3
			factors = append(factors, fmt.Sprintf("sector match: %s (+0.30)", info.Sector))
		} else {
			score -= 0.2
			factors = append(factors, fmt.Sprintf("sector mismatch: %s vs %s (-0.20)", info.Sector, declaredSector))
		}
	}

	// Factor 2: business-context indicators in the narrative.
	hasContext := false
	for _, p := range contextPatterns {
		if p.MatchString(rec.Narrative) {
			hasContext = true
			break
		}
	}
	if hasContext {
		score += 0.2
		factors = append(factors, "business context indicators (+0.20)")
	}

	// Factor 3: ambiguous common-word names need context to mean anything.
	if _, common := commonWords[name]; common {
		if hasContext {
			score += 0.1
			factors = append(factors, "common word with context (+0.10)")
		} else {
			score -= 0.3
			factors = append(factors, "common word without context (-0.30)")
		}
	} else {
		score += 0.1
		factors = append(factors, "specific name (+0.10)")
	}

	// Factor 4: narrative length.
	switch {
	case len(rec.Narrative) > 20:
		score += 0.05
		factors = append(factors, "narrative length >20 (+0.05)")
	case len(rec.Narrative) < 10:
		score -= 0.05
		factors = append(factors, "narrative length <10 (-0.05)")
	}

	// Factor 5: contradiction terms, applied at most once.
	for _, term := range contradictions[name] {
		if strings.Contains(narrative, term) {
			score -= 0.4
			factors = append(factors, fmt.Sprintf("contradictory term %q (-0.40)", term))
			break
		}
	}

	score = math.Round(clamp(score)*1000) / 1000

	return model.Decision{
		RecordID:       rec.ID,
		Score:          score,
		Recommendation: recommend(score),
		Factors:        factors,
	}
}

// ScoreMatchSet scores every record in a candidate's match set. Each record
// receives exactly one decision, so the three recommendation buckets
// partition the set. categories may be empty; unknown codes score without
// the sector factor.
func ScoreMatchSet(candidate model.Candidate, records []model.Record, categories map[int]model.CategoryInfo) []model.Decision {
	decisions := make([]model.Decision, 0, len(records))
	for _, rec := range records {
		var info *model.CategoryInfo
		if ci, ok := categories[rec.CategoryCode]; ok {
			info = &ci
		}
		d := Score(candidate.Name, rec, info, candidate.Sector)
		d.CandidateID = candidate.ID
		decisions = append(decisions, d)
	}
	return decisions
}

// Partition splits decisions into the three recommendation buckets.
func Partition(decisions []model.Decision) (confirmed, excluded, review []model.Decision) {
	for _, d := range decisions {
		switch d.Recommendation {
		case model.RecommendConfirm:
			confirmed = append(confirmed, d)
		case model.RecommendExclude:
			excluded = append(excluded, d)
		default:
			review = append(review, d)
		}
	}
	return confirmed, excluded, review
}

func recommend(score float64) model.Recommendation {
	switch {
	case score >= confirmThreshold:
		return model.RecommendConfirm
	case score <= excludeThreshold:
		return model.RecommendExclude
	default:
		return model.RecommendHumanReview
	}
}

func clamp(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
