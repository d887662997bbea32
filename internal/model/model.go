// Package model defines the core domain types shared across the matching
// engine: candidates, transaction records, category metadata, and the
// per-record decisions produced by confirmation scoring.
package model

import "time"

// Candidate is a commercial entity (brand) being matched against records.
// Pattern and AllowList hold the current metadata version; prior versions
// are retained on the workflow state and are never mutated.
type Candidate struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Sector    string `json:"sector"`
	Pattern   string `json:"pattern,omitempty"`
	AllowList []int  `json:"allow_list,omitempty"`
}

// Record is a transaction-like item to be matched to a candidate. Records
// are immutable once read from their source; a candidate never owns a
// record, it is only associated through a match.
type Record struct {
	ID           int64  `json:"id"`
	Narrative    string `json:"narrative"`
	CategoryCode int    `json:"category_code"`
	SourceID     string `json:"source_id,omitempty"`
}

// CategoryInfo maps a category code to its sector and label. Used to test
// sector alignment between a record and a candidate's declared sector.
type CategoryInfo struct {
	Code   int    `json:"code"`
	Sector string `json:"sector"`
	Label  string `json:"label,omitempty"`
}

// Recommendation is the outcome bucket for a scored (candidate, record) pair.
type Recommendation string

const (
	RecommendConfirm     Recommendation = "confirm"
	RecommendExclude     Recommendation = "exclude"
	RecommendHumanReview Recommendation = "human_review"
)

// Decision is the output of scoring one (candidate, record) pair. Factors
// lists the contributing scoring factors in evaluation order, for audit.
type Decision struct {
	CandidateID    int64          `json:"candidate_id"`
	RecordID       int64          `json:"record_id"`
	Score          float64        `json:"score"`
	Recommendation Recommendation `json:"recommendation"`
	Factors        []string       `json:"factors"`
}

// PatternVersion is one immutable generation of a candidate's matching
// metadata. Each refinement iteration produces a new version; versions are
// never edited in place.
type PatternVersion struct {
	Version   int       `json:"version"`
	Pattern   string    `json:"pattern"`
	AllowList []int     `json:"allow_list"`
	CreatedAt time.Time `json:"created_at"`
}
