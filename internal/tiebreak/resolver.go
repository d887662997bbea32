// Package tiebreak resolves records matched by more than one candidate to a
// single owner, or flags them for manual review when no deterministic winner
// exists. It is pure and stateless.
package tiebreak

import (
	"errors"
	"fmt"
	"sort"

	"github.com/merchantiq/matchd/internal/model"
)

// ErrNoContenders is returned when Resolve is called without any candidates.
// The resolver must only see records matched by at least one candidate.
var ErrNoContenders = errors.New("tiebreak: record has no contenders")

// Contender is one candidate claiming a record, with the confirmation
// confidence that candidate's scorer produced for it.
type Contender struct {
	CandidateID   int64
	CandidateName string
	Confidence    float64
}

// Resolution assigns a record to exactly one candidate or flags it for
// manual review. Never both, never neither.
type Resolution struct {
	RecordID     int64  `json:"record_id"`
	CandidateID  int64  `json:"candidate_id,omitempty"`
	ManualReview bool   `json:"manual_review"`
	Reason       string `json:"reason"`
}

// Resolve picks the owner of a record claimed by one or more candidates.
// The single-contender case is degenerate but valid: the record is assigned
// outright. With multiple contenders the highest confirmation confidence
// wins; an exact tie at the top goes to manual review.
func Resolve(rec model.Record, contenders []Contender) (Resolution, error) {
	if len(contenders) == 0 {
		return Resolution{}, fmt.Errorf("%w: record %d", ErrNoContenders, rec.ID)
	}

	if len(contenders) == 1 {
		return Resolution{
			RecordID:    rec.ID,
			CandidateID: contenders[0].CandidateID,
			Reason:      "single match",
		}, nil
	}

	ranked := make([]Contender, len(contenders))
	copy(ranked, contenders)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})

	if ranked[0].Confidence == ranked[1].Confidence {
		return Resolution{
			RecordID:     rec.ID,
			ManualReview: true,
			Reason: fmt.Sprintf("confidence tie at %.3f between candidates %d and %d",
				ranked[0].Confidence, ranked[0].CandidateID, ranked[1].CandidateID),
		}, nil
	}

	return Resolution{
		RecordID:    rec.ID,
		CandidateID: ranked[0].CandidateID,
		Reason: fmt.Sprintf("highest confidence %.3f over %.3f",
			ranked[0].Confidence, ranked[1].Confidence),
	}, nil
}
