// Package claims scores how much a statement resembles a falsifiable
// factual assertion, to catch disinformation-style claims not covered by
// fixed lexicon terms. The scorer is a deliberately simple additive feature
// model over the shared tokenizer; it produces a clamped score, a band, and
// the contributing feature names for audit.
package claims

import (
	"context"
	"sort"
	"strings"

	"github.com/usalama/sentinel/moderation/keyword"
)

type Band string

const (
	BandLow    Band = "low"
	BandMedium Band = "medium"
	BandHigh   Band = "high"
)

// Submissions sourced from a trusted fact-check partner get their raw score
// amplified by this multiplier, enough to move borderline scores across the
// medium threshold but never to fabricate a band the features don't support.
// Tunable under governance sign-off; do not inline the value elsewhere.
const PartnerFactcheckScoreMultiplier = 1.10

var electionAnchorTerms = termSet(
	"election", "elections", "electoral",
	"vote", "votes", "voting",
	"ballot", "ballots",
	"tally", "tallies",
	"results", "iebc",
	"poll", "polling",
	"constituency", "constituencies",
)

var assertiveClaimTerms = termSet(
	"is", "are", "was", "were", "has", "have", "will", "did",
	"rigged", "manipulated", "falsified", "stolen",
	"fraud", "fraudulent", "fake",
)

var disinfoNarrativeTerms = termSet(
	"rigged", "manipulated", "falsified", "stolen",
	"fake", "fraud", "fraudulent",
)

var hedgingTerms = termSet(
	"alleged", "allegedly", "rumor", "rumour", "unconfirmed",
	"possible", "possibly", "maybe", "might", "could", "seems", "seem",
)

func termSet(terms ...string) map[string]bool {
	set := make(map[string]bool, len(terms))
	for _, t := range terms {
		set[t] = true
	}
	return set
}

// Assessment is the result of scoring one text.
type Assessment struct {
	Score             float64
	Band              Band
	HasElectionAnchor bool
	Features          []string
}

// ContainsElectionAnchor reports whether any token of text is election
// vocabulary. Used as the gate before a medium/high band becomes actionable.
func ContainsElectionAnchor(text string) bool {
	for _, tok := range keyword.TokenizeText(text) {
		if electionAnchorTerms[tok] {
			return true
		}
	}
	return false
}

// BandFromScore maps a score to its band given configured thresholds
// (mediumThreshold < highThreshold, validated at config load).
func BandFromScore(score, mediumThreshold, highThreshold float64) Band {
	if score >= highThreshold {
		return BandHigh
	}
	if score >= mediumThreshold {
		return BandMedium
	}
	return BandLow
}

// Assess computes the claim-likeness score and band for text.
func Assess(text string, mediumThreshold, highThreshold float64) Assessment {
	tokens := keyword.TokenizeText(text)
	tokenSet := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		tokenSet[tok] = true
	}

	score := 0.0
	var features []string

	hasAnchor := anyInSet(tokenSet, electionAnchorTerms)
	if hasAnchor {
		score += 0.35
		features = append(features, "election_anchor")
	}
	if anyInSet(tokenSet, assertiveClaimTerms) {
		score += 0.25
		features = append(features, "assertive_claim_term")
	}
	if anyInSet(tokenSet, disinfoNarrativeTerms) {
		score += 0.20
		features = append(features, "disinfo_narrative_term")
	}
	if hasNumericToken(tokens) {
		score += 0.10
		features = append(features, "numeric_reference")
	}
	if len(tokens) >= 8 {
		score += 0.10
		features = append(features, "long_form_statement")
	}
	if strings.Contains(text, "?") {
		score -= 0.20
		features = append(features, "question_penalty")
	}
	if anyInSet(tokenSet, hedgingTerms) {
		score -= 0.20
		features = append(features, "hedging_penalty")
	}

	score = clamp01(score)
	sort.Strings(features)
	return Assessment{
		Score:             score,
		Band:              BandFromScore(score, mediumThreshold, highThreshold),
		HasElectionAnchor: hasAnchor,
		Features:          features,
	}
}

func anyInSet(tokens map[string]bool, set map[string]bool) bool {
	for tok := range tokens {
		if set[tok] {
			return true
		}
	}
	return false
}

func hasNumericToken(tokens []string) bool {
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		numeric := true
		for _, r := range tok {
			if r < '0' || r > '9' {
				numeric = false
				break
			}
		}
		if numeric {
			return true
		}
	}
	return false
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

// Scorer is the pluggable claim-scoring capability. Implementations return
// an error when scoring is unavailable; callers fall back to the baseline
// heuristic, never to an exception path.
type Scorer interface {
	ID() string
	Score(ctx context.Context, text string, mediumThreshold, highThreshold float64) (*Assessment, error)
}

// HeuristicScorer is the baseline Scorer built on Assess.
type HeuristicScorer struct{}

var _ Scorer = HeuristicScorer{}

func (HeuristicScorer) ID() string {
	return "claim-heuristic-v1"
}

func (HeuristicScorer) Score(ctx context.Context, text string, mediumThreshold, highThreshold float64) (*Assessment, error) {
	assessment := Assess(text, mediumThreshold, highThreshold)
	return &assessment, nil
}
