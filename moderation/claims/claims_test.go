package claims

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testMedium = 0.45
	testHigh   = 0.70
)

func TestAssessElectionClaim(t *testing.T) {
	assert := assert.New(t)

	// anchor + assertive + narrative + numeric + long form
	a := Assess("the election results were rigged in 47 constituencies across the country", testMedium, testHigh)
	assert.True(a.HasElectionAnchor)
	assert.Equal(BandHigh, a.Band)
	assert.InDelta(1.0, a.Score, 0.0001)
	assert.Contains(a.Features, "election_anchor")
	assert.Contains(a.Features, "assertive_claim_term")
	assert.Contains(a.Features, "disinfo_narrative_term")
	assert.Contains(a.Features, "numeric_reference")
	assert.Contains(a.Features, "long_form_statement")
}

func TestAssessQuestionAndHedging(t *testing.T) {
	assert := assert.New(t)

	statement := Assess("the vote was rigged", testMedium, testHigh)
	question := Assess("was the vote rigged?", testMedium, testHigh)
	assert.Greater(statement.Score, question.Score)
	assert.Contains(question.Features, "question_penalty")

	hedged := Assess("the vote was allegedly rigged", testMedium, testHigh)
	assert.Greater(statement.Score, hedged.Score)
	assert.Contains(hedged.Features, "hedging_penalty")
}

func TestAssessBenignText(t *testing.T) {
	assert := assert.New(t)

	a := Assess("looking forward to the game tonight", testMedium, testHigh)
	assert.False(a.HasElectionAnchor)
	assert.Equal(BandLow, a.Band)
}

func TestAssessScoreClamped(t *testing.T) {
	assert := assert.New(t)

	a := Assess("maybe the tally was possibly rigged?", testMedium, testHigh)
	assert.GreaterOrEqual(a.Score, 0.0)
	assert.LessOrEqual(a.Score, 1.0)
}

func TestAssessFeaturesSorted(t *testing.T) {
	assert := assert.New(t)

	a := Assess("the election results were rigged in 47 constituencies across the country", testMedium, testHigh)
	assert.IsIncreasing(a.Features)
}

func TestContainsElectionAnchor(t *testing.T) {
	assert := assert.New(t)

	assert.True(ContainsElectionAnchor("results from the TALLY center"))
	assert.True(ContainsElectionAnchor("iebc announcement"))
	assert.False(ContainsElectionAnchor("my favorite football team"))
	// anchor must be a whole token
	assert.False(ContainsElectionAnchor("devoted supporter"))
}

func TestBandFromScore(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(BandLow, BandFromScore(0.44, testMedium, testHigh))
	assert.Equal(BandMedium, BandFromScore(0.45, testMedium, testHigh))
	assert.Equal(BandMedium, BandFromScore(0.69, testMedium, testHigh))
	assert.Equal(BandHigh, BandFromScore(0.70, testMedium, testHigh))
}

func TestHeuristicScorer(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	s := HeuristicScorer{}
	assert.Equal("claim-heuristic-v1", s.ID())

	a, err := s.Score(context.Background(), "the vote was rigged", testMedium, testHigh)
	require.NoError(err)
	require.NotNil(a)
	expected := Assess("the vote was rigged", testMedium, testHigh)
	assert.Equal(expected, *a)
}
