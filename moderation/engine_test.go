package moderation

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usalama/sentinel/moderation/cachestore"
	"github.com/usalama/sentinel/moderation/claims"
	"github.com/usalama/sentinel/moderation/hottrigger"
	"github.com/usalama/sentinel/moderation/langpack"
	"github.com/usalama/sentinel/moderation/lexicon"
	"github.com/usalama/sentinel/moderation/policy"
	"github.com/usalama/sentinel/moderation/vectormatch"
)

const testLexiconVersion = "lex-test-1"

type stubRepo struct {
	snapshot *lexicon.Snapshot
}

func (r *stubRepo) FetchActive(ctx context.Context) (*lexicon.Snapshot, error) {
	return r.snapshot, nil
}

func testSnapshot() *lexicon.Snapshot {
	return &lexicon.Snapshot{
		Version: testLexiconVersion,
		Entries: []lexicon.Entry{
			{Term: "wachinje", Action: "BLOCK", Label: "INCITEMENT_VIOLENCE", ReasonCode: "R_INCITEMENT_DIRECT_CALL", Severity: 3, Lang: "sw"},
			{Term: "kill them all", Action: "BLOCK", Label: "INCITEMENT_VIOLENCE", ReasonCode: "R_INCITEMENT_DIRECT_CALL", Severity: 3, Lang: "en"},
			{Term: "mende hawa", Action: "REVIEW", Label: "ETHNIC_CONTEMPT", ReasonCode: "R_ETHNIC_DEHUMANIZATION", Severity: 2, Lang: "sw"},
		},
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	clearPolicyEnv(t)
	return &Engine{
		Logger:   slog.Default(),
		Policies: &policy.Resolver{ConfigPath: "testdata/policy.json"},
		Lexicons: lexicon.NewMatcherCache(&stubRepo{snapshot: testSnapshot()}),
	}
}

func clearPolicyEnv(t *testing.T) {
	t.Helper()
	t.Setenv(policy.EnvConfigPath, "")
	t.Setenv(policy.EnvElectoralPhase, "")
	t.Setenv(policy.EnvDeploymentStage, "")
	t.Setenv(policy.EnvVectorMatchThreshold, "")
}

// memHotCache is an in-process stand-in for the hot-trigger cache.
type memHotCache struct {
	mappings map[string]map[string]string
}

func newMemHotCache() *memHotCache {
	return &memHotCache{mappings: make(map[string]map[string]string)}
}

func (c *memHotCache) PrimeIfAbsent(ctx context.Context, key string, mapping map[string]string, ttl time.Duration) error {
	if _, ok := c.mappings[key]; !ok {
		c.mappings[key] = mapping
	}
	return nil
}

func (c *memHotCache) GetMulti(ctx context.Context, key string, fields []string) (map[string]string, error) {
	values := make(map[string]string)
	for _, field := range fields {
		if v, ok := c.mappings[key][field]; ok {
			values[field] = v
		}
	}
	return values, nil
}

func TestModerateLexiconBlock(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	eng := newTestEngine(t)

	resp, err := eng.Moderate(context.Background(), "wakati umefika, kill them all", nil)
	require.NoError(err)
	assert.Equal(ActionBlock, resp.Action)
	assert.Equal([]string{"INCITEMENT_VIOLENCE"}, resp.Labels)
	assert.Equal([]string{"R_INCITEMENT_DIRECT_CALL"}, resp.ReasonCodes)
	require.Len(resp.Evidence, 1)
	assert.Equal(EvidenceLexicon, resp.Evidence[0].Type)
	assert.Equal("kill them all", resp.Evidence[0].Match)
	assert.Equal(3, resp.Evidence[0].Severity)
	// no model-span evidence, so toxicity is the configured BLOCK value exactly
	assert.Equal(0.9, resp.Toxicity)
	assert.Equal("policy-test.1", resp.PolicyVersion)
	assert.Equal(testLexiconVersion, resp.LexiconVersion)
	assert.Equal(vectormatch.ModelID, resp.ModelVersion)
	assert.Equal(map[string]string{"sw": "pack-sw-1.0"}, resp.PackVersions)
	assert.NotEmpty(resp.LanguageSpans)
}

func TestModerateLexiconReview(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	eng := newTestEngine(t)

	resp, err := eng.Moderate(context.Background(), "mende hawa wanatuibia", nil)
	require.NoError(err)
	assert.Equal(ActionReview, resp.Action)
	assert.Equal([]string{"ETHNIC_CONTEMPT"}, resp.Labels)
	assert.Equal([]string{"R_ETHNIC_DEHUMANIZATION"}, resp.ReasonCodes)
	assert.Equal(0.45, resp.Toxicity)
}

func TestModerateBlockBeatsReview(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	eng := newTestEngine(t)

	resp, err := eng.Moderate(context.Background(), "mende hawa, kill them all", nil)
	require.NoError(err)
	assert.Equal(ActionBlock, resp.Action)
	assert.Equal([]string{"INCITEMENT_VIOLENCE"}, resp.Labels)
	require.Len(resp.Evidence, 1)
	assert.Equal("kill them all", resp.Evidence[0].Match)
}

func TestModerateDuplicateMatchesDeduped(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	clearPolicyEnv(t)

	snapshot := testSnapshot()
	snapshot.Entries = append(snapshot.Entries, snapshot.Entries[1])
	eng := &Engine{
		Policies: &policy.Resolver{ConfigPath: "testdata/policy.json"},
		Lexicons: lexicon.NewMatcherCache(&stubRepo{snapshot: snapshot}),
	}

	resp, err := eng.Moderate(context.Background(), "kill them all", nil)
	require.NoError(err)
	assert.Equal([]string{"INCITEMENT_VIOLENCE"}, resp.Labels)
	assert.Equal([]string{"R_INCITEMENT_DIRECT_CALL"}, resp.ReasonCodes)
	assert.Len(resp.Evidence, 1)
}

func TestHotTriggerBlockShortCircuits(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	eng := newTestEngine(t)
	eng.HotTriggers = &hottrigger.Finder{Cache: newMemHotCache(), Logger: slog.Default()}

	// both terms would BLOCK under a full scan; the hot hit decides alone
	resp, err := eng.Moderate(context.Background(), "wachinje, kill them all", nil)
	require.NoError(err)
	assert.Equal(ActionBlock, resp.Action)
	require.Len(resp.Evidence, 1)
	assert.Equal("wachinje", resp.Evidence[0].Match)

	cold := newTestEngine(t)
	resp, err = cold.Moderate(context.Background(), "wachinje, kill them all", nil)
	require.NoError(err)
	assert.Equal(ActionBlock, resp.Action)
	assert.Len(resp.Evidence, 2)
}

func TestPackMatchesCapAtReview(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	eng := newTestEngine(t)
	eng.Packs = langpack.NewMatcherSet("testdata/langpacks/registry.json", slog.Default())

	// a pack BLOCK entry is advisory at the pipeline level
	resp, err := eng.Moderate(context.Background(), "tumalize kabila hili sasa", nil)
	require.NoError(err)
	assert.Equal(ActionReview, resp.Action)
	assert.Equal([]string{"INCITEMENT_VIOLENCE"}, resp.Labels)
	assert.Equal([]string{"R_INCITEMENT_SW"}, resp.ReasonCodes)
	require.Len(resp.Evidence, 1)
	assert.Equal(EvidenceLexicon, resp.Evidence[0].Type)
	assert.Equal("sw", resp.Evidence[0].Lang)
	assert.Equal(0.45, resp.Toxicity)
}

func TestGateFailingPackNeverServesTraffic(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	eng := newTestEngine(t)
	eng.Packs = langpack.NewMatcherSet("langpack/testdata/registry.json", slog.Default())

	// the sh pack in this registry misses its calibration gates, so its
	// only term decides nothing
	resp, err := eng.Moderate(context.Background(), "wabara hao wamefika mtaani", nil)
	require.NoError(err)
	assert.Equal(ActionAllow, resp.Action)
	assert.Equal([]string{"BENIGN_POLITICAL_SPEECH"}, resp.Labels)

	// with gating skipped the same term drives a pack REVIEW, so the gate
	// is what held it out above
	ungated := newTestEngine(t)
	ungated.Packs = langpack.NewMatcherSet("langpack/testdata/registry.json", slog.Default())
	ungated.Packs.SkipGates = true
	resp, err = ungated.Moderate(context.Background(), "wabara hao wamefika mtaani", nil)
	require.NoError(err)
	assert.Equal(ActionReview, resp.Action)
	assert.Equal([]string{"DOGWHISTLE_WATCH"}, resp.Labels)
}

func newVectorEngine(t *testing.T) *Engine {
	t.Helper()
	eng := newTestEngine(t)
	store := vectormatch.NewMemStore()
	store.Load(testLexiconVersion, []lexicon.Entry{
		{Term: "wezi wa kura", Action: "REVIEW", Label: "DOGWHISTLE_WATCH", ReasonCode: "R_DOGWHISTLE_CODED_REFERENCE", Severity: 1, Lang: "sw"},
	})
	eng.Vectors = vectormatch.NewMatcher(store, vectormatch.HashBowProvider{}, slog.Default())
	return eng
}

func TestVectorMatchReviewOnly(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	eng := newVectorEngine(t)

	resp, err := eng.Moderate(context.Background(), "Wezi wa kura!", nil)
	require.NoError(err)
	assert.Equal(ActionReview, resp.Action)
	assert.Equal([]string{"DOGWHISTLE_WATCH"}, resp.Labels)
	assert.Equal([]string{"R_DOGWHISTLE_CODED_REFERENCE"}, resp.ReasonCodes)
	require.Len(resp.Evidence, 1)
	ev := resp.Evidence[0]
	assert.Equal(EvidenceVectorMatch, ev.Type)
	assert.Equal("wezi wa kura", ev.Match)
	assert.NotEmpty(ev.MatchID)
	require.NotNil(ev.Similarity)
	assert.InDelta(1.0, *ev.Similarity, 1e-9)
	// vector evidence carries no model-span confidence, so no blending
	assert.Equal(0.45, resp.Toxicity)
}

func TestLexiconBeatsVector(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	eng := newVectorEngine(t)

	resp, err := eng.Moderate(context.Background(), "wezi wa kura, kill them all", nil)
	require.NoError(err)
	assert.Equal(ActionBlock, resp.Action)
	require.Len(resp.Evidence, 1)
	assert.Equal(EvidenceLexicon, resp.Evidence[0].Type)
}

func TestClaimLikenessHighBand(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	eng := newTestEngine(t)

	text := "iebc results were rigged yesterday they said so openly"
	resp, err := eng.Moderate(context.Background(), text, nil)
	require.NoError(err)
	assert.Equal(ActionReview, resp.Action)
	assert.Equal([]string{"DISINFO_RISK"}, resp.Labels)
	assert.Equal([]string{"R_DISINFO_CLAIM_LIKENESS_HIGH"}, resp.ReasonCodes)
	require.Len(resp.Evidence, 1)
	ev := resp.Evidence[0]
	assert.Equal(EvidenceModelSpan, ev.Type)
	assert.Equal(text, ev.Span)
	require.NotNil(ev.Confidence)
	assert.InDelta(0.90, *ev.Confidence, 1e-9)
	// toxicity = 0.45 + 0.4*(0.90-0.45)
	assert.InDelta(0.63, resp.Toxicity, 1e-9)
}

func TestClaimLikenessMediumBand(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	eng := newTestEngine(t)

	// anchor + assertive verb: score 0.60, medium band
	resp, err := eng.Moderate(context.Background(), "ballots were zimepotea njiani", nil)
	require.NoError(err)
	assert.Equal(ActionReview, resp.Action)
	assert.Equal([]string{"R_DISINFO_CLAIM_LIKENESS_MEDIUM"}, resp.ReasonCodes)
	// toxicity = 0.45 + 0.4*(0.60-0.45)
	assert.InDelta(0.51, resp.Toxicity, 1e-9)
}

func TestClaimWithoutAnchorNotActionable(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	eng := newTestEngine(t)

	// claim-like but no election vocabulary: the anchor gate holds it back
	resp, err := eng.Moderate(context.Background(), "everything was rigged and stolen by them completely totally", nil)
	require.NoError(err)
	assert.Equal(ActionAllow, resp.Action)
	assert.Equal([]string{"BENIGN_POLITICAL_SPEECH"}, resp.Labels)
}

func TestNoMatchAllowDefault(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	eng := newTestEngine(t)

	resp, err := eng.Moderate(context.Background(), "habari ya asubuhi", nil)
	require.NoError(err)
	assert.Equal(ActionAllow, resp.Action)
	assert.Equal([]string{"BENIGN_POLITICAL_SPEECH"}, resp.Labels)
	assert.Equal([]string{"R_ALLOW_NO_POLICY_MATCH"}, resp.ReasonCodes)
	require.Len(resp.Evidence, 1)
	require.NotNil(resp.Evidence[0].Confidence)
	assert.InDelta(0.25, *resp.Evidence[0].Confidence, 1e-9)
	// toxicity = 0.05 + 0.4*(0.25-0.05)
	assert.InDelta(0.13, resp.Toxicity, 1e-9)
}

func TestSilencePeriodNoMatchReview(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	eng := newTestEngine(t)
	eng.Policies.Phase = "silence_period"

	resp, err := eng.Moderate(context.Background(), "habari ya asubuhi", nil)
	require.NoError(err)
	assert.Equal(ActionReview, resp.Action)
	assert.Equal([]string{LabelDogwhistleWatch}, resp.Labels)
	assert.Equal([]string{ReasonDogwhistleContextRequired}, resp.ReasonCodes)
	assert.Equal("policy-test.1@silence_period", resp.PolicyVersion)
	// toxicity = 0.45 + 0.4*(0.25-0.45)
	assert.InDelta(0.37, resp.Toxicity, 1e-9)
}

func TestAdvisoryStageDowngradesBlock(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	eng := newTestEngine(t)
	eng.Policies.Stage = "advisory"

	resp, err := eng.Moderate(context.Background(), "kill them all", nil)
	require.NoError(err)
	assert.Equal(ActionReview, resp.Action)
	assert.Equal([]string{"INCITEMENT_VIOLENCE"}, resp.Labels)
	assert.Equal([]string{"R_INCITEMENT_DIRECT_CALL", ReasonStageAdvisoryBlockDowngraded}, resp.ReasonCodes)
	assert.Equal(0.45, resp.Toxicity)
	assert.Equal("policy-test.1#advisory", resp.PolicyVersion)
}

func TestShadowStageNeverEnforces(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	eng := newTestEngine(t)
	eng.Policies.Stage = "shadow"

	resp, err := eng.Moderate(context.Background(), "mende hawa wanatuibia", nil)
	require.NoError(err)
	assert.Equal(ActionAllow, resp.Action)
	// labels and evidence survive for audit even though nothing is enforced
	assert.Equal([]string{"ETHNIC_CONTEMPT"}, resp.Labels)
	assert.Equal([]string{"R_ETHNIC_DEHUMANIZATION", ReasonStageShadowNoEnforce}, resp.ReasonCodes)
	assert.Len(resp.Evidence, 1)
	assert.Equal(0.05, resp.Toxicity)
	assert.Equal("policy-test.1#shadow", resp.PolicyVersion)
}

type fixedScorer struct {
	score float64
	calls int
}

func (s *fixedScorer) ID() string { return "fixed-test" }

func (s *fixedScorer) Score(ctx context.Context, text string, mediumThreshold, highThreshold float64) (*claims.Assessment, error) {
	s.calls++
	return &claims.Assessment{Score: s.score}, nil
}

type failingScorer struct{}

func (failingScorer) ID() string { return "failing-test" }

func (failingScorer) Score(ctx context.Context, text string, mediumThreshold, highThreshold float64) (*claims.Assessment, error) {
	return nil, errors.New("model backend unavailable")
}

type panicScorer struct{}

func (panicScorer) ID() string { return "panic-test" }

func (panicScorer) Score(ctx context.Context, text string, mediumThreshold, highThreshold float64) (*claims.Assessment, error) {
	panic("scorer exploded")
}

func TestPartnerSourceMultiplier(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	eng := newTestEngine(t)
	eng.Claims = &fixedScorer{score: 0.65}

	// 0.65 is medium on its own; the partner multiplier lifts it to 0.715
	resp, err := eng.Moderate(context.Background(), "tally update imefika", nil)
	require.NoError(err)
	assert.Equal([]string{ReasonClaimLikenessMedium}, resp.ReasonCodes)

	resp, err = eng.Moderate(context.Background(), "tally update imefika", &ModerationContext{Source: " Partner_Factcheck "})
	require.NoError(err)
	assert.Equal([]string{ReasonClaimLikenessHigh}, resp.ReasonCodes)
	require.Len(resp.Evidence, 1)
	require.NotNil(resp.Evidence[0].Confidence)
	assert.InDelta(0.715, *resp.Evidence[0].Confidence, 1e-9)
}

func TestPartnerMultiplierClampsAtOne(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	eng := newTestEngine(t)
	eng.Claims = &fixedScorer{score: 0.95}

	resp, err := eng.Moderate(context.Background(), "tally update imefika", &ModerationContext{Source: "partner_factcheck"})
	require.NoError(err)
	require.Len(resp.Evidence, 1)
	require.NotNil(resp.Evidence[0].Confidence)
	assert.Equal(1.0, *resp.Evidence[0].Confidence)
}

func TestClaimScorerFailureFallsBackToHeuristic(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	eng := newTestEngine(t)
	eng.Claims = failingScorer{}

	resp, err := eng.Moderate(context.Background(), "iebc results were rigged yesterday they said so openly", nil)
	require.NoError(err)
	assert.Equal(ActionReview, resp.Action)
	assert.Equal([]string{"DISINFO_RISK"}, resp.Labels)
}

func TestModerateRecoversPanic(t *testing.T) {
	assert := assert.New(t)
	eng := newTestEngine(t)
	eng.Claims = panicScorer{}

	resp, err := eng.Moderate(context.Background(), "habari ya asubuhi", nil)
	assert.Error(err)
	assert.Nil(resp)
}

func TestResultCacheSkipsReevaluation(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	eng := newTestEngine(t)
	scorer := &fixedScorer{score: 0.65}
	eng.Claims = scorer
	eng.Results = cachestore.NewMemCacheStore(16, time.Minute)

	first, err := eng.Moderate(context.Background(), "tally update imefika", nil)
	require.NoError(err)
	assert.Equal(1, scorer.calls)
	countAfterFirst := testutil.ToFloat64(decisionCount.WithLabelValues(string(first.Action)))

	second, err := eng.Moderate(context.Background(), "tally update imefika", nil)
	require.NoError(err)
	assert.Equal(1, scorer.calls)
	// a cache hit still counts in the per-action decision counter
	assert.Equal(countAfterFirst+1, testutil.ToFloat64(decisionCount.WithLabelValues(string(second.Action))))

	assert.Equal(first.Action, second.Action)
	assert.Equal(first.Labels, second.Labels)
	assert.Equal(first.ReasonCodes, second.ReasonCodes)
	assert.Equal(first.Evidence, second.Evidence)
	assert.Equal(first.Toxicity, second.Toxicity)
	assert.Equal(first.PolicyVersion, second.PolicyVersion)

	// a different context keys a different cache slot
	_, err = eng.Moderate(context.Background(), "tally update imefika", &ModerationContext{Channel: "forward"})
	require.NoError(err)
	assert.Equal(2, scorer.calls)
}

func TestBlendModelSpanToxicity(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(0.45, blendModelSpanToxicity(0.45, nil))
	assert.Equal(0.45, blendModelSpanToxicity(0.45, []EvidenceItem{{Type: EvidenceLexicon, Match: "x"}}))

	evidence := []EvidenceItem{
		{Type: EvidenceModelSpan, Confidence: floatPtr(0.2)},
		{Type: EvidenceModelSpan, Confidence: floatPtr(0.8)},
	}
	// strongest span wins: 0.45 + 0.4*(0.8-0.45)
	assert.InDelta(0.59, blendModelSpanToxicity(0.45, evidence), 1e-9)

	// a full-confidence span moves the base most of the way up, no further
	assert.InDelta(0.994, blendModelSpanToxicity(0.99, []EvidenceItem{{Type: EvidenceModelSpan, Confidence: floatPtr(1.0)}}), 1e-9)
}

func TestEvidenceSpanTruncatesRuneSafe(t *testing.T) {
	assert := assert.New(t)

	short := "short text"
	assert.Equal(short, evidenceSpan(short))

	long := ""
	for i := 0; i < 100; i++ {
		long += "é"
	}
	span := evidenceSpan(long)
	assert.Equal(80, len([]rune(span)))
}
