package langpack

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestLoadRegistry(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	registry, err := LoadRegistry("testdata/registry.json")
	require.NoError(err)
	assert.Equal("wave1", registry.Wave)
	require.Len(registry.Packs, 2)

	ordered := registry.PacksInPriorityOrder()
	assert.Equal("sw", ordered[0].Language)
	assert.Equal("sh", ordered[1].Language)
}

func TestLoadRegistryRejectsDuplicateLanguage(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")
	payload := `{
	  "wave": "wave1",
	  "packs": [
	    {"language": "sw", "pack_version": "pack-sw-1.0", "priority": 1, "directory": "p1",
	     "artifacts": {"normalization": "n.json", "lexicon": "l.json", "calibration": "c.json"},
	     "eval_dataset": "e.jsonl", "annotation_metadata": {"annotators_per_sample": 3, "krippendorff_alpha": 0.7}},
	    {"language": "SW", "pack_version": "pack-sw-1.1", "priority": 2, "directory": "p2",
	     "artifacts": {"normalization": "n.json", "lexicon": "l.json", "calibration": "c.json"},
	     "eval_dataset": "e.jsonl", "annotation_metadata": {"annotators_per_sample": 3, "krippendorff_alpha": 0.7}}
	  ]
	}`
	require.NoError(os.WriteFile(path, []byte(payload), 0o644))

	_, err := LoadRegistry(path)
	require.Error(err)
	require.Contains(err.Error(), "duplicate language")
}

func TestLoadRegistryRejectsBadPackVersion(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")
	payload := `{
	  "wave": "wave1",
	  "packs": [
	    {"language": "sw", "pack_version": "sw-v1", "priority": 1, "directory": "p1",
	     "artifacts": {"normalization": "n.json", "lexicon": "l.json", "calibration": "c.json"},
	     "eval_dataset": "e.jsonl", "annotation_metadata": {"annotators_per_sample": 3, "krippendorff_alpha": 0.7}}
	  ]
	}`
	require.NoError(os.WriteFile(path, []byte(payload), 0o644))

	_, err := LoadRegistry(path)
	require.Error(err)
	require.Contains(err.Error(), "pack_version")
}

func TestCalibrationDefaults(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	registry, err := LoadRegistry("testdata/registry.json")
	require.NoError(err)

	// sh pack ships an empty calibration file, so every default applies
	_, _, calibration, err := registry.LoadArtifacts(&registry.Packs[1])
	require.NoError(err)
	assert.Equal("advisory", calibration.TargetStage)
	assert.Equal(0.80, calibration.F1ThresholdAdvisory)
	assert.Equal(0.86, calibration.F1ThresholdSupervised)
	assert.Equal(0.80, calibration.RequiredF1())
	assert.Equal(1000, calibration.MinEvalSamples)
	assert.Equal(HighSeverityLabels, calibration.RequiredHighSeverityLabels)

	calibration.TargetStage = "supervised"
	assert.Equal(0.86, calibration.RequiredF1())
}

func TestMatcherNormalizationAndBoundaries(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	registry, err := LoadRegistry("testdata/registry.json")
	require.NoError(err)
	normalization, lexicon, _, err := registry.LoadArtifacts(&registry.Packs[0])
	require.NoError(err)
	matcher := NewMatcher("sw", "pack-sw-1.0", normalization, lexicon)

	// orthography replacement feeds the term patterns
	matches := matcher.Match("W4CHINJE hao sasa")
	require.Len(matches, 1)
	assert.Equal("wachinje", matches[0].Term)
	assert.Equal("BLOCK", matches[0].Action)

	// terms only match on token boundaries
	assert.Empty(matcher.Match("tunawachinjekaribisha"))

	// multi-token term tolerates punctuation between tokens
	matches = matcher.Match("mende, hawa wanatuibia")
	require.Len(matches, 1)
	assert.Equal("ETHNIC_CONTEMPT", matches[0].Label)
}

func TestMatcherModerate(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	registry, err := LoadRegistry("testdata/registry.json")
	require.NoError(err)
	normalization, lexicon, _, err := registry.LoadArtifacts(&registry.Packs[0])
	require.NoError(err)
	matcher := NewMatcher("sw", "pack-sw-1.0", normalization, lexicon)

	out := matcher.Moderate("wachinje wote na tutawamaliza")
	assert.Equal("BLOCK", out.Action)
	assert.Equal([]string{"INCITEMENT_VIOLENCE"}, out.Labels)

	out = matcher.Moderate("tutawamaliza nyinyi")
	assert.Equal("REVIEW", out.Action)
	assert.Equal([]string{"HARASSMENT_THREAT"}, out.Labels)

	out = matcher.Moderate("kampeni inaendelea vizuri")
	assert.Equal("ALLOW", out.Action)
	assert.Equal([]string{BenignLabel}, out.Labels)
}

func TestLoadEvalSamples(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	samples, err := LoadEvalSamples("testdata/eval/sw.jsonl")
	require.NoError(err)
	require.Len(samples, 8)

	assert.Equal("sw-001", samples[0].ID)
	assert.Equal("sw", samples[0].Language)
	assert.False(samples[0].IsBenignPolitical)
	assert.True(samples[1].IsCodeSwitched)

	// benign flag derived from labels when absent
	assert.True(samples[6].IsBenignPolitical)
	assert.Equal("coast", samples[6].Subgroup)
}

func TestLoadEvalSamplesRejectsUnknownLabel(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "eval.jsonl")
	require.NoError(os.WriteFile(path, []byte(`{"text": "x", "language": "sw", "labels": ["NOT_A_LABEL"]}`+"\n"), 0o644))

	_, err := LoadEvalSamples(path)
	require.Error(err)
	require.Contains(err.Error(), "unknown label")
}

func TestEvaluateSamplesMetrics(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	samples := []Sample{
		{ID: "a", Text: "harm hit", Language: "sw", Labels: []string{"INCITEMENT_VIOLENCE"}},
		{ID: "b", Text: "harm miss", Language: "sw", Labels: []string{"INCITEMENT_VIOLENCE"}},
		{ID: "c", Text: "benign reviewed", Language: "sw", Labels: []string{BenignLabel}, IsBenignPolitical: true, Subgroup: "coast"},
		{ID: "d", Text: "benign clean", Language: "sw", Labels: []string{BenignLabel}, IsBenignPolitical: true, Subgroup: "rift"},
	}
	moderate := func(text string) Outcome {
		switch text {
		case "harm hit":
			return Outcome{Action: "BLOCK", Labels: []string{"INCITEMENT_VIOLENCE"}}
		case "benign reviewed":
			return Outcome{Action: "REVIEW", Labels: []string{"DOGWHISTLE_WATCH"}}
		default:
			return Outcome{Action: "ALLOW", Labels: []string{BenignLabel}}
		}
	}

	report, err := EvaluateSamples(samples, moderate)
	require.NoError(err)

	incitement := report.GlobalHarmLabelMetrics["INCITEMENT_VIOLENCE"]
	assert.Equal(1.0, incitement.TP)
	assert.Equal(1.0, incitement.FN)
	assert.Equal(1.0, incitement.Precision)
	assert.Equal(0.5, incitement.Recall)
	assert.InDelta(0.666667, incitement.F1, 0.000001)
	assert.Equal(2.0, incitement.Support)

	// the spurious DOGWHISTLE_WATCH prediction counts as a label FP
	dogwhistle := report.GlobalHarmLabelMetrics["DOGWHISTLE_WATCH"]
	assert.Equal(1.0, dogwhistle.FP)
	assert.Equal(0.0, dogwhistle.Support)

	benign := report.BenignFalsePositives
	assert.Equal(2.0, benign.SampleCount)
	assert.Equal(0.0, benign.BlockFPRate)
	assert.Equal(0.5, benign.BlockOrReviewFPRate)

	disparity := report.SubgroupDisparity
	assert.Equal("coast", disparity.MaxDisparityGroup)
	assert.Equal(2.0, disparity.MaxDisparityRatio)
	assert.Equal(0.0, disparity.Groups["rift"].DisparityRatio)
}

func TestEvaluateGatesPass(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	registry, err := LoadRegistry("testdata/registry.json")
	require.NoError(err)

	result, err := EvaluateGates(registry, &registry.Packs[0])
	require.NoError(err)
	assert.True(result.Passed, "gate failures: %v", result.GateFailures)
	assert.Empty(result.GateFailures)
	assert.Equal(8, result.SampleCount)
	assert.Equal(0.25, result.CodeSwitchedRatio)
	assert.Equal(1.0, result.Report.GlobalHarmLabelMetrics["INCITEMENT_VIOLENCE"].F1)
}

func TestEvaluateGatesFail(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	registry, err := LoadRegistry("testdata/registry.json")
	require.NoError(err)

	// sh pack runs on all-default calibration against a tiny dataset
	result, err := EvaluateGates(registry, &registry.Packs[1])
	require.NoError(err)
	assert.False(result.Passed)
	assert.Contains(result.GateFailures, "sample_count=2 < min_eval_samples=1000")
	assert.Contains(result.GateFailures, "label=ETHNIC_CONTEMPT has zero support in eval dataset")
}

func TestMatcherSetLoadsInPriorityOrder(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	set := NewMatcherSet("testdata/registry.json", testLogger())
	set.SkipGates = true
	matchers := set.Matchers(context.Background())
	require.Len(matchers, 2)
	assert.Equal("sw", matchers[0].Language)
	assert.Equal("pack-sw-1.0", matchers[0].PackVersion)
	assert.Equal("sh", matchers[1].Language)
}

func TestMatcherSetGatesByDefault(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	// the sh pack misses its calibration gates, so only sw is served
	set := NewMatcherSet("testdata/registry.json", testLogger())
	matchers := set.Matchers(context.Background())
	require.Len(matchers, 1)
	assert.Equal("sw", matchers[0].Language)
}

func TestMatcherSetFailOpen(t *testing.T) {
	assert := assert.New(t)

	set := NewMatcherSet("testdata/does-not-exist.json", testLogger())
	assert.Empty(set.Matchers(context.Background()))

	set = NewMatcherSet("", testLogger())
	assert.Empty(set.Matchers(context.Background()))
}

func TestMatcherSetReset(t *testing.T) {
	require := require.New(t)

	set := NewMatcherSet("testdata/registry.json", testLogger())
	set.SkipGates = true
	first := set.Matchers(context.Background())
	require.Len(first, 2)
	set.Reset()
	second := set.Matchers(context.Background())
	require.Len(second, 2)
}

func TestResolvePackVersions(t *testing.T) {
	assert := assert.New(t)

	resolved := ResolvePackVersions(map[string]string{
		" sw ":  " pack-sw-1.0 ",
		"sh":    "pack-sh-1.0",
		"":      "pack-x-1.0",
		"blank": "  ",
	})
	assert.Equal(map[string]string{
		"sw": "pack-sw-1.0",
		"sh": "pack-sh-1.0",
	}, resolved)
}
