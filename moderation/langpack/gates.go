package langpack

import (
	"fmt"
)

// GateResult records whether one pack cleared every calibration gate, with
// a human-readable line per failed gate.
type GateResult struct {
	Language          string   `json:"language"`
	PackVersion       string   `json:"pack_version"`
	Passed            bool     `json:"passed"`
	GateFailures      []string `json:"gate_failures"`
	SampleCount       int      `json:"sample_count"`
	CodeSwitchedRatio float64  `json:"code_switched_ratio"`
	Report            *Report  `json:"report"`
}

// EvaluateGates runs the pack's evaluation dataset through its standalone
// matcher and checks every calibration gate: dataset size and composition,
// annotation quality, per-label F1 on high-severity labels, benign
// false-positive ceilings, and subgroup disparity.
func EvaluateGates(registry *Registry, manifest *Manifest) (*GateResult, error) {
	normalization, lexicon, calibration, err := registry.LoadArtifacts(manifest)
	if err != nil {
		return nil, err
	}
	samples, err := LoadEvalSamples(registry.EvalSamplesPath(manifest))
	if err != nil {
		return nil, err
	}
	matcher := NewMatcher(manifest.Language, manifest.PackVersion, normalization, lexicon)
	report, err := EvaluateSamples(samples, matcher.Moderate)
	if err != nil {
		return nil, err
	}

	sampleCount := len(samples)
	codeSwitchedCount := 0
	for _, sample := range samples {
		if sample.IsCodeSwitched {
			codeSwitchedCount++
		}
	}
	codeSwitchedRatio := 0.0
	if sampleCount > 0 {
		codeSwitchedRatio = float64(codeSwitchedCount) / float64(sampleCount)
	}

	var failures []string
	if sampleCount < calibration.MinEvalSamples {
		failures = append(failures, fmt.Sprintf(
			"sample_count=%d < min_eval_samples=%d", sampleCount, calibration.MinEvalSamples))
	}
	if codeSwitchedRatio < calibration.MinCodeSwitchedRatio {
		failures = append(failures, fmt.Sprintf(
			"code_switched_ratio=%.4f < min_code_switched_ratio=%.4f",
			codeSwitchedRatio, calibration.MinCodeSwitchedRatio))
	}

	annotation := manifest.Annotation
	if annotation.AnnotatorsPerSample < calibration.MinAnnotatorsPerSample {
		failures = append(failures, fmt.Sprintf(
			"annotators_per_sample=%d < min_annotators_per_sample=%d",
			annotation.AnnotatorsPerSample, calibration.MinAnnotatorsPerSample))
	}
	if annotation.KrippendorffAlpha < calibration.MinKrippendorffAlpha {
		failures = append(failures, fmt.Sprintf(
			"krippendorff_alpha=%.4f < min_krippendorff_alpha=%.4f",
			annotation.KrippendorffAlpha, calibration.MinKrippendorffAlpha))
	}

	requiredF1 := calibration.RequiredF1()
	for _, label := range calibration.RequiredHighSeverityLabels {
		metrics, ok := report.GlobalHarmLabelMetrics[label]
		if !ok {
			failures = append(failures, fmt.Sprintf("missing harm metrics for label=%s", label))
			continue
		}
		if metrics.Support <= 0 {
			failures = append(failures, fmt.Sprintf("label=%s has zero support in eval dataset", label))
			continue
		}
		if metrics.F1 < requiredF1 {
			failures = append(failures, fmt.Sprintf(
				"label=%s f1=%.4f < required=%.4f", label, metrics.F1, requiredF1))
		}
	}

	benign := report.BenignFalsePositives
	if benign.BlockFPRate > calibration.BenignBlockFPRateMax {
		failures = append(failures, fmt.Sprintf(
			"block_fp_rate=%.4f > benign_block_fp_rate_max=%.4f",
			benign.BlockFPRate, calibration.BenignBlockFPRateMax))
	}
	if benign.BlockOrReviewFPRate > calibration.BenignBlockOrReviewFPRateMax {
		failures = append(failures, fmt.Sprintf(
			"block_or_review_fp_rate=%.4f > benign_block_or_review_fp_rate_max=%.4f",
			benign.BlockOrReviewFPRate, calibration.BenignBlockOrReviewFPRateMax))
	}

	if report.SubgroupDisparity.MaxDisparityRatio > calibration.MaxDisparityRatio {
		failures = append(failures, fmt.Sprintf(
			"max_disparity_ratio=%.4f > max_disparity_ratio=%.4f",
			report.SubgroupDisparity.MaxDisparityRatio, calibration.MaxDisparityRatio))
	}

	return &GateResult{
		Language:          manifest.Language,
		PackVersion:       manifest.PackVersion,
		Passed:            len(failures) == 0,
		GateFailures:      failures,
		SampleCount:       sampleCount,
		CodeSwitchedRatio: round6(codeSwitchedRatio),
		Report:            report,
	}, nil
}
