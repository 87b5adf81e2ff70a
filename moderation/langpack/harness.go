package langpack

import (
	"fmt"
	"math"
	"sort"
)

// LabelMetrics is precision/recall/F1 for one harm label.
type LabelMetrics struct {
	TP        float64 `json:"tp"`
	FP        float64 `json:"fp"`
	FN        float64 `json:"fn"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   float64 `json:"support"`
}

type LanguageMetrics struct {
	SampleCount      float64                 `json:"sample_count"`
	HarmLabelMetrics map[string]LabelMetrics `json:"harm_label_metrics"`
}

type BenignFalsePositiveMetrics struct {
	SampleCount         float64 `json:"sample_count"`
	BlockFPRate         float64 `json:"block_fp_rate"`
	BlockOrReviewFPRate float64 `json:"block_or_review_fp_rate"`
}

type SubgroupRates struct {
	SampleCount         float64 `json:"sample_count"`
	BlockFPRate         float64 `json:"block_fp_rate"`
	BlockOrReviewFPRate float64 `json:"block_or_review_fp_rate"`
	DisparityRatio      float64 `json:"disparity_ratio_vs_global_benign_block_or_review_fp"`
}

// SubgroupDisparityMetrics compares each subgroup's benign block-or-review
// rate against the global benign rate. Ratios above the calibrated ceiling
// indicate the pack over-enforces against one community.
type SubgroupDisparityMetrics struct {
	ReferenceMetric   string                   `json:"reference_metric"`
	MaxDisparityRatio float64                  `json:"max_disparity_ratio"`
	MaxDisparityGroup string                   `json:"max_disparity_group,omitempty"`
	Groups            map[string]SubgroupRates `json:"groups"`
}

// Report is the full evaluation output for one pack over one dataset.
type Report struct {
	SampleCount              float64                    `json:"sample_count"`
	HarmLabels               []string                   `json:"harm_labels"`
	GlobalHarmLabelMetrics   map[string]LabelMetrics    `json:"global_harm_label_metrics"`
	LanguageHarmLabelMetrics map[string]LanguageMetrics `json:"language_harm_label_metrics"`
	BenignFalsePositives     BenignFalsePositiveMetrics `json:"benign_false_positive_metrics"`
	SubgroupDisparity        SubgroupDisparityMetrics   `json:"subgroup_disparity_metrics"`
}

// ModerateFunc renders a standalone decision for one text, typically
// (*Matcher).Moderate.
type ModerateFunc func(text string) Outcome

type labelCounts struct {
	tp, fp, fn int
}

func safeRatio(numerator, denominator float64) float64 {
	if denominator <= 0 {
		return 0
	}
	return numerator / denominator
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func scoreCounts(c labelCounts) LabelMetrics {
	precision := safeRatio(float64(c.tp), float64(c.tp+c.fp))
	recall := safeRatio(float64(c.tp), float64(c.tp+c.fn))
	f1 := safeRatio(2*precision*recall, precision+recall)
	return LabelMetrics{
		TP:        float64(c.tp),
		FP:        float64(c.fp),
		FN:        float64(c.fn),
		Precision: round6(precision),
		Recall:    round6(recall),
		F1:        round6(f1),
		Support:   float64(c.tp + c.fn),
	}
}

func summarizeLabelCounts(counts map[string]*labelCounts) map[string]LabelMetrics {
	out := make(map[string]LabelMetrics, len(HarmLabels))
	for _, label := range HarmLabels {
		out[label] = scoreCounts(*counts[label])
	}
	return out
}

func newLabelCounts() map[string]*labelCounts {
	counts := make(map[string]*labelCounts, len(HarmLabels))
	for _, label := range HarmLabels {
		counts[label] = &labelCounts{}
	}
	return counts
}

// EvaluateSamples scores moderate against every sample: per-label harm
// metrics globally and per language, benign false-positive rates, and
// subgroup disparity.
func EvaluateSamples(samples []Sample, moderate ModerateFunc) (*Report, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("samples must not be empty")
	}

	globalCounts := newLabelCounts()
	languageCounts := make(map[string]map[string]*labelCounts)
	languageSampleCounts := make(map[string]int)

	benignTotal := 0
	benignBlock := 0
	benignBlockOrReview := 0
	type subgroupCount struct {
		total, block, blockOrReview int
	}
	subgroupCounts := make(map[string]*subgroupCount)

	for _, sample := range samples {
		outcome := moderate(sample.Text)

		expectedHarm := make(map[string]bool)
		for _, label := range sample.Labels {
			if isHarmLabel(label) {
				expectedHarm[label] = true
			}
		}
		predictedHarm := make(map[string]bool)
		for _, label := range outcome.Labels {
			if isHarmLabel(label) {
				predictedHarm[label] = true
			}
		}

		languageSampleCounts[sample.Language]++
		if languageCounts[sample.Language] == nil {
			languageCounts[sample.Language] = newLabelCounts()
		}
		for _, label := range HarmLabels {
			switch {
			case predictedHarm[label] && expectedHarm[label]:
				globalCounts[label].tp++
				languageCounts[sample.Language][label].tp++
			case predictedHarm[label] && !expectedHarm[label]:
				globalCounts[label].fp++
				languageCounts[sample.Language][label].fp++
			case !predictedHarm[label] && expectedHarm[label]:
				globalCounts[label].fn++
				languageCounts[sample.Language][label].fn++
			}
		}

		if sample.IsBenignPolitical {
			benignTotal++
			subgroupKey := sample.Subgroup
			if subgroupKey == "" {
				subgroupKey = "unspecified"
			}
			sg := subgroupCounts[subgroupKey]
			if sg == nil {
				sg = &subgroupCount{}
				subgroupCounts[subgroupKey] = sg
			}
			sg.total++
			if outcome.Action == "BLOCK" {
				benignBlock++
				sg.block++
			}
			if outcome.Action == "BLOCK" || outcome.Action == "REVIEW" {
				benignBlockOrReview++
				sg.blockOrReview++
			}
		}
	}

	benignBlockFPRate := safeRatio(float64(benignBlock), float64(benignTotal))
	benignBlockOrReviewFPRate := safeRatio(float64(benignBlockOrReview), float64(benignTotal))

	subgroupNames := make([]string, 0, len(subgroupCounts))
	for name := range subgroupCounts {
		subgroupNames = append(subgroupNames, name)
	}
	sort.Strings(subgroupNames)

	subgroupRates := make(map[string]SubgroupRates, len(subgroupCounts))
	maxDisparityRatio := 0.0
	maxDisparityGroup := ""
	for _, name := range subgroupNames {
		counts := subgroupCounts[name]
		blockRate := safeRatio(float64(counts.block), float64(counts.total))
		blockOrReviewRate := safeRatio(float64(counts.blockOrReview), float64(counts.total))
		disparityRatio := 0.0
		if benignBlockOrReviewFPRate > 0 {
			disparityRatio = blockOrReviewRate / benignBlockOrReviewFPRate
		}
		if disparityRatio > maxDisparityRatio {
			maxDisparityRatio = disparityRatio
			maxDisparityGroup = name
		}
		subgroupRates[name] = SubgroupRates{
			SampleCount:         float64(counts.total),
			BlockFPRate:         round6(blockRate),
			BlockOrReviewFPRate: round6(blockOrReviewRate),
			DisparityRatio:      round6(disparityRatio),
		}
	}

	languageReport := make(map[string]LanguageMetrics, len(languageCounts))
	for language, counts := range languageCounts {
		languageReport[language] = LanguageMetrics{
			SampleCount:      float64(languageSampleCounts[language]),
			HarmLabelMetrics: summarizeLabelCounts(counts),
		}
	}

	return &Report{
		SampleCount:              float64(len(samples)),
		HarmLabels:               append([]string{}, HarmLabels...),
		GlobalHarmLabelMetrics:   summarizeLabelCounts(globalCounts),
		LanguageHarmLabelMetrics: languageReport,
		BenignFalsePositives: BenignFalsePositiveMetrics{
			SampleCount:         float64(benignTotal),
			BlockFPRate:         round6(benignBlockFPRate),
			BlockOrReviewFPRate: round6(benignBlockOrReviewFPRate),
		},
		SubgroupDisparity: SubgroupDisparityMetrics{
			ReferenceMetric:   "benign_block_or_review_fp_rate",
			MaxDisparityRatio: round6(maxDisparityRatio),
			MaxDisparityGroup: maxDisparityGroup,
			Groups:            subgroupRates,
		},
	}, nil
}
