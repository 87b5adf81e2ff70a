// Package langpack loads and serves per-language moderation packs: small
// versioned bundles of normalization rules, a lexicon, and calibration
// thresholds, shipped alongside an annotated evaluation dataset. Packs are
// advisory on the request path (their matches can raise REVIEW, never BLOCK)
// and must clear calibration gates before serving traffic.
package langpack

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var packVersionPattern = regexp.MustCompile(`^pack-[a-z0-9-]+-\d+\.\d+$`)

// Normalization holds orthography replacements applied before matching,
// e.g. mapping Sheng spellings onto canonical forms.
type Normalization struct {
	Replacements map[string]string `json:"replacements"`
}

// Entry is one pack lexicon term. Unlike the core lexicon, pack entries
// carry no language field (the pack itself is the language) and no
// lifecycle metadata.
type Entry struct {
	Term       string `json:"term"`
	Label      string `json:"label"`
	Action     string `json:"action"`
	ReasonCode string `json:"reason_code"`
	Severity   int    `json:"severity"`
}

func (e *Entry) Validate() error {
	if e.Term == "" || len(e.Term) > 128 {
		return fmt.Errorf("term must be 1-128 characters")
	}
	if e.Action != "REVIEW" && e.Action != "BLOCK" {
		return fmt.Errorf("action must be REVIEW or BLOCK, got %q", e.Action)
	}
	if e.ReasonCode == "" || len(e.ReasonCode) > 64 {
		return fmt.Errorf("reason_code must be 1-64 characters")
	}
	if e.Severity < 1 || e.Severity > 3 {
		return fmt.Errorf("severity must be 1-3, got %d", e.Severity)
	}
	return nil
}

type Lexicon struct {
	Entries []Entry `json:"entries"`
}

// Calibration carries the thresholds a pack must clear to serve at its
// target stage. Absent fields take governance-approved defaults.
type Calibration struct {
	TargetStage                  string   `json:"target_stage"`
	F1ThresholdAdvisory          float64  `json:"f1_threshold_advisory"`
	F1ThresholdSupervised        float64  `json:"f1_threshold_supervised"`
	BenignBlockFPRateMax         float64  `json:"benign_block_fp_rate_max"`
	BenignBlockOrReviewFPRateMax float64  `json:"benign_block_or_review_fp_rate_max"`
	MaxDisparityRatio            float64  `json:"max_disparity_ratio"`
	MinEvalSamples               int      `json:"min_eval_samples"`
	MinCodeSwitchedRatio         float64  `json:"min_code_switched_ratio"`
	MinAnnotatorsPerSample       int      `json:"min_annotators_per_sample"`
	MinKrippendorffAlpha         float64  `json:"min_krippendorff_alpha"`
	RequiredHighSeverityLabels   []string `json:"required_high_severity_labels"`
}

func DefaultCalibration() Calibration {
	return Calibration{
		TargetStage:                  "advisory",
		F1ThresholdAdvisory:          0.80,
		F1ThresholdSupervised:        0.86,
		BenignBlockFPRateMax:         0.005,
		BenignBlockOrReviewFPRateMax: 0.03,
		MaxDisparityRatio:            1.5,
		MinEvalSamples:               1000,
		MinCodeSwitchedRatio:         0.20,
		MinAnnotatorsPerSample:       3,
		MinKrippendorffAlpha:         0.67,
		RequiredHighSeverityLabels:   append([]string{}, HighSeverityLabels...),
	}
}

// RequiredF1 returns the F1 gate for the pack's target stage.
func (c *Calibration) RequiredF1() float64 {
	if c.TargetStage == "supervised" {
		return c.F1ThresholdSupervised
	}
	return c.F1ThresholdAdvisory
}

func (c *Calibration) Validate() error {
	if c.TargetStage != "advisory" && c.TargetStage != "supervised" {
		return fmt.Errorf("target_stage must be advisory or supervised, got %q", c.TargetStage)
	}
	for name, v := range map[string]float64{
		"f1_threshold_advisory":              c.F1ThresholdAdvisory,
		"f1_threshold_supervised":            c.F1ThresholdSupervised,
		"benign_block_fp_rate_max":           c.BenignBlockFPRateMax,
		"benign_block_or_review_fp_rate_max": c.BenignBlockOrReviewFPRateMax,
		"min_code_switched_ratio":            c.MinCodeSwitchedRatio,
		"min_krippendorff_alpha":             c.MinKrippendorffAlpha,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, v)
		}
	}
	if c.MaxDisparityRatio < 0 {
		return fmt.Errorf("max_disparity_ratio must be non-negative")
	}
	if c.MinEvalSamples < 1 {
		return fmt.Errorf("min_eval_samples must be >= 1")
	}
	if c.MinAnnotatorsPerSample < 1 {
		return fmt.Errorf("min_annotators_per_sample must be >= 1")
	}
	return nil
}

type ArtifactPaths struct {
	Normalization string `json:"normalization"`
	Lexicon       string `json:"lexicon"`
	Calibration   string `json:"calibration"`
}

type AnnotationMetadata struct {
	AnnotatorsPerSample int     `json:"annotators_per_sample"`
	KrippendorffAlpha   float64 `json:"krippendorff_alpha"`
}

// Manifest describes one pack in the registry: where its artifacts live and
// how its evaluation dataset was annotated.
type Manifest struct {
	Language    string             `json:"language"`
	PackVersion string             `json:"pack_version"`
	Priority    int                `json:"priority"`
	Directory   string             `json:"directory"`
	Artifacts   ArtifactPaths      `json:"artifacts"`
	EvalDataset string             `json:"eval_dataset"`
	Annotation  AnnotationMetadata `json:"annotation_metadata"`
}

func (m *Manifest) Validate() error {
	lang := strings.ToLower(strings.TrimSpace(m.Language))
	if len(lang) < 2 || len(lang) > 16 {
		return fmt.Errorf("language must be 2-16 characters, got %q", m.Language)
	}
	if !packVersionPattern.MatchString(m.PackVersion) {
		return fmt.Errorf("invalid pack_version %q; expected pack-<lang>-<major.minor>", m.PackVersion)
	}
	if m.Priority < 1 {
		return fmt.Errorf("priority must be >= 1")
	}
	if m.Directory == "" {
		return fmt.Errorf("directory is required")
	}
	if m.Artifacts.Normalization == "" || m.Artifacts.Lexicon == "" || m.Artifacts.Calibration == "" {
		return fmt.Errorf("artifacts must name normalization, lexicon, and calibration files")
	}
	if m.EvalDataset == "" {
		return fmt.Errorf("eval_dataset is required")
	}
	if m.Annotation.AnnotatorsPerSample < 1 {
		return fmt.Errorf("annotation_metadata.annotators_per_sample must be >= 1")
	}
	if m.Annotation.KrippendorffAlpha < 0 || m.Annotation.KrippendorffAlpha > 1 {
		return fmt.Errorf("annotation_metadata.krippendorff_alpha must be within [0,1]")
	}
	return nil
}

// Registry is the top-level pack index file.
type Registry struct {
	Wave  string     `json:"wave"`
	Packs []Manifest `json:"packs"`

	// absolute path of the registry file, for resolving relative artifact paths
	path string
}

// LoadRegistry reads and validates the pack registry at path. Unknown JSON
// fields, duplicate languages, and duplicate pack versions are errors.
func LoadRegistry(path string) (*Registry, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	var registry Registry
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&registry); err != nil {
		return nil, fmt.Errorf("parsing pack registry %s: %w", path, err)
	}
	if registry.Wave != "wave1" {
		return nil, fmt.Errorf("unsupported registry wave %q", registry.Wave)
	}
	if len(registry.Packs) == 0 {
		return nil, fmt.Errorf("pack registry has no packs")
	}
	seenLangs := make(map[string]bool)
	seenVersions := make(map[string]bool)
	for i := range registry.Packs {
		manifest := &registry.Packs[i]
		if err := manifest.Validate(); err != nil {
			return nil, fmt.Errorf("pack %d (%s): %w", i, manifest.PackVersion, err)
		}
		lang := strings.ToLower(strings.TrimSpace(manifest.Language))
		if seenLangs[lang] {
			return nil, fmt.Errorf("duplicate language in pack registry: %s", lang)
		}
		if seenVersions[manifest.PackVersion] {
			return nil, fmt.Errorf("duplicate pack_version in pack registry: %s", manifest.PackVersion)
		}
		seenLangs[lang] = true
		seenVersions[manifest.PackVersion] = true
	}
	registry.path = abs
	return &registry, nil
}

// PacksInPriorityOrder returns manifests sorted by ascending priority.
func (r *Registry) PacksInPriorityOrder() []Manifest {
	out := append([]Manifest{}, r.Packs...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

func (r *Registry) resolvePath(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(filepath.Dir(r.path), rel)
}

func (r *Registry) packDir(manifest *Manifest) string {
	return r.resolvePath(manifest.Directory)
}

func loadJSONStrict(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// LoadArtifacts reads the normalization, lexicon, and calibration files for
// manifest, applying calibration defaults for absent fields.
func (r *Registry) LoadArtifacts(manifest *Manifest) (*Normalization, *Lexicon, *Calibration, error) {
	dir := r.packDir(manifest)

	var normalization Normalization
	if err := loadJSONStrict(filepath.Join(dir, manifest.Artifacts.Normalization), &normalization); err != nil {
		return nil, nil, nil, err
	}

	var lexicon Lexicon
	if err := loadJSONStrict(filepath.Join(dir, manifest.Artifacts.Lexicon), &lexicon); err != nil {
		return nil, nil, nil, err
	}
	if len(lexicon.Entries) == 0 {
		return nil, nil, nil, fmt.Errorf("pack %s lexicon has no entries", manifest.PackVersion)
	}
	for i := range lexicon.Entries {
		if err := lexicon.Entries[i].Validate(); err != nil {
			return nil, nil, nil, fmt.Errorf("pack %s lexicon entry %d: %w", manifest.PackVersion, i, err)
		}
	}

	calibration := DefaultCalibration()
	if err := loadJSONStrict(filepath.Join(dir, manifest.Artifacts.Calibration), &calibration); err != nil {
		return nil, nil, nil, err
	}
	if err := calibration.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("pack %s calibration: %w", manifest.PackVersion, err)
	}

	return &normalization, &lexicon, &calibration, nil
}

// EvalSamplesPath resolves the manifest's eval dataset relative to the
// registry file.
func (r *Registry) EvalSamplesPath(manifest *Manifest) string {
	return r.resolvePath(manifest.EvalDataset)
}

// ResolvePackVersions returns a normalized copy of configured pack versions,
// dropping blank languages or versions. It keeps policy ownership of the
// version map separate from pack loading.
func ResolvePackVersions(packVersions map[string]string) map[string]string {
	normalized := make(map[string]string, len(packVersions))
	for lang, version := range packVersions {
		lang = strings.TrimSpace(lang)
		version = strings.TrimSpace(version)
		if lang == "" || version == "" {
			continue
		}
		normalized[lang] = version
	}
	return normalized
}
