// Package policy owns versioned moderation configuration: the base policy
// file, electoral-phase overrides, deployment stages, and their resolution
// into one effective runtime per request. Unlike the matchers, this package
// fails fast: serving a request under a mis-resolved policy is worse than
// refusing to serve it.
package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

var reasonCodePattern = regexp.MustCompile(`^R_[A-Z0-9_]+$`)

// ToxicityByAction maps each decision action to the toxicity score reported
// with it. JSON keys match the wire-format action names.
type ToxicityByAction struct {
	Block  float64 `json:"BLOCK"`
	Review float64 `json:"REVIEW"`
	Allow  float64 `json:"ALLOW"`
}

func (t *ToxicityByAction) Validate() error {
	for name, v := range map[string]float64{
		"BLOCK":  t.Block,
		"REVIEW": t.Review,
		"ALLOW":  t.Allow,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("toxicity_by_action.%s must be within [0,1], got %v", name, v)
		}
	}
	return nil
}

// LanguageHints are soft word lists feeding language span detection.
type LanguageHints struct {
	Sw []string `json:"sw"`
	Sh []string `json:"sh"`
}

// ClaimLikenessConfig gates the claim-likeness matcher.
type ClaimLikenessConfig struct {
	MediumThreshold       float64 `json:"medium_threshold"`
	HighThreshold         float64 `json:"high_threshold"`
	RequireElectionAnchor bool    `json:"require_election_anchor"`
}

func (c *ClaimLikenessConfig) Validate() error {
	if c.MediumThreshold < 0 || c.MediumThreshold > 1 {
		return fmt.Errorf("claim_likeness.medium_threshold must be within [0,1]")
	}
	if c.HighThreshold < 0 || c.HighThreshold > 1 {
		return fmt.Errorf("claim_likeness.high_threshold must be within [0,1]")
	}
	if c.MediumThreshold >= c.HighThreshold {
		return fmt.Errorf("claim_likeness.medium_threshold must be below high_threshold")
	}
	return nil
}

type ElectoralPhase string

const (
	PhasePreCampaign   ElectoralPhase = "pre_campaign"
	PhaseCampaign      ElectoralPhase = "campaign"
	PhaseSilencePeriod ElectoralPhase = "silence_period"
	PhaseVotingDay     ElectoralPhase = "voting_day"
	PhaseResultsPeriod ElectoralPhase = "results_period"
)

func ParseElectoralPhase(value string) (ElectoralPhase, error) {
	switch ElectoralPhase(value) {
	case PhasePreCampaign, PhaseCampaign, PhaseSilencePeriod, PhaseVotingDay, PhaseResultsPeriod:
		return ElectoralPhase(value), nil
	}
	return "", fmt.Errorf("invalid electoral phase: %q", value)
}

type DeploymentStage string

const (
	StageShadow     DeploymentStage = "shadow"
	StageAdvisory   DeploymentStage = "advisory"
	StageSupervised DeploymentStage = "supervised"
)

func ParseDeploymentStage(value string) (DeploymentStage, error) {
	switch DeploymentStage(value) {
	case StageShadow, StageAdvisory, StageSupervised:
		return DeploymentStage(value), nil
	}
	return "", fmt.Errorf("invalid deployment stage: %q", value)
}

// PhaseOverride adjusts parts of the base policy during one electoral
// phase. Nil fields inherit the base config.
type PhaseOverride struct {
	ToxicityByAction     *ToxicityByAction `json:"toxicity_by_action,omitempty"`
	AllowConfidence      *float64          `json:"allow_confidence,omitempty"`
	VectorMatchThreshold *float64          `json:"vector_match_threshold,omitempty"`
	NoMatchAction        string            `json:"no_match_action,omitempty"`
}

func (o *PhaseOverride) Validate() error {
	if o.ToxicityByAction != nil {
		if err := o.ToxicityByAction.Validate(); err != nil {
			return err
		}
	}
	if o.AllowConfidence != nil && (*o.AllowConfidence < 0 || *o.AllowConfidence > 1) {
		return fmt.Errorf("allow_confidence must be within [0,1]")
	}
	if o.VectorMatchThreshold != nil && (*o.VectorMatchThreshold < 0 || *o.VectorMatchThreshold > 1) {
		return fmt.Errorf("vector_match_threshold must be within [0,1]")
	}
	if o.NoMatchAction != "" && o.NoMatchAction != "ALLOW" && o.NoMatchAction != "REVIEW" {
		return fmt.Errorf("no_match_action must be ALLOW or REVIEW, got %q", o.NoMatchAction)
	}
	return nil
}

// Config is the versioned base policy file.
type Config struct {
	Version          string                           `json:"version"`
	ModelVersion     string                           `json:"model_version"`
	PackVersions     map[string]string                `json:"pack_versions"`
	ToxicityByAction ToxicityByAction                 `json:"toxicity_by_action"`
	AllowLabel       string                           `json:"allow_label"`
	AllowReasonCode  string                           `json:"allow_reason_code"`
	AllowConfidence  float64                          `json:"allow_confidence"`
	LanguageHints    LanguageHints                    `json:"language_hints"`
	ClaimLikeness    ClaimLikenessConfig              `json:"claim_likeness"`
	ElectoralPhase   string                           `json:"electoral_phase,omitempty"`
	DeploymentStage  string                           `json:"deployment_stage,omitempty"`
	PhaseOverrides   map[ElectoralPhase]PhaseOverride `json:"phase_overrides,omitempty"`
}

func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}
	if c.ModelVersion == "" {
		return fmt.Errorf("model_version is required")
	}
	if err := c.ToxicityByAction.Validate(); err != nil {
		return err
	}
	if c.AllowLabel == "" {
		return fmt.Errorf("allow_label is required")
	}
	if !reasonCodePattern.MatchString(c.AllowReasonCode) {
		return fmt.Errorf("allow_reason_code %q must match %s", c.AllowReasonCode, reasonCodePattern)
	}
	if c.AllowConfidence < 0 || c.AllowConfidence > 1 {
		return fmt.Errorf("allow_confidence must be within [0,1]")
	}
	if err := c.ClaimLikeness.Validate(); err != nil {
		return err
	}
	if c.ElectoralPhase != "" {
		if _, err := ParseElectoralPhase(c.ElectoralPhase); err != nil {
			return err
		}
	}
	if c.DeploymentStage != "" {
		if _, err := ParseDeploymentStage(c.DeploymentStage); err != nil {
			return err
		}
	}
	for phase, override := range c.PhaseOverrides {
		if _, err := ParseElectoralPhase(string(phase)); err != nil {
			return fmt.Errorf("phase_overrides: %w", err)
		}
		if err := override.Validate(); err != nil {
			return fmt.Errorf("phase_overrides[%s]: %w", phase, err)
		}
	}
	return nil
}

// LoadConfig reads and validates the policy file at path. Unknown fields
// are rejected so typos in threshold names cannot silently weaken policy.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var config Config
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing policy config %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy config %s: %w", path, err)
	}
	return &config, nil
}
