// Package moderation implements the decision engine for election-sensitive
// political speech: an ordered pipeline of matchers (hot triggers, core
// lexicon, language packs, vector retrieval, claim-likeness) evaluated
// under a versioned policy, producing one auditable decision per text.
package moderation

import (
	"github.com/usalama/sentinel/moderation/langspan"
)

type Action string

const (
	ActionAllow  Action = "ALLOW"
	ActionReview Action = "REVIEW"
	ActionBlock  Action = "BLOCK"
)

const (
	LabelEthnicContempt     = "ETHNIC_CONTEMPT"
	LabelIncitementViolence = "INCITEMENT_VIOLENCE"
	LabelHarassmentThreat   = "HARASSMENT_THREAT"
	LabelDogwhistleWatch    = "DOGWHISTLE_WATCH"
	LabelDisinfoRisk        = "DISINFO_RISK"
	LabelBenignPolitical    = "BENIGN_POLITICAL_SPEECH"
)

// KnownLabels is the closed label taxonomy. Decisions never emit labels
// outside this set.
var KnownLabels = map[string]bool{
	LabelEthnicContempt:     true,
	LabelIncitementViolence: true,
	LabelHarassmentThreat:   true,
	LabelDogwhistleWatch:    true,
	LabelDisinfoRisk:        true,
	LabelBenignPolitical:    true,
}

// Reason codes attached by the pipeline itself (matcher entries carry their
// own codes).
const (
	ReasonStageAdvisoryBlockDowngraded = "R_STAGE_ADVISORY_BLOCK_DOWNGRADED"
	ReasonStageShadowNoEnforce         = "R_STAGE_SHADOW_NO_ENFORCE"
	ReasonClaimLikenessMedium          = "R_DISINFO_CLAIM_LIKENESS_MEDIUM"
	ReasonClaimLikenessHigh            = "R_DISINFO_CLAIM_LIKENESS_HIGH"
	ReasonDogwhistleContextRequired    = "R_DOGWHISTLE_CONTEXT_REQUIRED"
)

// ModelSpanBlendWeight pulls the reported toxicity toward the strongest
// model-span confidence: toxicity = base + weight*(maxConfidence - base),
// clamped to [0,1]. Applied after any deployment-stage downgrade, and only
// when model-span evidence is present.
const ModelSpanBlendWeight = 0.4

// Evidence item types.
const (
	EvidenceLexicon     = "lexicon"
	EvidenceVectorMatch = "vector_match"
	EvidenceModelSpan   = "model_span"
)

// EvidenceItem is one piece of supporting evidence for a decision. Fields
// are populated per type: lexicon sets match/severity/lang, vector_match
// additionally sets match_id/similarity, model_span sets span/confidence.
type EvidenceItem struct {
	Type       string   `json:"type"`
	Match      string   `json:"match,omitempty"`
	Severity   int      `json:"severity,omitempty"`
	Lang       string   `json:"lang,omitempty"`
	MatchID    string   `json:"match_id,omitempty"`
	Similarity *float64 `json:"similarity,omitempty"`
	Span       string   `json:"span,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Decision is the pipeline outcome before provenance is attached. Labels,
// reason codes, and evidence are deduplicated with insertion order
// preserved: earlier pipeline stages come first.
type Decision struct {
	Action      Action         `json:"action"`
	Labels      []string       `json:"labels"`
	ReasonCodes []string       `json:"reason_codes"`
	Evidence    []EvidenceItem `json:"evidence"`
	Toxicity    float64        `json:"toxicity"`
}

// ModerationContext is optional request context that can adjust matcher
// behavior (channel-dependent vector thresholds, partner source boosts).
type ModerationContext struct {
	Source  string `json:"source,omitempty"`
	Locale  string `json:"locale,omitempty"`
	Channel string `json:"channel,omitempty"`
}

// Response is the full moderation result: the decision plus the provenance
// needed to reconstruct it (every version that participated) and language
// spans for routing.
type Response struct {
	Toxicity       float64           `json:"toxicity"`
	Labels         []string          `json:"labels"`
	Action         Action            `json:"action"`
	ReasonCodes    []string          `json:"reason_codes"`
	Evidence       []EvidenceItem    `json:"evidence"`
	LanguageSpans  []langspan.Span   `json:"language_spans"`
	ModelVersion   string            `json:"model_version"`
	LexiconVersion string            `json:"lexicon_version"`
	PackVersions   map[string]string `json:"pack_versions"`
	PolicyVersion  string            `json:"policy_version"`
	LatencyMs      int64             `json:"latency_ms"`
}

func floatPtr(v float64) *float64 {
	return &v
}
