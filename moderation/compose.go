package moderation

import (
	"context"
	"strings"

	"github.com/usalama/sentinel/moderation/claims"
	"github.com/usalama/sentinel/moderation/lexicon"
	"github.com/usalama/sentinel/moderation/policy"
	"github.com/usalama/sentinel/moderation/vectormatch"
)

// PartnerFactcheckSource marks submissions from a trusted fact-check
// partner; their claim scores get the partner multiplier.
const PartnerFactcheckSource = "partner_factcheck"

// evidenceSpanRunes is how much of the text model-span evidence quotes.
const evidenceSpanRunes = 80

func appendUnique(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}

func dedupeEntries(entries []lexicon.Entry) []lexicon.Entry {
	type entryKey struct {
		term, action, label, reasonCode, lang string
		severity                              int
	}
	seen := make(map[entryKey]bool, len(entries))
	deduped := make([]lexicon.Entry, 0, len(entries))
	for _, entry := range entries {
		key := entryKey{entry.Term, entry.Action, entry.Label, entry.ReasonCode, entry.Lang, entry.Severity}
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, entry)
	}
	return deduped
}

func evidenceSpan(text string) string {
	runes := []rune(text)
	if len(runes) <= evidenceSpanRunes {
		return text
	}
	return string(runes[:evidenceSpanRunes])
}

// evaluateText runs the matcher pipeline in precedence order and returns
// the finalized decision: stage downgrade applied, then toxicity blended
// with any model-span confidence.
func (eng *Engine) evaluateText(ctx context.Context, text string, matcher *lexicon.Matcher, runtime *policy.Runtime, mctx *ModerationContext) *Decision {
	var labels, reasonCodes []string
	var evidence []EvidenceItem

	hotMatches := eng.HotTriggers.FindMatches(ctx, text, matcher.Version(), matcher.Entries())
	var hotBlocks []lexicon.Entry
	for _, entry := range hotMatches {
		if entry.Action == lexicon.ActionBlock {
			hotBlocks = append(hotBlocks, entry)
		}
	}

	// A hot BLOCK decides the action outright; the full scan cannot change
	// it and is skipped. Otherwise hot matches merge with the full scan.
	var matches, blocks []lexicon.Entry
	if len(hotBlocks) > 0 {
		matches = dedupeEntries(hotBlocks)
		blocks = matches
		matcherHitCount.WithLabelValues("hot_trigger").Inc()
	} else {
		matches = dedupeEntries(append(hotMatches, matcher.Match(text)...))
		for _, entry := range matches {
			if entry.Action == lexicon.ActionBlock {
				blocks = append(blocks, entry)
			}
		}
	}

	for _, entry := range blocks {
		if !KnownLabels[entry.Label] {
			eng.logger().Warn("lexicon entry with unknown label skipped", "label", entry.Label, "term", entry.Term)
			continue
		}
		labels = appendUnique(labels, entry.Label)
		reasonCodes = appendUnique(reasonCodes, entry.ReasonCode)
		evidence = append(evidence, EvidenceItem{
			Type:     EvidenceLexicon,
			Match:    entry.Term,
			Severity: entry.Severity,
			Lang:     entry.Lang,
		})
	}
	if len(evidence) > 0 {
		if len(hotBlocks) == 0 {
			matcherHitCount.WithLabelValues("lexicon").Inc()
		}
		return eng.finalize(&Decision{
			Action:      ActionBlock,
			Labels:      labels,
			ReasonCodes: reasonCodes,
			Evidence:    evidence,
			Toxicity:    runtime.ToxicityByAction.Block,
		}, runtime)
	}

	for _, entry := range matches {
		if entry.Action != lexicon.ActionReview {
			continue
		}
		if !KnownLabels[entry.Label] {
			eng.logger().Warn("lexicon entry with unknown label skipped", "label", entry.Label, "term", entry.Term)
			continue
		}
		labels = appendUnique(labels, entry.Label)
		reasonCodes = appendUnique(reasonCodes, entry.ReasonCode)
		evidence = append(evidence, EvidenceItem{
			Type:     EvidenceLexicon,
			Match:    entry.Term,
			Severity: entry.Severity,
			Lang:     entry.Lang,
		})
	}
	if len(evidence) > 0 {
		matcherHitCount.WithLabelValues("lexicon").Inc()
		return eng.finalize(&Decision{
			Action:      ActionReview,
			Labels:      labels,
			ReasonCodes: reasonCodes,
			Evidence:    evidence,
			Toxicity:    runtime.ToxicityByAction.Review,
		}, runtime)
	}

	// Language packs are advisory: their matches cap at REVIEW.
	if eng.Packs != nil {
		for _, pack := range eng.Packs.Matchers(ctx) {
			for _, entry := range pack.Match(text) {
				labels = appendUnique(labels, entry.Label)
				reasonCodes = appendUnique(reasonCodes, entry.ReasonCode)
				evidence = append(evidence, EvidenceItem{
					Type:     EvidenceLexicon,
					Match:    entry.Term,
					Severity: entry.Severity,
					Lang:     pack.Language,
				})
			}
		}
		if len(evidence) > 0 {
			matcherHitCount.WithLabelValues("langpack").Inc()
			return eng.finalize(&Decision{
				Action:      ActionReview,
				Labels:      labels,
				ReasonCodes: reasonCodes,
				Evidence:    evidence,
				Toxicity:    runtime.ToxicityByAction.Review,
			}, runtime)
		}
	}

	if decision := eng.vectorDecision(ctx, text, matcher.Version(), runtime, mctx); decision != nil {
		matcherHitCount.WithLabelValues("vector").Inc()
		return eng.finalize(decision, runtime)
	}

	if decision := eng.claimDecision(ctx, text, runtime, mctx); decision != nil {
		matcherHitCount.WithLabelValues("claims").Inc()
		return eng.finalize(decision, runtime)
	}

	matcherHitCount.WithLabelValues("none").Inc()
	if runtime.NoMatchAction == "REVIEW" {
		return eng.finalize(&Decision{
			Action:      ActionReview,
			Labels:      []string{LabelDogwhistleWatch},
			ReasonCodes: []string{ReasonDogwhistleContextRequired},
			Evidence: []EvidenceItem{{
				Type:       EvidenceModelSpan,
				Span:       evidenceSpan(text),
				Confidence: floatPtr(runtime.AllowConfidence),
			}},
			Toxicity: runtime.ToxicityByAction.Review,
		}, runtime)
	}

	return eng.finalize(&Decision{
		Action:      ActionAllow,
		Labels:      []string{runtime.Config.AllowLabel},
		ReasonCodes: []string{runtime.Config.AllowReasonCode},
		Evidence: []EvidenceItem{{
			Type:       EvidenceModelSpan,
			Span:       evidenceSpan(text),
			Confidence: floatPtr(runtime.AllowConfidence),
		}},
		Toxicity: runtime.ToxicityByAction.Allow,
	}, runtime)
}

// vectorDecision runs the vector retrieval stage. Semantic evidence is
// advisory and cannot escalate to BLOCK without a deterministic lexical hit.
func (eng *Engine) vectorDecision(ctx context.Context, text, lexiconVersion string, runtime *policy.Runtime, mctx *ModerationContext) *Decision {
	if eng.Vectors == nil {
		return nil
	}
	channel := ""
	if mctx != nil {
		channel = mctx.Channel
	}
	base := runtime.ResolvedVectorThreshold(vectormatch.DefaultThreshold)
	threshold := vectormatch.EffectiveThreshold(base, channel)
	if threshold != base {
		eng.logger().Debug("channel vector threshold adjustment",
			"channel", channel, "base", base, "effective", threshold)
	}

	match := eng.Vectors.FindMatch(ctx, text, lexiconVersion, threshold)
	if match == nil {
		return nil
	}
	entry := match.Entry
	if !KnownLabels[entry.Label] {
		eng.logger().Warn("vector match with unknown label skipped", "label", entry.Label, "term", entry.Term)
		return nil
	}
	return &Decision{
		Action:      ActionReview,
		Labels:      []string{entry.Label},
		ReasonCodes: []string{entry.ReasonCode},
		Evidence: []EvidenceItem{{
			Type:       EvidenceVectorMatch,
			Match:      entry.Term,
			Severity:   entry.Severity,
			Lang:       entry.Lang,
			MatchID:    match.MatchID,
			Similarity: floatPtr(match.Similarity),
		}},
		Toxicity: runtime.ToxicityByAction.Review,
	}
}

// claimDecision runs the claim-likeness stage: score the text, apply the
// partner multiplier, and raise REVIEW when the banded score clears medium
// and the election-anchor gate passes.
func (eng *Engine) claimDecision(ctx context.Context, text string, runtime *policy.Runtime, mctx *ModerationContext) *Decision {
	score := eng.scoreClaim(ctx, text, runtime)

	if mctx != nil && strings.ToLower(strings.TrimSpace(mctx.Source)) == PartnerFactcheckSource {
		adjusted := score * claims.PartnerFactcheckScoreMultiplier
		if adjusted > 1 {
			adjusted = 1
		}
		eng.logger().Debug("partner fact-check claim multiplier", "base", score, "adjusted", adjusted)
		score = adjusted
	}

	band := claims.BandFromScore(score, runtime.ClaimLikeness.MediumThreshold, runtime.ClaimLikeness.HighThreshold)
	if band == claims.BandLow {
		return nil
	}
	if runtime.ClaimLikeness.RequireElectionAnchor && !claims.ContainsElectionAnchor(text) {
		return nil
	}

	reasonCode := ReasonClaimLikenessMedium
	if band == claims.BandHigh {
		reasonCode = ReasonClaimLikenessHigh
	}
	return &Decision{
		Action:      ActionReview,
		Labels:      []string{LabelDisinfoRisk},
		ReasonCodes: []string{reasonCode},
		Evidence: []EvidenceItem{{
			Type:       EvidenceModelSpan,
			Span:       evidenceSpan(text),
			Confidence: floatPtr(score),
		}},
		Toxicity: runtime.ToxicityByAction.Review,
	}
}

func (eng *Engine) scoreClaim(ctx context.Context, text string, runtime *policy.Runtime) float64 {
	scorer := eng.Claims
	if scorer == nil {
		scorer = claims.HeuristicScorer{}
	}
	assessment, err := scorer.Score(ctx, text, runtime.ClaimLikeness.MediumThreshold, runtime.ClaimLikeness.HighThreshold)
	if err != nil || assessment == nil {
		if err != nil {
			eng.logger().Warn("claim scorer failed, using heuristic baseline", "scorer", scorer.ID(), "err", err)
		}
		baseline := claims.Assess(text, runtime.ClaimLikeness.MediumThreshold, runtime.ClaimLikeness.HighThreshold)
		return baseline.Score
	}
	return assessment.Score
}

// finalize applies the deployment stage, then blends toxicity with the
// strongest model-span confidence.
func (eng *Engine) finalize(decision *Decision, runtime *policy.Runtime) *Decision {
	decision = applyDeploymentStage(decision, runtime)
	decision.Toxicity = blendModelSpanToxicity(decision.Toxicity, decision.Evidence)
	return decision
}

func applyDeploymentStage(decision *Decision, runtime *policy.Runtime) *Decision {
	switch runtime.EffectiveStage {
	case policy.StageAdvisory:
		if decision.Action != ActionBlock {
			return decision
		}
		stageDowngradeCount.WithLabelValues(string(policy.StageAdvisory)).Inc()
		return &Decision{
			Action:      ActionReview,
			Labels:      decision.Labels,
			ReasonCodes: appendUnique(decision.ReasonCodes, ReasonStageAdvisoryBlockDowngraded),
			Evidence:    decision.Evidence,
			Toxicity:    runtime.ToxicityByAction.Review,
		}
	case policy.StageShadow:
		if decision.Action == ActionAllow {
			return decision
		}
		stageDowngradeCount.WithLabelValues(string(policy.StageShadow)).Inc()
		return &Decision{
			Action:      ActionAllow,
			Labels:      decision.Labels,
			ReasonCodes: appendUnique(decision.ReasonCodes, ReasonStageShadowNoEnforce),
			Evidence:    decision.Evidence,
			Toxicity:    runtime.ToxicityByAction.Allow,
		}
	default:
		return decision
	}
}

func blendModelSpanToxicity(base float64, evidence []EvidenceItem) float64 {
	maxConfidence := -1.0
	for _, item := range evidence {
		if item.Type != EvidenceModelSpan || item.Confidence == nil {
			continue
		}
		if *item.Confidence > maxConfidence {
			maxConfidence = *item.Confidence
		}
	}
	if maxConfidence < 0 {
		return base
	}
	blended := base + ModelSpanBlendWeight*(maxConfidence-base)
	if blended < 0 {
		return 0
	}
	if blended > 1 {
		return 1
	}
	return blended
}
