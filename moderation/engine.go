package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/usalama/sentinel/moderation/cachestore"
	"github.com/usalama/sentinel/moderation/claims"
	"github.com/usalama/sentinel/moderation/hottrigger"
	"github.com/usalama/sentinel/moderation/langpack"
	"github.com/usalama/sentinel/moderation/langspan"
	"github.com/usalama/sentinel/moderation/lexicon"
	"github.com/usalama/sentinel/moderation/policy"
	"github.com/usalama/sentinel/moderation/vectormatch"
)

// Engine evaluates texts through the matcher pipeline under the resolved
// policy. Lexicons and Policies must be set; every other field is optional
// and its pipeline stage degrades to a no-op when absent.
type Engine struct {
	Logger      *slog.Logger
	Policies    *policy.Resolver
	Lexicons    *lexicon.MatcherCache
	HotTriggers *hottrigger.Finder
	Packs       *langpack.MatcherSet
	Vectors     *vectormatch.Matcher
	Claims      claims.Scorer
	Languages   *langspan.Detector
	// Results caches full responses keyed by text and every participating
	// version; nil disables response caching.
	Results cachestore.CacheStore
}

func (eng *Engine) logger() *slog.Logger {
	if eng.Logger != nil {
		return eng.Logger
	}
	return slog.Default()
}

// Moderate renders a decision for text. Optional matcher failures degrade
// silently; only policy resolution and lexicon load surface as errors.
func (eng *Engine) Moderate(ctx context.Context, text string, mctx *ModerationContext) (resp *Response, err error) {
	start := time.Now()
	// recover any panics from matcher execution
	defer func() {
		if r := recover(); r != nil {
			eng.logger().Error("moderation pipeline panic", "err", r)
			moderateErrorCount.Inc()
			resp = nil
			err = fmt.Errorf("moderation pipeline panic: %v", r)
		}
	}()

	runtime, err := eng.Policies.Runtime()
	if err != nil {
		moderateErrorCount.Inc()
		return nil, fmt.Errorf("resolving policy runtime: %w", err)
	}
	matcher, err := eng.Lexicons.Get(ctx)
	if err != nil {
		moderateErrorCount.Inc()
		return nil, fmt.Errorf("loading lexicon: %w", err)
	}

	packVersions := langpack.ResolvePackVersions(runtime.Config.PackVersions)
	modelVersion := eng.effectiveModelVersion(runtime)

	var cacheKey string
	if eng.Results != nil {
		var source, locale, channel string
		if mctx != nil {
			source, locale, channel = mctx.Source, mctx.Locale, mctx.Channel
		}
		cacheKey = cachestore.DecisionKey(
			text, runtime.EffectivePolicyVersion, matcher.Version(), modelVersion,
			string(runtime.EffectiveStage), packVersions, source, locale, channel)
		if cached := eng.cachedResponse(ctx, cacheKey); cached != nil {
			cached.LatencyMs = time.Since(start).Milliseconds()
			decisionCount.WithLabelValues(string(cached.Action)).Inc()
			moderateDuration.Observe(time.Since(start).Seconds())
			return cached, nil
		}
	}

	decision := eng.evaluateText(ctx, text, matcher, runtime, mctx)
	spans := eng.detectSpans(ctx, text, runtime)

	resp = &Response{
		Toxicity:       decision.Toxicity,
		Labels:         decision.Labels,
		Action:         decision.Action,
		ReasonCodes:    decision.ReasonCodes,
		Evidence:       decision.Evidence,
		LanguageSpans:  spans,
		ModelVersion:   modelVersion,
		LexiconVersion: matcher.Version(),
		PackVersions:   packVersions,
		PolicyVersion:  runtime.EffectivePolicyVersion,
		LatencyMs:      time.Since(start).Milliseconds(),
	}

	if eng.Results != nil && cacheKey != "" {
		eng.storeResponse(ctx, cacheKey, resp)
	}

	decisionCount.WithLabelValues(string(resp.Action)).Inc()
	moderateDuration.Observe(time.Since(start).Seconds())
	return resp, nil
}

// effectiveModelVersion reports the model identity recorded in provenance:
// the configured version when it names a registered provider, otherwise the
// baseline the engine actually runs.
func (eng *Engine) effectiveModelVersion(runtime *policy.Runtime) string {
	if eng.Vectors != nil && eng.Vectors.Provider != nil {
		return eng.Vectors.Provider.ID()
	}
	return EmbeddingProviderByID(runtime.Config.ModelVersion, eng.logger()).ID()
}

func (eng *Engine) detectSpans(ctx context.Context, text string, runtime *policy.Runtime) []langspan.Span {
	detector := eng.Languages
	if detector == nil {
		detector = &langspan.Detector{}
	}
	hints := runtime.Config.LanguageHints
	return detector.DetectSpans(ctx, text, hints.Sw, hints.Sh, "en")
}

func (eng *Engine) cachedResponse(ctx context.Context, key string) *Response {
	raw, err := eng.Results.Get(ctx, cachestore.ResultCacheName, key)
	if err != nil {
		eng.logger().Warn("result cache read failed", "err", err)
		resultCacheCount.WithLabelValues("error").Inc()
		return nil
	}
	if raw == "" {
		resultCacheCount.WithLabelValues("miss").Inc()
		return nil
	}
	var cached Response
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		eng.logger().Warn("result cache entry corrupt, ignoring", "err", err)
		resultCacheCount.WithLabelValues("error").Inc()
		return nil
	}
	resultCacheCount.WithLabelValues("hit").Inc()
	return &cached
}

func (eng *Engine) storeResponse(ctx context.Context, key string, resp *Response) {
	encoded, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := eng.Results.Set(ctx, cachestore.ResultCacheName, key, string(encoded)); err != nil {
		eng.logger().Warn("result cache write failed", "err", err)
	}
}
