package cachestore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// ResultCacheName is the cache namespace for moderation decision results.
const ResultCacheName = "result"

// DecisionKey builds a deterministic cache key for a moderation result. Any
// input that can change the decision must be part of the key: the exact
// enforcement configuration (policy/lexicon/model versions, pack versions,
// deployment stage) and the request context, not just the text.
func DecisionKey(text, policyVersion, lexiconVersion, modelVersion, stage string, packVersions map[string]string, source, locale, channel string) string {
	langs := make([]string, 0, len(packVersions))
	for lang := range packVersions {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	packs := make([][2]string, 0, len(langs))
	for _, lang := range langs {
		packs = append(packs, [2]string{lang, packVersions[lang]})
	}

	canonical, err := json.Marshal(struct {
		Text           string      `json:"text"`
		PolicyVersion  string      `json:"policy_version"`
		LexiconVersion string      `json:"lexicon_version"`
		ModelVersion   string      `json:"model_version"`
		PackVersions   [][2]string `json:"pack_versions"`
		Stage          string      `json:"deployment_stage"`
		Source         string      `json:"source"`
		Locale         string      `json:"locale"`
		Channel        string      `json:"channel"`
	}{text, policyVersion, lexiconVersion, modelVersion, packs, stage, source, locale, channel})
	if err != nil {
		// struct of strings cannot fail to marshal; keep the signature honest
		return ""
	}
	digest := sha256.Sum256(canonical)
	return hex.EncodeToString(digest[:])
}
