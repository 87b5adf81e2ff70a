package policy

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Environment variables consulted during resolution. Explicit resolver
// overrides win over these; these win over the static config values.
const (
	EnvConfigPath           = "SENTINEL_POLICY_CONFIG_PATH"
	EnvElectoralPhase       = "SENTINEL_ELECTORAL_PHASE"
	EnvDeploymentStage      = "SENTINEL_DEPLOYMENT_STAGE"
	EnvVectorMatchThreshold = "SENTINEL_VECTOR_MATCH_THRESHOLD"
)

// DefaultConfigPath is where the daemon looks for the policy file when
// neither flag nor environment names one.
const DefaultConfigPath = "config/policy/default.json"

// Runtime is the effective policy for one decision: the base config with
// phase and stage overrides already applied. It is derived per request and
// never persisted.
type Runtime struct {
	Config *Config

	EffectivePhase ElectoralPhase // empty when no phase applies
	EffectiveStage DeploymentStage

	// EffectivePolicyVersion uniquely identifies the enforcement
	// configuration: the base version with @<phase> and/or #<stage>
	// suffixes when those differ from the defaults. Audit and appeal
	// reconstruction key off this string.
	EffectivePolicyVersion string

	ToxicityByAction     ToxicityByAction
	AllowConfidence      float64
	VectorMatchThreshold *float64
	NoMatchAction        string
	ClaimLikeness        ClaimLikenessConfig
}

// ResolveOptions carries explicit runtime overrides, e.g. from an operator
// command. Explicit values beat environment variables beat config.
type ResolveOptions struct {
	Phase string
	Stage string
}

func resolvePhase(config *Config, explicit string) (ElectoralPhase, error) {
	raw := strings.TrimSpace(explicit)
	if raw == "" {
		raw = strings.TrimSpace(os.Getenv(EnvElectoralPhase))
	}
	if raw == "" {
		raw = config.ElectoralPhase
	}
	if raw == "" {
		return "", nil
	}
	return ParseElectoralPhase(raw)
}

func resolveStage(config *Config, explicit string) (DeploymentStage, error) {
	raw := strings.TrimSpace(explicit)
	if raw == "" {
		raw = strings.TrimSpace(os.Getenv(EnvDeploymentStage))
	}
	if raw == "" {
		raw = config.DeploymentStage
	}
	if raw == "" {
		return StageSupervised, nil
	}
	return ParseDeploymentStage(strings.ToLower(raw))
}

// ResolveRuntime merges config with the resolved phase and stage. A phase
// override may tighten enforcement but never loosen the BLOCK toxicity
// below baseline; violating that fails resolution.
func ResolveRuntime(config *Config, opts ResolveOptions) (*Runtime, error) {
	phase, err := resolvePhase(config, opts.Phase)
	if err != nil {
		return nil, err
	}
	stage, err := resolveStage(config, opts.Stage)
	if err != nil {
		return nil, err
	}

	toxicity := config.ToxicityByAction
	allowConfidence := config.AllowConfidence
	var vectorThreshold *float64
	noMatchAction := "ALLOW"

	if phase != "" {
		if override, ok := config.PhaseOverrides[phase]; ok {
			if override.ToxicityByAction != nil {
				toxicity = *override.ToxicityByAction
			}
			if toxicity.Block < config.ToxicityByAction.Block {
				return nil, fmt.Errorf(
					"phase override %s cannot lower BLOCK toxicity threshold below baseline", phase)
			}
			if override.AllowConfidence != nil {
				allowConfidence = *override.AllowConfidence
			}
			vectorThreshold = override.VectorMatchThreshold
			if override.NoMatchAction != "" {
				noMatchAction = override.NoMatchAction
			}
		}
	}

	version := config.Version
	if phase != "" {
		version = fmt.Sprintf("%s@%s", version, phase)
	}
	if stage != StageSupervised {
		version = fmt.Sprintf("%s#%s", version, stage)
	}

	return &Runtime{
		Config:                 config,
		EffectivePhase:         phase,
		EffectiveStage:         stage,
		EffectivePolicyVersion: version,
		ToxicityByAction:       toxicity,
		AllowConfidence:        allowConfidence,
		VectorMatchThreshold:   vectorThreshold,
		NoMatchAction:          noMatchAction,
		ClaimLikeness:          config.ClaimLikeness,
	}, nil
}

// ResolvedVectorThreshold picks the base vector-match threshold: the phase
// override when present, then the environment variable, then fallback.
// Invalid environment values fall through to fallback.
func (r *Runtime) ResolvedVectorThreshold(fallback float64) float64 {
	if r.VectorMatchThreshold != nil {
		return *r.VectorMatchThreshold
	}
	raw := strings.TrimSpace(os.Getenv(EnvVectorMatchThreshold))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value < 0 || value > 1 {
		return fallback
	}
	return value
}

// Resolver loads the policy config once and resolves a fresh Runtime per
// request, so environment phase/stage changes take effect without a config
// reload.
type Resolver struct {
	ConfigPath string

	// Explicit phase/stage overrides, set by operator flags. These beat
	// the environment during resolution.
	Phase string
	Stage string

	mu     sync.Mutex
	sf     singleflight.Group
	config *Config
}

func NewResolver(configPath string) *Resolver {
	return &Resolver{ConfigPath: configPath}
}

func (r *Resolver) path() string {
	if r.ConfigPath != "" {
		return r.ConfigPath
	}
	if env := strings.TrimSpace(os.Getenv(EnvConfigPath)); env != "" {
		return env
	}
	return DefaultConfigPath
}

// Load returns the cached config, reading it on first use.
func (r *Resolver) Load() (*Config, error) {
	r.mu.Lock()
	cached := r.config
	r.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	v, err, _ := r.sf.Do("load", func() (interface{}, error) {
		config, err := LoadConfig(r.path())
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.config = config
		r.mu.Unlock()
		return config, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Config), nil
}

// Runtime resolves the effective policy for one request.
func (r *Resolver) Runtime() (*Runtime, error) {
	config, err := r.Load()
	if err != nil {
		return nil, err
	}
	return ResolveRuntime(config, ResolveOptions{Phase: r.Phase, Stage: r.Stage})
}

// Reset drops the cached config so the next resolution reloads it.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config = nil
}
