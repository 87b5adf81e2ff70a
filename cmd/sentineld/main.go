package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/usalama/sentinel/moderation"
	"github.com/usalama/sentinel/moderation/cachestore"
	"github.com/usalama/sentinel/moderation/claims"
	"github.com/usalama/sentinel/moderation/hottrigger"
	"github.com/usalama/sentinel/moderation/langpack"
	"github.com/usalama/sentinel/moderation/langspan"
	"github.com/usalama/sentinel/moderation/lexicon"
	"github.com/usalama/sentinel/moderation/policy"
	"github.com/usalama/sentinel/moderation/vectormatch"
	"github.com/usalama/sentinel/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "sentineld",
		Usage:   "moderation decision engine daemon",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "policy-config",
			Usage:   "path to policy configuration JSON",
			Value:   policy.DefaultConfigPath,
			EnvVars: []string{"SENTINEL_POLICY_CONFIG_PATH"},
		},
		&cli.StringFlag{
			Name:    "electoral-phase",
			Usage:   "electoral phase override (pre_campaign, campaign, silence_period, voting_day, results_period)",
			EnvVars: []string{"SENTINEL_ELECTORAL_PHASE"},
		},
		&cli.StringFlag{
			Name:    "deployment-stage",
			Usage:   "deployment stage override (shadow, advisory, supervised)",
			EnvVars: []string{"SENTINEL_DEPLOYMENT_STAGE"},
		},
		&cli.StringFlag{
			Name:    "lexicon-seed",
			Usage:   "path to lexicon seed JSON, used directly or as database fallback",
			Value:   "data/lexicon_seed.json",
			EnvVars: []string{"SENTINEL_LEXICON_SEED"},
		},
		&cli.StringFlag{
			Name:    "pack-registry",
			Usage:   "path to language pack registry JSON; empty disables packs",
			Value:   "data/langpacks/registry.json",
			EnvVars: []string{"SENTINEL_PACK_REGISTRY"},
		},
		&cli.BoolFlag{
			Name:    "skip-pack-gates",
			Usage:   "serve packs without re-running calibration gates (diagnostics only)",
			EnvVars: []string{"SENTINEL_SKIP_PACK_GATES"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "database connection string for lexicon releases and embeddings",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
			Value:   40,
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL for hot triggers and the result cache",
			EnvVars: []string{"SENTINEL_REDIS_URL", "REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "embedding-model",
			Usage:   "registered embedding provider id",
			Value:   vectormatch.ModelID,
			EnvVars: []string{"SENTINEL_EMBEDDING_MODEL"},
		},
		&cli.StringFlag{
			Name:    "claim-scorer",
			Usage:   "registered claim scorer id",
			Value:   claims.HeuristicScorer{}.ID(),
			EnvVars: []string{"SENTINEL_CLAIM_SCORER"},
		},
		&cli.DurationFlag{
			Name:    "result-cache-ttl",
			Usage:   "decision result cache TTL; zero disables the cache",
			Value:   5 * time.Minute,
			EnvVars: []string{"SENTINEL_RESULT_CACHE_TTL"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
		checkCmd,
		gatesCmd,
	}

	return app.Run(args)
}

// buildEngine assembles the moderation engine from CLI/env configuration.
// With no database the vector store is seeded in-memory from the active
// lexicon snapshot; with no redis the hot triggers and result cache run
// in-process.
func buildEngine(cctx *cli.Context, logger *slog.Logger) (*moderation.Engine, error) {
	ctx := cctx.Context

	resolver := &policy.Resolver{
		ConfigPath: cctx.String("policy-config"),
		Phase:      cctx.String("electoral-phase"),
		Stage:      cctx.String("deployment-stage"),
	}
	// fail fast on an unreadable config or invalid phase/stage
	if _, err := resolver.Runtime(); err != nil {
		return nil, fmt.Errorf("resolving policy: %w", err)
	}

	var repo lexicon.Repository = lexicon.NewFileRepository(cctx.String("lexicon-seed"))
	var vectorStore vectormatch.EmbeddingStore
	if dburl := cctx.String("database-url"); dburl != "" {
		db, err := cliutil.SetupDatabase(dburl, cctx.Int("max-db-connections"))
		if err != nil {
			return nil, err
		}
		primary, err := lexicon.NewGormRepository(db)
		if err != nil {
			return nil, err
		}
		repo = &lexicon.FallbackRepository{Primary: primary, Fallback: repo, Logger: logger}
		vectorStore, err = vectormatch.NewGormStore(db)
		if err != nil {
			return nil, err
		}
	} else {
		mem := vectormatch.NewMemStore()
		if snapshot, err := repo.FetchActive(ctx); err == nil {
			mem.Load(snapshot.Version, snapshot.Entries)
		} else {
			logger.Warn("vector store starting empty, lexicon snapshot unavailable", "err", err)
		}
		vectorStore = mem
	}

	var hotCache hottrigger.Cache
	var results cachestore.CacheStore
	cacheTTL := cctx.Duration("result-cache-ttl")
	if redisURL := cctx.String("redis-url"); redisURL != "" {
		rc, err := hottrigger.NewRedisCache(redisURL, hottrigger.DefaultSocketTimeout)
		if err != nil {
			return nil, fmt.Errorf("initializing redis hot-trigger cache: %w", err)
		}
		hotCache = rc
		if cacheTTL > 0 {
			cs, err := cachestore.NewRedisCacheStore(redisURL, cacheTTL)
			if err != nil {
				return nil, fmt.Errorf("initializing redis result cache: %w", err)
			}
			results = cs
		}
	} else {
		hotCache = hottrigger.NewMemCache(10_000, time.Hour)
		if cacheTTL > 0 {
			results = cachestore.NewMemCacheStore(5_000, cacheTTL)
		}
	}

	var packs *langpack.MatcherSet
	if registryPath := cctx.String("pack-registry"); registryPath != "" {
		packs = langpack.NewMatcherSet(registryPath, logger)
		packs.SkipGates = cctx.Bool("skip-pack-gates")
	}

	provider := moderation.EmbeddingProviderByID(cctx.String("embedding-model"), logger)
	scorer := moderation.ClaimScorerByID(cctx.String("claim-scorer"), logger)

	return &moderation.Engine{
		Logger:      logger,
		Policies:    resolver,
		Lexicons:    lexicon.NewMatcherCache(repo),
		HotTriggers: &hottrigger.Finder{Cache: hotCache, Logger: logger},
		Packs:       packs,
		Vectors:     vectormatch.NewMatcher(vectorStore, provider, logger),
		Claims:      scorer,
		Languages:   &langspan.Detector{},
		Results:     results,
	}, nil
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the moderation service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for the HTTP API",
			Value:   ":8500",
			EnvVars: []string{"SENTINEL_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics",
			Value:   ":8501",
			EnvVars: []string{"SENTINEL_METRICS_LISTEN"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
		slog.SetDefault(logger)

		shutdownTracing := configOTEL("sentineld")
		defer shutdownTracing(context.Background())

		eng, err := buildEngine(cctx, logger)
		if err != nil {
			return err
		}

		srv := NewServer(eng, Config{
			Bind:   cctx.String("bind"),
			Logger: logger,
		})

		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				logger.Error("failed to start metrics endpoint", "err", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		return srv.RunAPI()
	},
}

var checkCmd = &cli.Command{
	Name:      "check",
	Usage:     "moderate a single text and print the decision",
	ArgsUsage: "<text>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "source",
			Usage: "submission source (eg, partner_factcheck)",
		},
		&cli.StringFlag{
			Name:  "locale",
			Usage: "submission locale hint",
		},
		&cli.StringFlag{
			Name:  "channel",
			Usage: "distribution channel (forward, broadcast)",
		},
	},
	Action: func(cctx *cli.Context) error {
		text := cctx.Args().First()
		if text == "" {
			return fmt.Errorf("expected text argument")
		}
		logger := slog.Default()

		eng, err := buildEngine(cctx, logger)
		if err != nil {
			return err
		}

		var mctx *moderation.ModerationContext
		if cctx.String("source") != "" || cctx.String("locale") != "" || cctx.String("channel") != "" {
			mctx = &moderation.ModerationContext{
				Source:  cctx.String("source"),
				Locale:  cctx.String("locale"),
				Channel: cctx.String("channel"),
			}
		}

		resp, err := eng.Moderate(context.Background(), text, mctx)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var gatesCmd = &cli.Command{
	Name:  "gates",
	Usage: "evaluate calibration gates for every registered language pack",
	Action: func(cctx *cli.Context) error {
		registry, err := langpack.LoadRegistry(cctx.String("pack-registry"))
		if err != nil {
			return fmt.Errorf("loading pack registry: %w", err)
		}

		failed := 0
		for _, manifest := range registry.PacksInPriorityOrder() {
			manifest := manifest
			result, err := langpack.EvaluateGates(registry, &manifest)
			if err != nil {
				return fmt.Errorf("evaluating gates for pack %s/%s: %w", manifest.Language, manifest.PackVersion, err)
			}
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			if !result.Passed {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d pack(s) failed calibration gates", failed)
		}
		return nil
	},
}
