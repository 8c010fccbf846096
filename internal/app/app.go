package app

import (
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bookforge/internal/config"
	"bookforge/internal/httpx"
	"bookforge/internal/integrations/cover"
	"bookforge/internal/integrations/llm"
	slackbot "bookforge/internal/integrations/slack"
	"bookforge/internal/integrations/trends"
	"bookforge/internal/logging"
	"bookforge/internal/metrics"
	"bookforge/internal/pipeline"
	"bookforge/internal/storage/sqlite"
)

type options struct {
	configPath string
	debug      bool
}

func Main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "bookforge",
		Short:         "Turn trending topics into ebooks",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default is $CONFIG_PATH or ./config.yaml)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(runCommand(opts), onceCommand(opts), modelsCommand(opts), historyCommand(opts))
	return root
}

func runCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run a cycle now, then on the configured schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := bootstrap(opts)
			if err != nil {
				return err
			}
			defer rt.close()

			sched, err := config.ParseSchedule(rt.cfg.Schedule)
			if err != nil {
				return fmt.Errorf("invalid schedule: %w", err)
			}
			if rt.cfg.MetricsAddr != "" {
				go func() {
					if err := rt.metrics.Serve(ctx, rt.cfg.MetricsAddr, rt.log); err != nil {
						rt.log.Errorw("metrics server failed", "error", err)
					}
				}()
			}

			rt.log.Infow("bookforge started", "schedule", rt.cfg.Schedule, "timezone", rt.cfg.Location.String())
			s := &pipeline.Scheduler{
				Runner:   rt.pipeline,
				Schedule: sched,
				Location: rt.cfg.Location,
				Log:      rt.log,
			}
			if err := s.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			rt.log.Infow("bookforge stopped")
			return nil
		},
	}
}

func onceCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := bootstrap(opts)
			if err != nil {
				return err
			}
			defer rt.close()

			report, err := rt.pipeline.RunCycle(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Summary())
			return nil
		},
	}
}

func modelsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models available to the configured provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)

			ids, err := llm.ListModels(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Available models (%s):\n", cfg.LLMProvider)
			for _, id := range ids {
				fmt.Fprintf(out, "  %s\n", id)
			}
			return nil
		},
	}
}

func historyCommand(opts *options) *cobra.Command {
	var limit int
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent cycles and JSON extraction outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			db, err := sqlite.InitDB(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("init database: %w", err)
			}
			defer db.Close()
			return printHistory(cmd, db, limit, time.Now().Add(-since))
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of cycles to show")
	cmd.Flags().DurationVar(&since, "since", 7*24*time.Hour, "window for extraction counts")
	return cmd
}

func printHistory(cmd *cobra.Command, db *sql.DB, limit int, since time.Time) error {
	out := cmd.OutOrStdout()
	cycles, err := sqlite.RecentCycles(db, limit)
	if err != nil {
		return fmt.Errorf("load cycles: %w", err)
	}
	fmt.Fprintf(out, "Recent cycles: %d\n", len(cycles))
	for _, c := range cycles {
		line := fmt.Sprintf("  %s  %s  %-7s trends=%d selected=%d ebooks=%d",
			c.StartedAt.Local().Format("2006-01-02 15:04"), shortID(c.ID), c.Status,
			c.TrendsFetched, c.TopicsSelected, c.EbooksWritten)
		if c.Error != "" {
			line += "  error=" + c.Error
		}
		fmt.Fprintln(out, line)
	}

	counts, err := sqlite.ExtractionStatusCounts(db, since)
	if err != nil {
		return fmt.Errorf("load extraction counts: %w", err)
	}
	sites := make([]string, 0, len(counts))
	for site := range counts {
		sites = append(sites, site)
	}
	sort.Strings(sites)
	fmt.Fprintf(out, "JSON extraction since %s:\n", since.Local().Format("2006-01-02"))
	for _, site := range sites {
		c := counts[site]
		fmt.Fprintf(out, "  %-15s parsed=%d recovered=%d fallback=%d\n",
			site, c["parsed"], c["recovered"], c["fallback"])
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type services struct {
	cfg      config.Config
	log      *zap.SugaredLogger
	db       *sql.DB
	metrics  *metrics.Metrics
	pipeline *pipeline.Pipeline
}

func (rt *services) close() {
	if rt.db != nil {
		_ = rt.db.Close()
	}
	_ = rt.log.Sync()
}

func loadConfig(opts *options) (config.Config, error) {
	if opts.configPath != "" {
		if err := os.Setenv("CONFIG_PATH", opts.configPath); err != nil {
			return config.Config{}, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if opts.debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func bootstrap(opts *options) (*services, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		return nil, err
	}
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	log.Infow("config loaded",
		"provider", cfg.LLMProvider,
		"model", cfg.LLMModel,
		"top_k", cfg.TopK,
		"trends_limit", cfg.TrendsLimit,
		"data_dir", cfg.DataDir,
		"timezone", cfg.Timezone,
		"slack", cfg.SlackConfigured(),
		"external_http_timeout", appliedHTTPTimeout,
	)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	log.Infow("database initialized", "path", cfg.DBPath)

	gen, err := llm.New(cfg, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	m := metrics.New()
	publisher := slackbot.NewPublisher(cfg.SlackBotToken, cfg.SlackChannelID, log)
	if !publisher.Enabled() {
		log.Infow("slack publishing disabled, documents stay local")
	}

	return &services{
		cfg:     cfg,
		log:     log,
		db:      db,
		metrics: m,
		pipeline: &pipeline.Pipeline{
			Trends: trends.Source{
				FeedURL: cfg.TrendsFeedURL,
				Geo:     cfg.TrendsGeo,
				Limit:   cfg.TrendsLimit,
				Client:  httpx.Client(),
			},
			LLM: gen,
			Covers: &cover.Generator{
				PixabayAPIKey:       cfg.PixabayAPIKey,
				FallbackQuery:       cfg.CoverFallbackQuery,
				UnsplashURLTemplate: cfg.UnsplashURLTemplate,
				DefaultCoverPath:    cfg.DefaultCoverPath,
				Attempts:            3,
				RetryDelay:          5 * time.Second,
				Client:              httpx.Client(),
				Log:                 log,
			},
			Publisher: publisher,
			DB:        db,
			Metrics:   m,
			Log:       log,
			DataDir:   cfg.DataDir,
			TopK:      cfg.TopK,
		},
	}, nil
}
