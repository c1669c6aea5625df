package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campusbot/internal/channel"
	"campusbot/internal/chunker"
	"campusbot/internal/config"
	"campusbot/internal/domain"
	"campusbot/internal/embed"
	"campusbot/internal/engine"
	"campusbot/internal/fetcher"
	"campusbot/internal/generate"
	"campusbot/internal/index"
	"campusbot/internal/ingest"
	"campusbot/internal/retrieval"
	"campusbot/internal/sources"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "campusbot",
		Short: "campusbot: a campus knowledge chatbot grounded in your college's web pages",
		Long:  "campusbot crawls a configured list of campus pages into a local vector index and answers questions about the college over CLI, web, and Telegram.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.campusbot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(ingestCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config (run `campusbot init` first?): %w", err)
	}
	logger = buildLogger(cfg)
	return cfg, nil
}

// buildLogger applies the configured log level and optional log file.
func buildLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var w io.Writer = os.Stderr
	if cfg.General.LogFile != "" {
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logger.Warn("cannot open log file, logging to stderr", "path", cfg.General.LogFile, "err", err)
		} else {
			w = io.MultiWriter(os.Stderr, f)
		}
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config, data directory, and an example sources file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}

			cfg := config.Defaults()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}

			srcPath := config.ExpandPath(cfg.Ingest.SourcesFile)
			if _, err := os.Stat(srcPath); os.IsNotExist(err) {
				if err := sources.WriteExample(srcPath); err != nil {
					return err
				}
			}

			logger.Info("initialized", "config", cfgPath, "sources", srcPath)
			logger.Info("next: edit the sources file, set OPENAI_API_KEY, then run `campusbot ingest`")
			return nil
		},
	}
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Crawl the configured sources into the vector index",
		Long:  "Fetches each URL from the sources file with headless Chrome, chunks the text, embeds the chunks, and appends them to the index. Re-running appends duplicates; delete the index file to rebuild from scratch.",
		RunE:  runIngest,
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	list, err := sources.Load(cfg.Ingest.SourcesFile)
	if err != nil {
		return err
	}
	urls := list.URLs()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	idx, err := index.Open(cfg.Index.Path, logger)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer idx.Close()

	metric, err := domain.ParseMetric(cfg.Index.Metric)
	if err != nil {
		return err
	}
	if err := idx.Create(ctx, cfg.Index.Collection, cfg.Index.Dimension, metric); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}

	ch, err := chunker.New(chunker.Config{
		Size:    cfg.Ingest.ChunkSize,
		Overlap: cfg.Ingest.ChunkOverlap,
	})
	if err != nil {
		return err
	}

	pipeline := ingest.New(ingest.Config{
		Fetcher: fetcher.New(fetcher.Config{
			Timeout: time.Duration(cfg.Ingest.FetchTimeoutSeconds) * time.Second,
			Logger:  logger,
		}),
		Chunker: ch,
		Embedder: embed.New(embed.Config{
			APIKey:    cfg.Embedding.APIKey,
			APIBase:   cfg.Embedding.APIBase,
			Model:     cfg.Embedding.Model,
			Dimension: cfg.Index.Dimension,
			Timeout:   time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
			Logger:    logger,
		}),
		Index:        idx,
		Collection:   cfg.Index.Collection,
		Workers:      cfg.Ingest.Workers,
		FetchRetries: cfg.Ingest.FetchRetries,
		BatchSize:    cfg.Ingest.EmbedBatchSize,
		Logger:       logger,
	})

	logger.Info("starting ingestion", "urls", len(urls), "workers", cfg.Ingest.Workers)
	report := pipeline.Ingest(ctx, urls)

	fmt.Printf("%s (%d chunks indexed)\n", report.Summary(), report.ChunksIndexed)
	for _, f := range report.Failed {
		fmt.Printf("  failed [%s] %s: %v\n", f.Reason, f.URL, f.Err)
	}
	return nil
}

// buildEngine wires the online query path against an open index.
func buildEngine(cfg *config.Config, idx *index.SQLiteIndex) (*engine.Engine, *generate.OpenAI) {
	embedder := embed.New(embed.Config{
		APIKey:    cfg.Embedding.APIKey,
		APIBase:   cfg.Embedding.APIBase,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Index.Dimension,
		Timeout:   time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
		Logger:    logger,
	})
	generator := generate.New(generate.Config{
		APIKey:      cfg.Generation.APIKey,
		APIBase:     cfg.Generation.APIBase,
		Model:       cfg.Generation.Model,
		MaxTokens:   cfg.Generation.MaxTokens,
		Temperature: cfg.Generation.Temperature,
		Timeout:     time.Duration(cfg.Generation.TimeoutSeconds) * time.Second,
		Logger:      logger,
	})
	eng := engine.New(engine.Config{
		Retriever: retrieval.NewRetriever(retrieval.RetrieverConfig{
			Embedder:   embedder,
			Index:      idx,
			Collection: cfg.Index.Collection,
			TopK:       cfg.Retrieval.TopK,
			Logger:     logger,
		}),
		Assembler: retrieval.NewAssembler(cfg.Generation.Persona),
		Generator: generator,
		TopK:      cfg.Retrieval.TopK,
		Logger:    logger,
	})
	return eng, generator
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Ask questions interactively in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			idx, err := index.Open(cfg.Index.Path, logger)
			if err != nil {
				return fmt.Errorf("open index (run `campusbot ingest` first?): %w", err)
			}
			defer idx.Close()

			eng, _ := buildEngine(cfg, idx)
			cli := channel.NewCLI(channel.CLIConfig{Engine: eng, Logger: logger})
			return cli.Start(ctx)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the web API and any other enabled channels",
		Long:  "Serves the chat API (SSE streaming), status, and metrics endpoints, plus the Telegram bot when enabled. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	idx, err := index.Open(cfg.Index.Path, logger)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer idx.Close()

	eng, generator := buildEngine(cfg, idx)

	var telegramCh *channel.Telegram
	if cfg.Channels.Telegram.Enabled {
		telegramCh = channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			Engine:    eng,
			Logger:    logger,
		})
		go func() {
			if err := telegramCh.Start(ctx); err != nil {
				logger.Error("telegram channel error", "err", err)
			}
		}()
	}

	var webCh *channel.Web
	errCh := make(chan error, 1)
	if cfg.Channels.Web.Enabled {
		webCh = channel.NewWeb(channel.WebConfig{
			Host:       cfg.Channels.Web.Host,
			Port:       cfg.Channels.Web.Port,
			Engine:     eng,
			Generator:  generator,
			Stats:      idx,
			Collection: cfg.Index.Collection,
			Version:    version,
			Metrics:    cfg.Metrics.Enabled,
			Logger:     logger,
		})
		go func() { errCh <- webCh.Start(ctx) }()
	}

	logger.Info("campusbot serving. Press Ctrl+C to stop.")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info("shutting down")
	if telegramCh != nil {
		telegramCh.Stop()
	}
	if webCh != nil {
		webCh.Stop()
	}
	return nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show index and service health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			idx, err := index.Open(cfg.Index.Path, logger)
			if err != nil {
				logger.Info("index", "path", cfg.Index.Path, "open", false, "err", err)
			} else {
				defer idx.Close()
				n, err := idx.Count(ctx, cfg.Index.Collection)
				if err != nil {
					logger.Info("index", "collection", cfg.Index.Collection, "err", err)
				} else {
					logger.Info("index", "collection", cfg.Index.Collection, "entries", n)
				}
			}

			embedder := embed.New(embed.Config{
				APIKey:  cfg.Embedding.APIKey,
				APIBase: cfg.Embedding.APIBase,
				Model:   cfg.Embedding.Model,
				Logger:  logger,
			})
			if err := embedder.Healthy(ctx); err != nil {
				logger.Info("embedding service", "model", cfg.Embedding.Model, "healthy", false, "err", err)
			} else {
				logger.Info("embedding service", "model", cfg.Embedding.Model, "healthy", true)
			}

			generator := generate.New(generate.Config{
				APIKey:  cfg.Generation.APIKey,
				APIBase: cfg.Generation.APIBase,
				Model:   cfg.Generation.Model,
				Logger:  logger,
			})
			if err := generator.Healthy(ctx); err != nil {
				logger.Info("generation service", "model", cfg.Generation.Model, "healthy", false, "err", err)
			} else {
				logger.Info("generation service", "model", cfg.Generation.Model, "healthy", true)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. retrieval.topK)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. retrieval.topK 5)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (credentials masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
