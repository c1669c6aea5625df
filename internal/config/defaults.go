package config

// Defaults returns the built-in configuration. Chunking and retrieval
// parameters follow what the production index was built with: 512-character
// chunks, 100-character overlap, 1536-dimension embeddings, top-10 retrieval.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:  "~/.campusbot",
			LogLevel: "info",
		},
		Index: IndexConfig{
			Path:       "~/.campusbot/index.db",
			Collection: "campus_pages",
			Dimension:  1536,
			Metric:     "dot_product",
		},
		Embedding: EmbeddingConfig{
			APIBase:        "https://api.openai.com/v1",
			APIKey:         "${OPENAI_API_KEY}",
			Model:          "text-embedding-3-small",
			TimeoutSeconds: 30,
		},
		Generation: GenerationConfig{
			APIBase:        "https://api.openai.com/v1",
			APIKey:         "${OPENAI_API_KEY}",
			Model:          "gpt-4o-mini",
			TimeoutSeconds: 120,
		},
		Ingest: IngestConfig{
			SourcesFile:         "~/.campusbot/sources.yaml",
			ChunkSize:           512,
			ChunkOverlap:        100,
			Workers:             4,
			FetchTimeoutSeconds: 45,
			FetchRetries:        2,
			EmbedBatchSize:      16,
		},
		Retrieval: RetrievalConfig{
			TopK: 10,
		},
		Channels: ChannelsConfig{
			CLI: CLIConfig{
				Enabled: true,
			},
			Web: WebConfig{
				Enabled: true,
				Host:    "127.0.0.1",
				Port:    8080,
			},
			Telegram: TelegramConfig{
				Enabled: false,
			},
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
