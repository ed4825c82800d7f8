// Package main is the entry point for the documentation indexer CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/alqutdigital/finance-chat/internal/config"
	"github.com/alqutdigital/finance-chat/internal/embedder"
	"github.com/alqutdigital/finance-chat/internal/indexer"
	"github.com/alqutdigital/finance-chat/internal/storage"
	"github.com/alqutdigital/finance-chat/pkg/logger"
)

// Version information (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := &cobra.Command{
		Use:          "indexer",
		Short:        "Finance chat documentation indexer",
		Long:         "Builds the retrieval index for the finance application manual.",
		Version:      fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newChunkCmd())
	rootCmd.AddCommand(newEmbedCmd())
	rootCmd.AddCommand(newPushCmd())
	rootCmd.AddCommand(newPullCmd())

	return rootCmd.ExecuteContext(ctx)
}

// setup loads configuration and the logger shared by every subcommand.
func setup() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New(logger.Config{
		Level:     cfg.Log.Level,
		Format:    "text",
		AddSource: cfg.Log.AddSource,
	})
	log.SetDefault()
	return cfg, log, nil
}

func newBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

type chunkOptions struct {
	Input     string
	Output    string
	GroupSize int
	ChunkSize int
	Overlap   int
}

// newChunkCmd creates the chunk subcommand.
func newChunkCmd() *cobra.Command {
	opts := &chunkOptions{}

	cmd := &cobra.Command{
		Use:   "chunk",
		Short: "Extract and chunk the manual PDF",
		Long:  "Extract paragraphs page by page, group them and split the groups into overlapping chunks.",
		Example: `  # Chunk the manual into the configured chunks file
  indexer chunk --input=resources/manual.pdf

  # Use smaller chunks
  indexer chunk --input=manual.pdf --chunk-size=500 --overlap=100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChunk(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "Path to the manual PDF (required)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "Chunks file to write (defaults to CHUNKS_FILE)")
	cmd.Flags().IntVar(&opts.GroupSize, "group-size", indexer.DefaultGroupSize, "Paragraphs per group")
	cmd.Flags().IntVar(&opts.ChunkSize, "chunk-size", indexer.DefaultChunkSize, "Maximum characters per chunk")
	cmd.Flags().IntVar(&opts.Overlap, "overlap", indexer.DefaultChunkOverlap, "Characters shared by neighbouring chunks")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func runChunk(ctx context.Context, opts *chunkOptions) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	if opts.Output == "" {
		opts.Output = cfg.RAG.ChunksFile
	}
	if !indexer.IsValidPDF(opts.Input) {
		return fmt.Errorf("%s is not a PDF file", opts.Input)
	}

	chunker, err := indexer.NewChunker(opts.ChunkSize, opts.Overlap)
	if err != nil {
		return err
	}

	start := time.Now()
	paragraphs, err := indexer.NewExtractor(log).ExtractParagraphs(ctx, opts.Input)
	if err != nil {
		return err
	}
	groups := indexer.GroupParagraphs(paragraphs, opts.GroupSize)

	chunks, err := chunker.Split(groups)
	if err != nil {
		return err
	}
	if err := indexer.SaveChunks(opts.Output, chunks); err != nil {
		return err
	}

	log.Info("chunking complete",
		"paragraphs", len(paragraphs),
		"groups", len(groups),
		"chunks", len(chunks),
		"output", opts.Output,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

type embedOptions struct {
	Chunks    string
	IndexDir  string
	Target    string
	BatchSize int
	Offline   bool
}

// newEmbedCmd creates the embed subcommand.
func newEmbedCmd() *cobra.Command {
	opts := &embedOptions{}

	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Embed chunks into the vector index",
		Example: `  # Build the local index from the configured chunks file
  indexer embed

  # Load chunks into pgvector
  indexer embed --target=pgvector`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmbed(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Chunks, "chunks", "c", "", "Chunks file to read (defaults to CHUNKS_FILE)")
	cmd.Flags().StringVarP(&opts.IndexDir, "index-dir", "d", "", "Local index directory (defaults to INDEX_DIR)")
	cmd.Flags().StringVarP(&opts.Target, "target", "t", "", "Index target: 'local' or 'pgvector' (defaults to VECTOR_STORE)")
	cmd.Flags().IntVarP(&opts.BatchSize, "batch-size", "b", 100, "Chunks per embedding request")
	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "Use deterministic hash embeddings instead of the API")

	return cmd
}

func runEmbed(ctx context.Context, opts *embedOptions) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	if opts.Chunks == "" {
		opts.Chunks = cfg.RAG.ChunksFile
	}
	if opts.IndexDir == "" {
		opts.IndexDir = cfg.RAG.IndexDir
	}
	if opts.Target == "" {
		opts.Target = cfg.RAG.VectorStore
	}

	chunks, err := indexer.LoadChunks(opts.Chunks)
	if err != nil {
		return err
	}

	var emb embedder.Embedder
	if opts.Offline {
		emb = embedder.NewHashEmbedder(1536)
	} else {
		embCfg := embedder.DefaultConfig(cfg.LLM.OpenAIKey)
		embCfg.Model = cfg.LLM.EmbeddingModel
		emb, err = embedder.NewOpenAIEmbedder(embCfg, log)
		if err != nil {
			return err
		}
	}

	var store storage.VectorStore
	switch opts.Target {
	case "local":
		if err := os.MkdirAll(opts.IndexDir, 0o755); err != nil {
			return fmt.Errorf("failed to create index directory: %w", err)
		}
		store = storage.NewLocalVectorStore(opts.IndexDir)
	case "pgvector":
		db, err := storage.OpenSQL(storage.SQLConfig{Driver: "postgres", DSN: cfg.RAG.PgVectorDSN})
		if err != nil {
			return err
		}
		defer db.Close()
		pg := storage.NewPgVectorStore(db.DB, log.Logger)
		if err := pg.EnsureSchema(ctx, emb.Dimension()); err != nil {
			return err
		}
		store = pg
	default:
		return fmt.Errorf("unknown index target %q", opts.Target)
	}

	bar := newBar(len(chunks), "Embedding chunks")
	builder := indexer.NewBuilder(emb, store, opts.BatchSize, func(done, _ int) {
		_ = bar.Set(done)
	}, log)

	start := time.Now()
	n, err := builder.BuildIndex(ctx, chunks)
	_ = bar.Finish()
	if err != nil {
		return err
	}

	log.Info("index built",
		"target", opts.Target,
		"chunks", n,
		"model", emb.ModelName(),
		"duration", time.Since(start).Round(time.Millisecond),
	)

	invalidateRetrievalCache(ctx, cfg, log)
	return nil
}

// invalidateRetrievalCache drops cached retrievals that point at the old
// index. Failures are logged; cached entries expire on their own.
func invalidateRetrievalCache(ctx context.Context, cfg *config.Config, log *logger.Logger) {
	if cfg.Redis.Host == "" {
		return
	}
	client, err := storage.NewRedisClient(ctx, storage.RedisConfig{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Warn("retrieval cache not invalidated", "error", err)
		return
	}
	defer client.Close()

	if _, err := storage.NewCacheManager(client, log.Logger, storage.DefaultCacheConfig()).InvalidateRetrievals(ctx); err != nil {
		log.Warn("retrieval cache not invalidated", "error", err)
	}
}

func objectStore(cfg *config.Config) (*storage.MinIOStorage, error) {
	if cfg.Storage.Endpoint == "" {
		return nil, fmt.Errorf("STORAGE_ENDPOINT is not configured")
	}
	return storage.NewMinIOStorage(storage.MinIOConfig{
		Endpoint:        cfg.Storage.Endpoint,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		BucketName:      cfg.Storage.BucketName,
		UseSSL:          cfg.Storage.UseSSL,
		Region:          cfg.Storage.Region,
	})
}

// newPushCmd creates the push subcommand.
func newPushCmd() *cobra.Command {
	var withChunks bool

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Upload the local index to object storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			objects, err := objectStore(cfg)
			if err != nil {
				return err
			}
			if err := objects.InitBucket(ctx); err != nil {
				return err
			}

			chunksFile := ""
			if withChunks {
				chunksFile = cfg.RAG.ChunksFile
			}
			keys, err := indexer.PushIndex(ctx, objects, cfg.Storage.IndexPrefix, cfg.RAG.IndexDir, chunksFile)
			if err != nil {
				return err
			}
			log.Info("index pushed", "bucket", cfg.Storage.BucketName, "objects", keys)
			return nil
		},
	}

	cmd.Flags().BoolVar(&withChunks, "with-chunks", true, "Also upload the chunks file")
	return cmd
}

// newPullCmd creates the pull subcommand.
func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Download the index from object storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			objects, err := objectStore(cfg)
			if err != nil {
				return err
			}

			ok, err := indexer.PullIndex(cmd.Context(), objects, cfg.Storage.IndexPrefix, cfg.RAG.IndexDir)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no index found under %s/%s", cfg.Storage.BucketName, cfg.Storage.IndexPrefix)
			}
			log.Info("index pulled", "dir", cfg.RAG.IndexDir)
			return nil
		},
	}
}
