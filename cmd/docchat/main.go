// Package main is the docchat CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/docchat/internal/apperr"
	"github.com/hyperjump/docchat/internal/cli"
	"github.com/hyperjump/docchat/internal/config"
	"github.com/hyperjump/docchat/internal/docid"
	"github.com/hyperjump/docchat/internal/embedding"
	"github.com/hyperjump/docchat/internal/gemini"
	"github.com/hyperjump/docchat/internal/identity"
	"github.com/hyperjump/docchat/internal/indexer"
	"github.com/hyperjump/docchat/internal/ingest"
	"github.com/hyperjump/docchat/internal/llm"
	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/internal/pipeline"
	"github.com/hyperjump/docchat/internal/retrieval"
	"github.com/hyperjump/docchat/internal/retry"
	"github.com/hyperjump/docchat/internal/server"
	"github.com/hyperjump/docchat/internal/status"
	"github.com/hyperjump/docchat/internal/storage"
	"github.com/hyperjump/docchat/internal/telemetry"
	"github.com/hyperjump/docchat/internal/vector"
	"github.com/hyperjump/docchat/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/docchat/config.yaml"
	// envUser names the owner used by local CLI commands.
	envUser = "DOCCHAT_USER"
)

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "register":
		runRegister()
	case "index":
		runIndex()
	case "ask":
		runAsk()
	case "status":
		runStatus()
	case "delete":
		runDelete()
	case "version", "--version", "-v":
		fmt.Printf("docchat version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// commonFlags are shared by the local commands.
type commonFlags struct {
	configPath *string
	user       *string
	debug      *bool
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	defaultUser := os.Getenv(envUser)
	if defaultUser == "" {
		defaultUser = "local"
	}
	return commonFlags{
		configPath: fs.String("config", defaultConfigPath, "config file path"),
		user:       fs.String("user", defaultUser, "owner id for local commands (env "+envUser+")"),
		debug:      fs.Bool("debug", false, "enable debug logging"),
	}
}

// setup loads config, creates the logger and wires the components for a local command.
func setup(flags commonFlags, resolver identity.Resolver) (*config.Config, *zap.Logger, *Components) {
	cfg, _, err := loadConfig(*flags.configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug || *flags.debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	allowLocalFiles(cfg)
	components, err := initializeComponents(context.Background(), cfg, logger, resolver)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	return cfg, logger, components
}

// allowLocalFiles lets local commands register and read files on this machine. The server
// never calls it.
func allowLocalFiles(cfg *config.Config) {
	for _, scheme := range cfg.Fetch.AllowedSchemes {
		if scheme == "file" {
			return
		}
	}
	cfg.Fetch.AllowedSchemes = append(cfg.Fetch.AllowedSchemes, "file")
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
		zap.String("vector_backend", cfg.Vector.Backend),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("generation_provider", cfg.Generation.Provider),
	)

	verifier, err := identity.NewJWTVerifier(cfg.Server.JWTSecret, cfg.Server.JWTIssuer)
	if err != nil {
		logger.Fatal("Invalid server auth config (set "+config.EnvJWTSecret+")", zap.Error(err))
	}

	components, err := initializeComponents(context.Background(), cfg, logger, identity.ContextResolver{})
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	srv := server.NewServer(components.Service, verifier, components.Storage, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runRegister() {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	flags := addCommonFlags(fs)
	id := fs.String("id", "", "document id (default: derived from the file path, or random for URLs)")
	fileName := fs.String("name", "", "file name used for format detection")
	contentType := fs.String("content-type", "", "content type of the document")
	andIndex := fs.Bool("index", false, "index the document right after registering it")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(reorderArgs(os.Args[2:]))
	if fs.NArg() < 1 {
		fmt.Println("Usage: docchat register [flags] <path-or-url>")
		os.Exit(1)
	}

	docID, location, err := registration(*id, *flags.user, fs.Arg(0))
	if err != nil {
		fmt.Printf("Invalid location: %v\n", err)
		os.Exit(1)
	}
	_, logger, components := setup(flags, identity.StaticResolver(*flags.user))
	defer logger.Sync()
	defer components.Close()

	ctx := context.Background()
	doc := &models.Document{
		ID:          docID,
		OwnerID:     *flags.user,
		Location:    location,
		FileName:    *fileName,
		ContentType: *contentType,
	}
	if _, err := components.Service.Register(ctx, doc); err != nil {
		fmt.Printf("Registration failed: %s\n", describe(err))
		os.Exit(1)
	}
	fmt.Printf("Document registered: %s\n", doc.ID)
	if *andIndex {
		indexDocument(components.Service, doc.ID, *flags.user, cli.OutputFormat(*output))
	}
}

// registration returns the document id and normalized location for a register request.
// Local paths become absolute and, without an explicit id, yield an id derived from the path.
func registration(id, user, location string) (string, string, error) {
	u, err := url.Parse(location)
	local := err != nil || u.Scheme == "" || u.Scheme == "file" || len(u.Scheme) == 1
	if local {
		path := strings.TrimPrefix(location, "file://")
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", "", err
		}
		location = abs
		if id == "" {
			id = docid.FromPath(user, abs)
		}
	}
	if id == "" {
		id = docid.New()
	}
	return id, location, nil
}

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	flags := addCommonFlags(fs)
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(reorderArgs(os.Args[2:]))
	if fs.NArg() < 1 {
		fmt.Println("Usage: docchat index [flags] <document-id>")
		os.Exit(1)
	}
	_, logger, components := setup(flags, identity.StaticResolver(*flags.user))
	defer logger.Sync()
	defer components.Close()
	indexDocument(components.Service, fs.Arg(0), *flags.user, cli.OutputFormat(*output))
}

func indexDocument(svc *pipeline.Service, docID, user string, format cli.OutputFormat) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	out, err := svc.IngestAndIndex(ctx, docID, user)
	if err != nil {
		fmt.Printf("Indexing failed: %s\n", describe(err))
		os.Exit(1)
	}
	_ = cli.WriteOutcome(os.Stdout, out, format)
	if out.State == status.Failed {
		os.Exit(1)
	}
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	flags := addCommonFlags(fs)
	historyPath := fs.String("history", "", "JSON file with prior conversation turns")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(reorderArgs(os.Args[2:]))
	if fs.NArg() < 2 {
		fmt.Println("Usage: docchat ask [flags] <document-id> <question>")
		os.Exit(1)
	}
	docID := fs.Arg(0)
	question := joinArgs(fs.Args()[1:])
	history, err := loadHistory(*historyPath)
	if err != nil {
		fmt.Printf("Failed to read history: %v\n", err)
		os.Exit(1)
	}

	_, logger, components := setup(flags, identity.StaticResolver(*flags.user))
	defer logger.Sync()
	defer components.Close()

	answer, err := components.Service.Ask(context.Background(), docID, history, question)
	if err != nil {
		fmt.Printf("Ask failed: %s\n", describe(err))
		os.Exit(1)
	}
	if err := cli.WriteAnswer(os.Stdout, answer, cli.OutputFormat(*output)); err != nil {
		fmt.Printf("Failed to write answer: %v\n", err)
		os.Exit(1)
	}
}

// loadHistory reads conversation turns from a JSON array file. An empty path means no history.
func loadHistory(path string) ([]models.ConversationTurn, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var turns []models.ConversationTurn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("invalid history file: %w", err)
	}
	for i, turn := range turns {
		if err := turn.Validate(); err != nil {
			return nil, fmt.Errorf("turn %d: %w", i, err)
		}
	}
	return turns, nil
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	flags := addCommonFlags(fs)
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(reorderArgs(os.Args[2:]))

	cfg, logger, components := setup(flags, identity.StaticResolver(*flags.user))
	defer logger.Sync()
	defer components.Close()

	ctx := context.Background()
	var report cli.StatusReport
	if fs.NArg() > 0 {
		st, err := components.Service.Status(ctx, *flags.user, fs.Arg(0))
		if err != nil {
			fmt.Printf("Status failed: %s\n", describe(err))
			os.Exit(1)
		}
		report.Status = &st
	}
	count, err := components.Storage.CountDocuments(ctx)
	if err != nil {
		fmt.Printf("Failed to count documents: %v\n", err)
		os.Exit(1)
	}
	report.Documents = count
	report.DiskUsageBytes, _ = storage.DiskUsageBytes(dataFiles(cfg)...)
	if err := cli.WriteStatus(os.Stdout, report, cli.OutputFormat(*output)); err != nil {
		fmt.Printf("Failed to write status: %v\n", err)
		os.Exit(1)
	}
}

// dataFiles lists the local files holding registrations, statuses and vectors.
func dataFiles(cfg *config.Config) []string {
	paths := storage.DatabaseFiles(cfg.Storage.DatabasePath)
	if cfg.Vector.Backend != string(vector.BackendRedis) && cfg.Vector.Path != "" {
		paths = append(paths, storage.DatabaseFiles(cfg.Vector.Path)...)
	}
	return paths
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	flags := addCommonFlags(fs)
	_ = fs.Parse(reorderArgs(os.Args[2:]))
	if fs.NArg() < 1 {
		fmt.Println("Usage: docchat delete [flags] <document-id>")
		os.Exit(1)
	}
	docID := fs.Arg(0)
	_, logger, components := setup(flags, identity.StaticResolver(*flags.user))
	defer logger.Sync()
	defer components.Close()

	if err := components.Service.Delete(context.Background(), *flags.user, docID); err != nil {
		fmt.Printf("Deletion failed: %s\n", describe(err))
		os.Exit(1)
	}
	fmt.Printf("Document deleted: %s\n", docID)
}

// describe renders err with the stable message of its kind.
func describe(err error) string {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return fmt.Sprintf("%s (%v)", apperr.Message(ae.Kind), err)
	}
	return err.Error()
}

// joinArgs joins positional args into one string, trimming blanks.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// reorderArgs moves flags that appear after positional args to the front, so
// "docchat ask doc-1 what is this -output json" parses the flag.
func reorderArgs(args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if strings.HasPrefix(a, "-") && len(a) > 1 {
			flags = append(flags, a)
			if !strings.Contains(a, "=") && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") && !isBoolFlag(a) {
				flags = append(flags, args[i+1])
				i++
			}
			continue
		}
		positional = append(positional, a)
	}
	if len(flags) == 0 || len(positional) == 0 {
		return args
	}
	return append(flags, positional...)
}

func isBoolFlag(name string) bool {
	switch strings.TrimLeft(name, "-") {
	case "debug", "index":
		return true
	}
	return false
}

// Components holds initialized services.
type Components struct {
	Storage  storage.Storage
	Vectors  vector.Store
	Embedder embedding.Embedder
	Tracker  *status.Tracker
	Service  *pipeline.Service
	Metrics  *telemetry.Metrics

	clients        []*gemini.Client
	shutdownTracer func(context.Context) error
}

// Close releases components in reverse dependency order. Memory vector stores write their
// snapshot here.
func (c *Components) Close() {
	if c.Vectors != nil {
		_ = c.Vectors.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	for _, client := range c.clients {
		_ = client.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.shutdownTracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.shutdownTracer(ctx)
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, resolver identity.Resolver) (_ *Components, err error) {
	c := &Components{}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store

	if c.Vectors, err = vector.NewStore(ctx, cfg.Vector); err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}
	logger.Info("vector store initialized", zap.String("backend", cfg.Vector.Backend))

	if c.Metrics, err = telemetry.InitMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	c.shutdownTracer, err = telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		SampleRatio: cfg.Telemetry.SampleRatio,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	policy := retry.Policy{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
		AttemptTimeout:  cfg.Retry.AttemptTimeout,
		Notify:          c.Metrics.RetryNotifier(logger),
	}

	clients := map[string]*gemini.Client{}
	clientFor := func(apiKey string) (*gemini.Client, error) {
		if client, ok := clients[apiKey]; ok {
			return client, nil
		}
		client, err := gemini.NewClient(ctx, apiKey, cfg.Generation.RateTier, gemini.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		clients[apiKey] = client
		c.clients = append(c.clients, client)
		return client, nil
	}

	var embedder embedding.Embedder
	switch cfg.Embedding.Provider {
	case "gemini":
		client, err := clientFor(cfg.Embedding.APIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		embedder = embedding.NewGeminiEmbedder(client, cfg.Embedding.Model, cfg.Embedding.Dimensions, cfg.Embedding.BatchSize)
	default:
		embedder = embedding.NewHashEmbedder(cfg.Embedding.Dimensions)
	}
	c.Embedder = embedding.NewCached(embedder, cfg.Embedding.CacheSize)

	var model llm.GenerativeModel
	switch cfg.Generation.Provider {
	case "gemini":
		client, err := clientFor(cfg.Generation.APIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize generative model: %w", err)
		}
		model = llm.NewGeminiModel(client, cfg.Generation.Model, cfg.Generation.Temperature)
	default:
		model = llm.NewExtractiveModel(0)
	}

	chunker, err := indexer.NewChunker(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return nil, fmt.Errorf("invalid chunking config: %w", err)
	}

	fetcher := ingest.NewSchemeFetcher(cfg.Fetch.Timeout, cfg.Fetch.MaxBytes, cfg.Fetch.AllowedSchemes...)
	ing := ingest.NewIngestor(resolver, store, fetcher,
		ingest.WithLogger(logger),
		ingest.WithRetryPolicy(policy),
	)
	idx := indexer.NewIndexer(c.Vectors, c.Embedder, chunker,
		indexer.WithLogger(logger),
		indexer.WithReusePolicy(indexer.ReusePolicy(cfg.Index.ReusePolicy)),
		indexer.WithBatchSize(cfg.Embedding.BatchSize),
		indexer.WithRetryPolicy(policy),
	)
	chain := retrieval.NewChain(c.Embedder, c.Vectors, model,
		retrieval.WithTopK(cfg.Retrieval.TopK),
		retrieval.WithMaxContextChars(cfg.Retrieval.MaxContextChars),
		retrieval.WithHistoryTurns(cfg.Retrieval.HistoryTurns),
		retrieval.WithRetryPolicy(policy),
		retrieval.WithLogger(logger),
	)
	c.Tracker = status.NewTracker(status.WithStore(store), status.WithLogger(logger))
	c.Service = pipeline.NewService(ing, idx, chain, c.Tracker,
		pipeline.WithRegistry(store),
		pipeline.WithIdentity(resolver),
		pipeline.WithLocationCheck(fetcher),
		pipeline.WithMetrics(c.Metrics),
		pipeline.WithLogger(logger),
	)
	return c, nil
}

func printUsage() {
	fmt.Println(`docchat - Chat with your documents

Usage:
  docchat server [flags]                      Start the HTTP server
  docchat register [flags] <path-or-url>      Register a document
  docchat index [flags] <document-id>         Ingest and index a registered document
  docchat ask [flags] <document-id> <question> Ask a question about an indexed document
  docchat status [flags] [document-id]        Show document status and storage usage
  docchat delete [flags] <document-id>        Delete a document and its vectors
  docchat version                             Show version
  docchat help                                Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/docchat/config.yaml)
  --user string      Owner id for local commands (default: $DOCCHAT_USER or "local")
  --debug            Enable debug logging

Register Flags:
  --id string            Document id (default: derived from the file path)
  --name string          File name used for format detection
  --content-type string  Content type of the document
  --index                Index right after registering

Ask Flags:
  --history string   JSON file with prior turns: [{"role":"user","content":"..."}, ...]
  --output string    Output format: text or json (default: text)

Environment:
  GOOGLE_API_KEY               API key for the gemini embedding and generation providers
  DOCCHAT_JWT_SECRET           HS256 secret for verifying API bearer tokens (server)
  OTEL_EXPORTER_OTLP_ENDPOINT  Export traces to this OTLP/gRPC endpoint

Examples:
  docchat server
  docchat register --index ./report.pdf
  docchat ask <document-id> "What are the key findings?"
  docchat ask --history chat.json <document-id> what about the second quarter
  docchat status --output json <document-id>
  docchat delete <document-id>`)
}
