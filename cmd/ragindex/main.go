// Package main is the ragindex CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/ragindex/internal/cli"
	"github.com/hyperjump/ragindex/internal/config"
	"github.com/hyperjump/ragindex/internal/extract"
	"github.com/hyperjump/ragindex/internal/lifecycle"
	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/internal/rag"
	"github.com/hyperjump/ragindex/internal/server"
	"github.com/hyperjump/ragindex/internal/watcher"
	"github.com/hyperjump/ragindex/pkg/utils"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/ragindex/config.yaml"
	defaultServerURL  = "http://localhost:8090"
	shutdownTimeout   = 30 * time.Second
)

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory wins if present, and a missing default file yields the built-in
// defaults. Returns the config and the path actually loaded ("" for built-in defaults).
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
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]
	var err error
	switch command {
	case "server":
		err = runServer(args)
	case "index":
		err = runIndex(args)
	case "search":
		err = runSearch(args)
	case "context":
		err = runContext(args)
	case "datasets":
		err = runDatasets(args)
	case "remove":
		err = runRemove(args)
	case "stats":
		err = runStats(args)
	case "watch":
		err = runWatch(args)
	case "version", "--version", "-v":
		fmt.Printf("ragindex version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", command, err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config, debug bool) *zap.Logger {
	logger, err := utils.NewLogger(cfg.Debug || debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func runServer(args []string) error {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg, *debug)
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.String("backend", cfg.Storage.Backend),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.Bool("debug", cfg.Debug || *debug),
	)

	engines := rag.NewManager(cfg, rag.WithLogger(logger))

	watchSvc := watcher.NewWatcher(
		cfg.Watch.Directories,
		cfg.Watch.Extensions,
		cfg.Watch.RecursiveOrDefault(),
		engineSink{engines: engines},
		watcher.WithLogger(logger),
	)
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := watchSvc.Start(watchCtx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer watchSvc.Stop()

	subscribe := func() { subscribeEngine(engines, watchSvc, logger) }
	subscribe()
	engines.Preload()

	srv := server.NewServer(engines, &cfg.Server, logger, watchSvc, resolvedConfigPath, cfg)
	srv.OnReload(subscribe)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	var serveErr error
	select {
	case <-sigChan:
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
			serveErr = fmt.Errorf("serve: %w", err)
		}
	}

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = srv.Stop(ctx)
	watchCancel()
	watchSvc.Stop()
	// Reset releases the engine, which flushes pending changes.
	engines.Reset()
	return serveErr
}

// syncer is the part of the watcher that rescans watched directories.
type syncer interface {
	SyncExistingFiles()
}

// subscribeEngine resyncs watched files whenever the engine becomes ready and logs
// failed loads. Reset drops these subscriptions, so reloads call it again.
func subscribeEngine(engines *lifecycle.Manager[*rag.Service], w syncer, logger *zap.Logger) {
	engines.OnReady(func(*rag.Service) {
		go w.SyncExistingFiles()
	})
	engines.OnError(func(err error) {
		logger.Error("engine failed to load; POST /api/v1/admin/reload to retry", zap.Error(err))
	})
}

// commonFlags registers the flags shared by the query commands.
func commonFlags(fs *flag.FlagSet) (configPath, serverURL, output *string) {
	configPath = fs.String("config", defaultConfigPath, "config file path")
	serverURL = fs.String("server", defaultServerURL, "server URL; empty or unreachable opens the index directly")
	output = fs.String("output", "text", "output format: text or json")
	return
}

// withBackend loads config, opens a backend and runs fn against it.
func withBackend(configPath, serverURL string, fn func(ctx context.Context, b backend, cfg *config.Config) error) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg, false)
	defer logger.Sync()

	ctx := context.Background()
	b, err := openBackend(ctx, serverURL, cfg, logger)
	if err != nil {
		return err
	}
	runErr := fn(ctx, b, cfg)
	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, b.Close(closeCtx))
}

// buildQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves any flags (and their values) that appear after the query
// to the front so that flag.Parse sees them; flag stops at the first non-flag.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// splitList parses a comma-separated flag value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type queryFlags struct {
	topK      *int
	threshold *float64
	searchIn  *string
	datasets  *string
}

func registerQueryFlags(fs *flag.FlagSet) queryFlags {
	return queryFlags{
		topK:      fs.Int("top-k", 0, "number of results (0 = configured default)"),
		threshold: fs.Float64("threshold", -1, "minimum similarity in [0,1] (negative = configured default)"),
		searchIn:  fs.String("search-in", "", "field to compare: fullText, prompt or completion"),
		datasets:  fs.String("datasets", "", "comma-separated dataset ids to restrict the search to"),
	}
}

func (f queryFlags) query(text string) models.SearchQuery {
	q := models.SearchQuery{
		Query:      text,
		TopK:       *f.topK,
		SearchIn:   *f.searchIn,
		DatasetIDs: splitList(*f.datasets),
	}
	if *f.threshold >= 0 {
		t := *f.threshold
		q.Threshold = &t
	}
	return q
}

func runSearch(args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath, serverURL, output := commonFlags(fs)
	qf := registerQueryFlags(fs)
	_ = fs.Parse(argsReorder(args))

	text := buildQuery(fs.Args())
	if text == "" {
		fmt.Println("Usage: ragindex search [flags] <query>")
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		return err
	}
	return withBackend(*configPath, *serverURL, func(ctx context.Context, b backend, _ *config.Config) error {
		q := qf.query(text)
		resp, err := b.Search(ctx, &q)
		if err != nil {
			return err
		}
		return cli.WriteSearchResults(os.Stdout, resp, format)
	})
}

func runContext(args []string) error {
	fs := flag.NewFlagSet("context", flag.ExitOnError)
	configPath, serverURL, output := commonFlags(fs)
	qf := registerQueryFlags(fs)
	preamble := fs.String("preamble", "", "system preamble (empty = configured default)")
	maxChars := fs.Int("max-chars", -1, "cap on context characters (0 = no cap, -1 = configured default)")
	_ = fs.Parse(argsReorder(args))

	text := buildQuery(fs.Args())
	if text == "" {
		fmt.Println("Usage: ragindex context [flags] <query>")
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		return err
	}
	return withBackend(*configPath, *serverURL, func(ctx context.Context, b backend, _ *config.Config) error {
		q := &models.ContextQuery{
			SearchQuery:    qf.query(text),
			SystemPreamble: *preamble,
		}
		if *maxChars >= 0 {
			q.MaxContextChars = maxChars
		}
		bundle, err := b.Context(ctx, q)
		if err != nil {
			return err
		}
		return cli.WriteContext(os.Stdout, bundle, format)
	})
}

func runDatasets(args []string) error {
	fs := flag.NewFlagSet("datasets", flag.ExitOnError)
	configPath, serverURL, output := commonFlags(fs)
	previews := fs.Bool("documents", false, "include document previews")
	_ = fs.Parse(args)

	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		return err
	}
	return withBackend(*configPath, *serverURL, func(ctx context.Context, b backend, _ *config.Config) error {
		datasets, err := b.Datasets(ctx, *previews)
		if err != nil {
			return err
		}
		return cli.WriteDatasets(os.Stdout, datasets, format)
	})
}

func runRemove(args []string) error {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	configPath, serverURL, _ := commonFlags(fs)
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Println("Usage: ragindex remove [flags] <dataset-id>")
		os.Exit(1)
	}
	id := fs.Arg(0)
	return withBackend(*configPath, *serverURL, func(ctx context.Context, b backend, _ *config.Config) error {
		res, err := b.RemoveDataset(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("Removed dataset %s (%d documents)\n", res.DatasetID, res.RemovedDocuments)
		return nil
	})
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath, serverURL, output := commonFlags(fs)
	_ = fs.Parse(args)

	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		return err
	}
	return withBackend(*configPath, *serverURL, func(ctx context.Context, b backend, _ *config.Config) error {
		report, err := b.Stats(ctx)
		if err != nil {
			return err
		}
		return cli.WriteStats(os.Stdout, report, format)
	})
}

func runIndex(args []string) error {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath, serverURL, _ := commonFlags(fs)
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Println("Usage: ragindex index [flags] <file-or-directory>")
		os.Exit(1)
	}
	path, err := filepath.Abs(fs.Arg(0))
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	return withBackend(*configPath, *serverURL, func(ctx context.Context, b backend, cfg *config.Config) error {
		if !info.IsDir() {
			res, err := b.IndexFile(ctx, path)
			if err != nil {
				return err
			}
			printIndexResult(path, res)
			return nil
		}
		files, err := extract.Files(path, cfg.Watch.Extensions)
		if err != nil {
			return err
		}
		indexed := 0
		for _, f := range files {
			res, err := b.IndexFile(ctx, f)
			if err != nil {
				if errors.Is(err, models.ErrInvalidInput) {
					fmt.Fprintf(os.Stderr, "Skipped %s: %v\n", f, err)
					continue
				}
				return err
			}
			printIndexResult(f, res)
			if res != nil {
				indexed++
			}
		}
		fmt.Printf("Indexed %d file(s) from %s\n", indexed, path)
		return nil
	})
}

func printIndexResult(path string, res *models.IndexResult) {
	if res == nil {
		fmt.Printf("Unchanged: %s\n", path)
		return
	}
	fmt.Printf("Indexed %s as %s (%d documents, %d skipped)\n", path, res.DatasetID, res.IndexedCount, res.SkippedCount)
}

func runWatch(args []string) error {
	if len(args) < 1 {
		fmt.Println("Usage: ragindex watch <add|remove|list> [path]")
		fmt.Println("  ragindex watch add <path>     Add directory to watch")
		fmt.Println("  ragindex watch remove <path>  Remove directory from watch")
		fmt.Println("  ragindex watch list           List watched directories")
		os.Exit(1)
	}
	sub := args[0]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(args[1:])

	c := cli.NewClient(*serverURL)
	ctx := context.Background()
	switch sub {
	case "add", "remove":
		if fs.NArg() < 1 {
			fmt.Printf("Usage: ragindex watch %s <path>\n", sub)
			os.Exit(1)
		}
		path, err := filepath.Abs(fs.Arg(0))
		if err != nil {
			return err
		}
		if sub == "add" {
			if err := c.WatchAdd(ctx, path); err != nil {
				return err
			}
			fmt.Printf("Added: %s\n", path)
			return nil
		}
		if err := c.WatchRemove(ctx, path); err != nil {
			return err
		}
		fmt.Printf("Removed: %s\n", path)
		return nil
	case "list":
		dirs, err := c.WatchList(ctx)
		if err != nil {
			return err
		}
		for _, d := range dirs {
			fmt.Println(d)
		}
		return nil
	default:
		return fmt.Errorf("unknown watch subcommand: %s", sub)
	}
}

func printUsage() {
	fmt.Println(`ragindex - Local semantic retrieval engine for RAG

Usage:
  ragindex server [flags]                 Start the HTTP server
  ragindex index [flags] <file-or-dir>    Index CSV, JSON, JSONL or XLSX exports
  ragindex search [flags] <query>         Rank documents by similarity
  ragindex context [flags] <query>        Assemble a grounding prompt
  ragindex datasets [flags]               List indexed datasets
  ragindex remove [flags] <dataset-id>    Remove a dataset
  ragindex stats [flags]                  Show index statistics
  ragindex watch <add|remove|list>        Manage watched directories
  ragindex version                        Show version
  ragindex help                           Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/ragindex/config.yaml)
  --debug            Enable debug logging

Common Flags (index, search, context, datasets, remove, stats):
  --config string    Config file path
  --server string    Server URL (default: http://localhost:8090). Empty or unreachable opens the index directly.
  --output string    Output format: text or json (default: text)

Search/Context Flags:
  --top-k int        Number of results (default from config)
  --threshold float  Minimum similarity in [0,1] (default from config)
  --search-in string fullText, prompt or completion
  --datasets string  Comma-separated dataset ids
  --preamble string  System preamble (context only)
  --max-chars int    Cap on context characters (context only)

Examples:
  ragindex server
  ragindex index ./exports
  ragindex search how do I reset my password
  ragindex search --top-k 3 --threshold 0.3 --output json "refund policy"
  ragindex context --preamble "Answer briefly." refund policy
  ragindex datasets --documents
  ragindex remove file_3f2a9c0d1e2b4a5c
  ragindex watch add /path/to/exports`)
}
