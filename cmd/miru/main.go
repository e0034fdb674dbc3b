// Package main is the Miru CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/miru/internal/cli"
	"github.com/hyperjump/miru/internal/config"
	"github.com/hyperjump/miru/internal/embedding"
	"github.com/hyperjump/miru/internal/index"
	"github.com/hyperjump/miru/internal/models"
	"github.com/hyperjump/miru/internal/server"
	"github.com/hyperjump/miru/internal/watcher"
	"github.com/hyperjump/miru/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/miru/config.yaml"
	defaultServerURL  = "http://localhost:5000"
)

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used, so that "miru server" from the project dir uses the project's
// config. Returns the config and the path that was actually loaded.
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
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			cfg, loadErr := config.Load("")
			return cfg, "", loadErr
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
	case "index":
		runIndex()
	case "search":
		runSearch()
	case "check":
		runCheck()
	case "comment":
		runComment()
	case "status":
		runStatus()
	case "watch":
		runWatch()
	case "version", "--version", "-v":
		fmt.Printf("miru version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (watch events, embedding batches, etc.)")
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
	)

	embedder, manager, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer embedder.Close()

	watchOpts := []watcher.WatcherOption{
		watcher.WithDebounce(time.Duration(cfg.Watch.DebounceMillis) * time.Millisecond),
	}
	if debugMode {
		watchOpts = append(watchOpts, watcher.WithLogger(logger))
	}
	watchSvc := watcher.NewWatcher(
		cfg.Watch.Folders,
		cfg.Index.Extensions,
		func(folder string) {
			if _, err := manager.BuildOrUpdate(context.Background(), folder); err != nil {
				logger.Warn("watch reindex failed", zap.String("folder", folder), zap.Error(err))
			}
		},
		watchOpts...,
	)
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := watchSvc.Start(watchCtx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	for _, folder := range watchSvc.Folders() {
		if _, err := manager.BuildOrUpdate(context.Background(), folder); err != nil {
			logger.Warn("initial index of watched folder failed",
				zap.String("folder", folder), zap.Error(err))
		}
	}

	srv := server.NewServer(manager, &cfg.Server, logger, server.WithWatcher(watchSvc))
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = index directly without a server)")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: miru index [flags] <folder>")
		os.Exit(1)
	}
	folder, _ := filepath.Abs(fs.Arg(0))

	if *serverURL != "" {
		var summary models.IndexSummary
		if err := postJSON(*serverURL+"/api/v1/index", map[string]string{"folder": folder}, &summary); err != nil {
			fmt.Fprintf(os.Stderr, "Indexing failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Indexed %s: %d added, %d total\n", folder, summary.Added, summary.Total)
		return
	}

	manager, closeFn, err := directManager(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer closeFn()
	summary, err := manager.BuildOrUpdate(context.Background(), folder)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Indexing failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Indexed %s: %d added, %d total\n", folder, summary.Added, summary.Total)
}

// buildSearchQuery joins all positional args with spaces so multi-word
// queries work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the
// query to the front of the slice so that flag.Parse() sees them. Go's flag
// package stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
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

func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: miru search -folder <folder> [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  miru search -folder ~/Pictures a red car at sunset
  miru search -folder ~/Pictures "a red car at sunset"   # same as above
  miru search -folder ~/Pictures -limit 24 beach
  miru search -folder ~/Pictures -sort time recent snow
  miru search -folder ~/Pictures -output json cat        # structured JSON
`)
}

func runSearch() {
	searchArgs := searchArgsReorder(os.Args[2:])

	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = search directly without a server)")
	folder := fs.String("folder", "", "indexed folder to search in")
	limit := fs.Int("limit", 0, "number of results (out-of-range values fall back to the configured default)")
	sortBy := fs.String("sort", "similarity", "result order: similarity or time")
	outputFormat := fs.String("output", "text", "output format: text (human-readable) or json (parseable)")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgs)

	if *folder == "" || fs.NArg() < 1 {
		printSearchUsage(fs)
		os.Exit(1)
	}
	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	format := cli.OutputText
	switch *outputFormat {
	case "json":
		format = cli.OutputJSON
	case "text":
	default:
		fmt.Printf("Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
	absFolder, _ := filepath.Abs(*folder)
	request := models.SearchRequest{
		Folder: absFolder,
		Query:  queryStr,
		Limit:  *limit,
		SortBy: models.SortOrder(*sortBy),
	}

	var response models.SearchResponse
	if *serverURL != "" {
		if err := postJSON(*serverURL+"/api/v1/search", request, &response); err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		manager, closeFn, err := directManager(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer closeFn()
		results, err := manager.SearchText(context.Background(), request.Folder, request.Query,
			index.SearchOptions{Limit: request.Limit, SortBy: request.SortBy})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
		response = models.SearchResponse{Results: results, Query: request.Query}
	}
	if err := cli.WriteSearchResults(os.Stdout, &response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runCheck() {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = check directly without a server)")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: miru check [flags] <folder>")
		os.Exit(1)
	}
	folder, _ := filepath.Abs(fs.Arg(0))

	indexed := false
	if *serverURL != "" {
		var out struct {
			Indexed bool `json:"indexed"`
		}
		if err := postJSON(*serverURL+"/api/v1/check_index", map[string]string{"folder": folder}, &out); err != nil {
			fmt.Fprintf(os.Stderr, "Check failed: %v\n", err)
			os.Exit(1)
		}
		indexed = out.Indexed
	} else {
		manager, closeFn, err := directManager(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer closeFn()
		indexed = manager.IsIndexed(folder)
	}
	if indexed {
		fmt.Printf("%s is indexed\n", folder)
	} else {
		fmt.Printf("%s is not indexed\n", folder)
		os.Exit(1)
	}
}

func runComment() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: miru comment <add|list|images> [args]")
		fmt.Println("  miru comment add <folder> <image> <text...>  Add a comment to an image")
		fmt.Println("  miru comment list <folder> <image>           List an image's comments")
		fmt.Println("  miru comment images <folder>                 List commented images")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("comment", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(os.Args[3:])

	switch sub {
	case "add":
		if fs.NArg() < 3 {
			fmt.Println("Usage: miru comment add <folder> <image> <text...>")
			os.Exit(1)
		}
		folder, _ := filepath.Abs(fs.Arg(0))
		image, _ := filepath.Abs(fs.Arg(1))
		text := buildSearchQuery(fs.Args()[2:])
		var out struct {
			Comments []models.Comment `json:"comments"`
		}
		err := postJSON(*serverURL+"/api/v1/comments",
			map[string]string{"folder": folder, "path": image, "comment": text}, &out)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Comment failed: %v\n", err)
			os.Exit(1)
		}
		cli.WriteComments(os.Stdout, image, out.Comments)
	case "list":
		if fs.NArg() < 2 {
			fmt.Println("Usage: miru comment list <folder> <image>")
			os.Exit(1)
		}
		folder, _ := filepath.Abs(fs.Arg(0))
		image, _ := filepath.Abs(fs.Arg(1))
		var out struct {
			Comments []models.Comment `json:"comments"`
		}
		if err := getJSON(*serverURL+"/api/v1/comments?folder="+url.QueryEscape(folder)+
			"&path="+url.QueryEscape(image), &out); err != nil {
			fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
			os.Exit(1)
		}
		cli.WriteComments(os.Stdout, image, out.Comments)
	case "images":
		if fs.NArg() < 1 {
			fmt.Println("Usage: miru comment images <folder>")
			os.Exit(1)
		}
		folder, _ := filepath.Abs(fs.Arg(0))
		var out struct {
			Images []models.AnnotatedImage `json:"images"`
		}
		if err := postJSON(*serverURL+"/api/v1/commented_images",
			map[string]string{"folder": folder}, &out); err != nil {
			fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
			os.Exit(1)
		}
		for _, img := range out.Images {
			fmt.Printf("%s  (%d comments, latest: %s)\n", img.Path, img.Count, img.Latest)
		}
	default:
		fmt.Printf("Unknown comment subcommand: %s\n", sub)
		os.Exit(1)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var out struct {
		Folders      int      `json:"folders"`
		Images       int      `json:"images"`
		WatchFolders []string `json:"watch_folders"`
	}
	if err := getJSON(*serverURL+"/api/v1/status", &out); err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	if *outputFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return
	}
	fmt.Printf("Indexed folders: %d\n", out.Folders)
	fmt.Printf("Indexed images:  %d\n", out.Images)
	if len(out.WatchFolders) > 0 {
		fmt.Println("Watched folders:")
		for _, f := range out.WatchFolders {
			fmt.Printf("  %s\n", f)
		}
	}
}

func runWatch() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: miru watch <add|remove|list> [args]")
		fmt.Println("  miru watch add <folder>     Watch a folder and keep its index current")
		fmt.Println("  miru watch remove <folder>  Stop watching a folder")
		fmt.Println("  miru watch list             List watched folders")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(os.Args[3:])

	switch sub {
	case "add":
		if fs.NArg() < 1 {
			fmt.Println("Usage: miru watch add <folder>")
			os.Exit(1)
		}
		folder, _ := filepath.Abs(fs.Arg(0))
		var out struct {
			Folder string `json:"folder"`
			Status string `json:"status"`
		}
		if err := postJSONExpect(*serverURL+"/api/v1/watch/folders",
			map[string]string{"folder": folder}, &out, http.StatusCreated); err != nil {
			fmt.Fprintf(os.Stderr, "Watch add failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Watching %s\n", out.Folder)
	case "remove":
		if fs.NArg() < 1 {
			fmt.Println("Usage: miru watch remove <folder>")
			os.Exit(1)
		}
		folder, _ := filepath.Abs(fs.Arg(0))
		req, err := http.NewRequest(http.MethodDelete,
			*serverURL+"/api/v1/watch/folders?folder="+url.QueryEscape(folder), nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Watch remove failed: %v\n", err)
			os.Exit(1)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Watch remove failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			fmt.Fprintf(os.Stderr, "Watch remove failed: server returned %d: %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		fmt.Printf("Stopped watching %s\n", folder)
	case "list":
		var out struct {
			Folders []string `json:"folders"`
		}
		if err := getJSON(*serverURL+"/api/v1/watch/folders", &out); err != nil {
			fmt.Fprintf(os.Stderr, "Watch list failed: %v\n", err)
			os.Exit(1)
		}
		if len(out.Folders) == 0 {
			fmt.Println("No watched folders")
			return
		}
		for _, f := range out.Folders {
			fmt.Println(f)
		}
	default:
		fmt.Printf("Unknown watch subcommand: %s\n", sub)
		os.Exit(1)
	}
}

func postJSON(endpoint string, request interface{}, response interface{}) error {
	return postJSONExpect(endpoint, request, response, http.StatusOK)
}

func postJSONExpect(endpoint string, request interface{}, response interface{}, wantStatus int) error {
	body, err := json.Marshal(request)
	if err != nil {
		return err
	}
	resp, err := http.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(response)
}

func getJSON(endpoint string, response interface{}) error {
	resp, err := http.Get(endpoint)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(response)
}

// initializeComponents creates the embedder and index manager. When the CLIP
// provider cannot start (no model, no onnxruntime), it falls back to the mock
// embedder so the server still runs for development.
func initializeComponents(cfg *config.Config, logger *zap.Logger) (embedding.Embedder, *index.Manager, error) {
	opts := embedding.Options{
		ImageModelPath: cfg.Embedding.ImageModelPath,
		TextModelPath:  cfg.Embedding.TextModelPath,
		Dimensions:     cfg.Embedding.Dimensions,
		MaxTokens:      cfg.Embedding.MaxTokens,
	}
	embedder, err := embedding.NewEmbedder(cfg.Embedding.Provider, opts)
	if err != nil {
		logger.Warn("embedding provider unavailable, using mock embedder", zap.Error(err))
		embedder = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	}
	manager := index.NewManager(embedder, cfg, index.WithLogger(logger))
	return embedder, manager, nil
}

// directManager builds a manager for serverless commands.
func directManager(configPath string) (*index.Manager, func(), error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return nil, nil, err
	}
	embedder, manager, err := initializeComponents(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		_ = embedder.Close()
		_ = logger.Sync()
	}
	return manager, closeFn, nil
}

func printUsage() {
	fmt.Println(`miru - Natural-language image search

Usage:
  miru server [flags]                      Start the HTTP server
  miru index [flags] <folder>              Build or update a folder's index
  miru search -folder <folder> <query>     Search a folder by text
  miru check [flags] <folder>              Report whether a folder is indexed
  miru comment <add|list|images> [args]    Manage image comments
  miru watch <add|remove|list> [args]      Manage watched folders on a running server
  miru status [flags]                      Show index and watch status of a running server
  miru version                             Show version
  miru help                                Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/miru/config.yaml)
  --debug            Enable debug logging (watch events, embedding batches, etc.)

Search Flags:
  --config string    Config file path (for direct mode)
  --server string    Server URL (default: http://localhost:5000). Use empty (--server "") to search without a server.
  --folder string    Indexed folder to search in (required)
  --limit int        Number of results (out-of-range values fall back to the configured default)
  --sort string      Result order: similarity or time (default: similarity)
  --output string    Output format: text or json (default: text)

Index / Check Flags:
  --config string    Config file path (for direct mode)
  --server string    Server URL (default: http://localhost:5000). Use empty (--server "") for direct mode.

Comment / Watch / Status Flags:
  --server string    Server URL (default: http://localhost:5000)

Examples:
  miru server
  miru index ~/Pictures
  miru search -folder ~/Pictures a red car at sunset
  miru search -folder ~/Pictures -output json cat
  miru check ~/Pictures
  miru comment add ~/Pictures ~/Pictures/beach.jpg best day of the trip
  miru comment images ~/Pictures
  miru watch add ~/Pictures
  miru status`)
}
