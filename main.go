package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ollama-chat/internal/analyzer"
	"ollama-chat/internal/chat"
	"ollama-chat/internal/commands"
	"ollama-chat/internal/config"
	"ollama-chat/internal/crawler"
	"ollama-chat/internal/history"
	"ollama-chat/internal/logging"
	"ollama-chat/internal/ollama"
	"ollama-chat/internal/search"
	"ollama-chat/internal/searxng"
	"ollama-chat/internal/terminal"
	"ollama-chat/internal/ui"
)

// flags that do not map one to one onto a config key
type cliFlags struct {
	configPath   string
	noSearch     bool
	hideThinking bool
	verbose      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f cliFlags
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "ollama-chat",
		Short:         "Chat with a local Ollama model, with optional web search",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), v, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.configPath, "config", "", "path to config.toml")
	flags.String("model", "", "main Ollama model")
	flags.String("search-model", "", "Ollama model that decides when to search")
	flags.BoolVar(&f.noSearch, "no-search", false, "disable web search")
	flags.BoolVar(&f.hideThinking, "hide-thinking", false, "hide the model's thinking")
	flags.BoolVar(&f.verbose, "verbose", false, "log at debug level")

	// Empty flag values must not shadow the config file
	cmd.PreRunE = func(cmd *cobra.Command, _ []string) error {
		if flags.Changed("model") {
			if err := v.BindPFlag("model_settings.main_model", flags.Lookup("model")); err != nil {
				return err
			}
		}
		if flags.Changed("search-model") {
			if err := v.BindPFlag("model_settings.search_model", flags.Lookup("search-model")); err != nil {
				return err
			}
		}
		return nil
	}

	return cmd
}

func run(ctx context.Context, v *viper.Viper, f cliFlags) error {
	cfg, err := config.Load(v, f.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return err
	}
	if f.noSearch {
		cfg.Search.Enabled = false
	}
	if f.hideThinking {
		cfg.Display.ShowThinking = false
	}
	if f.verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return err
	}

	log, logCloser, err := logging.New(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging error: %v\n", err)
		return err
	}
	defer logCloser.Close()

	display := ui.NewDisplay(os.Stdout, ui.Options{ShowThinking: cfg.Display.ShowThinking})
	ollamaClient := ollama.NewClient(cfg.Model.OllamaURL, cfg.Model.Timeout)

	if err := checkOllama(ctx, ollamaClient, cfg, display); err != nil {
		log.WithError(err).Error("startup check failed")
		return err
	}

	var searchClient *searxng.Client
	if cfg.Search.Enabled {
		searchClient = searxng.NewClient(cfg.Search.SearXNGURL, cfg.Search.SearchTimeout, cfg.Search.UserAgent)
		// SearXNG health check (non-fatal)
		if err := searchClient.HealthCheck(ctx); err != nil {
			log.WithError(err).Warn("searxng unavailable, search disabled")
			display.Warning(fmt.Sprintf("SearXNG check failed: %v", err))
			display.Hint("Web search is disabled for this session. Start SearXNG or use --no-search.")
			cfg.Search.Enabled = false
		}
	}

	store, err := history.Open(ctx, cfg.History.DBPath)
	if err != nil {
		display.Error(err)
		log.WithError(err).Error("failed to open history")
		return err
	}
	defer store.Close()

	mainSettings := ollama.Settings{
		Model:     cfg.Model.MainModel,
		Think:     cfg.Model.MainThinking,
		NumCtx:    cfg.Model.NumCtx,
		KeepAlive: cfg.Model.KeepAlive,
	}
	searchSettings := ollama.Settings{
		Model:     cfg.Model.SearchModel,
		Think:     cfg.Model.SearchThinking,
		NumCtx:    cfg.Model.NumCtx,
		KeepAlive: cfg.Model.KeepAlive,
	}

	loaded := []ollama.Settings{mainSettings}
	if cfg.Search.Enabled && searchSettings.Model != mainSettings.Model {
		loaded = append(loaded, searchSettings)
	}
	warmUp(ctx, ollamaClient, log, loaded)

	var shutdownOnce sync.Once
	shutdown := func() {
		shutdownOnce.Do(func() { unload(ollamaClient, log, loaded) })
	}
	defer shutdown()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-sigChan
		log.WithField("signal", sig.String()).Info("shutting down")
		display.Info("\nShutting down gracefully...")
		cancel()
		shutdown()
		store.Close()
		os.Exit(0)
	}()

	var decider chat.Decider
	var searcher chat.Searcher
	if cfg.Search.Enabled {
		decider = analyzer.NewBroker(ollamaClient, searchSettings, log)
		fetcher := crawler.NewCrawler(cfg.Search.CrawlTimeout, cfg.Search.MaxCrawlers, cfg.Search.MaxContentSize, cfg.Search.UserAgent)
		searcher = search.NewEngine(searchClient, fetcher)
	}

	orch := chat.New(store, decider, searcher, ollamaClient, display, log, chat.Options{
		Main:             mainSettings,
		InitialContext:   cfg.Model.InitialContext,
		Instructions:     cfg.Model.SystemInstructions,
		Profile:          cfg.User.Profile,
		SearchEnabled:    cfg.Search.Enabled,
		MaxResults:       cfg.Search.MaxResults,
		ProgressInterval: cfg.RefreshInterval(),
	})
	registry := commands.NewRegistry(orch, display)

	display.Welcome(cfg.Model.MainModel, cfg.Model.SearchModel, cfg.Search.Enabled)
	if cfg.History.StartupList > 0 {
		if recent, err := orch.List(ctx, cfg.History.StartupList); err != nil {
			display.Warning(fmt.Sprintf("Failed to load history: %v", err))
		} else if len(recent) > 0 {
			display.SessionTable(recent)
		}
	}

	interactive := terminal.IsTerminal(os.Stdin)
	reader := terminal.NewReader(os.Stdin)

	// Main conversation loop
	for {
		if interactive {
			display.Prompt()
		}
		line, err := reader.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.WithError(err).Error("failed to read input")
			}
			break
		}

		if commands.IsCommand(line) {
			err := registry.Execute(ctx, line)
			if errors.Is(err, commands.ErrExit) {
				break
			}
			if err != nil {
				display.Warning(err.Error())
			}
			continue
		}

		out, err := orch.Turn(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			display.Error(err)
			continue
		}
		if out.SessionID == 0 {
			continue
		}
		display.ReplyFinished(out.Reply, out.Notifications)
	}

	display.Goodbye()
	return nil
}

// checkOllama verifies that the service is up and the configured models exist
func checkOllama(ctx context.Context, client *ollama.Client, cfg *config.Config, display *ui.Display) error {
	if err := client.HealthCheck(ctx); err != nil {
		display.Error(err)
		display.Hint("Could not connect to Ollama. Is the service running?")
		display.Hint("Start it with: ollama serve")
		return err
	}

	names := []string{cfg.Model.MainModel}
	if cfg.Search.Enabled {
		names = append(names, cfg.Model.SearchModel)
	}

	installed, err := client.VerifyModels(ctx, names...)
	if err != nil {
		display.Error(err)
		if errors.Is(err, ollama.ErrModelNotFound) {
			if len(installed) > 0 {
				display.Hint("Available models:")
				for _, m := range installed {
					display.Hint("  - " + m)
				}
			}
			display.Hint("Run 'ollama list' to see installed models, or 'ollama pull <model>' to fetch one.")
		}
		return err
	}
	return nil
}

// warmUp loads each model in the background. Nobody waits on these
// goroutines; a slow or failed load only costs latency on the first turn.
func warmUp(ctx context.Context, client *ollama.Client, log logrus.FieldLogger, models []ollama.Settings) {
	for _, s := range models {
		go func(s ollama.Settings) {
			start := time.Now()
			if err := client.Warm(ctx, s); err != nil {
				log.WithError(err).WithField("model", s.Model).Debug("warm-up failed")
				return
			}
			log.WithFields(logrus.Fields{"model": s.Model, "took": time.Since(start)}).Debug("model warmed up")
		}(s)
	}
}

// unload evicts every model this process loaded, best effort
func unload(client *ollama.Client, log logrus.FieldLogger, models []ollama.Settings) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, s := range models {
		if err := client.Unload(ctx, s.Model); err != nil {
			log.WithError(err).WithField("model", s.Model).Warn("failed to unload model")
			continue
		}
		log.WithField("model", s.Model).Info("model unloaded")
	}
}
