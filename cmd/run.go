package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hireloop/interview-intake/internal/ai/gemini"
	"github.com/hireloop/interview-intake/internal/api"
	"github.com/hireloop/interview-intake/internal/elevenlabs"
	"github.com/hireloop/interview-intake/internal/events"
	"github.com/hireloop/interview-intake/internal/extract"
	"github.com/hireloop/interview-intake/internal/filestore"
	"github.com/hireloop/interview-intake/internal/ingest"
	"github.com/hireloop/interview-intake/internal/logger"
	"github.com/hireloop/interview-intake/internal/poison"
	"github.com/hireloop/interview-intake/internal/poller"
	"github.com/hireloop/interview-intake/internal/reconcile"
	"github.com/hireloop/interview-intake/internal/secrets"
	"github.com/hireloop/interview-intake/internal/storage"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	defaultListen       = ":8090"
	defaultDataDir      = "data"
	shutdownGracePeriod = 10 * time.Second
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the interview-intake poller and ops server",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("listen", "", "ops server listen address")
	viper.BindPFlag("server.listen", runCmd.Flags().Lookup("listen"))
}

// run is the main command for the cli.
func run(_ *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the interview-intake", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	if config == nil {
		logger.Fatal("config is required")
	}

	if config.ElevenLabs == nil || config.ElevenLabs.AgentID == "" {
		logger.Fatal("agent id is required under elevenlabs.agent-id to poll conversations")
	}

	apiKey, err := resolveAPIKey(config)
	if err != nil {
		logger.Fatal(
			"loading elevenlabs api key",
			zap.Error(err),
			zap.String("hint", "set ELEVENLABS_API_KEY_FILE environment variable or the 'elevenlabs.api-key-file' key in the configuration file"),
		)
	}

	deps, err := buildPipeline(ctx, config, apiKey, logger)
	if err != nil {
		logger.Fatal("building the pipeline", zap.Error(err))
	}
	defer deps.store.Close()

	if err := deps.poller.Start(ctx); err != nil {
		logger.Fatal("starting the poller", zap.Error(err))
	}

	listen := defaultListen
	if config.Server != nil && config.Server.Listen != "" {
		listen = config.Server.Listen
	}

	ops := api.NewServer(
		config.ElevenLabs.AgentID,
		deps.store,
		deps.poller,
		deps.poison,
		deps.reconciler,
		deps.broadcaster,
		logger,
	)

	srv := &http.Server{
		Addr:              listen,
		Handler:           ops.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("ops server listening", zap.String("addr", listen))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down", zap.String("reason", "signal received"))
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server failed", zap.Error(err))
		}
	}

	deps.poller.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ops server shutdown", zap.Error(err))
	}

	logger.Info("stopped")
}

// pipeline holds everything run and sync commands need once wired.
type pipeline struct {
	store       *storage.Store
	client      *elevenlabs.Client
	ingestor    *ingest.Ingestor
	poison      *poison.Handler
	poller      *poller.Poller
	reconciler  *reconcile.Reconciler
	broadcaster *events.Broadcaster
}

func buildPipeline(ctx context.Context, config *Config, apiKey string, logger *zap.Logger) (*pipeline, error) {
	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = defaultDataDir
	}

	store, err := storage.Open(dataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	files, err := filestore.NewLocal(filepath.Join(dataDir, "files"))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening file store: %w", err)
	}

	client := elevenlabs.New(logger, apiKey)

	opts, err := extractOptions(ctx, config, logger)
	if err != nil {
		logger.Warn("skipping ai rescue", zap.Error(err))
		opts = nil
	}
	extractor := extract.New(logger, opts...)

	broadcaster := events.NewBroadcaster()
	ingestor := ingest.New(store, extractor, files, client, broadcaster, logger)
	handler := poison.NewHandler(poison.NewMemoryStore())

	pollCfg := poller.Config{AgentID: config.ElevenLabs.AgentID}
	if config.Poll != nil {
		pollCfg.Interval = config.Poll.Interval
		pollCfg.Warmup = config.Poll.Warmup
	}

	p := poller.New(pollCfg, client, store, ingestor, handler, broadcaster, logger)
	r := reconcile.New(config.ElevenLabs.AgentID, client, store, ingestor, broadcaster, logger)

	return &pipeline{
		store:       store,
		client:      client,
		ingestor:    ingestor,
		poison:      handler,
		poller:      p,
		reconciler:  r,
		broadcaster: broadcaster,
	}, nil
}

func extractOptions(ctx context.Context, config *Config, logger *zap.Logger) ([]extract.Option, error) {
	if config.AI == nil || !config.AI.Enabled {
		return nil, nil
	}

	if config.AI.Gemini == nil {
		return nil, errors.New("gemini configuration is required when ai rescue is enabled")
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name: "gemini api key",
		File: config.AI.Gemini.APIKeyFile,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY_FILE)", err)
	}

	generator, err := gemini.NewGenerator(ctx, apiKey, config.AI.Gemini.Model)
	if err != nil {
		return nil, err
	}

	rescueLogger := logger.With(
		zap.String("provider", "gemini"),
		zap.String("model", generator.Model()),
	)

	return []extract.Option{
		extract.WithRescue(
			extract.NewNameRescue(generator, rescueLogger),
			extract.NewEmailRescue(generator, rescueLogger),
		),
	}, nil
}

func resolveAPIKey(config *Config) (string, error) {
	if config == nil {
		return "", errors.New("config is required")
	}

	keyFile := ""
	if config.ElevenLabs != nil {
		keyFile = strings.TrimSpace(config.ElevenLabs.APIKeyFile)
	}
	if keyFile == "" {
		keyFile = strings.TrimSpace(viper.GetString("elevenlabs.api-key-file"))
	}

	if keyFile == "" {
		return "", errors.New("elevenlabs api key file is not configured")
	}

	return secrets.Load(secrets.Source{
		Name: "elevenlabs api key",
		File: keyFile,
	})
}
