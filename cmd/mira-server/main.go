package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mira/internal/avatar"
	"mira/internal/chat"
	"mira/internal/config"
	"mira/internal/llm"
	"mira/internal/logging"
	"mira/internal/observability"
	httpserver "mira/internal/server/http"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		cfgFile string
		debug   bool
	)

	cmd := &cobra.Command{
		Use:   "mira-server",
		Short: "Clinician-avatar chat service backed by a local inference server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return err
			}
			return run(cfg, debug)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVar(&cfgFile, "config", "", "config file (default mira-config.json in $HOME or .)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "debug mode")

	return cmd
}

func loadConfig(cfgFile string) (config.Config, error) {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("mira-config")
		v.SetConfigType("json")
		v.AddConfigPath("$HOME")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("MIRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return config.Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	return config.Load(v)
}

func run(cfg config.Config, debug bool) error {
	logger := logging.NewComponentLogger("Server")

	catalog := avatar.LoadCatalog(cfg.Avatar.Dir, logging.NewComponentLogger("AvatarCatalog"))
	metrics := observability.MustNewMetrics(nil)
	client := llm.NewClient(cfg.Ollama.BaseURL, logging.NewComponentLogger("OllamaClient"))
	store := chat.NewStore(cfg.NeutralAffect, cfg.Avatar.DefaultExpression, logging.NewComponentLogger("SessionStore"))

	orchestrator := chat.NewOrchestrator(client, store, catalog, chat.PipelineConfig{
		TextModel:         cfg.Ollama.TextModel,
		VisionModel:       cfg.Ollama.VisionModel,
		AffectTimeout:     cfg.Timeouts.Affect,
		ReplyTimeout:      cfg.Timeouts.Reply,
		ExpressionTimeout: cfg.Timeouts.Expression,
		VisionTimeout:     cfg.Timeouts.Vision,
		DefaultExpression: cfg.Avatar.DefaultExpression,
		PersonaTemplate:   cfg.PersonaTemplate,
	}, logging.NewComponentLogger("Orchestrator"), metrics)

	handler := httpserver.NewChatHandler(orchestrator, cfg.Session.MaxAge, httpserver.HealthInfo{
		Expressions: catalog.Len(),
		TextModel:   cfg.Ollama.TextModel,
		VisionModel: cfg.Ollama.VisionModel,
	}, metrics, logging.NewComponentLogger("ChatHandler"))

	engine := httpserver.NewRouter(handler, httpserver.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		StaticDir:      cfg.Server.StaticDir,
		Debug:          debug,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := httpserver.NewServer(cfg.Server.Addr(), engine, logger)
	return server.Run(ctx)
}
