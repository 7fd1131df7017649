// Command covclaimd runs the covenant-claim daemon: it watches an
// Elements/Liquid chain backend for lockup transactions matching
// registered covenants and broadcasts their claim spend. Generalized
// from chantools' multi-command cobra tool (cmd/chantools/root.go) to
// a single long-running "serve" daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vulpemcov/covclaimd/api"
	"github.com/vulpemcov/covclaimd/chain"
	"github.com/vulpemcov/covclaimd/chain/elementsrpc"
	"github.com/vulpemcov/covclaimd/chain/esplora"
	"github.com/vulpemcov/covclaimd/claimer"
	"github.com/vulpemcov/covclaimd/config"
	"github.com/vulpemcov/covclaimd/constructor"
	"github.com/vulpemcov/covclaimd/db"
	"github.com/vulpemcov/covclaimd/notify"
)

const version = "0.1.0"

var logFile string

var rootCmd = &cobra.Command{
	Use:     "covclaimd",
	Short:   "covclaimd watches for and claims Elements/Liquid covenant outputs",
	Version: version,
	DisableAutoGenTag: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(
		&logFile, "logfile", "./results/covclaimd.log",
		"file to write the rotating daemon log to",
	)
	rootCmd.AddCommand(newServeCommand())

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the intake API and the claim watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if err := setupLogging(logFile, string(cfg.ChainBackend)); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	log.Infof("covclaimd version %s starting, network=%s backend=%s",
		version, cfg.Network.Name, cfg.ChainBackend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect chain backend: %w", err)
	}
	defer backend.Close()

	publisher, err := openPublisher(cfg)
	if err != nil {
		return fmt.Errorf("connect notification sink: %w", err)
	}
	defer publisher.Close()

	ctor := constructor.New(pool, backend, publisher, cfg.Network)
	watcher := claimer.New(pool, backend, ctor, cfg.SweepTime, cfg.SweepInterval)
	watcher.Start(ctx)

	router := &api.Router{Pool: pool, Network: cfg.Network}
	engine := api.NewEngine(router)
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	log.Infof("listening on %s", addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- engine.Run(addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case sig := <-sigCh:
		log.Infof("received signal %s, shutting down", sig)
		return nil
	}
}

func openBackend(ctx context.Context, cfg *config.Config) (chain.Backend, error) {
	switch cfg.ChainBackend {
	case config.ChainBackendElements:
		return elementsrpc.Connect(ctx, elementsrpc.Config{
			Host:                cfg.ElementsHost,
			CookieFilePath:      cfg.ElementsCookie,
			ZMQRawTxEndpoint:    cfg.ElementsZMQTx,
			ZMQRawBlockEndpoint: cfg.ElementsZMQBlock,
		})
	case config.ChainBackendEsplora:
		return esplora.Connect(ctx, esplora.Config{
			BaseURL:           cfg.EsploraEndpoint,
			BoltzBroadcastURL: cfg.BoltzEndpoint,
			RequestsPerSecond: cfg.EsploraMaxRequestsPerSec,
			PollInterval:      cfg.EsploraPollInterval,
		})
	default:
		return nil, fmt.Errorf("unknown chain backend %q", cfg.ChainBackend)
	}
}

func openPublisher(cfg *config.Config) (notify.Publisher, error) {
	if cfg.KafkaBrokers == "" {
		return notify.Noop(), nil
	}
	return notify.NewKafka(notify.Config{
		Brokers:  strings.Split(cfg.KafkaBrokers, ","),
		Topic:    cfg.KafkaTopic,
		Username: cfg.KafkaUsername,
		Password: cfg.KafkaPassword,
	})
}
