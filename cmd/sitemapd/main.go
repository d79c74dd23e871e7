package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"sitemapd/internal/sitemapd"
)

const (
	envPrefix         = "SITEMAPD"
	defaultConfigPath = "/sitemapd.yaml"
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "sitemapd",
		Short:        "Serve a cached sitemap.xml merged from configured sources",
		SilenceUsage: true,
		RunE:         runServe,
	}

	root.PersistentFlags().String("config", defaultConfigPath, "path to sitemapd.yaml")
	root.PersistentFlags().String("log-level", "", "override logging.level")

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log-level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(
		&cobra.Command{Use: "serve", Short: "Run the HTTP server (default)", RunE: runServe},
		newRenderCmd(),
		newPagesCmd(),
	)
	return root
}

// loadConfig reads the config file and builds its logger.
func loadConfig() (sitemapd.Config, *zap.Logger, error) {
	path := viper.GetString("config")
	cfg, err := sitemapd.LoadConfig(path)
	if err != nil {
		return sitemapd.Config{}, nil, fmt.Errorf("load config %s: %w", path, err)
	}
	level := cfg.Logging.Level
	if v := viper.GetString("log-level"); v != "" {
		level = v
	}
	log, err := sitemapd.NewLogger(level, cfg.Logging.Development)
	if err != nil {
		return sitemapd.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	svc, err := sitemapd.NewService(cfg, log)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Warn("closing service", zap.Error(err))
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           svc.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				log.Info("SIGHUP received, invalidating cached sitemap")
				svc.Coordinator().Invalidate()
			}
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("sitemapd listening", zap.String("addr", addr), zap.String("path", cfg.Server.Path))
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
	select {
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	default:
		return nil
	}
}
