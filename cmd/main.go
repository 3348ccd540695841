// Package main - the service gateway launcher.
//
// Resolves configuration from --config, the GATEWAY_CONFIG environment
// variable, or built-in defaults, then runs the gateway until SIGINT or
// SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/relayforge/service-gateway/internal/config"
	"github.com/relayforge/service-gateway/internal/gateway"
)

const shutdownGrace = 10 * time.Second

func main() {
	var (
		configFlag string
		portFlag   int
		debugFlag  bool
	)
	flag.StringVar(&configFlag, "config", "", "path to the gateway config file")
	flag.IntVar(&portFlag, "port", 0, "listen port (overrides the config file)")
	flag.BoolVar(&debugFlag, "debug", false, "enable debug logging")
	flag.Parse()

	// .env is optional; variables already set in the environment win.
	_ = godotenv.Load()

	setupLogging(debugFlag)

	cfg, err := loadConfig(configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	// Flag beats environment beats config file.
	if portFlag <= 0 {
		if p, perr := strconv.Atoi(os.Getenv("GATEWAY_PORT")); perr == nil {
			portFlag = p
		}
	}
	if portFlag > 0 {
		cfg.Server.Port = portFlag
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid config: %v\n", err)
		os.Exit(1)
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Start blocks on ListenAndServe.
	gwErrCh := make(chan error, 1)
	go func() {
		gwErrCh <- gw.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := gw.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Shutdown failed")
			os.Exit(1)
		}
		if err := <-gwErrCh; err != nil {
			log.Error().Err(err).Msg("Gateway exited with error")
			os.Exit(1)
		}
	case err := <-gwErrCh:
		if err != nil {
			log.Error().Err(err).Msg("Gateway failed")
			os.Exit(1)
		}
	}
}

// loadConfig resolves the config source: the --config flag, then
// GATEWAY_CONFIG, then built-in defaults when neither is set.
func loadConfig(flagPath string) (*config.Config, error) {
	path := flagPath
	if path == "" {
		path = os.Getenv("GATEWAY_CONFIG")
	}
	if path == "" {
		log.Info().Msg("No config file given, using defaults")
		return config.Default(), nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("path", path).
		Int("services", len(cfg.Services)).
		Msg("Config loaded")
	return cfg, nil
}

// setupLogging configures the global zerolog output: human-readable
// console format on a terminal, JSON lines otherwise.
func setupLogging(debug bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	// net/http logs server errors through the standard logger; route
	// them into zerolog so nothing bypasses the structured stream.
	stdlog.SetOutput(log.Logger)
}
