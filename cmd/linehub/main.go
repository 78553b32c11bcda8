// linehub serves the multi-line messaging hub: the real-time gateway for
// operator consoles and the read-only HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/HMasataka/linehub/internal/app"
	"github.com/HMasataka/linehub/internal/config"
	"github.com/HMasataka/linehub/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		envFile    string
		host       string
		port       int
		logLevel   string
		logFormat  string
		storage    string
	)

	flagSet := pflag.NewFlagSet("linehub", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to a YAML or JSON config file")
	flagSet.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before environment overrides")
	flagSet.StringVar(&host, "host", "", "listen host (overrides config)")
	flagSet.IntVarP(&port, "port", "p", 0, "listen port (overrides config)")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	flagSet.StringVar(&logFormat, "log-format", "", "json, text or pretty")
	flagSet.StringVar(&storage, "storage", "", "storage driver: file, sqlite or redis")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		fmt.Fprintf(os.Stderr, "Usage: linehub [flags]\n\n%s", flagSet.FlagUsages())
		return nil
	}

	cfg, err := config.Load(config.LoadOptions{Path: configPath, EnvFile: envFile})
	if err != nil {
		return err
	}

	if flagSet.Changed("host") {
		cfg.Server.Host = host
	}
	if flagSet.Changed("port") {
		cfg.Server.Port = port
	}
	if flagSet.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if flagSet.Changed("log-format") {
		cfg.Logging.Format = logFormat
	}
	if flagSet.Changed("storage") {
		cfg.Storage.Driver = storage
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx, cfg, logging.New(cfg.Logging))
}
