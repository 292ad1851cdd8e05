package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/toolbridge/toolbridge/internal/config"
	"github.com/toolbridge/toolbridge/internal/proxy"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: toolbridge <command> [flags]")
		fmt.Fprintln(os.Stderr, "Commands: serve")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		os.Exit(cmdServe())
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		fmt.Fprintln(os.Stderr, "Commands: serve")
		os.Exit(1)
	}
}

func cmdServe() int {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", "error", err)
	}

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfg := config.Load()

	fs.StringVar(&cfg.Host, "host", cfg.Host, "Bind host")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Listen port")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Enable verbose logging")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Dump raw requests and upstream bodies to stderr")
	fs.StringVar(&cfg.TargetBaseURL, "target", cfg.TargetBaseURL, "Upstream OpenAI-compatible base URL")
	fs.StringVar(&cfg.UpstreamAPIKey, "api-key", cfg.UpstreamAPIKey, "API key for upstream requests (overrides client Authorization)")
	fs.BoolVar(&cfg.NoStrict, "no-strict", cfg.NoStrict, "Disable strict schemas on outgoing tools")
	fs.BoolVar(&cfg.ForceToolChoice, "force-tool-choice", cfg.ForceToolChoice, "Set tool_choice=required when tools are present")
	fs.StringVar(&cfg.DumpFile, "dump-file", cfg.DumpFile, "Write the final outgoing messages and tools of each request to this file")
	fs.StringVar(&cfg.SettingsFile, "settings", cfg.SettingsFile, "Path to the replacement-rule settings file")
	fs.Parse(os.Args[2:])

	srv := proxy.New(cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	slog.Info("ToolBridge starting", "host", cfg.Host, "port", cfg.Port, "target", cfg.TargetBaseURL)
	if err := srv.ListenAndServe(); err != nil && err.Error() != "http: Server closed" {
		slog.Error("server error", "error", err)
		return 1
	}
	return 0
}
