package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/iamvkosarev/llm-chat-relay/config"
	"github.com/iamvkosarev/llm-chat-relay/internal/app"
	"github.com/iamvkosarev/llm-chat-relay/internal/console"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfgPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the config file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintln(flag.CommandLine.Output(), config.Usage())
	}
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	// stdout belongs to the conversation.
	logger := cfg.Log.NewLogger(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var input console.LineReader
	if console.IsTerminal(os.Stdin) {
		input = console.NewLinerReader(cfg.Chat.HistoryFile)
	} else {
		input = console.NewScannerReader(os.Stdin, os.Stdout)
	}

	err = app.RunChat(ctx, cfg, logger, input, os.Stdout)
	if closeErr := input.Close(); closeErr != nil {
		logger.Warn("failed to close input", "error", closeErr)
	}
	if err != nil {
		logger.Error("chat stopped", "error", err)
		os.Exit(1)
	}
}
