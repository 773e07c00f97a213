package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/fleet-tools/botfleet/pkg/botworker"
	"github.com/fleet-tools/botfleet/pkg/chat"
	"github.com/fleet-tools/botfleet/pkg/logging"
	"github.com/fleet-tools/botfleet/pkg/store"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	StorePath   string `long:"store" description:"path to the bot store"`
	HistoryPath string `long:"history" description:"path to the chat history file"`
	BaseURL     string `long:"base-url" description:"OpenAI-compatible completion endpoint"`
	LogLevel    string `long:"log-level" description:"log level: debug, info, warn, error"`
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	args, err := parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	if len(args) != 1 {
		fmt.Println("Usage: botworker [flags] <slot>")
		os.Exit(1)
	}

	slot, err := strconv.Atoi(args[0])
	if err != nil || slot < 0 {
		fmt.Println("Error: slot must be a non-negative number")
		os.Exit(1)
	}

	if opts.StorePath == "" {
		opts.StorePath = store.DefaultPath
	}
	if opts.LogLevel == "" {
		opts.LogLevel = "info"
	}

	logger := logging.NewZapLogger(opts.LogLevel)
	prefix := fmt.Sprintf("bot %d: ", slot)
	botLogger := logging.NewLogger(prefix, logging.Funcs(logger))

	// The worker re-reads its own record by slot index; the supervisor
	// passes nothing else.
	botStore := store.NewStore(opts.StorePath, botLogger)
	config, err := botStore.Record(slot)
	if err != nil {
		fmt.Printf("Error loading bot configuration: %v\n", err)
		os.Exit(1)
	}

	chatManager := chat.NewManager(chat.ManagerOptions{
		BaseURL:     opts.BaseURL,
		HistoryPath: opts.HistoryPath,
	}, slot, config, botLogger)

	bot, err := botworker.New(slot, config, chatManager, botLogger)
	if err != nil {
		fmt.Printf("Error creating bot: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bot.Run(ctx); err != nil {
		fmt.Printf("Error running bot: %v\n", err)
		os.Exit(1)
	}
}
