package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/fleet-tools/botfleet/pkg/fleet"
	"github.com/fleet-tools/botfleet/pkg/logging"
	"github.com/fleet-tools/botfleet/pkg/process"
	"github.com/fleet-tools/botfleet/pkg/processfile"
	"github.com/fleet-tools/botfleet/pkg/store"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	ConfigFile string `long:"config" description:"path to the supervisor YAML configuration file"`
	StorePath  string `long:"store" description:"path to the bot store (overrides configuration)"`
	Worker     string `long:"worker" description:"path to the bot worker executable (overrides configuration)"`
	LogLevel   string `long:"log-level" description:"log level: debug, info, warn, error (overrides configuration)"`
}

func usage() {
	fmt.Println("Usage:")
	fmt.Println("  fleetmaster [flags]        - Start continuous monitoring")
	fmt.Println("  fleetmaster [flags] run    - Start continuous monitoring")
	fmt.Println("  fleetmaster [flags] list   - List all bot configurations with status")
	fmt.Println("  fleetmaster [flags] help   - Show this help message")
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

	config, err := loadConfig(opts)
	if err != nil {
		fmt.Printf("Configuration loading failed: %v\n", err)
		os.Exit(1)
	}

	if len(args) > 1 {
		fmt.Println("Error: Too many arguments")
		fmt.Println("Use 'fleetmaster help' for usage information")
		os.Exit(1)
	}

	command := "run"
	if len(args) == 1 {
		command = args[0]
	}

	switch command {
	case "run":
		if err := runSupervisor(config); err != nil {
			fmt.Printf("Supervisor failed: %v\n", err)
			os.Exit(1)
		}
	case "list":
		if err := listBots(config); err != nil {
			fmt.Printf("Failed to list bots: %v\n", err)
			os.Exit(1)
		}
	case "help":
		usage()
	default:
		fmt.Printf("Error: '%s' is not a valid command\n", command)
		fmt.Println("Use 'fleetmaster help' for usage information")
		os.Exit(1)
	}
}

func loadConfig(opts flagOptions) (*fleet.Config, error) {
	var config *fleet.Config
	var err error

	if opts.ConfigFile != "" {
		config, err = fleet.LoadConfigFromFile(opts.ConfigFile)
		if err != nil {
			return nil, err
		}
	} else {
		config = fleet.DefaultConfig()
	}

	if opts.StorePath != "" {
		config.StorePath = opts.StorePath
	}
	if opts.Worker != "" {
		config.WorkerExecutable = opts.Worker
	}
	if opts.LogLevel != "" {
		config.LogLevel = opts.LogLevel
	}
	if config.WorkerExecutable == "" {
		config.WorkerExecutable = defaultWorkerExecutable()
	}

	if err := fleet.ValidateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

// defaultWorkerExecutable resolves a botworker binary installed next to
// the supervisor.
func defaultWorkerExecutable() string {
	name := "botworker"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}

	self, err := os.Executable()
	if err != nil {
		return name
	}
	return filepath.Join(filepath.Dir(self), name)
}

func runSupervisor(config *fleet.Config) error {
	logger := logging.NewZapLogger(config.LogLevel)

	botStore := store.NewStore(config.StorePath, logging.NewLogger("store: ", logging.Funcs(logger)))
	registry := fleet.NewRegistry()
	pidFiles := processfile.NewManager(config.PIDFileDirectory, logging.NewLogger("pidfile: ", logging.Funcs(logger)))

	supervisor := fleet.NewSupervisor(
		fleet.SupervisorOptions{
			WorkerExecutable: config.WorkerExecutable,
			PollInterval:     config.PollInterval,
			SettleDelay:      config.SettleDelay,
			GracefulTimeout:  config.GracefulTimeout,
		},
		botStore,
		registry,
		pidFiles,
		logging.NewLogger("supervisor: ", logging.Funcs(logger)),
	)

	logger.Infof("Press Ctrl+C to stop monitoring and shut down all bots")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return supervisor.Run(ctx)
}

func listBots(config *fleet.Config) error {
	logger := logging.NewZapLogger("error")

	botStore := store.NewStore(config.StorePath, logger)
	pidFiles := processfile.NewManager(config.PIDFileDirectory, logger)

	declared, err := botStore.Load()
	if err != nil {
		fmt.Println("No bot configurations found.")
		return nil
	}

	if declared.Size == 0 {
		fmt.Println("No bot configurations found.")
		return nil
	}

	fmt.Printf("Found %d bot configurations:\n", declared.Size)
	for slot := 0; slot < declared.Size; slot++ {
		config, ok := declared.Slots[slot]
		if !ok {
			fmt.Printf("  %d: invalid configuration\n", slot)
			continue
		}

		status := "Stopped"
		if pid, err := pidFiles.Read(slot); err == nil && process.IsPIDRunning(pid) {
			status = "Running"
		}

		fmt.Printf("  %d: Model=%s, Response Chance=%d%%, Status=%s\n",
			slot, config.Model, config.Chance(), status)
	}
	return nil
}
