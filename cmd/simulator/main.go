package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

var (
	serverURL   = flag.String("server", "ws://localhost:8080/ws/session", "Voice session WebSocket URL")
	token       = flag.String("token", "", "Bearer token for the session")
	scenario    = flag.String("scenario", "", "Scripted scenario to run ("+strings.Join(ScenarioNames(), ", ")+")")
	stepDelay   = flag.Duration("delay", 2*time.Second, "Pause between scripted turns")
	interactive = flag.Bool("interactive", false, "Enable interactive mode")
	verbose     = flag.Bool("verbose", false, "Enable verbose logging")
)

func main() {
	flag.Parse()

	var logger *zap.Logger
	var err error
	if *verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	config := &SimulatorConfig{
		ServerURL: *serverURL,
		Token:     *token,
		StepDelay: *stepDelay,
	}

	simulator := NewSimulator(config, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down simulator...")
		simulator.Stop()
		os.Exit(0)
	}()

	if err := simulator.Connect(); err != nil {
		logger.Fatal("Failed to connect to server", zap.Error(err))
	}
	defer simulator.Stop()

	switch {
	case *interactive:
		runInteractiveMode(simulator)

	case *scenario != "":
		if err := simulator.RunScenario(*scenario); err != nil {
			logger.Fatal("Scenario failed", zap.Error(err))
		}

	default:
		// No scenario selected: play all of them in sequence.
		for _, name := range ScenarioNames() {
			if err := simulator.RunScenario(name); err != nil {
				logger.Fatal("Scenario failed", zap.Error(err))
			}
		}
	}
}

func runInteractiveMode(sim *Simulator) {
	fmt.Println("\nVoice Session Simulator - Interactive Mode")
	fmt.Println("==========================================")
	fmt.Println("Type an utterance to send it as a spoken turn, or:")
	fmt.Println("  /multi <text>          - Force multi-intent decomposition")
	fmt.Println("  /confirm               - Confirm the pending batch")
	fmt.Println("  /drop                  - Drop the pending batch")
	fmt.Println("  /remove <index>        - Remove one batch item")
	fmt.Println("  /amount <index> <val>  - Supply a missing amount")
	fmt.Println("  /cancel                - Cancel the current operation")
	fmt.Println("  /recover               - Recover from an error state")
	fmt.Println("  /quit                  - Exit simulator")
	fmt.Println("")

	sim.RunInteractive()
}
