package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"pible/internal/config"
	"pible/internal/orchestrator"
	"pible/internal/util"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML configuration file (defaults built in if omitted)")
		runSeconds = flag.Int("duration", 0, "Bound the run to this many seconds; 0 runs until signaled")
		nodeIDFlag = flag.String("node-id", "", "Override general.node_id from the config file")
	)
	flag.Parse()

	logFile, err := os.OpenFile("airdump.log", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err == nil {
		log.SetOutput(logFile)
		defer logFile.Close()
	}
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	printLogo()

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.Linef("[ERROR]", util.ColorYellow, "failed to load config: %v", err)
		os.Exit(2)
	}
	if *nodeIDFlag != "" {
		cfg.General.NodeID = *nodeIDFlag
	}

	sessionID := uuid.NewString()

	orch, err := orchestrator.New(cfg, sessionID, logFile)
	if err != nil {
		util.Linef("[ERROR]", util.ColorYellow, "invalid configuration: %v", err)
		os.Exit(2)
	}

	ctx, cancel := orchestrator.SignalContext(context.Background())
	defer cancel()

	defer orchestrator.StopActive()

	if err := orch.Start(ctx); err != nil {
		util.Linef("[ERROR]", util.ColorYellow, "startup failed: %v", err)
		os.Exit(2)
	}
	util.Linef("[SESSION]", util.ColorGray, "id=%s node=%s", sessionID, cfg.General.NodeID)

	duration := time.Duration(*runSeconds) * time.Second
	code := orch.Run(ctx, duration)
	if code != 0 {
		os.Exit(code)
	}
}

func printLogo() {
	fmt.Println("airdump - airborne wireless reconnaissance")
}
