// Package main is the entry point for the StressNudger daemon and tools.
//
// Usage:
//
//	stressnudger                 - Start the detection daemon
//	stressnudger daemon          - Start the detection daemon
//	stressnudger watch           - Follow the live stress level
//	stressnudger replay file.csv - Re-run detection over a recording
//	stressnudger export latest   - Export a session as CSV
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Atharva-Kanherkar/stressnudger/internal/config"
	"github.com/Atharva-Kanherkar/stressnudger/internal/daemon"
	"github.com/Atharva-Kanherkar/stressnudger/internal/platform"
	"github.com/Atharva-Kanherkar/stressnudger/internal/storage"
)

func main() {
	// Parse command
	cmd := "daemon"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	args := []string{}
	if len(os.Args) > 2 {
		args = os.Args[2:]
	}

	var err error
	switch cmd {
	case "daemon", "d":
		runDaemon()
	case "watch", "w":
		err = runWatch(args)
	case "replay", "r":
		err = runReplay(args)
	case "export", "e":
		err = runExport(args)
	case "sessions", "ls":
		err = runSessions(args)
	case "stats", "s":
		err = runStats()
	case "config":
		err = runConfig()
	case "help", "-h", "--help":
		printHelp()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printHelp()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println(`StressNudger - Notices stressed scrolling and nudges you to take a breath

Usage:
  stressnudger [command]

Commands:
  daemon, d               Start the detection daemon (default)
  watch, w                Follow the live stress level from the daemon
  watch reset             Ask the daemon to clear its window and history
  replay, r FILE [json]   Re-run detection over a recorded CSV
  export, e [ID|latest]   Export a session as CSV (-o FILE to write a file)
  sessions, ls [N]        List recent sessions
  stats, s                Show storage statistics
  config                  Show the config path, writing defaults if missing
  help                    Show this help

Examples:
  stressnudger                             # Start detecting
  stressnudger watch                       # Live readout
  stressnudger export latest -o today.csv  # Save the last session
  stressnudger replay today.csv            # Try new thresholds on it`)
}

func runDaemon() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("StressNudger starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	plat, err := platform.Detect()
	if err != nil {
		log.Fatalf("Failed to detect platform: %v", err)
	}
	log.Printf("Platform detected: %s", plat)

	store, err := storage.New(cfg.StoragePath)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	log.Printf("Storage initialized at: %s", cfg.StoragePath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	manager, err := daemon.NewManager(cfg, plat, store)
	if err != nil {
		log.Fatalf("Failed to create manager: %v", err)
	}
	manager.Start(ctx)

	log.Println("StressNudger running. Press Ctrl+C to stop.")

	sig := <-sigChan
	log.Printf("Received signal %v, shutting down...", sig)

	cancel()
	manager.Stop()

	if sess, err := store.Session(manager.SessionID()); err == nil {
		log.Printf("Session stats: %d samples, %d cycles, %d nudges, peak %.0f%%",
			sess.Samples, sess.Cycles, sess.Interventions, sess.PeakLevel*100)
	}

	log.Println("StressNudger stopped.")
}
