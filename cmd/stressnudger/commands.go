package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Atharva-Kanherkar/stressnudger/internal/config"
	"github.com/Atharva-Kanherkar/stressnudger/internal/daemon"
	"github.com/Atharva-Kanherkar/stressnudger/internal/export"
	"github.com/Atharva-Kanherkar/stressnudger/internal/storage"
	"github.com/Atharva-Kanherkar/stressnudger/internal/tui"
)

// openStore opens the existing database without creating one.
func openStore(cfg *config.Config) (*storage.Store, error) {
	path := cfg.DatabasePath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, errors.New("no sessions recorded yet, run the daemon first")
	}
	return storage.Open(path)
}

func runReplay(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: stressnudger replay FILE.csv [json]")
	}
	asJSON := len(args) > 1 && args[1] == "json"

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := export.ReadCSV(f)
	if err != nil {
		return err
	}

	res := daemon.Replay(export.Samples(rows), cfg.EngineConfig(), daemon.LoadClassifier(cfg))

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Samples:        %d (%d dropped)\n", res.Samples, res.Dropped)
	fmt.Fprintf(&b, "Scored cycles:  %d\n", len(res.Cycles))
	fmt.Fprintf(&b, "Peak level:     %s\n", tui.LevelBar(res.PeakLevel, 20))
	fmt.Fprintf(&b, "Final:          %s\n", tui.StressIndicator(res.Final.Band))
	fmt.Fprintf(&b, "Interventions:  %d", len(res.Interventions))
	for _, iv := range res.Interventions {
		b.WriteString("\n  " + tui.FormatIntervention(iv))
	}
	fmt.Println(tui.Box("Replay of "+args[0], b.String()))
	return nil
}

func runExport(args []string) error {
	target := "latest"
	out := ""
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-o", "--output":
			if i+1 >= len(args) {
				return errors.New("-o needs a file name")
			}
			out = args[i+1]
			i++
		default:
			target = args[i]
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	sessionID := target
	if target == "latest" {
		sess, err := store.LatestSession()
		if err != nil {
			return err
		}
		sessionID = sess.ID
	} else if _, err := store.Session(target); err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	if err := export.WriteSession(w, store, sessionID); err != nil {
		return err
	}
	if out != "" {
		fmt.Fprintf(os.Stderr, "Exported session %s to %s\n", sessionID, out)
	}
	return nil
}

func runSessions(args []string) error {
	limit := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid session count %q", args[0])
		}
		limit = n
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.Sessions(limit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tSAMPLES\tCYCLES\tNUDGES\tPEAK")
	for _, s := range sessions {
		duration := "running"
		if s.EndedAt != nil {
			duration = s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%.0f%%\n",
			s.ID, s.StartedAt.Local().Format("2006-01-02 15:04"), duration,
			s.Samples, s.Cycles, s.Interventions, s.PeakLevel*100)
	}
	return tw.Flush()
}

func runStats() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.Stats()
	if err != nil {
		return err
	}
	version, err := store.SchemaVersion()
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Sessions:       %d\n", stats.Sessions)
	fmt.Fprintf(&b, "Samples:        %d\n", stats.Samples)
	fmt.Fprintf(&b, "Cycles:         %d\n", stats.Cycles)
	fmt.Fprintf(&b, "Interventions:  %d\n", stats.Interventions)
	fmt.Fprintf(&b, "Mean level:     %s\n", tui.LevelBar(stats.MeanLevel, 20))

	strategies := make([]string, 0, len(stats.ByStrategy))
	for s := range stats.ByStrategy {
		strategies = append(strategies, s)
	}
	sort.Strings(strategies)
	for _, s := range strategies {
		fmt.Fprintf(&b, "  %-12s  %d cycles\n", s, stats.ByStrategy[s])
	}

	fmt.Fprintf(&b, "Database:       %.1f KB (schema v%d)", float64(stats.DatabaseSize)/1024, version)
	fmt.Println(tui.Box("StressNudger stats", b.String()))
	return nil
}

func runConfig() error {
	path := config.Path()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.DefaultConfig().SaveTo(path); err != nil {
			return err
		}
		fmt.Printf("Wrote default config to %s\n", path)
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	fmt.Printf("Config: %s\n", path)
	fmt.Printf("Storage: %s\n", cfg.StoragePath)
	fmt.Printf("Socket: %s\n", cfg.Notifications.SocketPath)
	if cfg.API.Enabled {
		fmt.Printf("API: http://%s/api\n", cfg.API.Listen)
	}
	return nil
}
