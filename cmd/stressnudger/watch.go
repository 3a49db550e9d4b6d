package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Atharva-Kanherkar/stressnudger/internal/config"
	"github.com/Atharva-Kanherkar/stressnudger/internal/notify"
	"github.com/Atharva-Kanherkar/stressnudger/internal/tui"
)

// runWatch follows the daemon's socket and prints a live readout.
func runWatch(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Notifications.SocketPath == "" {
		return errors.New("socket is disabled in the config")
	}

	client := notify.NewSocketClient()
	client.OnMessage(func(msg notify.Message) {
		switch msg.Type {
		case notify.MessageState:
			if msg.State != nil {
				fmt.Print("\r\033[K" + tui.FormatState(*msg.State))
			}
		case notify.MessageIntervention:
			if msg.Intervention != nil {
				fmt.Print("\r\033[K" + tui.FormatIntervention(*msg.Intervention) + "\n")
				if msg.Text != "" {
					fmt.Println("  " + msg.Text)
				}
			}
		}
	})

	if err := client.Connect(cfg.Notifications.SocketPath); err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", cfg.Notifications.SocketPath, err)
	}
	defer client.Close()

	if len(args) > 0 && args[0] == "reset" {
		if err := client.Send(notify.Message{Type: notify.MessageReset, Time: time.Now()}); err != nil {
			return err
		}
		fmt.Println("Reset sent.")
		return nil
	}

	fmt.Println(tui.Dim + "Watching stress level. Press Ctrl+C to stop." + tui.Reset)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		fmt.Println()
	case <-client.Done():
		fmt.Println()
		return errors.New("daemon closed the connection")
	}
	return nil
}
