// Package notify delivers stress nudges to the user.
package notify

import (
	"fmt"
	"os/exec"
	"strings"
)

// Urgency levels for desktop notifications.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyCritical Urgency = "critical"
)

// DesktopNotifier sends desktop notifications via notify-send.
type DesktopNotifier struct {
	appName string
	command string

	// run executes the command; swapped out in tests
	run func(name string, args ...string) error
}

// NewDesktopNotifier creates a new desktop notifier.
func NewDesktopNotifier() *DesktopNotifier {
	return &DesktopNotifier{
		appName: "StressNudger",
		command: "notify-send",
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// Available checks if notify-send is available.
func (n *DesktopNotifier) Available() bool {
	_, err := exec.LookPath(n.command)
	return err == nil
}

// Send sends a desktop notification that expires after timeoutMs
// milliseconds (0 means the server default).
func (n *DesktopNotifier) Send(title, body string, urgency Urgency, timeoutMs int) error {
	args := []string{
		"--app-name=" + n.appName,
		"--urgency=" + string(urgency),
	}

	switch urgency {
	case UrgencyCritical:
		args = append(args, "--icon=dialog-warning")
	default:
		args = append(args, "--icon=dialog-information")
	}

	if timeoutMs > 0 {
		args = append(args, fmt.Sprintf("--expire-time=%d", timeoutMs))
	}

	args = append(args, title, body)

	if err := n.run(n.command, args...); err != nil {
		return fmt.Errorf("%s %s: %w", n.command, strings.Join(args[:2], " "), err)
	}
	return nil
}
