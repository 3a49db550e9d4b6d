// Package platform handles detection of the operating system and the tools
// the daemon depends on.
//
// Different pieces need different things:
// - Wheel capture reads /dev/input/event* (Linux, 'input' group)
// - Desktop nudges need notify-send
// - Serial heart-rate sensors need a visible tty device
package platform

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"runtime"
	"slices"
)

// Platform holds information about the detected platform.
type Platform struct {
	// OS is the operating system: "linux", "darwin" (macOS), "windows"
	OS string

	HasNotifySend bool // Desktop notifications
	InputReadable bool // At least one evdev node can be opened
	InInputGroup  bool // User belongs to the 'input' group
}

// String returns a human-readable description of the platform.
func (p *Platform) String() string {
	return fmt.Sprintf("%s (notify-send: %t, input: %t)", p.OS, p.HasNotifySend, p.InputReadable)
}

// Detect figures out what platform we're running on.
func Detect() (*Platform, error) {
	p := &Platform{
		OS: runtime.GOOS,
	}

	p.HasNotifySend = commandExists("notify-send")
	if p.OS == "linux" {
		p.InputReadable = anyReadable("/dev/input/event*")
		p.InInputGroup = inGroup("input")
	}

	return p, nil
}

// commandExists checks if a command is available in PATH.
func commandExists(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}

// anyReadable reports whether any file matching pattern can be opened.
func anyReadable(pattern string) bool {
	matches, _ := filepath.Glob(pattern)
	for _, path := range matches {
		f, err := os.Open(path)
		if err == nil {
			f.Close()
			return true
		}
	}
	return false
}

func inGroup(name string) bool {
	u, err := user.Current()
	if err != nil {
		return false
	}
	g, err := user.LookupGroup(name)
	if err != nil {
		return false
	}
	ids, err := u.GroupIds()
	if err != nil {
		return false
	}
	return slices.Contains(ids, g.Gid)
}

// CanCaptureWheel returns true if scroll events can be read directly.
func (p *Platform) CanCaptureWheel() bool {
	return p.OS == "linux" && p.InputReadable
}

// SupportedFeatures returns a human-readable list of what we can do.
func (p *Platform) SupportedFeatures() []string {
	features := []string{"HTTP scroll input"}

	if p.CanCaptureWheel() {
		features = append(features, "wheel capture")
	}
	if p.HasNotifySend {
		features = append(features, "desktop notifications")
	}

	return features
}

// CheckRequirements returns hints for missing pieces.
func (p *Platform) CheckRequirements() []string {
	var missing []string

	if p.OS == "linux" && !p.InputReadable {
		if p.InInputGroup {
			missing = append(missing, "input devices unreadable (log out and back in after joining the 'input' group)")
		} else {
			missing = append(missing, "wheel capture (run: sudo usermod -aG input $USER)")
		}
	}
	if !p.HasNotifySend {
		missing = append(missing, "notify-send (install: sudo pacman -S libnotify)")
	}

	return missing
}
