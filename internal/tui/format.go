// Package tui provides terminal formatting for stress readouts.
package tui

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Atharva-Kanherkar/stressnudger/internal/capture/biometrics"
)

// ANSI color codes
const (
	Reset = "\033[0m"
	Bold  = "\033[1m"
	Dim   = "\033[2m"

	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Cyan   = "\033[36m"

	BrightRed    = "\033[91m"
	BrightYellow = "\033[93m"
)

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// BandColor returns the color used for a band.
func BandColor(b biometrics.Band) string {
	switch b {
	case biometrics.BandCalm:
		return Green
	case biometrics.BandNormal:
		return Blue
	case biometrics.BandElevated:
		return Yellow
	case biometrics.BandHigh:
		return BrightRed
	case biometrics.BandAnxious:
		return Red + Bold
	default:
		return Dim
	}
}

// StressIndicator returns a colored dot and band label.
func StressIndicator(b biometrics.Band) string {
	return BandColor(b) + "●" + Reset + " " + b.String()
}

// LevelBar renders a level in [0,1] as a bar of the given width, colored by
// band.
func LevelBar(level float64, width int) string {
	if width <= 0 {
		width = 20
	}
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	filled := int(level*float64(width) + 0.5)
	if filled > width {
		filled = width
	}

	color := BandColor(biometrics.BandFor(level))
	return "[" + color + strings.Repeat("█", filled) + Reset +
		Dim + strings.Repeat("░", width-filled) + Reset + "] " +
		fmt.Sprintf("%3.0f%%", level*100)
}

// FormatState renders a one-line readout of the engine state.
func FormatState(st biometrics.State) string {
	ts := "--:--:--"
	if !st.Timestamp.IsZero() {
		ts = st.Timestamp.Local().Format("15:04:05")
	}

	line := Dim + "[" + ts + "]" + Reset + " " +
		LevelBar(st.Level, 20) + " " +
		StressIndicator(st.Band) + " " +
		Dim + string(st.Phase) + Reset +
		fmt.Sprintf(" %d samples", st.Samples)
	if st.Strategy != "" {
		line += Dim + " (" + string(st.Strategy) + ")" + Reset
	}
	if st.Dropped > 0 {
		line += Yellow + fmt.Sprintf(" %d dropped", st.Dropped) + Reset
	}
	return line
}

// FormatIntervention renders an intervention as a highlighted line.
func FormatIntervention(iv biometrics.Intervention) string {
	return BrightYellow + Bold + "▶ nudge" + Reset + " " +
		Dim + iv.Timestamp.Local().Format("15:04:05") + Reset + " " +
		fmt.Sprintf("level %.0f%% ", iv.Level*100) + StressIndicator(iv.Band)
}

// Box draws a box around text.
func Box(title, content string) string {
	lines := strings.Split(content, "\n")
	maxLen := visibleLen(title)
	for _, line := range lines {
		if n := visibleLen(line); n > maxLen {
			maxLen = n
		}
	}

	width := maxLen + 4
	top := Cyan + "╭" + strings.Repeat("─", width) + "╮" + Reset
	titleLine := Cyan + "│" + Reset + Bold + " " + title + strings.Repeat(" ", width-visibleLen(title)-1) + Reset + Cyan + "│" + Reset
	separator := Cyan + "├" + strings.Repeat("─", width) + "┤" + Reset
	bottom := Cyan + "╰" + strings.Repeat("─", width) + "╯" + Reset

	result := []string{top, titleLine, separator}
	for _, line := range lines {
		padding := width - visibleLen(line) - 1
		if padding < 0 {
			padding = 0
		}
		result = append(result, Cyan+"│"+Reset+" "+line+strings.Repeat(" ", padding)+Cyan+"│"+Reset)
	}
	result = append(result, bottom)

	return strings.Join(result, "\n")
}

// StripAnsi removes ANSI escape codes.
func StripAnsi(text string) string {
	return ansiRegex.ReplaceAllString(text, "")
}

func visibleLen(text string) int {
	return len([]rune(StripAnsi(text)))
}
