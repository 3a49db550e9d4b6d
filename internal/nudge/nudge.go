// Package nudge turns engine interventions into something the user sees.
//
// The engine only decides whether and when to intervene. The dispatcher
// decides how: it writes the intervention to the session log, raises a
// desktop notification and pushes state to watch clients over the socket.
package nudge

import (
	"fmt"
	"strings"

	"github.com/Atharva-Kanherkar/stressnudger/internal/capture/biometrics"
	"github.com/Atharva-Kanherkar/stressnudger/internal/notify"
)

// Nudge is a rendered notification.
type Nudge struct {
	Title   string
	Body    string
	Urgency notify.Urgency
}

// indicatorFloor hides components that barely contribute.
const indicatorFloor = 0.5

// Compose renders an intervention. features may be nil when the window was
// cleared before the nudge went out.
func Compose(iv biometrics.Intervention, features *biometrics.Features) Nudge {
	n := Nudge{
		Title:   "Take a breath",
		Urgency: notify.UrgencyNormal,
	}
	if iv.Band == biometrics.BandAnxious {
		n.Title = "Time for a short break"
		n.Urgency = notify.UrgencyCritical
	}

	body := fmt.Sprintf("Stress level %.0f%% (%s).", iv.Level*100, iv.Band)
	if features != nil {
		if s := formatIndicators(biometrics.Indicators(*features)); s != "" {
			body += " " + s
		}
	}
	n.Body = body + " Try four slow breaths before you keep scrolling."
	return n
}

func formatIndicators(indicators []biometrics.Indicator) string {
	var names []string
	for _, ind := range indicators {
		if ind.Value < indicatorFloor || len(names) == 2 {
			break
		}
		names = append(names, ind.Name)
	}
	if len(names) == 0 {
		return ""
	}
	s := strings.Join(names, " and ")
	return "Noticed " + s + "."
}
