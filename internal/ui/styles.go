package ui

import "fmt"

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent  = 74  // blue
	colorMuted   = 245 // medium gray
	colorRunning = 114 // green
	colorFailed  = 167 // red
	colorStopped = 179 // amber
)

var noColor bool

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", colorAccent, s)
}

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", colorMuted, s)
}

// RenderStatus colors a run status: green while running, blue when
// completed, red on failure, amber when stopped.
func RenderStatus(status string) string {
	if noColor {
		return status
	}
	var color int
	switch status {
	case "running":
		color = colorRunning
	case "completed":
		color = colorAccent
	case "failed":
		color = colorFailed
	case "stopped":
		color = colorStopped
	default:
		color = colorMuted
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", color, status)
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
