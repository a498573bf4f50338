package ui

import "fmt"

// Style is an ANSI 256-color foreground.
type Style int

// Ayu palette.
const (
	Accent  Style = 74  // blue: section headers
	Command Style = 250 // light gray: command names
	Muted   Style = 245 // gray: defaults, versions, timestamps
	Key     Style = 179 // amber: search keys
	Removed Style = 203 // red: deleted searches
)

var noColor bool

// Render returns s wrapped in the style's color, or s unchanged when color
// is disabled.
func Render(style Style, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", int(style), s)
}

// RenderAccent returns s in the accent color.
func RenderAccent(s string) string { return Render(Accent, s) }

// RenderMuted returns s in the muted color.
func RenderMuted(s string) string { return Render(Muted, s) }

// RenderCommand returns s styled as a command name.
func RenderCommand(s string) string { return Render(Command, s) }

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}

// Init disables color when stdout should not be colored.
func Init() {
	if !ShouldUseColor() {
		ForceNoColor()
	}
}
