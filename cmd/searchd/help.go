package main

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/alfredjeanlab/savedsearch/internal/ui"
	"github.com/spf13/cobra"
)

// helpRule styles one capture group of every match of re.
type helpRule struct {
	re    *regexp.Regexp
	group int
	style ui.Style
}

var helpRules = []helpRule{
	// Section headers: "Searches:", "Flags:", ...
	{regexp.MustCompile(`(?m)^([A-Z][^\n]*:)[ \t]*$`), 1, ui.Accent},
	// Command names: two-space indent, name, two or more spaces.
	{regexp.MustCompile(`(?m)^  (\S+)  `), 1, ui.Command},
	// Flag value types: "--url string", "--library int64".
	{regexp.MustCompile(`--?\S+\s+(string|int|int64|duration|strings)\b`), 1, ui.Muted},
	// Defaults: (default "http://localhost:8080").
	{regexp.MustCompile(`(\(default [^)]*\))`), 1, ui.Muted},
}

// colorizedHelpFunc returns a help function that colors cobra's usage text
// when stdout supports it.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		if !ui.ShouldUseColor() {
			_ = cmd.Usage()
			return
		}
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(out)
		fmt.Fprint(out, colorizeHelp(buf.String()))
	}
}

func colorizeHelp(s string) string {
	for _, rule := range helpRules {
		s = styleGroup(s, rule)
	}
	return s
}

// styleGroup wraps the rule's capture group in each match, leaving the rest
// of the match untouched.
func styleGroup(s string, rule helpRule) string {
	matches := rule.re.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}
	var b bytes.Buffer
	last := 0
	for _, m := range matches {
		start, end := m[2*rule.group], m[2*rule.group+1]
		if start < 0 {
			continue
		}
		b.WriteString(s[last:start])
		b.WriteString(ui.Render(rule.style, s[start:end]))
		last = end
	}
	b.WriteString(s[last:])
	return b.String()
}
