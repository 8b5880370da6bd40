package main

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/michaelbrown/sandcmd/internal/pipeline"
)

const outputPreviewLines = 20

// printResult writes whatever the run produced, stopping at the first
// missing stage.
func printResult(w io.Writer, res *pipeline.Result) {
	if res == nil {
		return
	}
	if res.Command == "" {
		if res.RawSuggestion != "" {
			fmt.Fprintf(w, "\033[90mmodel said: %s\033[0m\n", truncate(res.RawSuggestion, 200))
		}
		return
	}
	fmt.Fprintf(w, "\033[33m$ %s\033[0m\n", res.Command)

	if res.Exec == nil {
		return
	}
	lines := strings.Split(strings.TrimRight(res.Exec.Output, "\n"), "\n")
	if res.Exec.Output == "" {
		lines = nil
	}
	preview := lines
	if len(preview) > outputPreviewLines {
		preview = preview[:outputPreviewLines]
	}
	for _, line := range preview {
		fmt.Fprintf(w, "  \033[90m│ %s\033[0m\n", line)
	}
	if len(lines) > outputPreviewLines {
		fmt.Fprintf(w, "  \033[90m│ ... (%d more lines)\033[0m\n", len(lines)-outputPreviewLines)
	}
	if res.Exec.ExitCode != 0 {
		fmt.Fprintf(w, "\033[31mexit code: %d\033[0m\n", res.Exec.ExitCode)
	} else {
		fmt.Fprintf(w, "exit code: 0\n")
	}

	if res.Explanation != "" {
		fmt.Fprintf(w, "\n\033[32m%s\033[0m\n", res.Explanation)
	}
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		return prefix(s, maxLen) + "..."
	}
	return s
}

// prefix returns at most n bytes of s without splitting a rune.
func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
