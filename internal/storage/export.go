package storage

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExportMarkdown renders a run as a markdown document.
func ExportMarkdown(r *Run) string {
	var b strings.Builder

	title := r.Instruction
	if title == "" {
		title = "(no instruction)"
	}
	b.WriteString(fmt.Sprintf("# %s\n\n", title))
	b.WriteString(fmt.Sprintf("- **Run:** %s\n", r.ID))
	b.WriteString(fmt.Sprintf("- **Status:** %s (%s)\n", r.Status, r.State))
	b.WriteString(fmt.Sprintf("- **Provider:** %s\n", r.Provider))
	b.WriteString(fmt.Sprintf("- **Model:** %s\n", r.Model))
	b.WriteString(fmt.Sprintf("- **Image:** %s\n", r.Image))
	b.WriteString(fmt.Sprintf("- **Created:** %s\n", r.CreatedAt.Format("2006-01-02 15:04:05")))
	b.WriteString("\n---\n\n")

	if r.Command != "" {
		b.WriteString(fmt.Sprintf("## Command\n\n```sh\n%s\n```\n\n", r.Command))
	}
	if r.ExitCode != nil {
		b.WriteString(fmt.Sprintf("## Result\n\nExit code: `%d`\n\n```\n%s\n```\n\n", *r.ExitCode, r.Output))
	}
	if r.Explanation != "" {
		b.WriteString(fmt.Sprintf("## Explanation\n\n%s\n\n", r.Explanation))
	}
	if r.Error != "" {
		b.WriteString(fmt.Sprintf("## Error\n\n```\n%s\n```\n\n", r.Error))
	}

	return b.String()
}

// ExportJSON renders a run as formatted JSON.
func ExportJSON(r *Run) ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
