package cli

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	xansi "github.com/charmbracelet/x/ansi"

	"mybrain/internal/hierarchy"
	"mybrain/internal/model"
)

var (
	mdRendererMu sync.Mutex
	// Cache renderers by wrap width + style. WithAutoStyle can block on
	// terminal queries, so the style is picked up front.
	mdRenderers = map[string]*glamour.TermRenderer{}
)

func markdownStyle() string {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("MYBRAIN_MD_STYLE"))) {
	case "light":
		return "light"
	case "dark":
		return "dark"
	case "notty":
		return "notty"
	}
	if lipgloss.HasDarkBackground() {
		return "dark"
	}
	return "light"
}

// renderMarkdown renders item content for a terminal. On renderer failure the
// source is returned unchanged.
func renderMarkdown(md string, width int) string {
	md = strings.TrimSpace(md)
	if md == "" {
		return ""
	}
	if width < 10 {
		width = 10
	}

	style := markdownStyle()
	key := fmt.Sprintf("%s:%d", style, width)

	mdRendererMu.Lock()
	defer mdRendererMu.Unlock()
	r := mdRenderers[key]
	if r == nil {
		rr, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(style),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return md
		}
		mdRenderers[key] = rr
		r = rr
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n")
}

func ac(light, dark string) lipgloss.AdaptiveColor {
	return lipgloss.AdaptiveColor{Light: light, Dark: dark}
}

var (
	styleFolder  = lipgloss.NewStyle().Bold(true)
	styleCurrent = lipgloss.NewStyle().Bold(true).Foreground(ac("#1d4ed8", "#93c5fd"))
	styleMuted   = lipgloss.NewStyle().Foreground(ac("240", "245"))
	styleWarn    = lipgloss.NewStyle().Foreground(ac("#b45309", "#fbbf24"))
	styleDone    = lipgloss.NewStyle().Strikethrough(true).Foreground(ac("240", "245"))
)

// truncate shortens s to width cells, keeping ANSI styling intact.
func truncate(s string, width int) string {
	if width <= 0 || xansi.StringWidth(s) <= width {
		return s
	}
	return xansi.Truncate(s, width, "…")
}

// renderTree draws the folder tree with two-space indentation per depth.
// current marks the folder the caller is in, if any.
func renderTree(nodes []hierarchy.Node, current *string, width int) string {
	var b strings.Builder
	b.WriteString(styleMuted.Render(model.HomeName))
	b.WriteByte('\n')
	for _, n := range nodes {
		marker := "  "
		if n.HasChildren {
			marker = "▸ "
		}
		title := styleFolder.Render(n.Folder.Title)
		if current != nil && *current == n.Folder.ID {
			title = styleCurrent.Render(n.Folder.Title)
		}
		line := strings.Repeat("  ", n.Depth+1) + marker + title + " " + styleMuted.Render(n.Folder.ID)
		b.WriteString(truncate(line, width))
		b.WriteByte('\n')
	}
	return b.String()
}

// renderWarnings lists integrity problems below a rendered tree.
func renderWarnings(ws []hierarchy.IntegrityWarning, width int) string {
	if len(ws) == 0 {
		return ""
	}
	var b strings.Builder
	for _, w := range ws {
		b.WriteString(truncate(styleWarn.Render("! "+w.Error()), width))
		b.WriteByte('\n')
	}
	return b.String()
}

// renderItems draws one line per item: kind, title, schedule.
func renderItems(items []model.Item, width int) string {
	var b strings.Builder
	for _, it := range items {
		title := it.Title
		if it.IsCompleted {
			title = styleDone.Render(title)
		}
		line := fmt.Sprintf("%-8s %s", it.Kind, title)
		if it.Schedule != nil {
			line += " " + styleMuted.Render(*it.Schedule)
		}
		line += " " + styleMuted.Render(it.ID)
		b.WriteString(truncate(line, width))
		b.WriteByte('\n')
	}
	return b.String()
}
