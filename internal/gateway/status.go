// ABOUTME: Human-readable status page rendered from Markdown with goldmark
// ABOUTME: Summarizes health, sessions and agents for operators opening the root URL

package gateway

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var statusMarkdown = goldmark.New(goldmark.WithExtensions(extension.Table))

var statusTemplate = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 56rem; margin: 2rem auto; padding: 0 1rem; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: .25rem .75rem; text-align: left; }
code { background: #f4f4f4; padding: 0 .25rem; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// statusDocument renders the current state as Markdown.
func (g *Gateway) statusDocument() string {
	health := g.coord.Health()
	stats := g.coord.Stats()
	agents := g.coord.Agents()

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", g.config.Server.Name)
	fmt.Fprintf(&b, "%s %s, environment `%s`, up %s.\n\n",
		health.Protocol, health.Version, health.Environment,
		(time.Duration(health.Uptime) * time.Second).String())

	b.WriteString("## Activity\n\n| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Connected clients | %d |\n", stats.ConnectedClients)
	fmt.Fprintf(&b, "| Active sessions | %d |\n", stats.ActiveSessions)
	fmt.Fprintf(&b, "| Registered agents | %d |\n", stats.RegisteredAgents)
	fmt.Fprintf(&b, "| Open tasks | %d |\n", stats.TaskQueueSize)
	fmt.Fprintf(&b, "| Tasks completed | %d |\n", stats.TasksCompleted)
	fmt.Fprintf(&b, "| Messages per second | %.2f |\n", stats.MessagesPerSecond)
	fmt.Fprintf(&b, "| Error rate | %.2f%% |\n\n", stats.ErrorRate)

	b.WriteString("## Agents\n\n")
	if agents.Count == 0 {
		b.WriteString("No agents are registered.\n\n")
	} else {
		b.WriteString("| ID | Type | Status | Tasks | Capabilities |\n|---|---|---|---|---|\n")
		for _, a := range agents.Agents {
			fmt.Fprintf(&b, "| `%s` | %s | %s | %d/%d | %s |\n",
				escapeCell(a.ID), escapeCell(a.Type), a.Status, a.CurrentTasks, a.MaxConcurrentTasks,
				escapeCell(strings.Join(a.Capabilities, ", ")))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Endpoints\n\n")
	b.WriteString("- `GET /ws`: WebSocket event stream\n")
	b.WriteString("- `GET /health`, `GET /api/ws/stats`, `GET /api/ws/sessions`, `GET /api/ws/agents`\n")
	if g.config.Metrics.Enabled {
		fmt.Fprintf(&b, "- `GET %s`: Prometheus metrics\n", g.config.Metrics.Path)
	}
	return b.String()
}

// escapeCell keeps agent-supplied strings from breaking the table. goldmark omits raw HTML.
func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "`", "'")
	return strings.ReplaceAll(s, "|", `\|`)
}

// handleStatusPage handles GET /.
func (g *Gateway) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	var body bytes.Buffer
	if err := statusMarkdown.Convert([]byte(g.statusDocument()), &body); err != nil {
		g.logger.Error("failed to convert markdown", "error", err)
		http.Error(w, "failed to render status", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := statusTemplate.Execute(w, struct {
		Title string
		Body  template.HTML
	}{
		Title: g.config.Server.Name,
		Body:  template.HTML(body.String()),
	})
	if err != nil {
		g.logger.Error("failed to render status page", "error", err)
	}
}
