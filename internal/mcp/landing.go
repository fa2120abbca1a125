package mcp

import (
	"html/template"
	"net/http"
)

var landingTemplate = template.Must(template.New("landing").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>docrag MCP server</title>
<style>
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif; background: #f8fafc; color: #0f172a; max-width: 640px; margin: 3rem auto; padding: 0 1rem; }
  h1 { font-size: 1.5rem; margin-bottom: 0.25rem; }
  .subtitle { color: #475569; margin-top: 0; }
  pre { background: #0f172a; color: #e2e8f0; border-radius: 6px; padding: 0.75rem 1rem; overflow-x: auto; }
  code, .endpoint { font-family: "SF Mono", Menlo, monospace; }
  li { margin: 0.25rem 0; }
</style>
</head>
<body>
<h1>docrag</h1>
<p class="subtitle">Question answering over your own documents via the Model Context Protocol.</p>

<h2>Connect</h2>
<pre><code>claude mcp add docrag --transport http {{.Origin}}/mcp</code></pre>

<h2>Endpoints</h2>
<ul>
  <li><a class="endpoint" href="/mcp">/mcp</a>: MCP Streamable HTTP</li>
  <li><a class="endpoint" href="/health">/health</a>: chunk store health check</li>
</ul>

<h2>Tools</h2>
<ul>
{{range .Tools}}  <li><code>{{.}}</code></li>
{{end}}</ul>
</body>
</html>`))

var toolNames = []string{
	"search_documents",
	"ask_documents",
	"ingest_document",
	"delete_document",
	"get_rag_stats",
	"get_chunk",
}

// NewLandingHandler returns an HTTP handler that serves the landing page at /.
func NewLandingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		landingTemplate.Execute(w, struct {
			Origin string
			Tools  []string
		}{Origin: scheme + "://" + r.Host, Tools: toolNames})
	}
}
