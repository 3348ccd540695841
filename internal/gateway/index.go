// Package gateway - index.go serves a minimal HTML index at /.
//
// DESIGN: No SPA, no assets. One static page pointing at the JSON and
// metrics surfaces, so a browser hitting the gateway root lands
// somewhere useful.
package gateway

import (
	"net/http"
)

// handleIndex lists the gateway's endpoints. Exact match on / only;
// anything else falls through to the mux's 404.
func (g *Gateway) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Service Gateway</title>
<style>
  body { font-family: system-ui, sans-serif; background: #0a0a0a; color: #fff; display: flex; align-items: center; justify-content: center; min-height: 100vh; margin: 0; }
  .container { text-align: center; padding: 48px; }
  h1 { font-size: 24px; margin-bottom: 16px; }
  p { color: #9ca3af; margin-bottom: 24px; }
  a { color: #22c55e; text-decoration: none; font-family: monospace; }
  a:hover { text-decoration: underline; }
  ul { list-style: none; padding: 0; text-align: left; }
  li { margin: 8px 0; color: #9ca3af; }
</style>
</head>
<body>
<div class="container">
  <h1>Service Gateway</h1>
  <p>Orchestration front for registered backend services.</p>
  <ul>
    <li><a href="/health">/health</a> readiness and per-service health</li>
    <li><a href="/services">/services</a> registry with breaker state</li>
    <li><a href="/metrics">/metrics</a> Prometheus exposition</li>
    <li><a href="/stats">/stats</a> operational counters (localhost)</li>
    <li><a href="/audit/events">/audit/events</a> recent events (localhost)</li>
    <li><span style="color:#22c55e">POST /route</span> single call</li>
    <li><span style="color:#22c55e">POST /batch</span> fan-out call</li>
  </ul>
</div>
</body>
</html>`))
}
