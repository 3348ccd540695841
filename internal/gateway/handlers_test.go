package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/service-gateway/internal/config"
)

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) (class, service, message, requestID string) {
	t.Helper()
	var body struct {
		Error struct {
			Class   string `json:"class"`
			Service string `json:"service"`
			Message string `json:"message"`
		} `json:"error"`
		RequestID string `json:"request_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error.Class, body.Error.Service, body.Error.Message, body.RequestID
}

func TestHandleRoute_ProxiesCallAndSetsHeaders(t *testing.T) {
	var mu sync.Mutex
	var gotMethod, gotPath string

	base := backend(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotMethod, gotPath = r.Method, r.URL.Path
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sku":"A1","price":995}`))
	})
	g := newTestGateway(t, func(cfg *config.Config) {
		cfg.Services = []config.ServiceConfig{serviceBlock("catalog", base, false)}
	})
	srv := serveGateway(t, g)

	resp := postJSON(t, srv.URL+"/route",
		`{"service":"catalog","endpoint":"/v1/items","data":{"sku":"A1"}}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get(HeaderRequestID))
	assert.Equal(t, "false", resp.Header.Get(HeaderServedFromCache))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sku":"A1","price":995}`, string(body))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPost, gotMethod, "payload without method defaults to POST")
	assert.Equal(t, "/v1/items", gotPath)
}

func TestHandleRoute_EchoesCallerRequestID(t *testing.T) {
	base := backend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	g := newTestGateway(t, func(cfg *config.Config) {
		cfg.Services = []config.ServiceConfig{serviceBlock("catalog", base, false)}
	})
	srv := serveGateway(t, g)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/route",
		strings.NewReader(`{"service":"catalog","endpoint":"/ping"}`))
	require.NoError(t, err)
	req.Header.Set(HeaderRequestID, "req-abc123")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "req-abc123", resp.Header.Get(HeaderRequestID))
}

func TestHandleRoute_SecondCacheableCallServedFromCache(t *testing.T) {
	var calls atomic.Int64
	base := backend(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"quote":42}`))
	})
	g := newTestGateway(t, func(cfg *config.Config) {
		cfg.Services = []config.ServiceConfig{serviceBlock("quotes", base, false)}
	})
	srv := serveGateway(t, g)

	body := `{"service":"quotes","endpoint":"/quote","data":{"symbol":"XYZ"},"cacheable":true}`

	first := postJSON(t, srv.URL+"/route", body)
	assert.Equal(t, "false", first.Header.Get(HeaderServedFromCache))

	second := postJSON(t, srv.URL+"/route", body)
	assert.Equal(t, "true", second.Header.Get(HeaderServedFromCache))

	payload, err := io.ReadAll(second.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"quote":42}`, string(payload))
	assert.Equal(t, int64(1), calls.Load())
}

func TestHandleRoute_BadRequests(t *testing.T) {
	g := newTestGateway(t, nil)
	srv := serveGateway(t, g)

	t.Run("malformed json", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/route", `{"service":`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		class, _, _, requestID := decodeError(t, resp)
		assert.Equal(t, "bad_request", class)
		assert.NotEmpty(t, requestID)
	})

	t.Run("missing service", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/route", `{"endpoint":"/x"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		class, _, message, _ := decodeError(t, resp)
		assert.Equal(t, "bad_request", class)
		assert.Equal(t, "service is required", message)
	})
}

func TestHandleRoute_UnknownServiceMapsTo404(t *testing.T) {
	g := newTestGateway(t, nil)
	srv := serveGateway(t, g)

	resp := postJSON(t, srv.URL+"/route", `{"service":"phantom","endpoint":"/x"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(HeaderRequestID))

	class, service, _, requestID := decodeError(t, resp)
	assert.Equal(t, "service_not_found", class)
	assert.Equal(t, "phantom", service)
	assert.NotEmpty(t, requestID)
}

func TestHandleRoute_UpstreamErrorPassesThroughVerbatim(t *testing.T) {
	base := backend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(`{"title":"short and stout"}`))
	})
	g := newTestGateway(t, func(cfg *config.Config) {
		cfg.Services = []config.ServiceConfig{serviceBlock("kettle", base, false)}
	})
	srv := serveGateway(t, g)

	resp := postJSON(t, srv.URL+"/route", `{"service":"kettle","endpoint":"/brew"}`)

	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get(HeaderRequestID))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"title":"short and stout"}`, string(body), "upstream body must not be rewrapped")
}

func TestHandleRoute_OversizedBodyRejected(t *testing.T) {
	g := newTestGateway(t, func(cfg *config.Config) {
		cfg.Server.MaxBodyBytes = 64
	})
	srv := serveGateway(t, g)

	huge := `{"service":"catalog","endpoint":"/x","data":{"blob":"` +
		strings.Repeat("x", 256) + `"}}`
	resp := postJSON(t, srv.URL+"/route", huge)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	class, _, _, _ := decodeError(t, resp)
	assert.Equal(t, "bad_request", class)
}

func TestHandleBatch_MixedOutcomes(t *testing.T) {
	base := backend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	g := newTestGateway(t, func(cfg *config.Config) {
		cfg.Services = []config.ServiceConfig{serviceBlock("orders", base, false)}
	})
	srv := serveGateway(t, g)

	resp := postJSON(t, srv.URL+"/batch", `{"requests":[
		{"service":"orders","endpoint":"/a"},
		{"service":"phantom","endpoint":"/b"},
		{"service":"orders","endpoint":"/c"}
	]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, "a valid batch answers 200 regardless of slot outcomes")
	assert.NotEmpty(t, resp.Header.Get(HeaderRequestID))

	var body struct {
		Results []struct {
			Index   int             `json:"index"`
			Success bool            `json:"success"`
			Payload json.RawMessage `json:"payload"`
			Error   *struct {
				Class   string `json:"class"`
				Service string `json:"service"`
			} `json:"error"`
		} `json:"results"`
		RequestID string `json:"request_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Results, 3)
	assert.NotEmpty(t, body.RequestID)

	assert.True(t, body.Results[0].Success)
	assert.JSONEq(t, `{"ok":true}`, string(body.Results[0].Payload))

	require.NotNil(t, body.Results[1].Error)
	assert.False(t, body.Results[1].Success)
	assert.Equal(t, "service_not_found", body.Results[1].Error.Class)
	assert.Equal(t, "phantom", body.Results[1].Error.Service)

	assert.True(t, body.Results[2].Success)
}

func TestHandleBatch_InvalidBatchesRejected(t *testing.T) {
	base := backend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	g := newTestGateway(t, func(cfg *config.Config) {
		cfg.Batch.MaxSize = 2
		cfg.Services = []config.ServiceConfig{serviceBlock("orders", base, false)}
	})
	srv := serveGateway(t, g)

	t.Run("empty", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/batch", `{"requests":[]}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		class, _, _, _ := decodeError(t, resp)
		assert.Equal(t, "invalid_batch", class)
	})

	t.Run("oversized", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/batch", `{"requests":[
			{"service":"orders","endpoint":"/a"},
			{"service":"orders","endpoint":"/b"},
			{"service":"orders","endpoint":"/c"}
		]}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		class, _, message, _ := decodeError(t, resp)
		assert.Equal(t, "invalid_batch", class)
		assert.Contains(t, message, "2")
	})
}
