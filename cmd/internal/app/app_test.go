package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	v1 "bestiary/shared/contracts/wire/v1"
)

func newTestApp(t *testing.T, cfg Config) (*App, *httptest.Server) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := New(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	mux := http.NewServeMux()
	registerHTTP(mux, log, cfg, a.pool, a.dbEnabled, a.manager, a.metrics)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	t.Cleanup(a.manager.CloseAll)
	return a, ts
}

func TestApp_HealthAndReadiness(t *testing.T) {
	_, ts := newTestApp(t, Config{})

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/healthz status = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/readyz status = %d", resp.StatusCode)
	}
}

func TestApp_ReadinessRequiresDB(t *testing.T) {
	cfg := Config{ReadinessRequireDB: true}
	_, ts := newTestApp(t, cfg)

	resp, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("/readyz status = %d, want 503", resp.StatusCode)
	}
}

func TestApp_MetricsEndpoint(t *testing.T) {
	_, ts := newTestApp(t, Config{})

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/metrics status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "bestiary_live_connections") {
		t.Fatal("metrics output missing bestiary_live_connections")
	}
}

func TestApp_WSEndToEnd(t *testing.T) {
	_, ts := newTestApp(t, Config{})

	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("websocket.Dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	send := func(env v1.Envelope) {
		t.Helper()
		b, err := json.Marshal(env)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
			t.Fatalf("conn.Write: %v", err)
		}
	}
	recv := func() v1.Envelope {
		t.Helper()
		_, b, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("conn.Read: %v", err)
		}
		var env v1.Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return env
	}

	// Storage is off in memory mode, so login reports exactly that.
	send(v1.Envelope{
		Name:    "login",
		Payload: v1.StringsPayload([]string{"someone@example.com", "hunter2hunter2"}),
		Final:   true,
	})
	if got := recv(); got.Name != v1.OutcomeDBNotSupported {
		t.Fatalf("login reply = %q, want %q", got.Name, v1.OutcomeDBNotSupported)
	}

	send(v1.Envelope{Name: "warp_creature", Final: true})
	if got := recv(); got.Name != v1.OutcomeCommandNotSupported {
		t.Fatalf("unknown command reply = %q, want %q", got.Name, v1.OutcomeCommandNotSupported)
	}

	send(v1.Envelope{Name: "request_creatures", Final: true})
	if got := recv(); got.Name != v1.OutcomeAuthFailed {
		t.Fatalf("unauthenticated reply = %q, want %q", got.Name, v1.OutcomeAuthFailed)
	}

	// info needs the stores too.
	send(v1.Envelope{Name: "info", Final: true})
	if got := recv(); got.Name != v1.OutcomeDBNotSupported {
		t.Fatalf("info reply = %q, want %q", got.Name, v1.OutcomeDBNotSupported)
	}
}
