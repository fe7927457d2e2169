package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	v1 "bestiary/shared/contracts/wire/v1"
)

// echoDispatcher replies OK with the request name as payload. A
// request named "silent" gets no reply.
type echoDispatcher struct {
	mu   sync.Mutex
	seen []string
}

func (d *echoDispatcher) Dispatch(_ context.Context, _ time.Time, env v1.Envelope) *v1.Envelope {
	d.mu.Lock()
	d.seen = append(d.seen, env.Name)
	d.mu.Unlock()

	if env.Name == "silent" {
		return nil
	}
	r := v1.Reply(v1.OutcomeOK, v1.StringPayload(env.Name), false)
	return &r
}

func (d *echoDispatcher) names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.seen...)
}

func newTestManager(t *testing.T, disp Dispatcher, opts Options) (*Manager, *Hub, *httptest.Server) {
	t.Helper()

	log := discardLogger()
	hub := NewHub(log, nil, nil)
	mgr := NewManager(log, hub, disp, opts)

	mux := http.NewServeMux()
	mux.Handle("/ws", mgr)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	t.Cleanup(mgr.CloseAll)

	return mgr, hub, ts
}

func dialGateway(t *testing.T, baseURL string) *websocket.Conn {
	t.Helper()

	u, err := url.Parse(baseURL)
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
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") })
	return conn
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, env v1.Envelope) {
	t.Helper()

	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("conn.Write: %v", err)
	}
}

func recvEnvelope(t *testing.T, conn *websocket.Conn) v1.Envelope {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, b, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("conn.Read: %v", err)
	}
	var env v1.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

func TestManager_SubscribeAck(t *testing.T) {
	t.Parallel()

	_, hub, ts := newTestManager(t, &echoDispatcher{}, Options{})
	conn := dialGateway(t, ts.URL)

	sendEnvelope(t, conn, v1.Envelope{Name: v1.NameSubscribe, Final: true})

	ack := recvEnvelope(t, conn)
	if ack.Name != v1.OutcomeOK {
		t.Fatalf("ack name = %q, want %q", ack.Name, v1.OutcomeOK)
	}
	if !ack.Final {
		t.Fatal("ack not final")
	}

	waitFor(t, func() bool { return hub.Count() == 1 })
}

func TestManager_BatchRepliesInOrderWithFinalFlags(t *testing.T) {
	t.Parallel()

	disp := &echoDispatcher{}
	_, _, ts := newTestManager(t, disp, Options{})
	conn := dialGateway(t, ts.URL)

	sendEnvelope(t, conn, v1.Envelope{Name: "first", Final: false})
	sendEnvelope(t, conn, v1.Envelope{Name: "second", Final: false})
	sendEnvelope(t, conn, v1.Envelope{Name: "third", Final: true})

	wantFinal := []bool{false, false, true}
	wantNames := []string{"first", "second", "third"}
	for i := range wantFinal {
		reply := recvEnvelope(t, conn)
		if reply.Name != v1.OutcomeOK {
			t.Fatalf("reply %d name = %q, want OK", i, reply.Name)
		}
		if reply.Final != wantFinal[i] {
			t.Fatalf("reply %d final = %v, want %v", i, reply.Final, wantFinal[i])
		}
		echoed, err := reply.Payload.AsString()
		if err != nil {
			t.Fatalf("reply %d payload: %v", i, err)
		}
		if echoed != wantNames[i] {
			t.Fatalf("reply %d echoed %q, want %q", i, echoed, wantNames[i])
		}
	}

	got := disp.names()
	if len(got) != 3 || got[0] != "first" || got[1] != "second" || got[2] != "third" {
		t.Fatalf("dispatched %v, want [first second third]", got)
	}
}

func TestManager_SilentHandlerShiftsFinalToLastReply(t *testing.T) {
	t.Parallel()

	_, _, ts := newTestManager(t, &echoDispatcher{}, Options{})
	conn := dialGateway(t, ts.URL)

	sendEnvelope(t, conn, v1.Envelope{Name: "first", Final: false})
	sendEnvelope(t, conn, v1.Envelope{Name: "silent", Final: true})

	reply := recvEnvelope(t, conn)
	echoed, err := reply.Payload.AsString()
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if echoed != "first" {
		t.Fatalf("echoed %q, want %q", echoed, "first")
	}
	if !reply.Final {
		t.Fatal("sole batch reply must be final")
	}
}

func TestManager_DisconnectWithAck(t *testing.T) {
	t.Parallel()

	mgr, _, ts := newTestManager(t, &echoDispatcher{}, Options{})
	conn := dialGateway(t, ts.URL)

	sendEnvelope(t, conn, v1.Envelope{
		Name:    v1.NameDisconnect,
		Payload: v1.MapPayload(map[string]string{"ack": "true"}),
		Final:   true,
	})

	ack := recvEnvelope(t, conn)
	if ack.Name != v1.NameDisconnected {
		t.Fatalf("ack name = %q, want %q", ack.Name, v1.NameDisconnected)
	}
	if !ack.Final {
		t.Fatal("disconnect ack not final")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); err == nil {
		t.Fatal("expected connection to close after disconnect ack")
	}

	waitFor(t, func() bool { return mgr.LiveCount() == 0 })
}

func TestManager_DisconnectWithoutAckClosesSilently(t *testing.T) {
	t.Parallel()

	mgr, hub, ts := newTestManager(t, &echoDispatcher{}, Options{})
	conn := dialGateway(t, ts.URL)

	sendEnvelope(t, conn, v1.Envelope{Name: v1.NameSubscribe, Final: true})
	_ = recvEnvelope(t, conn)
	waitFor(t, func() bool { return hub.Count() == 1 })

	sendEnvelope(t, conn, v1.Envelope{Name: v1.NameDisconnect, Final: true})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); err == nil {
		t.Fatal("expected connection to close after disconnect")
	}

	waitFor(t, func() bool { return mgr.LiveCount() == 0 && hub.Count() == 0 })
}

func TestManager_BroadcastReachesSubscribedConnections(t *testing.T) {
	t.Parallel()

	_, hub, ts := newTestManager(t, &echoDispatcher{}, Options{})

	subscriber := dialGateway(t, ts.URL)
	bystander := dialGateway(t, ts.URL)

	sendEnvelope(t, subscriber, v1.Envelope{Name: v1.NameSubscribe, Final: true})
	_ = recvEnvelope(t, subscriber)
	waitFor(t, func() bool { return hub.Count() == 1 })

	hub.Publish(v1.Reply(v1.EventCreatureAdded, v1.IntPayload(7), true))

	ev := recvEnvelope(t, subscriber)
	if ev.Name != v1.EventCreatureAdded {
		t.Fatalf("event name = %q, want %q", ev.Name, v1.EventCreatureAdded)
	}
	id, err := ev.Payload.AsInt()
	if err != nil || id != 7 {
		t.Fatalf("event payload = (%d, %v), want 7", id, err)
	}

	// The unsubscribed connection must stay quiet. Prove it is still
	// responsive rather than waiting on a negative read.
	sendEnvelope(t, bystander, v1.Envelope{Name: "probe", Final: true})
	reply := recvEnvelope(t, bystander)
	if reply.Name != v1.OutcomeOK {
		t.Fatalf("bystander reply = %q, want OK", reply.Name)
	}
	echoed, err := reply.Payload.AsString()
	if err != nil || echoed != "probe" {
		t.Fatalf("bystander echoed (%q, %v), want probe", echoed, err)
	}
}

func TestManager_UnsubscribeStopsBroadcasts(t *testing.T) {
	t.Parallel()

	_, hub, ts := newTestManager(t, &echoDispatcher{}, Options{})
	conn := dialGateway(t, ts.URL)

	sendEnvelope(t, conn, v1.Envelope{Name: v1.NameSubscribe, Final: true})
	_ = recvEnvelope(t, conn)
	waitFor(t, func() bool { return hub.Count() == 1 })

	sendEnvelope(t, conn, v1.Envelope{Name: v1.NameUnsubscribe, Final: true})
	waitFor(t, func() bool { return hub.Count() == 0 })

	hub.Publish(v1.Reply(v1.EventCreatureDeleted, nil, true))

	sendEnvelope(t, conn, v1.Envelope{Name: "probe", Final: true})
	reply := recvEnvelope(t, conn)
	echoed, err := reply.Payload.AsString()
	if err != nil || echoed != "probe" {
		t.Fatalf("next frame = (%q, %v), want probe echo", echoed, err)
	}
}

func TestManager_MalformedJSONGetsBadRequest(t *testing.T) {
	t.Parallel()

	_, _, ts := newTestManager(t, &echoDispatcher{}, Options{})
	conn := dialGateway(t, ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("conn.Write: %v", err)
	}

	reply := recvEnvelope(t, conn)
	if reply.Name != v1.OutcomeBadRequest {
		t.Fatalf("reply = %q, want %q", reply.Name, v1.OutcomeBadRequest)
	}
	if !reply.Final {
		t.Fatal("bad request reply not final")
	}

	// The connection survives the bad frame.
	sendEnvelope(t, conn, v1.Envelope{Name: "probe", Final: true})
	next := recvEnvelope(t, conn)
	if next.Name != v1.OutcomeOK {
		t.Fatalf("followup reply = %q, want OK", next.Name)
	}
}

func TestManager_InvalidEnvelopeGetsBadRequest(t *testing.T) {
	t.Parallel()

	_, _, ts := newTestManager(t, &echoDispatcher{}, Options{})
	conn := dialGateway(t, ts.URL)

	sendEnvelope(t, conn, v1.Envelope{
		Name:    "probe",
		Payload: &v1.Payload{Kind: "bogus", Value: json.RawMessage(`1`)},
		Final:   true,
	})

	reply := recvEnvelope(t, conn)
	if reply.Name != v1.OutcomeBadRequest {
		t.Fatalf("reply = %q, want %q", reply.Name, v1.OutcomeBadRequest)
	}
}

func TestManager_RateLimitClosesConnection(t *testing.T) {
	t.Parallel()

	disp := &echoDispatcher{}
	_, _, ts := newTestManager(t, disp, Options{
		RateEvents: 3,
		RateWindow: time.Minute,
	})
	conn := dialGateway(t, ts.URL)

	for i := 0; i < 10; i++ {
		b, err := json.Marshal(v1.Envelope{Name: "silent", Final: true})
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = conn.Write(ctx, websocket.MessageText, b)
		cancel()
		if err != nil {
			// The server closed the connection mid loop.
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); err == nil {
		t.Fatal("expected rate-limited connection to close")
	}
}

func TestManager_BatchCapRejectsWithheldFinal(t *testing.T) {
	t.Parallel()

	disp := &echoDispatcher{}
	_, _, ts := newTestManager(t, disp, Options{
		RateEvents: 10 * maxBatchEnvelopes,
		RateWindow: time.Minute,
	})
	conn := dialGateway(t, ts.URL)

	// One over the cap, never sending final=true.
	for i := 0; i <= maxBatchEnvelopes; i++ {
		sendEnvelope(t, conn, v1.Envelope{Name: "stall", Final: false})
	}

	reply := recvEnvelope(t, conn)
	if reply.Name != v1.OutcomeBadRequest {
		t.Fatalf("overflow reply = %q, want %q", reply.Name, v1.OutcomeBadRequest)
	}
	if !reply.Final {
		t.Fatal("overflow reply not final")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); err == nil {
		t.Fatal("expected connection to close after batch overflow")
	}

	if got := disp.names(); len(got) != 0 {
		t.Fatalf("dispatched %v, want nothing from an unfinished batch", got)
	}
}

func TestManager_ReplyQueueOverflowFailsConnection(t *testing.T) {
	t.Parallel()

	disp := &echoDispatcher{}
	m := NewManager(discardLogger(), NewHub(discardLogger(), nil, nil), disp, Options{})

	// Queue of one, already occupied, so the reply has nowhere to go.
	client := NewClient("conn-1", 1)
	client.Send <- v1.Reply(v1.EventUsersListUpdated, nil, true)

	failed := false
	m.runBatch(context.Background(), client, []v1.Envelope{{Name: "first", Final: true}}, func() {
		failed = true
	})

	if !failed {
		t.Fatal("undeliverable reply must fail the connection")
	}
	if len(client.Send) != 1 {
		t.Fatalf("queue holds %d envelopes, want the original 1", len(client.Send))
	}
}

func TestManager_RejectsMissingSubprotocol(t *testing.T) {
	t.Parallel()

	_, _, ts := newTestManager(t, &echoDispatcher{}, Options{})

	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		// Handshake-level rejection is also acceptable.
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if _, _, err := conn.Read(ctx); err == nil {
		t.Fatal("expected server to close connection without subprotocol")
	}
}

func TestManager_EnforceOrigin(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		opts    Options
		origin  string
		allowed bool
	}{
		{"no origin, not required", Options{}, "", true},
		{"no origin, required", Options{OriginRequired: true}, "", false},
		{"exact match", Options{AllowedOrigins: []string{"https://app.example.com"}}, "https://app.example.com", true},
		{"host match ignores scheme", Options{AllowedOrigins: []string{"https://app.example.com"}}, "http://app.example.com", true},
		{"host match ignores port", Options{AllowedOrigins: []string{"app.example.com"}}, "https://app.example.com:8443", true},
		{"mismatch", Options{AllowedOrigins: []string{"https://app.example.com"}}, "https://evil.example.com", false},
		{"origin with empty allowlist", Options{}, "https://app.example.com", false},
		{"wildcard", Options{AllowedOrigins: []string{"*"}}, "https://anywhere.example.com", true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			m := NewManager(discardLogger(), NewHub(discardLogger(), nil, nil), &echoDispatcher{}, tc.opts)

			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tc.origin != "" {
				r.Header.Set("Origin", tc.origin)
			}

			err := m.enforceOrigin(r)
			if tc.allowed && err != nil {
				t.Fatalf("enforceOrigin() = %v, want nil", err)
			}
			if !tc.allowed && err == nil {
				t.Fatal("enforceOrigin() = nil, want error")
			}
		})
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
