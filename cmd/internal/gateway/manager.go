package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"

	v1 "bestiary/shared/contracts/wire/v1"
)

// Dispatcher routes one request envelope to its command handler.
type Dispatcher interface {
	Dispatch(ctx context.Context, now time.Time, env v1.Envelope) *v1.Envelope
}

// Options tunes the connection manager. Zero values fall back to the
// package defaults.
type Options struct {
	// Origin policy. Origins are matched by full value or by host.
	OriginRequired bool
	AllowedOrigins []string

	// DevInsecure disables TLS origin verification in websocket.Accept.
	// Dev-only.
	DevInsecure bool

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	RateEvents int
	RateWindow time.Duration

	// Live tracks open connections; may be nil.
	Live prometheus.Gauge
}

func (o Options) withDefaults() Options {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.ReadIdleTimeout <= 0 {
		o.ReadIdleTimeout = defaultReadIdle
	}
	if o.SendQueueSize < minSendQueue {
		o.SendQueueSize = defaultSendQueue
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = heartbeatInterval
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = heartbeatTimeout
	}
	if o.RateEvents <= 0 {
		o.RateEvents = rateLimitEvents
	}
	if o.RateWindow <= 0 {
		o.RateWindow = rateLimitWindow
	}
	return o
}

// Manager is the websocket entrypoint. It accepts connections, runs
// the per-connection goroutines and hands complete request batches to
// the dispatcher.
type Manager struct {
	log  *slog.Logger
	hub  *Hub
	disp Dispatcher
	opts Options

	// Derived for websocket.Accept origin checks: Accept authorizes
	// same-host by default, cross-origin needs OriginPatterns.
	originPatterns []string

	mu   sync.Mutex
	live map[string]*Client
}

// NewManager constructs a Manager.
func NewManager(log *slog.Logger, hub *Hub, disp Dispatcher, opts Options) *Manager {
	if log == nil {
		log = slog.Default()
	}
	opts = opts.withDefaults()
	return &Manager{
		log:            log,
		hub:            hub,
		disp:           disp,
		opts:           opts,
		originPatterns: originPatterns(opts.AllowedOrigins),
		live:           make(map[string]*Client),
	}
}

// ServeHTTP adapter so the manager mounts as an http.Handler.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.HandleWS(w, r)
}

// CloseAll tears down every live connection, for server shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.live))
	for _, c := range m.live {
		clients = append(clients, c)
	}
	m.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}

// LiveCount reports the number of open connections.
func (m *Manager) LiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

func (m *Manager) track(c *Client) {
	m.mu.Lock()
	m.live[c.ID] = c
	n := len(m.live)
	m.mu.Unlock()
	if m.opts.Live != nil {
		m.opts.Live.Set(float64(n))
	}
}

func (m *Manager) untrack(id string) {
	m.mu.Lock()
	delete(m.live, id)
	n := len(m.live)
	m.mu.Unlock()
	if m.opts.Live != nil {
		m.opts.Live.Set(float64(n))
	}
}

// HandleWS upgrades the request and runs the connection loop.
func (m *Manager) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := m.enforceOrigin(r); err != nil {
		m.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     m.originPatterns,
		InsecureSkipVerify: m.opts.DevInsecure,
	})
	if err != nil {
		m.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		m.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	client := NewClient(ulid.Make().String(), m.opts.SendQueueSize)
	m.track(client)
	m.log.Info("ws.open", "conn_id", client.ID, "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. Membership removal happens before
	// client.Close so broadcasters stop seeing the client first.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			m.hub.Unsubscribe(client.ID)
			m.untrack(client.ID)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
			m.log.Info("ws.close", "conn_id", client.ID, "reason", reason)
		})
	}

	rl := NewRateLimiter(m.opts.RateEvents, m.opts.RateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, m.opts.WriteTimeout); err != nil {
					m.log.Info("ws.write.fail", "conn_id", client.ID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
				// The reader may have flagged this connection for a
				// close after its final reply flushes.
				if code, reason, ok := client.PendingClose(); ok && len(client.Send) == 0 {
					shutdown(code, reason)
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(m.opts.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, m.opts.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					m.log.Info("ws.ping.fail", "conn_id", client.ID, "failures", failures, "err", err)
					if failures >= maxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	var batch []v1.Envelope

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, m.opts.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				if !m.enqueue(ctx, client, v1.Reply(v1.OutcomeBadRequest, nil, true)) {
					shutdown(websocket.StatusTryAgainLater, "send queue overflow")
					break readLoop
				}
				continue readLoop
			default:
				m.log.Info("ws.read.fail", "conn_id", client.ID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if !rl.Allow(time.Now().UTC()) {
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			if !m.enqueue(ctx, client, v1.Reply(v1.OutcomeBadRequest, nil, true)) {
				shutdown(websocket.StatusTryAgainLater, "send queue overflow")
				break readLoop
			}
			continue readLoop
		}

		// Control names act at read time and never join a batch.
		switch env.Name {
		case v1.NameDisconnect:
			if wantsDisconnectAck(env) {
				// The writer shuts the connection down after flushing
				// the ack.
				client.RequestClose(websocket.StatusNormalClosure, "client disconnect")
				if m.enqueue(ctx, client, v1.Reply(v1.NameDisconnected, nil, true)) {
					break readLoop
				}
			}
			shutdown(websocket.StatusNormalClosure, "client disconnect")
			break readLoop

		case v1.NameSubscribe:
			m.hub.Subscribe(client)
			if !m.enqueue(ctx, client, v1.Reply(v1.OutcomeOK, nil, true)) {
				shutdown(websocket.StatusTryAgainLater, "send queue overflow")
				break readLoop
			}
			continue readLoop

		case v1.NameUnsubscribe:
			m.hub.Unsubscribe(client.ID)
			continue readLoop
		}

		// A peer that withholds the final frame must not grow the
		// batch without bound.
		if len(batch) >= maxBatchEnvelopes {
			m.log.Info("ws.batch.overflow", "conn_id", client.ID, "limit", maxBatchEnvelopes)
			client.RequestClose(websocket.StatusPolicyViolation, "batch limit exceeded")
			if !m.enqueue(ctx, client, v1.Reply(v1.OutcomeBadRequest, nil, true)) {
				shutdown(websocket.StatusPolicyViolation, "batch limit exceeded")
			}
			break readLoop
		}

		batch = append(batch, env)
		if !env.Final {
			continue readLoop
		}

		// A complete batch dispatches off the read loop so a slow
		// handler never stalls reading.
		go m.runBatch(ctx, client, batch, func() {
			shutdown(websocket.StatusTryAgainLater, "send queue overflow")
		})
		batch = nil
	}

	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

// runBatch dispatches the batch envelopes in order. Replies mirror the
// request framing: final=false until the batch's last reply. A reply
// that cannot be queued invokes fail; losing part of a reply sequence
// must kill the connection rather than leave the peer waiting.
func (m *Manager) runBatch(ctx context.Context, client *Client, batch []v1.Envelope, fail func()) {
	now := time.Now().UTC()

	var replies []v1.Envelope
	for _, env := range batch {
		if reply := m.disp.Dispatch(ctx, now, env); reply != nil {
			replies = append(replies, *reply)
		}
	}
	for i, reply := range replies {
		reply.Final = i == len(replies)-1
		if !m.enqueue(ctx, client, reply) {
			m.log.Info("ws.reply.drop", "conn_id", client.ID, "name", reply.Name)
			if fail != nil {
				fail()
			}
			return
		}
	}
}

func wantsDisconnectAck(env v1.Envelope) bool {
	msg, err := env.Payload.AsMap()
	if err != nil {
		return false
	}
	return msg["ack"] == "true"
}

// ---- send helpers ----

func (m *Manager) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// ---- envelope IO ----

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, errBadJSON{err}
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type errBadJSON struct{ err error }

func (e errBadJSON) Error() string { return e.err.Error() }
func (e errBadJSON) Unwrap() error { return e.err }

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	var bad errBadJSON
	if errors.As(err, &bad) {
		return readErrBadJSON
	}
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (m *Manager) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if m.opts.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(m.opts.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range m.opts.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Honored only when configured explicitly.
			return nil
		}
		if origin == a {
			return nil
		}
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func originPatterns(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host.
	// Only hosts extracted from the allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}
