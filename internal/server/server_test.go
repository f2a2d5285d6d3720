package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PauloHMoreti/PI-Unimax-2-Semestre/internal/ingest"
	"github.com/PauloHMoreti/PI-Unimax-2-Semestre/internal/telemetry"
)

// idleProducer reports nothing on its own; tests drive the core directly.
type idleProducer struct{ name string }

func (p idleProducer) Name() string { return p.name }
func (p idleProducer) Start() error { return nil }
func (p idleProducer) Stop() error  { return nil }

func newTestServer(t *testing.T) (*Server, *ingest.Core, *httptest.Server) {
	t.Helper()
	core := ingest.New(ingest.Options{
		Mode: ingest.Mock,
		Live: func(telemetry.Sink) telemetry.Producer { return idleProducer{"live"} },
		Mock: func(telemetry.Sink) telemetry.Producer { return idleProducer{"mock"} },
	})
	if err := core.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	cfg := DefaultConfig()
	cfg.path = t.TempDir() + "/config.yaml"
	web := fstest.MapFS{"index.html": {Data: []byte("<h1>bueiro</h1>")}}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, "ok") })

	s := New(cfg, core, metrics, web, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go s.fanOut(ctx)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		core.Close()
	})
	return s, core, ts
}

func decodeFrame(t *testing.T, r io.Reader) Frame {
	t.Helper()
	var f Frame
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return f
}

func TestHandleState(t *testing.T) {
	_, core, ts := newTestServer(t)
	core.OnTelemetry(telemetry.Message{Distance: 42.37, Concentration: 88})

	resp, err := http.Get(ts.URL + "/api/state")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	f := decodeFrame(t, resp.Body)
	if f.Mode != ingest.Mock || f.Status != telemetry.Mocked {
		t.Fatalf("unexpected mode/status %s/%s", f.Mode, f.Status)
	}
	if f.StatusLabel != "Mockado" || f.StatusClass != telemetry.ClassMocked {
		t.Fatalf("unexpected badge %s/%s", f.StatusLabel, f.StatusClass)
	}
	if f.Display.Distance != "42.4" || f.Display.Concentration != "88" || f.Display.Latitude != ingest.Unset {
		t.Fatalf("unexpected display %+v", f.Display)
	}
}

func TestHandleMode(t *testing.T) {
	_, core, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/mode", "application/json", strings.NewReader(`{"mode":"live"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	f := decodeFrame(t, resp.Body)
	resp.Body.Close()
	if f.Mode != ingest.Live || f.Status != telemetry.Connecting || core.Mode() != ingest.Live {
		t.Fatalf("expected live/connecting, got %s/%s", f.Mode, f.Status)
	}

	resp, err = http.Post(ts.URL+"/api/mode", "application/json", strings.NewReader(`{"mode":"demo"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown mode, got %d", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/api/mode/toggle", "application/json", nil)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	f = decodeFrame(t, resp.Body)
	resp.Body.Close()
	if f.Mode != ingest.Mock || f.Status != telemetry.Mocked {
		t.Fatalf("expected mock/mocked after toggle, got %s/%s", f.Mode, f.Status)
	}

	resp, err = http.Get(ts.URL + "/api/mode/toggle")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestHandleConfig(t *testing.T) {
	s, _, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/config", "application/json", strings.NewReader(`{"mqtt":{"topic":"bueiro/3"}}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := s.cfg.ChannelConfig().Topic; got != "bueiro/3" {
		t.Fatalf("expected topic bueiro/3, got %s", got)
	}

	resp, err = http.Get(ts.URL + "/api/config")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var cfg map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg["mode"] != "mock" {
		t.Fatalf("unexpected config %v", cfg)
	}
}

func TestStaticAndMetricsRoutes(t *testing.T) {
	_, _, ts := newTestServer(t)
	for path, want := range map[string]string{"/": "bueiro", "/metrics": "ok"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if !strings.Contains(string(body), want) {
			t.Fatalf("%s: expected %q in %q", path, want, body)
		}
	}
}

func TestWebSocketFramesAndToggle(t *testing.T) {
	_, core, ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readUntil := func(what string, match func(Frame) bool) Frame {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			var f Frame
			if err := conn.ReadJSON(&f); err != nil {
				t.Fatalf("waiting for %s: %v", what, err)
			}
			if match(f) {
				return f
			}
		}
	}

	first := readUntil("initial frame", func(Frame) bool { return true })
	if first.Mode != ingest.Mock || first.StatusClass != telemetry.ClassMocked {
		t.Fatalf("unexpected initial frame %+v", first)
	}

	core.OnTelemetry(telemetry.Message{Distance: 42.37, Concentration: 88})
	readUntil("telemetry frame", func(f Frame) bool { return f.Display.Distance == "42.4" })

	if err := conn.WriteJSON(map[string]string{"type": "toggle"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := readUntil("live frame", func(f Frame) bool { return f.Mode == ingest.Live })
	if f.Status != telemetry.Connecting || f.StatusClass != telemetry.ClassOK {
		t.Fatalf("unexpected live frame %+v", f)
	}
	// Switching modes keeps the last reading.
	if f.Display.Distance != "42.4" {
		t.Fatalf("snapshot lost on toggle: %+v", f.Display)
	}
}

func TestClientAdmitsOnlyNewerFrames(t *testing.T) {
	c := &wsClient{}
	if !c.admit(5) {
		t.Fatalf("first frame must be written")
	}
	if c.admit(4) {
		t.Fatalf("older frame written after a newer one")
	}
	if c.admit(5) {
		t.Fatalf("duplicate frame written")
	}
	if !c.admit(6) {
		t.Fatalf("newer frame dropped")
	}
}

func TestBroadcastKeepsLatestForSlowClient(t *testing.T) {
	s := New(DefaultConfig(), nil, nil, nil, nil)
	c := &wsClient{send: make(chan outFrame, 1)}
	s.clients[c] = struct{}{}

	s.broadcast(Frame{Seq: 1})
	s.broadcast(Frame{Seq: 2})

	got := <-c.send
	if got.seq != 2 {
		t.Fatalf("expected latest frame queued, got seq %d", got.seq)
	}
	var f Frame
	if err := json.Unmarshal(got.data, &f); err != nil || f.Seq != 2 {
		t.Fatalf("queued data does not match seq: %+v %v", f, err)
	}
}
