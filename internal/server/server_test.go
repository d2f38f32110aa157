package server_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/kestrelvoice/kestrel/internal/pipeline"
	"github.com/kestrelvoice/kestrel/internal/server"
	"github.com/kestrelvoice/kestrel/internal/wakeword"
	"github.com/kestrelvoice/kestrel/pkg/spotter"
	spottermock "github.com/kestrelvoice/kestrel/pkg/spotter/mock"
	"github.com/kestrelvoice/kestrel/pkg/stage"
	stagemock "github.com/kestrelvoice/kestrel/pkg/stage/mock"
	vadmock "github.com/kestrelvoice/kestrel/pkg/vad/mock"
)

// wireEvent mirrors the JSON the server pushes for pipeline events.
type wireEvent struct {
	Type      string          `json:"type"`
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	State     string          `json:"state"`
}

// statusBody mirrors the GET /api/status response.
type statusBody struct {
	ActiveSessions int `json:"active_sessions"`
	Sessions       []struct {
		ID              string `json:"id"`
		State           string `json:"state"`
		Running         bool   `json:"running"`
		ChunksProcessed uint64 `json:"chunks_processed"`
	} `json:"sessions"`
}

// testEnv bundles a running server and the mocks behind its sessions. All
// websocket connections share the same mock session, which is fine for tests
// that open a single connection.
type testEnv struct {
	ts      *httptest.Server
	session *spottermock.Session
	rec     *stagemock.Recognizer
}

func newTestEnv(t *testing.T, session *spottermock.Session) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := &stagemock.Recognizer{Transcript: stage.Transcript{Text: "play some music"}}

	srv := server.New(server.Config{
		SampleRate:      16000,
		MaxChunkSamples: 48000,
		Logger:          log,
		NewPipeline: func() (*pipeline.Pipeline, func() error, error) {
			p := pipeline.New(pipeline.Config{
				Detector: wakeword.NewDetector(session, 16000, log),
				Gate:     &vadmock.Gate{},
				Stages: pipeline.Stages{
					Recognizer:  rec,
					Resolver:    &stagemock.Resolver{Intent: stage.Intent{Name: "music", Confidence: 0.9}},
					Executor:    &stagemock.Executor{Result: stage.CommandResult{Success: true, Response: "playing", Action: "play_music"}},
					Synthesizer: &stagemock.Synthesizer{},
				},
				Logger: log,
			})
			return p, func() error { return nil }, nil
		},
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, session: session, rec: rec}
}

func (e *testEnv) dial(t *testing.T, ctx context.Context) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	return conn
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) wireEvent {
	t.Helper()
	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("event frame type = %v, want text", typ)
	}
	var ev wireEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode event %q: %v", data, err)
	}
	if ev.Type != "pipeline_event" {
		t.Fatalf("event type = %q, want pipeline_event", ev.Type)
	}
	return ev
}

func getStatus(t *testing.T, ts *httptest.Server) statusBody {
	t.Helper()
	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d, want 200", resp.StatusCode)
	}
	var body statusBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return body
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func silenceChunk(samples int) []byte {
	return make([]byte, samples*2)
}

func TestServer_SessionLifecycle(t *testing.T) {
	env := newTestEnv(t, &spottermock.Session{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, ctx)

	// The server starts the pipeline as soon as the connection is up.
	ev := readEvent(t, ctx, conn)
	if ev.EventType != "pipeline_started" {
		t.Errorf("first event = %q, want pipeline_started", ev.EventType)
	}
	if ev.State != "listening" {
		t.Errorf("state = %q, want listening", ev.State)
	}

	body := getStatus(t, env.ts)
	if body.ActiveSessions != 1 {
		t.Fatalf("active_sessions = %d, want 1", body.ActiveSessions)
	}
	if !body.Sessions[0].Running {
		t.Error("session not running")
	}

	conn.Close(websocket.StatusNormalClosure, "done")

	waitFor(t, 2*time.Second, func() bool {
		return getStatus(t, env.ts).ActiveSessions == 0
	})
}

func TestServer_BinaryChunksFeedDetector(t *testing.T) {
	env := newTestEnv(t, &spottermock.Session{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, ctx)
	defer conn.Close(websocket.StatusNormalClosure, "done")
	readEvent(t, ctx, conn) // pipeline_started

	for i := 0; i < 3; i++ {
		if err := conn.Write(ctx, websocket.MessageBinary, silenceChunk(1600)); err != nil {
			t.Fatalf("write chunk: %v", err)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		return len(env.session.FeedCalls) == 3
	})
	if got := len(env.session.FeedCalls[0].Samples); got != 1600 {
		t.Errorf("fed %d samples per chunk, want 1600", got)
	}
}

func TestServer_WakeCycleEventsPushed(t *testing.T) {
	env := newTestEnv(t, &spottermock.Session{
		PollResults: []spotter.Result{{Keyword: "kestrel"}},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, ctx)
	defer conn.Close(websocket.StatusNormalClosure, "done")
	readEvent(t, ctx, conn) // pipeline_started

	if err := conn.Write(ctx, websocket.MessageBinary, silenceChunk(1600)); err != nil {
		t.Fatalf("write chunk: %v", err)
	}

	want := []string{
		"wake_word_detected",
		"speech_recognition_started",
		"intent_processing_started",
		"command_execution_started",
		"tts_started",
		"returned_to_listening",
	}
	for _, wantType := range want {
		ev := readEvent(t, ctx, conn)
		if ev.EventType != wantType {
			t.Fatalf("event = %q, want %q", ev.EventType, wantType)
		}
	}
}

func TestServer_TextEnvelopeChunk(t *testing.T) {
	env := newTestEnv(t, &spottermock.Session{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, ctx)
	defer conn.Close(websocket.StatusNormalClosure, "done")
	readEvent(t, ctx, conn) // pipeline_started

	env.session.ResetCalls()

	payload := map[string]any{
		"timestamp": time.Now().UnixMilli(),
		"audioData": make([]int16, 1600),
	}
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write envelope: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return len(env.session.FeedCalls) == 1
	})
}

func TestServer_MalformedChunkKeepsConnection(t *testing.T) {
	env := newTestEnv(t, &spottermock.Session{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, ctx)
	defer conn.Close(websocket.StatusNormalClosure, "done")
	readEvent(t, ctx, conn) // pipeline_started

	// Odd-length binary frame and garbage JSON are both rejected without
	// tearing down the session.
	if err := conn.Write(ctx, websocket.MessageBinary, []byte{0x01}); err != nil {
		t.Fatalf("write malformed binary: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte("not json")); err != nil {
		t.Fatalf("write malformed text: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageBinary, silenceChunk(1600)); err != nil {
		t.Fatalf("write valid chunk: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return len(env.session.FeedCalls) == 1
	})
}

func TestServer_OversizedChunkRejected(t *testing.T) {
	env := newTestEnv(t, &spottermock.Session{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, ctx)
	defer conn.Close(websocket.StatusNormalClosure, "done")
	readEvent(t, ctx, conn) // pipeline_started

	// 50000 samples exceeds the 48000 limit.
	if err := conn.Write(ctx, websocket.MessageBinary, silenceChunk(50000)); err != nil {
		t.Fatalf("write oversized chunk: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageBinary, silenceChunk(1600)); err != nil {
		t.Fatalf("write valid chunk: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return len(env.session.FeedCalls) == 1
	})
}

func TestServer_StopAndStartSession(t *testing.T) {
	env := newTestEnv(t, &spottermock.Session{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, ctx)
	defer conn.Close(websocket.StatusNormalClosure, "done")
	readEvent(t, ctx, conn) // pipeline_started

	body := getStatus(t, env.ts)
	if len(body.Sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(body.Sessions))
	}
	id := body.Sessions[0].ID

	resp, err := http.Post(env.ts.URL+"/api/sessions/"+id+"/stop", "", nil)
	if err != nil {
		t.Fatalf("POST stop: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d, want 200", resp.StatusCode)
	}

	// The stop is pushed to the client and visible in the status API.
	ev := readEvent(t, ctx, conn)
	if ev.EventType != "pipeline_stopped" {
		t.Errorf("event = %q, want pipeline_stopped", ev.EventType)
	}
	if got := getStatus(t, env.ts).Sessions[0].State; got != "idle" {
		t.Errorf("state after stop = %q, want idle", got)
	}

	resp, err = http.Post(env.ts.URL+"/api/sessions/"+id+"/start", "", nil)
	if err != nil {
		t.Fatalf("POST start: %v", err)
	}
	resp.Body.Close()
	ev = readEvent(t, ctx, conn)
	if ev.EventType != "pipeline_started" {
		t.Errorf("event = %q, want pipeline_started", ev.EventType)
	}
	if got := getStatus(t, env.ts).Sessions[0].State; got != "listening" {
		t.Errorf("state after start = %q, want listening", got)
	}
}

func TestServer_UnknownSessionIs404(t *testing.T) {
	env := newTestEnv(t, &spottermock.Session{})

	resp, err := http.Post(env.ts.URL+"/api/sessions/nope/stop", "", nil)
	if err != nil {
		t.Fatalf("POST stop: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestServer_OperationalEndpointsMounted(t *testing.T) {
	env := newTestEnv(t, &spottermock.Session{})

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(env.ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}
