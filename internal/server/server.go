// Package server exposes the Kestrel pipeline over HTTP: a websocket audio
// ingress that streams chunks into a per-connection pipeline and pushes
// pipeline events back, plus a small REST control surface and the usual
// operational endpoints (health, readiness, metrics).
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/kestrelvoice/kestrel/internal/health"
	"github.com/kestrelvoice/kestrel/internal/observe"
	"github.com/kestrelvoice/kestrel/internal/pipeline"
	"github.com/kestrelvoice/kestrel/pkg/audio"
)

// writeTimeout bounds a single websocket event write so one stuck client
// cannot stall its pipeline.
const writeTimeout = 5 * time.Second

// PipelineFactory builds a fresh pipeline for one connection. The returned
// cleanup function releases per-session resources (recognizer sessions, gate
// state) and is called when the connection ends.
type PipelineFactory func() (*pipeline.Pipeline, func() error, error)

// Config assembles a [Server].
type Config struct {
	// SampleRate is the required sample rate of incoming chunks.
	SampleRate int

	// MaxChunkSamples bounds a single chunk. Zero means unbounded.
	MaxChunkSamples int

	// NewPipeline builds the per-connection pipeline. Required.
	NewPipeline PipelineFactory

	// Health serves /healthz and /readyz. When nil a checker-less handler
	// is used.
	Health *health.Handler

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Server accepts websocket audio streams and runs one pipeline per
// connection. Safe for concurrent use.
type Server struct {
	sampleRate      int
	maxChunkSamples int
	newPipeline     PipelineFactory
	health          *health.Handler
	log             *slog.Logger
	metrics         *observe.Metrics

	mu       sync.Mutex
	sessions map[string]*session
}

// session is the server-side state of one websocket connection.
type session struct {
	id        string
	remote    string
	startedAt time.Time
	pipe      *pipeline.Pipeline
	cleanup   func() error

	// writeMu serialises websocket writes: events are pushed both from the
	// read loop (synchronous pipeline events) and from control handlers.
	writeMu sync.Mutex
	conn    *websocket.Conn
}

// New creates a Server. Config.NewPipeline must be set.
func New(cfg Config) *Server {
	s := &Server{
		sampleRate:      cfg.SampleRate,
		maxChunkSamples: cfg.MaxChunkSamples,
		newPipeline:     cfg.NewPipeline,
		health:          cfg.Health,
		log:             cfg.Logger,
		metrics:         cfg.Metrics,
		sessions:        make(map[string]*session),
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.health == nil {
		s.health = health.New()
	}
	return s
}

// Handler returns the full HTTP handler: websocket ingress, control API,
// health endpoints, and the Prometheus scrape endpoint, wrapped in the
// observability middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/sessions/{id}/start", s.handleSessionStart)
	mux.HandleFunc("POST /api/sessions/{id}/stop", s.handleSessionStop)
	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(s.metrics)(mux)
}

// Shutdown stops every active session's pipeline and closes its connection.
// Sessions are torn down concurrently; a Stop may block on an in-flight wake
// cycle, so slow sessions must not delay the rest past the ctx deadline.
func (s *Server) Shutdown(ctx context.Context) {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, sess := range sessions {
		g.Go(func() error {
			sess.pipe.Stop()
			return sess.conn.Close(websocket.StatusGoingAway, "server shutting down")
		})
	}
	if err := g.Wait(); err != nil {
		s.log.Debug("session close during shutdown", "error", err)
	}
}

// ── Websocket ingress ─────────────────────────────────────────────────────

// handleWS upgrades the connection, builds a pipeline for it, and pumps
// chunks until the client disconnects. Binary frames carry raw little-endian
// 16-bit PCM; text frames carry a JSON chunk envelope.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	pipe, cleanup, err := s.newPipeline()
	if err != nil {
		s.log.Error("pipeline construction failed", "error", err)
		_ = conn.Close(websocket.StatusInternalError, "pipeline unavailable")
		return
	}

	sess := &session{
		id:        uuid.NewString(),
		remote:    r.RemoteAddr,
		startedAt: time.Now(),
		pipe:      pipe,
		cleanup:   cleanup,
		conn:      conn,
	}
	log := s.log.With("session", sess.id, "remote", sess.remote)

	s.register(sess)
	s.metrics.ActiveSessions.Add(r.Context(), 1)
	defer func() {
		s.unregister(sess.id)
		s.metrics.ActiveSessions.Add(context.Background(), -1)
		if err := sess.cleanup(); err != nil {
			log.Warn("session cleanup error", "error", err)
		}
		conn.CloseNow()
	}()

	// Push every pipeline event to the client.
	pipe.Subscribe(func(ev pipeline.Event) {
		if err := sess.sendEvent(ev); err != nil {
			log.Debug("event push failed", "eventType", ev.Type, "error", err)
		}
	})

	log.Info("session connected")
	pipe.Start()

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				log.Info("session closed by client")
			} else if !errors.Is(err, context.Canceled) {
				log.Warn("websocket read error", "error", err)
			}
			break
		}

		frame, err := s.decodeChunk(typ, data)
		if err != nil {
			log.Warn("rejected chunk", "error", err)
			s.metrics.RecordDroppedChunk(ctx, "malformed")
			continue
		}
		if err := audio.Validate(frame, s.sampleRate); err != nil {
			log.Warn("rejected chunk", "error", err)
			s.metrics.RecordDroppedChunk(ctx, "invalid_format")
			continue
		}

		pipe.ProcessChunk(ctx, frame)
	}

	pipe.Stop()
	log.Info("session ended")
}

// chunkEnvelope is the JSON form of an audio chunk on text frames.
type chunkEnvelope struct {
	// Timestamp is the client capture time in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`

	// AudioData holds signed 16-bit PCM samples.
	AudioData []int16 `json:"audioData"`
}

// decodeChunk turns one websocket message into an audio frame.
func (s *Server) decodeChunk(typ websocket.MessageType, data []byte) (audio.AudioFrame, error) {
	var samples []float32
	ts := time.Now()

	switch typ {
	case websocket.MessageBinary:
		if len(data)%2 != 0 {
			return audio.AudioFrame{}, fmt.Errorf("binary chunk has odd length %d", len(data))
		}
		samples = audio.PCM16ToFloat32(data)

	case websocket.MessageText:
		var env chunkEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return audio.AudioFrame{}, fmt.Errorf("decode chunk envelope: %w", err)
		}
		samples = audio.Int16ToFloat32(env.AudioData)
		if env.Timestamp > 0 {
			ts = time.UnixMilli(env.Timestamp)
		}

	default:
		return audio.AudioFrame{}, fmt.Errorf("unsupported message type %v", typ)
	}

	if s.maxChunkSamples > 0 && len(samples) > s.maxChunkSamples {
		return audio.AudioFrame{}, fmt.Errorf("chunk of %d samples exceeds limit %d", len(samples), s.maxChunkSamples)
	}

	return audio.AudioFrame{
		Samples:    samples,
		SampleRate: s.sampleRate,
		Channels:   1,
		Timestamp:  ts,
	}, nil
}

// wireEvent is the JSON form of a pipeline event pushed to the client.
type wireEvent struct {
	Type      string             `json:"type"`
	EventType pipeline.EventType `json:"event_type"`
	Data      pipeline.Payload   `json:"data"`
	State     pipeline.State     `json:"state"`
	Timestamp time.Time          `json:"timestamp"`
}

// sendEvent marshals ev and writes it as a text frame.
func (sess *session) sendEvent(ev pipeline.Event) error {
	b, err := json.Marshal(wireEvent{
		Type:      "pipeline_event",
		EventType: ev.Type,
		Data:      ev.Payload,
		State:     ev.State,
		Timestamp: ev.Timestamp,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	return sess.conn.Write(ctx, websocket.MessageText, b)
}

// ── Control API ───────────────────────────────────────────────────────────

// sessionStatus is one entry in the status response.
type sessionStatus struct {
	ID              string    `json:"id"`
	RemoteAddr      string    `json:"remote_addr"`
	StartedAt       time.Time `json:"started_at"`
	State           string    `json:"state"`
	Running         bool      `json:"running"`
	ChunksProcessed uint64    `json:"chunks_processed"`
	ChunksDropped   uint64    `json:"chunks_dropped"`
	WakeDetections  uint64    `json:"wake_detections"`
}

// statusResponse is the body of GET /api/status.
type statusResponse struct {
	ActiveSessions int             `json:"active_sessions"`
	Sessions       []sessionStatus `json:"sessions"`
}

// handleStatus reports every active session and its pipeline counters.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	statuses := make([]sessionStatus, 0, len(s.sessions))
	for _, sess := range s.sessions {
		processed, dropped, detections := sess.pipe.Counters()
		statuses = append(statuses, sessionStatus{
			ID:              sess.id,
			RemoteAddr:      sess.remote,
			StartedAt:       sess.startedAt,
			State:           sess.pipe.State().String(),
			Running:         sess.pipe.Running(),
			ChunksProcessed: processed,
			ChunksDropped:   dropped,
			WakeDetections:  detections,
		})
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, statusResponse{
		ActiveSessions: len(statuses),
		Sessions:       statuses,
	})
}

// handleSessionStart resumes a stopped session's pipeline.
func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(r.PathValue("id"))
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	sess.pipe.Start()
	writeJSON(w, http.StatusOK, map[string]string{"state": sess.pipe.State().String()})
}

// handleSessionStop halts a session's pipeline without closing its
// connection; chunks are ignored until the pipeline is started again.
func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(r.PathValue("id"))
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	sess.pipe.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"state": sess.pipe.State().String()})
}

// ── Session table ─────────────────────────────────────────────────────────

func (s *Server) register(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.id] = sess
}

func (s *Server) unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *Server) lookup(id string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}
