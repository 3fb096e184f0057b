package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/greenscreen/internal/compositor"
	"github.com/GriffinCanCode/greenscreen/internal/config"
	apperrors "github.com/GriffinCanCode/greenscreen/internal/errors"
	"github.com/GriffinCanCode/greenscreen/internal/imageio"
	"github.com/GriffinCanCode/greenscreen/internal/protocol"
	"github.com/GriffinCanCode/greenscreen/internal/trace"
	"github.com/GriffinCanCode/greenscreen/internal/worker"
)

// Compositor is the command executor behind the server.
type Compositor interface {
	Do(ctx context.Context, cmd worker.Command) (worker.Result, error)
	Snapshot(ctx context.Context) (compositor.Snapshot, error)
	Stats() worker.Stats
	ResetStats() worker.Stats
	HasBackground() bool
}

// ConfigResponse is returned by the configuration endpoints.
type ConfigResponse struct {
	Config   protocol.ConfigView     `json:"config"`
	Warnings []protocol.ErrorMessage `json:"warnings,omitempty"`
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	comp  Compositor
	cfg   *config.Config
	mu    sync.RWMutex
	conns map[*websocket.Conn]struct{}
}

// New creates a new server.
func New(comp Compositor, cfg *config.Config) *Server {
	return &Server{
		comp:  comp,
		cfg:   cfg,
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("PATCH /api/config", s.handlePatchConfig)
	mux.HandleFunc("PUT /api/background", s.handlePutBackground)
	mux.HandleFunc("DELETE /api/background", s.handleDeleteBackground)
	mux.HandleFunc("POST /api/composite", s.handleComposite)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("DELETE /api/stats", s.handleResetStats)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

// Connections returns the number of open WebSocket connections.
func (s *Server) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
	conn.SetReadLimit(int64(s.cfg.MaxFramePixels)*compositor.BytesPerPixel*4/3 + MessageOverhead)

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	baseCtx := r.Context()
	log := trace.Logger(baseCtx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	limiter := newRateLimiter(s.cfg.WSRateLimit, RateLimitWindow)
	for {
		typ, msg, err := conn.Read(baseCtx)
		if err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		if !limiter.allow(time.Now()) {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			s.writeJSON(baseCtx, conn, protocol.ErrorMessage{
				Type:    "error",
				Code:    apperrors.CodeUnavailable.String(),
				Message: "rate limit exceeded",
			})
			continue
		}

		if err := s.handleMessage(baseCtx, conn, typ, msg); err != nil {
			log.Debug("websocket closed while replying", "error", err)
			return
		}
	}
}

// handleMessage runs one command and writes its reply. It returns an error
// only when the connection is no longer usable.
func (s *Server) handleMessage(ctx context.Context, conn *websocket.Conn, typ websocket.MessageType, msg []byte) error {
	var (
		cmd worker.Command
		err error
	)
	if typ == websocket.MessageBinary {
		var frame worker.ApplyGreenscreenEffect
		frame, err = protocol.DecodeFrame(msg)
		cmd = frame
	} else {
		var env protocol.Envelope
		cmd, env, err = protocol.Decode(msg)
		if env.TraceID != "" {
			parent, _ := trace.FromContext(ctx)
			ctx = trace.WithContext(ctx, trace.Continue(env.TraceID, parent.SpanID))
		}
	}
	if err != nil {
		return s.writeJSON(ctx, conn, protocol.ErrorReply(err, ""))
	}

	res, err := s.comp.Do(ctx, cmd)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return s.writeJSON(ctx, conn, protocol.ErrorReply(err, cmd.Action()))
	}

	if typ == websocket.MessageBinary && res.Frame != nil {
		wctx, cancel := context.WithTimeout(ctx, WriteTimeout)
		defer cancel()
		return conn.Write(wctx, websocket.MessageBinary, protocol.EncodeFrame(res.Frame))
	}
	return s.writeJSON(ctx, conn, protocol.Reply(res))
}

func (s *Server) writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	wctx, cancel := context.WithTimeout(ctx, WriteTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, v)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	snap, err := s.comp.Snapshot(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ConfigResponse{Config: protocol.View(snap)})
}

func (s *Server) handlePatchConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxJSONBody))
	if err != nil {
		writeError(w, r, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "cannot read body"))
		return
	}
	upd, err := protocol.DecodeUpdate(body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.run(w, r, upd, func(res worker.Result) {
		resp := ConfigResponse{Config: protocol.View(res.Snapshot)}
		for _, warn := range res.Warnings {
			resp.Warnings = append(resp.Warnings, protocol.ErrorReply(warn, res.Action))
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

func (s *Server) handlePutBackground(w http.ResponseWriter, r *http.Request) {
	width, _ := strconv.Atoi(r.URL.Query().Get("width"))
	height, _ := strconv.Atoi(r.URL.Query().Get("height"))

	img, format, err := imageio.Decode(http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes), width, height, s.cfg.MaxFramePixels)
	if err != nil {
		writeError(w, r, err)
		return
	}
	trace.Logger(r.Context()).Info("background uploaded", "format", format, "width", img.Rect.Dx(), "height", img.Rect.Dy())

	cmd := worker.SetBackgroundImage{Pixels: img.Pix, Width: img.Rect.Dx(), Height: img.Rect.Dy()}
	s.run(w, r, cmd, func(res worker.Result) {
		writeJSON(w, http.StatusOK, ConfigResponse{Config: protocol.View(res.Snapshot)})
	})
}

func (s *Server) handleDeleteBackground(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, worker.RemoveBackgroundImage{}, func(res worker.Result) {
		writeJSON(w, http.StatusOK, ConfigResponse{Config: protocol.View(res.Snapshot)})
	})
}

func (s *Server) handleComposite(w http.ResponseWriter, r *http.Request) {
	img, _, err := imageio.Decode(http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes), 0, 0, s.cfg.MaxFramePixels)
	if err != nil {
		writeError(w, r, err)
		return
	}

	cmd := worker.ApplyGreenscreenEffect{Pixels: img.Pix, Width: img.Rect.Dx(), Height: img.Rect.Dy()}
	s.run(w, r, cmd, func(res worker.Result) {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("X-Pixels-Replaced", strconv.Itoa(res.Stats.Replaced))
		if err := imageio.EncodePNG(w, res.Frame.Pixels, res.Frame.Width, res.Frame.Height); err != nil {
			trace.Logger(r.Context()).Warn("png encode failed", "error", err)
		}
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsView(s.comp.Stats(), s.Connections()))
}

func (s *Server) handleResetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsView(s.comp.ResetStats(), s.Connections()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"background": s.comp.HasBackground(),
	})
}

// run executes cmd and calls ok on success, writing an error response otherwise.
func (s *Server) run(w http.ResponseWriter, r *http.Request, cmd worker.Command, ok func(worker.Result)) {
	res, err := s.comp.Do(r.Context(), cmd)
	if err == nil {
		err = res.Err
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(res)
}

func statsView(st worker.Stats, conns int) map[string]any {
	return map[string]any{
		"commands":           st.Commands,
		"frames":             st.Frames,
		"pixels_replaced":    st.PixelsReplaced,
		"rejected":           st.Rejected,
		"warnings":           st.Warnings,
		"last_composite_ms":  float64(st.LastComposite.Microseconds()) / 1000,
		"last_frame_width":   st.LastFrameWidth,
		"last_frame_height":  st.LastFrameHeight,
		"background_loaded":  st.BackgroundLoaded,
		"websocket_sessions": conns,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case apperrors.CodeInvalidArgument, apperrors.CodeInvalidColorFormat,
		apperrors.CodeInvalidBufferSize, apperrors.CodeUnknownConfigKey:
		status = http.StatusBadRequest
	case apperrors.CodeUnknownCommand:
		status = http.StatusNotFound
	case apperrors.CodeUnavailable, apperrors.CodeCancelled:
		status = http.StatusServiceUnavailable
	}
	trace.Logger(r.Context()).Warn("request failed", "path", r.URL.Path, "status", status, "error", err)
	writeJSON(w, status, protocol.ErrorReply(err, ""))
}
