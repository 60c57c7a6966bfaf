package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/luthienresearch/luthien-gateway/internal/auth"
	"github.com/luthienresearch/luthien-gateway/internal/canonical"
	"github.com/luthienresearch/luthien-gateway/internal/pipeline"
)

// handleOpenAI serves POST /v1/chat/completions.
func (s *Server) handleOpenAI(w http.ResponseWriter, r *http.Request) {
	s.handleDialect(w, r, pipeline.OpenAI)
}

// handleAnthropic serves POST /v1/messages.
func (s *Server) handleAnthropic(w http.ResponseWriter, r *http.Request) {
	s.handleDialect(w, r, pipeline.Anthropic)
}

// handleDialect authenticates and runs the Pipeline Processor for one
// dialect's ingress endpoint, writing back either a full response body or
// a streamed sequence of wire frames.
func (s *Server) handleDialect(w http.ResponseWriter, r *http.Request, d pipeline.Dialect) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	token := auth.ExtractBearer(r.Header.Get("Authorization"))
	if token == "" {
		token = r.Header.Get("x-api-key")
	}
	if err := s.auth.Authenticate(token); err != nil {
		cerr := canonical.NewUnauthorized(err.Error())
		w.Header().Set("Content-Type", d.ContentType())
		w.WriteHeader(cerr.Kind.HTTPStatus())
		_, _ = w.Write(d.FormatError(cerr))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	out := s.processor.Process(r.Context(), d, body, r.Header.Get("x-session-id"))

	w.Header().Set("Content-Type", out.ContentType)
	w.Header().Set("x-transaction-id", out.TransactionID)

	if !out.Stream {
		w.WriteHeader(out.StatusCode)
		_, _ = w.Write(out.Body)
		return
	}

	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(out.StatusCode)
	flusher, canFlush := w.(http.Flusher)
	for frame := range out.Frames {
		if _, err := w.Write(frame); err != nil {
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}
}

// handleHealth serves GET /health with a basic liveness response; the
// gateway has no subsystem migrations or channel integrations to probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":     "ok",
		"uptime_sec": time.Since(s.startTime).Seconds(),
	})
}

// handleActivityStream serves GET /activity/stream: an SSE feed of
// transaction events, rate-limited per caller and gated by the same
// bearer auth as the dialect endpoints.
func (s *Server) handleActivityStream(w http.ResponseWriter, r *http.Request) {
	token := auth.ExtractBearer(r.Header.Get("Authorization"))
	if token == "" {
		token = r.URL.Query().Get("session")
	}
	if err := s.auth.Authenticate(token); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
		return
	}

	limiterKey := token
	if limiterKey == "" {
		limiterKey = r.RemoteAddr
	}
	if !s.activityLimiters.Get(limiterKey).Allow() {
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, unsubscribe, err := s.broker.Subscribe(r.Context(), pipeline.ActivityTopic)
	if err != nil {
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-events:
			if !open {
				return
			}
			if !s.activityLimiters.Get(limiterKey).Allow() {
				continue
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
			flusher.Flush()
		}
	}
}
