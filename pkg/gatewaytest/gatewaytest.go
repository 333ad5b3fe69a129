// Package gatewaytest provides a scripted stand-in for the chat gateway.
//
// A Gateway serves the three endpoints the client uses with deterministic
// replies described by a Scenario. NewServer runs it on a local httptest
// server for tests; cmd/mockgateway serves it on a real port for demos.
package gatewaytest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"GoGate/pkg/types"
)

// Scenario scripts the gateway's behaviour.
type Scenario struct {
	// Reply is the assistant text. Streams send it word by word.
	Reply        string `yaml:"reply"`
	FinishReason string `yaml:"finish_reason"`

	// NoChoices answers non-streaming requests with an empty choice list.
	NoChoices bool `yaml:"no_choices"`

	// ChatStatuses are returned, in order, by the first chat calls. 0 or 200
	// means a normal reply; anything else is sent as an error response.
	ChatStatuses []int `yaml:"chat_statuses"`

	// StreamFrames replaces the generated stream. Each entry is written as
	// "data: <entry>"; entries starting with ":" are written verbatim.
	StreamFrames []string      `yaml:"stream_frames"`
	FrameDelay   time.Duration `yaml:"frame_delay"`
	// OmitDone leaves out the [DONE] sentinel.
	OmitDone bool `yaml:"omit_done"`
	// Stall keeps the stream open after the last frame until the client leaves.
	Stall bool `yaml:"stall"`

	Models        []types.Model       `yaml:"models"`
	Stats         types.StatsSnapshot `yaml:"stats"`
	StatsStatuses []int               `yaml:"stats_statuses"`
}

// DefaultScenario mirrors a lightly loaded gateway with two models.
func DefaultScenario() Scenario {
	return Scenario{
		Reply:        "Hello from the mock gateway.",
		FinishReason: "stop",
		Models: []types.Model{
			{ID: "gpt-oss:20b", Object: "model", OwnedBy: "ollama"},
			{ID: "gpt-oss:120b", Object: "model", OwnedBy: "ollama"},
		},
		Stats: types.StatsSnapshot{Active: 1, Capacity: 4, Queued: 0, MaxQueue: 100},
	}
}

// LoadScenario reads a YAML scenario on top of DefaultScenario.
func LoadScenario(path string) (Scenario, error) {
	s := DefaultScenario()
	data, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parsing scenario %s: %w", path, err)
	}
	return s, nil
}

// Gateway is the scripted handler. It records every chat request.
type Gateway struct {
	mu         sync.Mutex
	scenario   Scenario
	chatCalls  int
	statsCalls int
	requests   []types.ChatRequest
}

// New creates a Gateway for s.
func New(s Scenario) *Gateway {
	return &Gateway{scenario: s}
}

// Handler returns the gateway routes.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat/completions", g.chatCompletions)
		r.Get("/models", g.models)
		r.Get("/stats", g.stats)
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return r
}

// ChatCalls returns how many chat requests arrived.
func (g *Gateway) ChatCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.chatCalls
}

// StatsCalls returns how many stats requests arrived.
func (g *Gateway) StatsCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statsCalls
}

// Requests returns the decoded chat requests in arrival order.
func (g *Gateway) Requests() []types.ChatRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]types.ChatRequest(nil), g.requests...)
}

// SetStats replaces the snapshot served by /v1/stats.
func (g *Gateway) SetStats(s types.StatsSnapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scenario.Stats = s
}

func (g *Gateway) chatCompletions(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}

	g.mu.Lock()
	call := g.chatCalls
	g.chatCalls++
	g.requests = append(g.requests, req)
	s := g.scenario
	g.mu.Unlock()

	if status := scripted(s.ChatStatuses, call); status != http.StatusOK {
		msg := http.StatusText(status)
		if status == http.StatusTooManyRequests {
			msg = "Service overloaded. Please try again later."
		}
		writeError(w, msg, status)
		return
	}

	if req.Stream {
		g.stream(w, r, req, s)
		return
	}

	resp := types.ChatResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []types.Choice{{
			Index:        0,
			Message:      types.Message{Role: types.RoleAssistant, Content: s.Reply},
			FinishReason: s.FinishReason,
		}},
	}
	if s.NoChoices {
		resp.Choices = []types.Choice{}
	}
	writeJSON(w, resp)
}

func (g *Gateway) stream(w http.ResponseWriter, r *http.Request, req types.ChatRequest, s Scenario) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	frames := s.StreamFrames
	if frames == nil {
		frames = replyFrames(req.Model, s.Reply, s.FinishReason)
	}
	for i, f := range frames {
		if i > 0 && s.FrameDelay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(s.FrameDelay):
			}
		}
		if strings.HasPrefix(f, ":") {
			fmt.Fprintf(w, "%s\n\n", f)
		} else {
			fmt.Fprintf(w, "data: %s\n\n", f)
		}
		flusher.Flush()
	}
	if s.Stall {
		<-r.Context().Done()
		return
	}
	if !s.OmitDone {
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

// replyFrames builds the chunk sequence a real gateway sends: a role-only
// opener, one chunk per word, and a closing chunk with the finish reason.
func replyFrames(model, reply, finishReason string) []string {
	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()
	chunk := func(delta types.ChunkContent, finish *string) string {
		data, _ := json.Marshal(types.StreamChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []types.ChunkChoice{{Delta: &delta, FinishReason: finish}},
		})
		return string(data)
	}

	frames := []string{chunk(types.ChunkContent{Role: types.RoleAssistant}, nil)}
	words := strings.SplitAfter(reply, " ")
	for _, w := range words {
		if w == "" {
			continue
		}
		frames = append(frames, chunk(types.ChunkContent{Content: &w}, nil))
	}
	if finishReason == "" {
		finishReason = "stop"
	}
	frames = append(frames, chunk(types.ChunkContent{}, &finishReason))
	return frames
}

func (g *Gateway) models(w http.ResponseWriter, _ *http.Request) {
	g.mu.Lock()
	models := g.scenario.Models
	g.mu.Unlock()
	writeJSON(w, types.ModelList{Object: "list", Data: models})
}

func (g *Gateway) stats(w http.ResponseWriter, _ *http.Request) {
	g.mu.Lock()
	call := g.statsCalls
	g.statsCalls++
	s := g.scenario
	g.mu.Unlock()

	if status := scripted(s.StatsStatuses, call); status != http.StatusOK {
		writeError(w, "backend stats unavailable", status)
		return
	}
	writeJSON(w, s.Stats)
}

// scripted returns the status for the n-th call, defaulting to 200.
func scripted(statuses []int, n int) int {
	if n < len(statuses) && statuses[n] != 0 {
		return statuses[n]
	}
	return http.StatusOK
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// writeError uses the gateway's error envelope.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
		"error": map[string]any{
			"message": message,
			"type":    "server_error",
			"code":    status,
		},
	})
}

// Server is a Gateway running on a local httptest server.
type Server struct {
	*Gateway
	srv *httptest.Server
	URL string
}

// NewServer starts a Gateway for s. Call Close when done.
func NewServer(s Scenario) *Server {
	g := New(s)
	srv := httptest.NewServer(g.Handler())
	return &Server{Gateway: g, srv: srv, URL: srv.URL}
}

// Close shuts the server down, dropping open streams.
func (s *Server) Close() {
	s.srv.CloseClientConnections()
	s.srv.Close()
}
