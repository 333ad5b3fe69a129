package client

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"GoGate/pkg/config"
	"GoGate/pkg/conversation"
	"GoGate/pkg/gatewaytest"
	"GoGate/pkg/logging"
	"GoGate/pkg/types"
)

func newTestClient(t *testing.T, s gatewaytest.Scenario, opts ...Option) (*Client, *gatewaytest.Server) {
	t.Helper()
	gw := gatewaytest.NewServer(s)
	t.Cleanup(gw.Close)

	cfg := config.Defaults()
	cfg.BaseURL = gw.URL
	cfg.RequestTimeout = 2 * time.Second
	cfg.StreamTimeout = 2 * time.Second
	opts = append([]Option{WithLogger(logging.Discard()), WithBackoffTimer(newRecordingTimer())}, opts...)
	c := NewClient(cfg, opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c, gw
}

type recordingHandler struct {
	fragments []Fragment
	errs      []error
	completed []StreamState
}

func (h *recordingHandler) OnFragment(f Fragment)        { h.fragments = append(h.fragments, f) }
func (h *recordingHandler) OnError(err error)            { h.errs = append(h.errs, err) }
func (h *recordingHandler) OnComplete(state StreamState) { h.completed = append(h.completed, state) }

func userRequest(text string) types.ChatRequest {
	return types.ChatRequest{
		Model:    "m",
		Messages: []types.Message{{Role: types.RoleUser, Content: text}},
	}
}

func TestClient_ChatCompletion(t *testing.T) {
	s := gatewaytest.DefaultScenario()
	s.Reply = "hello"
	c, gw := newTestClient(t, s)

	res, err := c.ChatCompletion(context.Background(), userRequest("hi"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Content != "hello" || res.FinishReason != "stop" {
		t.Errorf("result = %+v", res)
	}
	if res.Retry.Attempt != 0 {
		t.Errorf("attempt = %d", res.Retry.Attempt)
	}

	reqs := gw.Requests()
	if len(reqs) != 1 {
		t.Fatalf("gateway saw %d requests", len(reqs))
	}
	if reqs[0].Model != "m" || reqs[0].Stream || len(reqs[0].Messages) != 1 || reqs[0].Messages[0].Content != "hi" {
		t.Errorf("request = %+v", reqs[0])
	}
}

func TestClient_ChatCompletionDefaultsModel(t *testing.T) {
	c, gw := newTestClient(t, gatewaytest.DefaultScenario())

	req := userRequest("hi")
	req.Model = ""
	if _, err := c.ChatCompletion(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := gw.Requests()[0].Model; got != config.Defaults().Model {
		t.Errorf("model = %q, want configured default", got)
	}
}

func TestClient_ChatCompletionRetriesRateLimit(t *testing.T) {
	s := gatewaytest.DefaultScenario()
	s.ChatStatuses = []int{429, 429}
	timer := newRecordingTimer()
	c, gw := newTestClient(t, s, WithBackoffTimer(timer))

	res, err := c.ChatCompletion(context.Background(), userRequest("hi"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gw.ChatCalls() != 3 {
		t.Errorf("chat calls = %d, want 3", gw.ChatCalls())
	}
	if res.Retry.Attempt != 2 {
		t.Errorf("attempt = %d, want 2", res.Retry.Attempt)
	}
	if w := timer.Waits(); len(w) != 2 || w[0] != time.Second || w[1] != 2*time.Second {
		t.Errorf("waits = %v", w)
	}
}

func TestClient_ChatCompletionExhausted(t *testing.T) {
	s := gatewaytest.DefaultScenario()
	s.ChatStatuses = []int{429, 429, 429, 429}
	c, gw := newTestClient(t, s)

	_, err := c.ChatCompletion(context.Background(), userRequest("hi"))
	var exhausted *RetryExhausted
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected RetryExhausted, got %v", err)
	}
	if gw.ChatCalls() != 3 {
		t.Errorf("chat calls = %d, want 3", gw.ChatCalls())
	}
	if Kind(err) != "rate_limited" {
		t.Errorf("kind = %q", Kind(err))
	}
	if !strings.Contains(Describe(err), "Service overloaded") {
		t.Errorf("Describe lost the gateway body: %q", Describe(err))
	}
}

func TestClient_ChatCompletionServerError(t *testing.T) {
	s := gatewaytest.DefaultScenario()
	s.ChatStatuses = []int{500}
	c, gw := newTestClient(t, s)

	_, err := c.ChatCompletion(context.Background(), userRequest("hi"))
	var se *StatusError
	if !errors.As(err, &se) || se.Code != 500 {
		t.Fatalf("expected StatusError 500, got %v", err)
	}
	if gw.ChatCalls() != 1 {
		t.Errorf("chat calls = %d, want 1", gw.ChatCalls())
	}
	if !strings.Contains(se.Body, "server_error") {
		t.Errorf("body = %q", se.Body)
	}
	if Kind(err) != "status" || !strings.HasPrefix(Describe(err), "[status] 500") {
		t.Errorf("kind = %q, describe = %q", Kind(err), Describe(err))
	}
}

func TestClient_ChatCompletionNetworkError(t *testing.T) {
	gw := gatewaytest.NewServer(gatewaytest.DefaultScenario())
	url := gw.URL
	gw.Close()

	cfg := config.Defaults()
	cfg.BaseURL = url
	c := NewClient(cfg, WithLogger(logging.Discard()))

	_, err := c.ChatCompletion(context.Background(), userRequest("hi"))
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if Kind(err) != "network" {
		t.Errorf("kind = %q", Kind(err))
	}
}

func TestClient_StreamChat(t *testing.T) {
	s := gatewaytest.DefaultScenario()
	s.Reply = "one two three"
	s.FinishReason = "length"
	c, gw := newTestClient(t, s)

	h := &recordingHandler{}
	res, err := c.StreamChat(context.Background(), userRequest("count"), h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Content != "one two three" {
		t.Errorf("content = %q", res.Content)
	}
	if res.State != StreamDone || res.FinishReason != "length" {
		t.Errorf("state = %s, finish = %q", res.State, res.FinishReason)
	}

	got := contents(h.fragments)
	if strings.Join(got, "|") != "one |two |three" {
		t.Errorf("fragments = %q", got)
	}
	// role opener and finish chunk carry no text
	if len(h.fragments) != 5 || h.fragments[0].Kind != FragmentEmpty || h.fragments[4].Kind != FragmentEmpty {
		t.Errorf("fragments = %+v", h.fragments)
	}
	if len(h.errs) != 0 || len(h.completed) != 1 || h.completed[0] != StreamDone {
		t.Errorf("errs = %v, completed = %v", h.errs, h.completed)
	}
	if !gw.Requests()[0].Stream {
		t.Error("request did not ask for a stream")
	}
}

func TestClient_StreamChatRetriesBeforeStreaming(t *testing.T) {
	s := gatewaytest.DefaultScenario()
	s.ChatStatuses = []int{429}
	s.Reply = "ok"
	c, gw := newTestClient(t, s)

	h := &recordingHandler{}
	res, err := c.StreamChat(context.Background(), userRequest("hi"), h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Content != "ok" || res.Retry.Attempt != 1 || gw.ChatCalls() != 2 {
		t.Errorf("result = %+v, calls = %d", res, gw.ChatCalls())
	}
}

func TestClient_StreamChatRejected(t *testing.T) {
	s := gatewaytest.DefaultScenario()
	s.ChatStatuses = []int{400}
	c, _ := newTestClient(t, s)

	h := &recordingHandler{}
	res, err := c.StreamChat(context.Background(), userRequest("hi"), h)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != 400 {
		t.Fatalf("expected StatusError 400, got %v", err)
	}
	if res != nil {
		t.Errorf("result = %+v", res)
	}
	if len(h.errs) != 1 || len(h.fragments) != 0 || len(h.completed) != 0 {
		t.Errorf("handler saw errs=%d fragments=%d completed=%d", len(h.errs), len(h.fragments), len(h.completed))
	}
}

func TestClient_StreamChatDeadline(t *testing.T) {
	s := gatewaytest.DefaultScenario()
	s.StreamFrames = []string{`{"choices":[{"delta":{"content":"partial"}}]}`}
	s.Stall = true
	gw := gatewaytest.NewServer(s)
	t.Cleanup(gw.Close)

	cfg := config.Defaults()
	cfg.BaseURL = gw.URL
	cfg.StreamTimeout = 150 * time.Millisecond
	c := NewClient(cfg, WithLogger(logging.Discard()))

	h := &recordingHandler{}
	start := time.Now()
	res, err := c.StreamChat(context.Background(), userRequest("hi"), h)
	if err != nil {
		t.Fatalf("abort should not be an error: %v", err)
	}
	if res.State != StreamAborted || res.Content != "partial" {
		t.Errorf("result = %+v", res)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("stream deadline not enforced, took %s", time.Since(start))
	}
	if len(h.completed) != 1 || h.completed[0] != StreamAborted {
		t.Errorf("completed = %v", h.completed)
	}
}

func TestClient_StreamChatEOF(t *testing.T) {
	s := gatewaytest.DefaultScenario()
	s.Reply = "no sentinel"
	s.OmitDone = true
	c, _ := newTestClient(t, s)

	res, err := c.StreamChat(context.Background(), userRequest("hi"), &recordingHandler{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State != StreamEOF || res.Content != "no sentinel" {
		t.Errorf("result = %+v", res)
	}
}

func TestClient_TurnAppendsOnSuccess(t *testing.T) {
	s := gatewaytest.DefaultScenario()
	s.Reply = "hello"
	c, gw := newTestClient(t, s)

	conv := conversation.New(
		types.Message{Role: types.RoleSystem, Content: "be brief"},
		types.Message{Role: types.RoleUser, Content: "hi"},
	)
	if _, err := c.Turn(context.Background(), conv, types.ChatRequest{Model: "m"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conv.Len() != 3 {
		t.Fatalf("len = %d, want 3", conv.Len())
	}
	last, _ := conv.Last()
	if last.Role != types.RoleAssistant || last.Content != "hello" {
		t.Errorf("last = %+v", last)
	}

	// second turn carries the whole history
	conv.Append(types.Message{Role: types.RoleUser, Content: "again"})
	if _, err := c.Turn(context.Background(), conv, types.ChatRequest{Model: "m"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reqs := gw.Requests()
	if len(reqs[1].Messages) != 4 || reqs[1].Messages[2].Role != types.RoleAssistant {
		t.Errorf("second request messages = %+v", reqs[1].Messages)
	}
	if conv.Len() != 5 {
		t.Errorf("len = %d, want 5", conv.Len())
	}
}

func TestClient_TurnLeavesHistoryOnFailure(t *testing.T) {
	s := gatewaytest.DefaultScenario()
	s.ChatStatuses = []int{503}
	c, _ := newTestClient(t, s)

	conv := conversation.New(types.Message{Role: types.RoleUser, Content: "hi"})
	if _, err := c.Turn(context.Background(), conv, types.ChatRequest{Model: "m"}); err == nil {
		t.Fatal("expected an error")
	}
	if conv.Len() != 1 {
		t.Errorf("len = %d, history changed on failure", conv.Len())
	}
}

func TestClient_StreamTurn(t *testing.T) {
	s := gatewaytest.DefaultScenario()
	s.Reply = "streamed reply"
	c, _ := newTestClient(t, s)

	conv := conversation.New(types.Message{Role: types.RoleUser, Content: "hi"})
	res, err := c.StreamTurn(context.Background(), conv, types.ChatRequest{Model: "m"}, &recordingHandler{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	last, _ := conv.Last()
	if conv.Len() != 2 || last.Content != res.Content || last.Content != "streamed reply" {
		t.Errorf("history = %+v", conv.History())
	}
}

func TestClient_StreamTurnSkipsAbortedReply(t *testing.T) {
	s := gatewaytest.DefaultScenario()
	s.StreamFrames = []string{`{"choices":[{"delta":{"content":"cut"}}]}`}
	s.Stall = true
	gw := gatewaytest.NewServer(s)
	t.Cleanup(gw.Close)

	cfg := config.Defaults()
	cfg.BaseURL = gw.URL
	cfg.StreamTimeout = 100 * time.Millisecond
	c := NewClient(cfg, WithLogger(logging.Discard()))

	conv := conversation.New(types.Message{Role: types.RoleUser, Content: "hi"})
	res, err := c.StreamTurn(context.Background(), conv, types.ChatRequest{Model: "m"}, &recordingHandler{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State != StreamAborted {
		t.Errorf("state = %s", res.State)
	}
	if conv.Len() != 1 {
		t.Errorf("aborted reply was appended: %+v", conv.History())
	}
}

func TestClient_NoChoices(t *testing.T) {
	s := gatewaytest.DefaultScenario()
	s.NoChoices = true
	c, _ := newTestClient(t, s)

	_, err := c.ChatCompletion(context.Background(), userRequest("hi"))
	if !errors.Is(err, ErrNoChoices) {
		t.Fatalf("expected ErrNoChoices, got %v", err)
	}
	if Kind(err) != "no_choices" {
		t.Errorf("kind = %q", Kind(err))
	}
}

func TestClient_ListModels(t *testing.T) {
	c, _ := newTestClient(t, gatewaytest.DefaultScenario())

	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(models) != 2 || models[0].ID != "gpt-oss:20b" || models[1].OwnedBy != "ollama" {
		t.Errorf("models = %+v", models)
	}
}

func TestClient_Stats(t *testing.T) {
	s := gatewaytest.DefaultScenario()
	s.StatsStatuses = []int{502}
	c, gw := newTestClient(t, s)

	if _, err := c.Stats(context.Background()); err == nil {
		t.Fatal("expected an error for 502")
	} else if Kind(err) != "status" {
		t.Errorf("kind = %q", Kind(err))
	}

	gw.SetStats(types.StatsSnapshot{Active: 2, Capacity: 4, Queued: 3, MaxQueue: 100})
	snap, err := c.Stats(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Active != 2 || snap.Queued != 3 || snap.MaxQueue != 100 {
		t.Errorf("snapshot = %+v", snap)
	}
	if gw.StatsCalls() != 2 {
		t.Errorf("stats calls = %d, want 2 (no caching, no retry)", gw.StatsCalls())
	}
}

func TestClient_PollerOverGateway(t *testing.T) {
	c, gw := newTestClient(t, gatewaytest.DefaultScenario())
	p := NewPoller(c, 10*time.Millisecond, WithLogger(logging.Discard()))

	n := 0
	for snap := range p.Poll(context.Background(), 2*time.Second) {
		if snap.Capacity != 4 {
			t.Errorf("snapshot = %+v", snap)
		}
		n++
		if n == 3 {
			break
		}
	}
	if n != 3 || gw.StatsCalls() != 3 {
		t.Errorf("snapshots = %d, stats calls = %d", n, gw.StatsCalls())
	}
}

func TestClient_StreamTurnSkipsEmptyReply(t *testing.T) {
	s := gatewaytest.DefaultScenario()
	s.Reply = ""
	c, _ := newTestClient(t, s)

	conv := conversation.New(types.Message{Role: types.RoleUser, Content: "hi"})
	res, err := c.StreamTurn(context.Background(), conv, types.ChatRequest{Model: "m"}, &recordingHandler{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State != StreamDone || res.Content != "" {
		t.Errorf("result = %+v", res)
	}
	if conv.Len() != 1 {
		t.Errorf("empty reply was appended: %+v", conv.History())
	}
}
