// Package client is a resilient client for an OpenAI-compatible chat gateway.
//
// Transport issues single HTTP calls, Retryer repeats calls rejected with
// HTTP 429 under exponential backoff, Decoder turns SSE bodies into content
// fragments under an overall deadline, and Poller samples /v1/stats. Client
// combines them into the operations applications use.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"GoGate/pkg/config"
	"GoGate/pkg/conversation"
	"GoGate/pkg/logging"
	"GoGate/pkg/types"
)

const (
	ChatCompletionsPath = "/v1/chat/completions"
	ModelsPath          = "/v1/models"
	StatsPath           = "/v1/stats"
)

// StreamHandler receives the events of a streamed reply.
type StreamHandler interface {
	OnFragment(f Fragment)
	OnError(err error)
	OnComplete(state StreamState)
}

// ChatResult is the outcome of a non-streaming completion.
type ChatResult struct {
	Content      string
	FinishReason string
	Response     *types.ChatResponse
	Retry        RetryState
}

// StreamResult is the outcome of a streamed completion. Content holds every
// fragment received, including when the stream was aborted.
type StreamResult struct {
	Content      string
	FinishReason string
	State        StreamState
	Retry        RetryState
}

// Client talks to one gateway.
type Client struct {
	cfg       config.Config
	transport *Transport
	retryer   *Retryer
	decoder   *Decoder
	logger    *slog.Logger
}

// NewClient creates a Client from cfg.
func NewClient(cfg config.Config, opts ...Option) *Client {
	o := buildOptions(opts)
	return &Client{
		cfg:       cfg,
		transport: NewTransport(cfg, opts...),
		retryer:   NewRetryer(cfg, opts...),
		decoder:   NewDecoder(cfg, opts...),
		logger:    o.logger,
	}
}

// Config returns the configuration the client was built with.
func (c *Client) Config() config.Config { return c.cfg }

// ChatCompletion sends a non-streaming request, retrying on rate limits, and
// returns the first choice.
func (c *Client) ChatCompletion(ctx context.Context, req types.ChatRequest) (*ChatResult, error) {
	req.Stream = false
	if req.Model == "" {
		req.Model = c.cfg.Model
	}

	raw, state, err := c.retryer.Do(ctx, func(ctx context.Context) (*RawResponse, error) {
		return c.transport.Execute(ctx, http.MethodPost, ChatCompletionsPath, req, false, c.cfg.RequestTimeout)
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}

	var resp types.ChatResponse
	if err := json.Unmarshal(raw.Body, &resp); err != nil {
		return nil, fmt.Errorf("decoding chat response: %w (body: %s)", err, logging.Truncate(string(raw.Body), 200))
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}

	choice := resp.Choices[0]
	return &ChatResult{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Response:     &resp,
		Retry:        state,
	}, nil
}

// StreamChatCompletion sends a streaming request, retrying on rate limits
// until the gateway accepts it, and returns the undecoded fragment stream.
// The caller must iterate or Close the stream.
func (c *Client) StreamChatCompletion(ctx context.Context, req types.ChatRequest) (*Stream, RetryState, error) {
	req.Stream = true
	if req.Model == "" {
		req.Model = c.cfg.Model
	}

	raw, state, err := c.retryer.Do(ctx, func(ctx context.Context) (*RawResponse, error) {
		return c.transport.Execute(ctx, http.MethodPost, ChatCompletionsPath, req, true, c.cfg.RequestTimeout)
	})
	if err != nil {
		return nil, state, fmt.Errorf("stream chat completion: %w", err)
	}
	return c.decoder.Decode(raw.Stream), state, nil
}

// StreamChat streams a reply into handler and returns what was received.
// A read failure mid-stream is reported to the handler and returned as a
// NetworkError alongside the partial result.
func (c *Client) StreamChat(ctx context.Context, req types.ChatRequest, handler StreamHandler) (*StreamResult, error) {
	stream, state, err := c.StreamChatCompletion(ctx, req)
	if err != nil {
		handler.OnError(err)
		return nil, err
	}

	for f := range stream.Fragments() {
		handler.OnFragment(f)
	}

	result := &StreamResult{
		Content:      stream.Text(),
		FinishReason: stream.FinishReason(),
		State:        stream.State(),
		Retry:        state,
	}
	if stream.State() == StreamFailed {
		err := &NetworkError{Op: "read stream", URL: c.transport.baseURL + ChatCompletionsPath, Err: stream.Err()}
		handler.OnError(err)
		handler.OnComplete(result.State)
		return result, err
	}
	handler.OnComplete(result.State)
	return result, nil
}

// Turn runs one non-streaming round trip over conv: the request carries the
// full history and the assistant reply is appended only on success.
func (c *Client) Turn(ctx context.Context, conv *conversation.Conversation, req types.ChatRequest) (*ChatResult, error) {
	req.Messages = conv.History()
	res, err := c.ChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	conv.Append(types.Message{Role: types.RoleAssistant, Content: res.Content})
	return res, nil
}

// StreamTurn is Turn with a streamed reply. A non-empty reply is appended
// only when the stream completed (sentinel or clean end of body); aborted,
// failed or stopped streams leave conv untouched.
func (c *Client) StreamTurn(ctx context.Context, conv *conversation.Conversation, req types.ChatRequest, handler StreamHandler) (*StreamResult, error) {
	req.Messages = conv.History()
	res, err := c.StreamChat(ctx, req, handler)
	if err != nil {
		return res, err
	}
	if (res.State == StreamDone || res.State == StreamEOF) && res.Content != "" {
		conv.Append(types.Message{Role: types.RoleAssistant, Content: res.Content})
	}
	return res, nil
}

// ListModels returns the models the gateway serves.
func (c *Client) ListModels(ctx context.Context) ([]types.Model, error) {
	var list types.ModelList
	if err := c.getJSON(ctx, ModelsPath, &list); err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	return list.Data, nil
}

// Stats fetches one load snapshot. It is never cached.
func (c *Client) Stats(ctx context.Context) (*types.StatsSnapshot, error) {
	var snap types.StatsSnapshot
	if err := c.getJSON(ctx, StatsPath, &snap); err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return &snap, nil
}

func (c *Client) getJSON(ctx context.Context, path string, dst any) error {
	raw, err := c.transport.Execute(ctx, http.MethodGet, path, nil, false, c.cfg.RequestTimeout)
	if err != nil {
		return err
	}
	if se := raw.StatusError(); se != nil {
		return se
	}
	if err := json.Unmarshal(raw.Body, dst); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.transport.Close()
}
