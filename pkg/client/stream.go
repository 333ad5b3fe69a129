package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"GoGate/pkg/config"
	"GoGate/pkg/logging"
	"GoGate/pkg/metrics"
	"GoGate/pkg/types"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"

	maxFrameSize = 1 << 20
)

// FragmentKind distinguishes decoded text from frames that carried none.
type FragmentKind int

const (
	// FragmentContent carries a piece of the assistant's reply.
	FragmentContent FragmentKind = iota
	// FragmentEmpty marks a well-formed frame with no extractable content.
	// Raw holds the frame so callers can spot payload schema drift.
	FragmentEmpty
)

func (k FragmentKind) String() string {
	if k == FragmentEmpty {
		return "empty"
	}
	return "content"
}

// Fragment is one decoded unit of a streamed response.
type Fragment struct {
	Kind         FragmentKind
	Content      string
	FinishReason string
	Raw          string
}

// StreamState is where a stream stands. Every state but StreamOpen is final.
type StreamState int

const (
	StreamOpen StreamState = iota
	// StreamDone: the [DONE] sentinel arrived.
	StreamDone
	// StreamAborted: the overall stream deadline passed.
	StreamAborted
	// StreamEOF: the body ended without a sentinel.
	StreamEOF
	// StreamFailed: reading the body failed, see Stream.Err.
	StreamFailed
	// StreamStopped: the consumer stopped iterating early.
	StreamStopped
)

func (s StreamState) String() string {
	switch s {
	case StreamOpen:
		return "open"
	case StreamDone:
		return "done"
	case StreamAborted:
		return "aborted"
	case StreamEOF:
		return "eof"
	case StreamFailed:
		return "failed"
	case StreamStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// contentExtractor pulls text out of a streamed choice. Extractors are tried
// in order and the first non-empty result wins.
type contentExtractor func(types.ChunkChoice) (string, bool)

var contentExtractors = []contentExtractor{
	deltaContent,
	messageContent,
}

func deltaContent(c types.ChunkChoice) (string, bool) {
	return chunkText(c.Delta)
}

func messageContent(c types.ChunkChoice) (string, bool) {
	return chunkText(c.Message)
}

func chunkText(cc *types.ChunkContent) (string, bool) {
	if cc == nil || cc.Content == nil || *cc.Content == "" {
		return "", false
	}
	return *cc.Content, true
}

// Decoder turns SSE response bodies into Fragment sequences bounded by an
// overall deadline.
type Decoder struct {
	deadline time.Duration
	logger   *slog.Logger
}

// NewDecoder creates a Decoder whose streams may run for cfg.StreamTimeout.
func NewDecoder(cfg config.Config, opts ...Option) *Decoder {
	o := buildOptions(opts)
	return &Decoder{deadline: cfg.StreamTimeout, logger: o.logger}
}

// Decode wraps body in a Stream. The deadline clock starts now. If body is
// an io.Closer the Stream owns it and closes it when decoding ends.
func (d *Decoder) Decode(body io.Reader) *Stream {
	return &Stream{
		body:     body,
		deadline: d.deadline,
		started:  time.Now(),
		logger:   d.logger,
	}
}

// Stream is a single-use sequence of fragments from one response body.
// It is not safe for concurrent use.
type Stream struct {
	body     io.Reader
	deadline time.Duration
	started  time.Time
	logger   *slog.Logger

	state        StreamState
	err          error
	consumed     bool
	text         strings.Builder
	finishReason string
	closeOnce    sync.Once
}

// State returns the terminal state once iteration has finished.
func (s *Stream) State() StreamState { return s.state }

// Err returns the read error for StreamFailed, nil otherwise.
func (s *Stream) Err() error { return s.err }

// Text returns all content fragments produced so far, concatenated.
func (s *Stream) Text() string { return s.text.String() }

// FinishReason returns the last finish_reason seen on the wire.
func (s *Stream) FinishReason() string { return s.finishReason }

// Close releases the body. It is safe to call more than once and is done
// automatically when iteration ends.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if c, ok := s.body.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}

// Fragments yields fragments in wire order until the sentinel, the end of
// the body, a read error, the deadline, or the consumer stopping. Partial
// output stays valid in every case. A Stream can be iterated once.
func (s *Stream) Fragments() iter.Seq[Fragment] {
	return func(yield func(Fragment) bool) {
		if s.consumed {
			return
		}
		s.consumed = true

		metrics.StreamsActive.Inc()
		defer func() {
			_ = s.Close()
			metrics.StreamsActive.Dec()
			metrics.StreamsTotal.WithLabelValues(s.state.String()).Inc()
			s.logger.Debug("stream finished", "state", s.state,
				"elapsed", time.Since(s.started).Round(time.Millisecond), "chars", s.text.Len())
		}()

		remaining := s.deadline - time.Since(s.started)
		if remaining <= 0 {
			s.state = StreamAborted
			return
		}
		timer := time.NewTimer(remaining)
		defer timer.Stop()

		stop := make(chan struct{})
		defer close(stop)
		lines := make(chan string)
		var readErr error
		go func() {
			defer close(lines)
			readErr = readLines(s.body, lines, stop, s.skipOversized)
		}()

		for {
			select {
			case <-timer.C:
				s.abort()
				return
			case line, ok := <-lines:
				if !ok {
					if readErr != nil {
						s.state = StreamFailed
						s.err = readErr
					} else {
						s.state = StreamEOF
					}
					return
				}
				if time.Since(s.started) > s.deadline {
					s.abort()
					return
				}
				frag, emit, done := s.decodeLine(line)
				if done {
					s.state = StreamDone
					return
				}
				if !emit {
					continue
				}
				if !yield(frag) {
					s.state = StreamStopped
					return
				}
			}
		}
	}
}

// skipOversized runs on the reader goroutine.
func (s *Stream) skipOversized(size int) {
	metrics.DecodeWarningsTotal.Inc()
	s.logger.Debug("skipping oversized SSE frame", "bytes", size, "limit", maxFrameSize)
}

func (s *Stream) abort() {
	s.state = StreamAborted
	s.logger.Warn("stream aborted: deadline exceeded", "deadline", s.deadline)
}

// decodeLine handles one SSE line. emit is false for lines that produce
// nothing: separators, comments, other fields and malformed frames.
func (s *Stream) decodeLine(line string) (frag Fragment, emit, done bool) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return Fragment{}, false, false
	}
	payload, ok := strings.CutPrefix(line, dataPrefix)
	if !ok {
		return Fragment{}, false, false
	}
	payload = strings.TrimSpace(payload)
	if payload == doneSentinel {
		return Fragment{}, false, true
	}

	s.logger.Log(context.Background(), logging.LevelTrace, "sse frame", "data", payload)

	var chunk types.StreamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		metrics.DecodeWarningsTotal.Inc()
		s.logger.Debug("skipping malformed SSE frame",
			"error", err.Error(),
			"data", logging.Truncate(payload, 200),
		)
		return Fragment{}, false, false
	}

	frag = extractFragment(&chunk, payload)
	if frag.FinishReason != "" {
		s.finishReason = frag.FinishReason
	}
	if frag.Kind == FragmentContent {
		s.text.WriteString(frag.Content)
	}
	metrics.StreamFragmentsTotal.WithLabelValues(frag.Kind.String()).Inc()
	return frag, true, false
}

// extractFragment applies the content extractors to the first choice.
// A chunk without choices yields an empty fragment.
func extractFragment(chunk *types.StreamChunk, payload string) Fragment {
	frag := Fragment{Kind: FragmentEmpty, Raw: payload}
	if len(chunk.Choices) == 0 {
		return frag
	}
	choice := chunk.Choices[0]
	if choice.FinishReason != nil {
		frag.FinishReason = *choice.FinishReason
	}
	for _, extract := range contentExtractors {
		if text, ok := extract(choice); ok {
			frag.Kind = FragmentContent
			frag.Content = text
			frag.Raw = ""
			break
		}
	}
	return frag
}

// readLines reads r line by line onto out until EOF, a read error, or stop
// is closed. Lines longer than maxFrameSize are dropped and reported to
// oversized; reading continues with the next line. A reader blocked in Read
// is released by closing the body.
func readLines(r io.Reader, out chan<- string, stop <-chan struct{}, oversized func(size int)) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var line []byte
	size := 0
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		size += len(chunk)
		if size <= maxFrameSize {
			line = append(line, chunk...)
		}
		if isPrefix {
			continue
		}

		if size > maxFrameSize {
			oversized(size)
		} else {
			select {
			case out <- string(line):
			case <-stop:
				return nil
			}
		}
		line = line[:0]
		size = 0
	}
}
