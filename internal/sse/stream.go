// Package sse delivers push events over Server-Sent Events.
package sse

import (
	"bytes"
	"errors"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"therapyline/pkg/types"
)

var (
	ErrStreamClosed = errors.New("stream closed")
	ErrStreamFull   = errors.New("stream buffer full")
)

// Stream is one SSE client. It implements interfaces.Channel; frames are
// queued by Send and written by the handler goroutine that owns the response.
type Stream struct {
	id        string
	frames    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewStream creates a stream buffering up to bufferSize frames.
func NewStream(bufferSize int) *Stream {
	return &Stream{
		id:     uuid.NewString(),
		frames: make(chan []byte, bufferSize),
		done:   make(chan struct{}),
	}
}

func (s *Stream) ID() string {
	return s.id
}

// Send encodes event as an SSE frame and queues it without blocking.
func (s *Stream) Send(event *types.Event) error {
	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}

	frame, err := encodeFrame(event)
	if err != nil {
		return err
	}

	select {
	case s.frames <- frame:
		return nil
	case <-s.done:
		return ErrStreamClosed
	default:
		return ErrStreamFull
	}
}

// Close ends the stream. The handler returns once it observes Done.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// encodeFrame renders "event: <type>" followed by the JSON event as data.
func encodeFrame(event *types.Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(data) + len(event.Type) + 16)
	buf.WriteString("event: ")
	buf.WriteString(event.Type)
	buf.WriteString("\ndata: ")
	buf.Write(data)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}
