package sink

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/maxpert/waljson/cfg"
	"github.com/maxpert/waljson/publisher"
)

func init() {
	publisher.RegisterSink("stdout", func(config cfg.SinkConfiguration) (publisher.Sink, error) {
		return NewStreamSink(os.Stdout), nil
	})
	publisher.RegisterSink("file", func(config cfg.SinkConfiguration) (publisher.Sink, error) {
		if config.Path == "" {
			return nil, fmt.Errorf("file sink requires path")
		}
		return NewFileSink(config.Path)
	})
}

// StreamSink writes every unit followed by a newline, the way
// pg_recvlogical prints decoded output. Topic and key are ignored.
type StreamSink struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
}

// NewStreamSink writes to w. w is not closed by Close.
func NewStreamSink(w io.Writer) *StreamSink {
	return &StreamSink{w: bufio.NewWriter(w)}
}

// NewFileSink appends to the file at path, creating it if needed.
func NewFileSink(path string) (*StreamSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	return &StreamSink{w: bufio.NewWriter(f), closer: f}, nil
}

// Publish writes value and a newline, then flushes.
func (s *StreamSink) Publish(topic, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.w.Write(value); err != nil {
		return err
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}
	return s.w.Flush()
}

// Close flushes buffered output and closes the file, if any.
func (s *StreamSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.w.Flush()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
		s.closer = nil
	}
	return err
}
