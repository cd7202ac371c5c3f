package composer

import (
	"context"
	"strings"
	"sync"
)

// Stream delivers the fragments of one generated answer in order.
//
// A Stream is consumed once, either with Next/Text or with Collect. It is
// finite and cannot be restarted: after the last fragment Next returns false
// and a second Collect returns "". Generation errors do not end the stream
// early; they arrive as a final notice fragment and are reported by Failed
// and Err.
type Stream struct {
	ch     chan string
	cancel context.CancelFunc

	cur string
	buf strings.Builder

	// set by the producer before ch is closed
	err    error
	failed bool

	finishOnce sync.Once
	onFinish   []func(text string, failed bool)
	done       bool
}

func newStream(cancel context.CancelFunc) *Stream {
	return &Stream{
		ch:     make(chan string, 16),
		cancel: cancel,
	}
}

// FromText returns an already complete stream holding text as one fragment.
func FromText(text string) *Stream {
	s := newStream(func() {})
	if text != "" {
		s.ch <- text
	}
	close(s.ch)
	return s
}

// send delivers one fragment unless the consumer's context is gone.
func (s *Stream) send(ctx context.Context, fragment string) bool {
	if fragment == "" {
		return true
	}
	select {
	case s.ch <- fragment:
		return true
	case <-ctx.Done():
		return false
	}
}

// Next advances to the next fragment. It returns false once the stream is
// exhausted.
func (s *Stream) Next() bool {
	if s.done {
		s.cur = ""
		return false
	}
	fragment, ok := <-s.ch
	if !ok {
		s.cur = ""
		s.finish()
		return false
	}
	s.cur = fragment
	s.buf.WriteString(fragment)
	return true
}

// Text returns the current fragment.
func (s *Stream) Text() string {
	return s.cur
}

// Collect drains the stream and returns the concatenated fragments.
func (s *Stream) Collect() string {
	var b strings.Builder
	for s.Next() {
		b.WriteString(s.Text())
	}
	return b.String()
}

// Err returns the generation error once the stream is exhausted.
func (s *Stream) Err() error {
	if !s.done {
		return nil
	}
	return s.err
}

// Failed reports whether generation ended with an in-band error notice.
func (s *Stream) Failed() bool {
	return s.done && s.failed
}

// OnFinish registers fn to run once, with the full text, when the stream is
// exhausted. It must be called before consumption starts.
func (s *Stream) OnFinish(fn func(text string, failed bool)) {
	s.onFinish = append(s.onFinish, fn)
}

// Close abandons the stream: the producer stops, remaining fragments are
// discarded and OnFinish hooks run.
func (s *Stream) Close() {
	s.cancel()
	for s.Next() {
	}
}

func (s *Stream) finish() {
	s.finishOnce.Do(func() {
		s.done = true
		s.cancel()
		text := s.buf.String()
		for _, fn := range s.onFinish {
			fn(text, s.failed)
		}
	})
}
