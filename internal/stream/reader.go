package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// DefaultMaxFrameSize bounds the carry-over buffer. A peer that sends more
// than this without a frame delimiter is treated as a transport failure.
const DefaultMaxFrameSize = 4 << 20

const readSize = 32 << 10

// ErrFrameTooLarge is returned when no frame delimiter arrives within the
// configured maximum frame size.
var ErrFrameTooLarge = errors.New("stream: frame exceeds maximum size")

// Option configures Scan and ReadEvents.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	maxFrame int
}

// WithLogger sets the logger used to report dropped frames.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMaxFrameSize overrides DefaultMaxFrameSize.
func WithMaxFrameSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxFrame = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default(), maxFrame: DefaultMaxFrameSize}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Scan reads SSE frames from r, decodes each complete frame with decode and
// hands the result to fn in arrival order. The result does not depend on how
// the bytes of r are chunked.
//
// Frame rules:
//   - Frames are separated by a blank line ("\n\n" or "\n\r\n", so full
//     CRLF framing works too).
//   - "data:" lines carry the payload; one leading space is stripped and
//     multiple data lines are joined with newlines.
//   - Lines starting with ":" are comments. Other fields are ignored.
//   - A frame that fails to decode is logged and dropped.
//   - An incomplete fragment left when r reaches EOF is discarded.
//
// Scan returns nil at EOF or when fn returns false, ctx.Err() once ctx is
// canceled, and a wrapped error for transport failures. No event is
// dispatched after ctx is canceled.
func Scan(ctx context.Context, r io.Reader, decode Decoder, fn func(Event) bool, opts ...Option) error {
	o := buildOptions(opts)
	var buf []byte
	chunk := make([]byte, readSize)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, rerr := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			start := 0
			for {
				i, width := indexFrameEnd(buf[start:])
				if i < 0 {
					break
				}
				frame := buf[start : start+i]
				start += i + width

				payload, ok := framePayload(frame)
				if !ok {
					continue
				}
				ev, err := decode(payload)
				if err != nil {
					o.logger.Debug("dropping malformed frame", "error", err, "bytes", len(payload))
					continue
				}
				if err := ctx.Err(); err != nil {
					return err
				}
				if !fn(ev) {
					return nil
				}
			}
			buf = buf[:copy(buf, buf[start:])]
			if len(buf) > o.maxFrame {
				return ErrFrameTooLarge
			}
		}

		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				if len(bytes.TrimSpace(buf)) > 0 {
					o.logger.Debug("discarding incomplete trailing frame", "bytes", len(buf))
				}
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			return fmt.Errorf("stream: read: %w", rerr)
		}
	}
}

// framePayload extracts the data payload of a single frame. ok is false for
// frames that carry no data lines (comments, keep-alives).
// indexFrameEnd returns the index of the line break that ends the first
// frame in b and the width of the delimiter, or -1 if b holds no blank line.
func indexFrameEnd(b []byte) (int, int) {
	for i := 0; i < len(b); i++ {
		j := bytes.IndexByte(b[i:], '\n')
		if j < 0 {
			return -1, 0
		}
		i += j
		rest := b[i+1:]
		switch {
		case len(rest) > 0 && rest[0] == '\n':
			return i, 2
		case len(rest) > 1 && rest[0] == '\r' && rest[1] == '\n':
			return i, 3
		}
	}
	return -1, 0
}

func framePayload(frame []byte) (payload []byte, ok bool) {
	var data [][]byte
	for _, line := range bytes.Split(frame, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		switch {
		case len(line) == 0, line[0] == ':':
		case bytes.HasPrefix(line, []byte("data:")):
			v := line[len("data:"):]
			if len(v) > 0 && v[0] == ' ' {
				v = v[1:]
			}
			data = append(data, v)
		}
	}
	if len(data) == 0 {
		return nil, false
	}
	return bytes.Join(data, []byte("\n")), true
}

// ReadEvents runs Scan over body in a goroutine and delivers events on the
// returned channel. The channel is closed when the stream ends or ctx is
// canceled; body is always closed. Canceling ctx also closes body so that a
// blocked read returns promptly.
//
// A transport failure is reported as a final KindError event with Err set.
// Cancellation is not reported.
func ReadEvents(ctx context.Context, body io.ReadCloser, decode Decoder, opts ...Option) <-chan Event {
	ch := make(chan Event)
	go func() {
		defer close(ch)
		defer body.Close()
		stop := context.AfterFunc(ctx, func() { _ = body.Close() })
		defer stop()

		err := Scan(ctx, body, decode, func(ev Event) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}, opts...)
		if err == nil || ctx.Err() != nil {
			return
		}
		select {
		case ch <- Event{Kind: KindError, Message: err.Error(), Err: err}:
		case <-ctx.Done():
		}
	}()
	return ch
}
