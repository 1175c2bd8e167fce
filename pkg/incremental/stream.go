package incremental

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"sync"

	"github.com/jensneuse/abstractlogger"
	"github.com/tidwall/gjson"
	"go.uber.org/atomic"

	"github.com/wundergraph/graphql-url-loader/pkg/common"
)

const (
	ContentTypeMultipartMixed = "multipart/mixed"

	// defaultBoundary is what servers like GraphQL Yoga use when they omit the parameter.
	defaultBoundary = "-"
)

// Probe reports whether resp is an incremental response and returns its part boundary.
func Probe(resp *http.Response) (boundary string, ok bool) {
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != ContentTypeMultipartMixed {
		return "", false
	}
	boundary = params["boundary"]
	if boundary == "" {
		boundary = defaultBoundary
	}
	return boundary, true
}

// Stream reads body as multipart/mixed and emits a snapshot of the accumulated result after
// every part. The channel is closed once the server signals hasNext=false, the body ends or
// the stream is cancelled. Read and decode failures are delivered as a final message.
//
// abort is invoked exactly once: either by cancel or when the stream ends on its own.
// Cancelling is not an error, the channel is closed without a final error message.
func Stream(ctx context.Context, body io.ReadCloser, boundary string, abort func(), log abstractlogger.Logger) (<-chan *common.Message, func()) {
	if log == nil {
		log = abstractlogger.NoopLogger
	}
	if abort == nil {
		abort = func() {}
	}

	s := &stream{
		body:    body,
		reader:  multipart.NewReader(body, boundary),
		ch:      make(chan *common.Message, 8),
		done:    make(chan struct{}),
		log:     log,
		release: sync.OnceFunc(func() { abort(); _ = body.Close() }),
	}

	go s.readLoop(ctx)

	return s.ch, s.cancel
}

type stream struct {
	body      io.ReadCloser
	reader    *multipart.Reader
	ch        chan *common.Message
	done      chan struct{}
	cancelled atomic.Bool
	closeOnce sync.Once
	log       abstractlogger.Logger
	release   func()
}

func (s *stream) cancel() {
	s.closeOnce.Do(func() {
		s.cancelled.Store(true)
		close(s.done)
		s.log.Debug("incremental.Stream", abstractlogger.String("status", "cancelled"))
		s.release()
	})
}

func (s *stream) readLoop(ctx context.Context) {
	defer close(s.ch)
	defer s.release()

	acc := &Accumulator{}

	for {
		part, err := s.reader.NextPart()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			s.fail(ctx, fmt.Errorf("%w: read part: %w", ErrMalformedChunk, err))
			return
		}

		data, err := io.ReadAll(part)
		if err != nil {
			s.fail(ctx, fmt.Errorf("read part body: %w", err))
			return
		}

		data = bytes.TrimSpace(data)
		if len(data) == 0 {
			continue
		}
		if !gjson.ValidBytes(data) {
			s.fail(ctx, fmt.Errorf("%w: invalid json", ErrMalformedChunk))
			return
		}

		chunk, err := ParseChunk(data)
		if err != nil {
			s.fail(ctx, err)
			return
		}
		if err := acc.Apply(chunk); err != nil {
			s.fail(ctx, err)
			return
		}
		snapshot, err := acc.Snapshot()
		if err != nil {
			s.fail(ctx, err)
			return
		}

		s.log.Debug("incremental.Stream",
			abstractlogger.String("label", chunk.Label),
			abstractlogger.Any("hasNext", snapshot.HasNext),
		)

		if !s.send(ctx, &common.Message{Payload: snapshot}) {
			return
		}

		if gjson.GetBytes(data, "hasNext").Exists() && !snapshot.HasNext {
			return
		}
	}
}

func (s *stream) send(ctx context.Context, msg *common.Message) bool {
	if s.cancelled.Load() {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *stream) fail(ctx context.Context, err error) {
	if s.cancelled.Load() || ctx.Err() != nil {
		return
	}
	s.log.Error("incremental.Stream", abstractlogger.Error(err))
	s.send(ctx, &common.Message{Err: err, Done: true})
}
