package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/buger/jsonparser"
	"github.com/r3labs/sse/v2"

	"github.com/wundergraph/graphql-url-loader/pkg/common"
)

const maxEventSize = 1 << 16

// event is one dispatched server-sent event.
type event struct {
	name string
	data []byte
}

// decodeEvent collects the fields of a raw event. ok is false for events without a name
// or data, such as keep-alive comments.
func decodeEvent(raw []byte) (ev event, ok bool) {
	var data [][]byte
	for _, line := range bytes.Split(bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n")), []byte("\n")) {
		field, value, _ := bytes.Cut(line, []byte(":"))
		value = bytes.TrimPrefix(value, []byte(" "))

		switch string(field) {
		case "event":
			ev.name = string(value)
		case "data":
			data = append(data, value)
		}
	}
	if data != nil {
		ev.data = bytes.Join(data, []byte("\n"))
	}
	return ev, ev.name != "" || data != nil
}

func (ev event) message() *common.Message {
	switch ev.name {
	case "next":
		return resultMessage(ev.data)
	case "error":
		return errorMessage(ev.data)
	case "complete":
		return &common.Message{Done: true}
	}

	// unnamed events carry a plain execution result, an empty one ends the stream
	switch {
	case len(ev.data) == 0:
		return &common.Message{Done: true}
	case rejectsOperation(ev.data):
		return errorMessage(ev.data)
	default:
		return resultMessage(ev.data)
	}
}

// rejectsOperation reports whether data carries errors and no data member.
func rejectsOperation(data []byte) bool {
	if _, kind, _, err := jsonparser.Get(data, "errors"); err != nil || kind != jsonparser.Array {
		return false
	}
	_, _, _, err := jsonparser.Get(data, "data")
	return errors.Is(err, jsonparser.KeyPathNotFoundError)
}

func resultMessage(data []byte) *common.Message {
	result := &common.ExecutionResult{}
	if err := json.Unmarshal(data, result); err != nil {
		return &common.Message{Err: err, Done: true}
	}
	return &common.Message{Payload: result}
}

// errorMessage accepts a bare error list as well as a response object holding one.
func errorMessage(data []byte) *common.Message {
	if list, kind, _, err := jsonparser.Get(data, "errors"); err == nil && kind == jsonparser.Array {
		data = list
	}
	subErr := &common.SubscriptionError{}
	if err := json.Unmarshal(data, &subErr.Errors); err != nil {
		return &common.Message{Err: err, Done: true}
	}
	return &common.Message{Err: subErr, Done: true}
}

// eventStream forwards the events of one subscription response.
type eventStream struct {
	ctx   context.Context
	body  io.ReadCloser
	abort func()
	out   *sub
}

// newEventStream reads body. Cancelling ctx, the request context, ends the stream
// without an error message.
func newEventStream(ctx context.Context, body io.ReadCloser, abort func()) *eventStream {
	return &eventStream{
		ctx:   ctx,
		body:  body,
		abort: abort,
		out:   newSub(),
	}
}

func (s *eventStream) run() {
	defer s.stop()

	reader := sse.NewEventStreamReader(s.body, maxEventSize)
	for {
		raw, err := reader.ReadEvent()
		if err != nil {
			if !errors.Is(err, io.EOF) && s.ctx.Err() == nil {
				s.out.send(&common.Message{Err: err, Done: true}, nil)
			}
			return
		}

		ev, ok := decodeEvent(raw)
		if !ok {
			continue
		}
		msg := ev.message()
		if !s.out.send(msg, nil) || msg.Done {
			return
		}
	}
}

// stop ends the stream. Pending reads fail and the channel is closed.
func (s *eventStream) stop() {
	s.out.close()
	s.abort()
	_ = s.body.Close()
}
