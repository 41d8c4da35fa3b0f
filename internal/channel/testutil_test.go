package channel

import (
	"log/slog"
	"os"
	"sync"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// sentRequest is a request frame captured on its way to the worker.
type sentRequest struct {
	ID       string   `json:"id"`
	Method   string   `json:"method"`
	Internal Internal `json:"internal"`
	Data     any      `json:"data"`
}

// recorder captures outbound frames and hands them to an optional reply
// function standing in for the worker.
type recorder struct {
	t     *testing.T
	codec Codec
	mu    sync.Mutex
	sent  []sentRequest
	reply func(req sentRequest)
}

func (r *recorder) record(frame []byte) sentRequest {
	r.t.Helper()
	var req sentRequest
	if err := r.codec.Unmarshal(frame, &req); err != nil {
		r.t.Errorf("undecodable request frame: %v", err)
	}
	r.mu.Lock()
	r.sent = append(r.sent, req)
	reply := r.reply
	r.mu.Unlock()
	if reply != nil {
		reply(req)
	}
	return req
}

func (r *recorder) requests() []sentRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sentRequest, len(r.sent))
	copy(out, r.sent)
	return out
}

func encode(t *testing.T, codec Codec, v any) []byte {
	t.Helper()
	b, err := codec.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %T: %v", v, err)
	}
	return b
}
