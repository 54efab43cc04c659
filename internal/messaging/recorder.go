package messaging

import (
	"context"
	"fmt"
	"sync"
)

// Recorder is an in-memory Sender. It keeps every message in send order and
// can be told to fail.
type Recorder struct {
	mu   sync.Mutex
	sent []Message
	// Err, when set, is returned by every Send.
	Err error
}

// Send records the message.
func (r *Recorder) Send(_ context.Context, to, body string) (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	m := Message{SID: fmt.Sprintf("SM%04d", len(r.sent)+1), To: to, Body: body, Status: "queued"}
	r.sent = append(r.sent, m)
	return &m, nil
}

// Sent returns a copy of every recorded message.
func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.sent...)
}

// To returns the bodies sent to one address.
func (r *Recorder) To(addr string) []string {
	var out []string
	for _, m := range r.Sent() {
		if m.To == addr {
			out = append(out, m.Body)
		}
	}
	return out
}

// Reset forgets recorded messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}
