package notify

import (
	"context"
	"sync"
)

// Sent is one message captured by a Recorder.
type Sent struct {
	Kind      Kind
	Recipient string
	Data      map[string]string
}

// Recorder is a Notifier that remembers everything it is asked to send.
// Intended for tests.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent

	// Err, when set, is returned from every Send. Flows must treat that as
	// non-fatal.
	Err error
}

func (r *Recorder) Send(_ context.Context, kind Kind, recipient string, data map[string]string) error {
	r.mu.Lock()
	r.sent = append(r.sent, Sent{Kind: kind, Recipient: recipient, Data: data})
	r.mu.Unlock()
	return r.Err
}

// All returns a copy of every captured message in send order.
func (r *Recorder) All() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// Last returns the most recent message, or false when none were sent.
func (r *Recorder) Last() (Sent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return Sent{}, false
	}
	return r.sent[len(r.sent)-1], true
}

// ByKind returns every captured message of the given kind.
func (r *Recorder) ByKind(kind Kind) []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Sent
	for _, s := range r.sent {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// Reset discards captured messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}
