package cli

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/mesh-intelligence/smartnotifier/pkg/types"
)

// Actions written by the run command, one JSON object per line.
const (
	actionCancel     = "cancel"
	actionCreateSink = "create_sink"
	actionEmit       = "emit"
)

// action is one line of run output.
type action struct {
	Action   string            `json:"action"`
	Key      string            `json:"key,omitempty"`
	Sink     *types.SinkHandle `json:"sink,omitempty"`
	Title    string            `json:"title,omitempty"`
	Body     string            `json:"body,omitempty"`
	Priority string            `json:"priority,omitempty"`
}

// lineWriter serializes JSON lines from concurrent workers.
type lineWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newLineWriter(w io.Writer) *lineWriter {
	return &lineWriter{enc: json.NewEncoder(w)}
}

func (w *lineWriter) write(a action) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(a)
}

// stdoutSource cancels events by announcing their key on the output.
type stdoutSource struct{ out *lineWriter }

func (s stdoutSource) Cancel(_ context.Context, eventKey string) error {
	return s.out.write(action{Action: actionCancel, Key: eventKey})
}

// stdoutSinks announces sink creation and emissions on the output.
type stdoutSinks struct{ out *lineWriter }

func (s stdoutSinks) EnsureSink(_ context.Context, key, sound, label string) (types.SinkHandle, error) {
	h := types.SinkHandle{Key: key, Sound: sound, Label: label}
	if err := s.out.write(action{Action: actionCreateSink, Sink: &h}); err != nil {
		return types.SinkHandle{}, err
	}
	return h, nil
}

func (s stdoutSinks) Emit(_ context.Context, sink types.SinkHandle, title, body string, priority types.Priority) error {
	return s.out.write(action{
		Action:   actionEmit,
		Sink:     &sink,
		Title:    title,
		Body:     body,
		Priority: priority.String(),
	})
}

// staticGate answers CanEmit from configuration.
type staticGate bool

func (g staticGate) CanEmit(context.Context) bool { return bool(g) }

// soundLabels maps sound designators to display titles from configuration.
type soundLabels map[string]string

func (l soundLabels) Label(sound string) string { return l[sound] }
