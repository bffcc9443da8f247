package dispatch

import (
	"context"
	"strings"
	"sync"

	"github.com/mesh-intelligence/smartnotifier/pkg/types"
)

// Sink naming.
const (
	SinkKeyPrefix    = "repost_"
	DefaultSoundName = "default"
	RuleLabelPrefix  = "Rule: "
	FallbackLabel    = "Custom Sound"
)

// SinkKey returns the sink identifier for a sound designator. All rules
// sharing a sound share one sink.
func SinkKey(sound string) string {
	if sound == "" {
		return SinkKeyPrefix + DefaultSoundName
	}
	return SinkKeyPrefix + sound
}

// SinkLabel returns the display name for a sink created on behalf of rule:
// the rule's search text, else the sound's title from labeler, else a fixed
// fallback. labeler may be nil.
func SinkLabel(rule types.Rule, labeler types.SoundLabeler) string {
	if strings.TrimSpace(rule.SearchText) != "" {
		return RuleLabelPrefix + rule.SearchText
	}
	if rule.Sound != "" && labeler != nil {
		if title := labeler.Label(rule.Sound); title != "" {
			return title
		}
	}
	return FallbackLabel
}

// sinkRegistry creates each sink once and remembers its handle. The label is
// fixed by whichever rule first needed the sink.
type sinkRegistry struct {
	provider types.SinkProvider
	labeler  types.SoundLabeler

	mu    sync.Mutex
	sinks map[string]types.SinkHandle
}

func newSinkRegistry(provider types.SinkProvider, labeler types.SoundLabeler) *sinkRegistry {
	return &sinkRegistry{
		provider: provider,
		labeler:  labeler,
		sinks:    make(map[string]types.SinkHandle),
	}
}

// resolve returns the sink for rule's sound, creating it on first use.
// created reports whether this call created it.
func (r *sinkRegistry) resolve(ctx context.Context, rule types.Rule) (handle types.SinkHandle, created bool, err error) {
	key := SinkKey(rule.Sound)

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.sinks[key]; ok {
		return h, false, nil
	}
	h, err := r.provider.EnsureSink(ctx, key, rule.Sound, SinkLabel(rule, r.labeler))
	if err != nil {
		return types.SinkHandle{}, false, err
	}
	r.sinks[key] = h
	return h, true, nil
}

func (r *sinkRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sinks)
}
