package trigger

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/iddaa-lens/scheduler/pkg/json"
)

type envelope struct {
	Kind  string          `json:"kind"`
	State json.RawMessage `json:"state"`
}

// Decodable is a trigger that can restore its state from the JSON it
// marshals to.
type Decodable interface {
	Trigger
	UnmarshalJSON(data []byte) error
}

var (
	kindsMu sync.RWMutex
	// kinds maps a codec tag to a constructor for an empty trigger of that kind.
	kinds = map[string]func() Decodable{
		KindPeriodic: func() Decodable { return &PeriodicTrigger{} },
		KindCron:     func() Decodable { return &CronTrigger{} },
	}
)

// RegisterKind makes triggers of kind persistable with Marshal and Unmarshal.
// newTrigger returns an empty trigger for Unmarshal to fill. Registering a
// kind twice is an error.
func RegisterKind(kind string, newTrigger func() Decodable) error {
	if kind == "" || newTrigger == nil {
		return errors.Wrap(ErrInvalidTrigger, "trigger kind and constructor are required")
	}

	kindsMu.Lock()
	defer kindsMu.Unlock()
	if _, ok := kinds[kind]; ok {
		return errors.Wrapf(ErrInvalidTrigger, "trigger kind %q is already registered", kind)
	}
	kinds[kind] = newTrigger
	return nil
}

func lookupKind(kind string) (func() Decodable, bool) {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	newTrigger, ok := kinds[kind]
	return newTrigger, ok
}

// Marshal encodes t, including its kind, so Unmarshal can restore it.
func Marshal(t Trigger) ([]byte, error) {
	if t == nil {
		return nil, errors.Wrap(ErrInvalidTrigger, "cannot encode nil trigger")
	}
	if _, ok := lookupKind(t.Kind()); !ok {
		return nil, errors.Wrapf(ErrInvalidTrigger, "no codec registered for trigger kind %q", t.Kind())
	}
	state, err := json.Marshal(t)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s trigger", t.Kind())
	}
	return json.Marshal(envelope{Kind: t.Kind(), State: state})
}

// Unmarshal decodes a trigger written by Marshal.
func Unmarshal(data []byte) (Trigger, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "failed to decode trigger envelope")
	}
	newTrigger, ok := lookupKind(env.Kind)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidTrigger, "unknown trigger kind %q", env.Kind)
	}
	t := newTrigger()
	if err := t.UnmarshalJSON(env.State); err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s trigger", env.Kind)
	}
	return t, nil
}
