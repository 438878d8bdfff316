package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/barkain/ironhide/internal/state"
)

// ErrUnknownEvent is returned by Decode for tags outside the known set.
var ErrUnknownEvent = errors.New("unknown event")

// envelope is the wire shape: {"event": <kind>, "data": <payload>}.
type envelope struct {
	Event Kind            `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Encode serialises an event into its envelope.
func Encode(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding %s event: %w", e.Kind(), err)
	}
	return json.Marshal(envelope{Event: e.Kind(), Data: data})
}

// MarshalJSON always writes "turns" as an array on snapshots, even for a
// session with no turns. Updates omit it.
func (e SessionEvent) MarshalJSON() ([]byte, error) {
	type plain SessionEvent
	if e.Type != SessionSnapshot {
		return json.Marshal(plain(e))
	}
	turns := e.Turns
	if turns == nil {
		turns = []state.TurnRecord{}
	}
	return json.Marshal(struct {
		plain
		Turns []state.TurnRecord `json:"turns"`
	}{plain(e), turns})
}

// Decode parses an envelope into its concrete event type.
func Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}

	var (
		e   Event
		err error
	)
	switch env.Event {
	case KindConnected:
		e, err = decodeAs[Connected](env.Data)
	case KindSession:
		e, err = decodeAs[SessionEvent](env.Data)
	case KindTurn:
		e, err = decodeAs[TurnEvent](env.Data)
	case KindMetrics:
		e, err = decodeAs[MetricsEvent](env.Data)
	case KindHeartbeat:
		e, err = decodeAs[Heartbeat](env.Data)
	case KindError:
		e, err = decodeAs[ErrorEvent](env.Data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s event: %w", env.Event, err)
	}
	return e, nil
}

func decodeAs[T Event](data json.RawMessage) (Event, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
