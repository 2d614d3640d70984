package eventbus

import (
	"encoding/json"
	"fmt"
)

type Event string

const (
	EventNewOrder        Event = "new_order"
	EventRefreshAdmin    Event = "refresh_admin"
	EventForceRefresh    Event = "force_refresh"
	EventUpdateTriggered Event = "update_triggered"
	EventPrintOrder      Event = "print_order"
)

var catalog = map[Event]struct{}{
	EventNewOrder:        {},
	EventRefreshAdmin:    {},
	EventForceRefresh:    {},
	EventUpdateTriggered: {},
	EventPrintOrder:      {},
}

func (e Event) Valid() bool {
	_, ok := catalog[e]
	return ok
}

// Message is one published event as handed to a room member. Data is
// the already encoded payload; the bus never looks inside it.
type Message struct {
	Room  Room            `json:"room"`
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func newMessage(room Room, event Event, payload any) (Message, error) {
	if !event.Valid() {
		return Message{}, fmt.Errorf("unknown event %q", event)
	}
	msg := Message{Room: room, Event: event}
	if payload == nil {
		return msg, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		msg.Data = raw
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	msg.Data = data
	return msg, nil
}
