package session

import (
	"encoding/json"

	"github.com/example/tableorder/pkg/eventbus"
)

// Control frames a client may send.
const (
	FrameJoinRoom  = "join_room"
	FrameLeaveRoom = "leave_room"
)

// Frame is the wire shape of every message in both directions: a
// named event and its JSON payload.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func frameFor(msg eventbus.Message) Frame {
	return Frame{Event: string(msg.Event), Data: msg.Data}
}

// roomArg extracts the room name of a control frame. Clients send it as
// a bare string; {"room": "..."} is accepted as well.
func roomArg(data json.RawMessage) (eventbus.Room, error) {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		var obj struct {
			Room string `json:"room"`
		}
		if objErr := json.Unmarshal(data, &obj); objErr != nil {
			return "", err
		}
		name = obj.Room
	}
	return eventbus.ParseRoom(name)
}
