package eventbus

import (
	"fmt"
	"strconv"
	"strings"
)

// Room names a group of connections that receive a publish together.
// Only three kinds exist: the admin room, one room per table, and the
// printer room every printer agent joins.
type Room string

const (
	AdminRoom   Room = "admin"
	PrinterRoom Room = "printer"

	tablePrefix = "table_"
)

func TableRoom(tableID uint) Room {
	return Room(tablePrefix + strconv.FormatUint(uint64(tableID), 10))
}

// TableID returns the table a table room belongs to.
func (r Room) TableID() (uint, bool) {
	s, ok := strings.CutPrefix(string(r), tablePrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// ParseRoom validates a room name received from a client.
func ParseRoom(name string) (Room, error) {
	room := Room(strings.TrimSpace(name))
	switch room {
	case AdminRoom, PrinterRoom:
		return room, nil
	}
	if _, ok := room.TableID(); ok {
		return room, nil
	}
	return "", fmt.Errorf("unknown room %q", name)
}
