package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/example/tableorder/pkg/eventbus"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Conn is one bidirectional JSON connection. *websocket.Conn from
// gorilla/websocket satisfies it.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

type Role string

const (
	RoleClient  Role = "client"
	RolePrinter Role = "printer"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case "", RoleClient:
		return RoleClient, nil
	case RolePrinter:
		return RolePrinter, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Manager maps live connections to hub memberships. It is the only
// component that sees raw connections.
type Manager struct {
	hub    *eventbus.Hub
	system *actor.ActorSystem
	logger *zap.Logger
	active atomic.Int64
}

func NewManager(hub *eventbus.Hub, system *actor.ActorSystem, logger *zap.Logger) *Manager {
	return &Manager{hub: hub, system: system, logger: logger}
}

// Connections reports how many connections are being served.
func (m *Manager) Connections() int {
	return int(m.active.Load())
}

type connection struct {
	id   string
	pid  *actor.PID
	root *actor.RootContext
}

func (c *connection) ID() string {
	return c.id
}

func (c *connection) Deliver(msg eventbus.Message) {
	c.root.Send(c.pid, &outbound{frame: frameFor(msg)})
}

// Serve runs one connection until the peer disconnects or ctx is
// cancelled. On return the connection belongs to no room.
func (m *Manager) Serve(ctx context.Context, conn Conn, role Role) error {
	id := uuid.NewString()
	logger := m.logger.With(zap.String("conn_id", id), zap.String("role", string(role)))

	pid := m.system.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return &writer{conn: conn, id: id, logger: logger}
	}))
	c := &connection{id: id, pid: pid, root: m.system.Root}

	m.active.Add(1)
	logger.Info("Connection opened")

	var closeOnce sync.Once
	closeConn := func() { closeOnce.Do(func() { _ = conn.Close() }) }

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-stop:
		}
	}()

	defer func() {
		close(stop)
		m.hub.LeaveAll(id)
		if err := m.system.Root.StopFuture(pid).Wait(); err != nil {
			logger.Warn("Failed to stop connection writer", zap.Error(err))
		}
		closeConn()
		m.active.Add(-1)
		logger.Info("Connection closed")
	}()

	if role == RolePrinter {
		m.hub.Join(c, eventbus.PrinterRoom)
	}

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Debug("Read ended", zap.Error(err))
			return nil
		}
		if err := m.handle(c, frame); err != nil {
			logger.Warn("Ignoring control frame", zap.String("event", frame.Event), zap.Error(err))
		}
	}
}

var errUnknownFrame = errors.New("unknown control frame")

func (m *Manager) handle(c *connection, frame Frame) error {
	switch frame.Event {
	case FrameJoinRoom:
		room, err := roomArg(frame.Data)
		if err != nil {
			return err
		}
		m.hub.Join(c, room)
	case FrameLeaveRoom:
		room, err := roomArg(frame.Data)
		if err != nil {
			return err
		}
		m.hub.Leave(c.id, room)
	default:
		return errUnknownFrame
	}
	return nil
}
