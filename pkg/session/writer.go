package session

import (
	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

type outbound struct {
	frame Frame
}

// writer owns the write side of one connection. The actor mailbox keeps
// frames in publish order without making publishers wait on the socket.
type writer struct {
	conn   Conn
	id     string
	logger *zap.Logger
	closed bool
}

func (w *writer) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *outbound:
		if w.closed {
			return
		}
		if err := w.conn.WriteJSON(msg.frame); err != nil {
			w.logger.Debug("Write failed, closing connection",
				zap.String("conn_id", w.id),
				zap.String("event", msg.frame.Event),
				zap.Error(err))
			w.closed = true
			_ = w.conn.Close()
		}

	case *actor.Started:
		w.logger.Debug("Connection writer started", zap.String("conn_id", w.id))

	case *actor.Stopped:
		w.logger.Debug("Connection writer stopped", zap.String("conn_id", w.id))
	}
}
