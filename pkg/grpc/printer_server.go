package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/example/tableorder/pkg/eventbus"
	"github.com/example/tableorder/pkg/models"
	"github.com/example/tableorder/pkg/printqueue"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// PrinterServer serves the print queue to printer agents: polling for
// pending jobs, acknowledging printed ones and a live stream of the
// printer room.
type PrinterServer struct {
	queue  *printqueue.Queue
	hub    *eventbus.Hub
	logger *zap.Logger
	buffer int
	srv    *grpc.Server

	stopOnce sync.Once
	done     chan struct{}
}

func NewPrinterServer(queue *printqueue.Queue, hub *eventbus.Hub, logger *zap.Logger, buffer int) *PrinterServer {
	if buffer <= 0 {
		buffer = 64
	}
	s := &PrinterServer{queue: queue, hub: hub, logger: logger, buffer: buffer, done: make(chan struct{})}

	s.srv = grpc.NewServer(grpc.ChainUnaryInterceptor(s.logUnary))
	RegisterPrinterFeedServer(s.srv, s)
	reflection.Register(s.srv)
	return s
}

// Start listens on addr and serves until Stop.
func (s *PrinterServer) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.logger.Info("Printer feed started", zap.String("address", lis.Addr().String()))
	return s.Serve(lis)
}

func (s *PrinterServer) Serve(lis net.Listener) error {
	return s.srv.Serve(lis)
}

// Stop ends open watch streams, then waits for in-flight calls.
func (s *PrinterServer) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
	s.srv.GracefulStop()
}

func (s *PrinterServer) ListPending(ctx context.Context, req *wrapperspb.UInt32Value) (*structpb.ListValue, error) {
	jobs, err := s.queue.Pending(ctx, int(req.GetValue()))
	if err != nil {
		return nil, toStatus(err)
	}

	list := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(jobs))}
	for i := range jobs {
		st, err := jobToStruct(&jobs[i])
		if err != nil {
			return nil, status.Error(codes.Internal, "failed to encode print job")
		}
		list.Values = append(list.Values, structpb.NewStructValue(st))
	}
	return list, nil
}

func (s *PrinterServer) MarkPrinted(ctx context.Context, req *wrapperspb.UInt64Value) (*structpb.Struct, error) {
	job, err := s.queue.MarkPrinted(ctx, uint(req.GetValue()))
	if err != nil {
		return nil, toStatus(err)
	}

	st, err := jobToStruct(job)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode print job")
	}
	return st, nil
}

// watcher is a printer room member backed by a gRPC stream.
type watcher struct {
	id     string
	events chan eventbus.Message
	logger *zap.Logger
}

func (w *watcher) ID() string {
	return w.id
}

func (w *watcher) Deliver(msg eventbus.Message) {
	select {
	case w.events <- msg:
	default:
		w.logger.Warn("Watch stream lagging, dropping event", zap.String("watcher", w.id))
	}
}

// Watch streams every printer room event until the client goes away.
// Events are hints; the agent still drains ListPending.
func (s *PrinterServer) Watch(_ *emptypb.Empty, stream grpc.ServerStream) error {
	w := &watcher{
		id:     "grpc-" + uuid.NewString(),
		events: make(chan eventbus.Message, s.buffer),
		logger: s.logger,
	}
	s.hub.Join(w, eventbus.PrinterRoom)
	defer s.hub.LeaveAll(w.id)

	s.logger.Info("Printer watch opened", zap.String("watcher", w.id))
	defer s.logger.Info("Printer watch closed", zap.String("watcher", w.id))

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case msg := <-w.events:
			out, err := eventToStruct(msg)
			if err != nil {
				s.logger.Warn("Skipping undecodable event", zap.String("event", string(msg.Event)), zap.Error(err))
				continue
			}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		}
	}
}

func eventToStruct(msg eventbus.Message) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(map[string]interface{}{"event": string(msg.Event)})
	if err != nil {
		return nil, err
	}
	if len(msg.Data) > 0 {
		var data structpb.Value
		if err := protojson.Unmarshal(msg.Data, &data); err != nil {
			return nil, err
		}
		out.Fields["data"] = &data
	}
	return out, nil
}

func (s *PrinterServer) logUnary(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		s.logger.Warn("Printer feed call failed", zap.String("method", info.FullMethod), zap.Error(err))
	}
	return resp, err
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, models.ErrInvalidState):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, models.ErrInvalidQuantity):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, models.ErrStorageUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
