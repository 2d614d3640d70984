package grpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/example/tableorder/pkg/discovery"
	"github.com/example/tableorder/pkg/models"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const DefaultFeedTarget = "localhost:50061"

// PrinterClient talks to a PrinterServer.
type PrinterClient struct {
	conn   *grpc.ClientConn
	logger *zap.Logger
}

// ConnectPrinterFeed resolves the feed through the registry when one is
// given, falling back to target, and opens a client connection.
func ConnectPrinterFeed(ctx context.Context, registry discovery.Registry, serviceName, target string, logger *zap.Logger) (*PrinterClient, error) {
	if target == "" {
		target = DefaultFeedTarget
	}

	if registry != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		resolved, err := discovery.Resolve(lookupCtx, registry, serviceName, target)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", serviceName, err)
		}
		if resolved != target {
			logger.Info("Discovered printer feed", zap.String("address", resolved))
		}
		target = resolved
	}

	logger.Info("Connecting to printer feed", zap.String("target", target))

	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to printer feed: %w", err)
	}
	return NewPrinterClient(conn, logger), nil
}

func NewPrinterClient(conn *grpc.ClientConn, logger *zap.Logger) *PrinterClient {
	return &PrinterClient{conn: conn, logger: logger}
}

func (c *PrinterClient) ListPending(ctx context.Context, limit int) ([]models.PrintJob, error) {
	out := new(structpb.ListValue)
	if err := c.conn.Invoke(ctx, listPendingMethod, wrapperspb.UInt32(uint32(limit)), out); err != nil {
		return nil, err
	}

	jobs := make([]models.PrintJob, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		job, err := jobFromStruct(v.GetStructValue())
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}

func (c *PrinterClient) MarkPrinted(ctx context.Context, id uint) (*models.PrintJob, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, markPrintedMethod, wrapperspb.UInt64(uint64(id)), out); err != nil {
		return nil, err
	}
	return jobFromStruct(out)
}

// FeedEvent is one printer room event received over Watch.
type FeedEvent struct {
	Event string
	Data  []byte
}

type WatchStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next event. It returns io.EOF when the server
// closes the stream.
func (w *WatchStream) Recv() (*FeedEvent, error) {
	msg := new(structpb.Struct)
	if err := w.stream.RecvMsg(msg); err != nil {
		return nil, err
	}

	event := &FeedEvent{Event: msg.GetFields()["event"].GetStringValue()}
	if data, ok := msg.GetFields()["data"]; ok {
		b, err := protojson.Marshal(data)
		if err != nil {
			return nil, err
		}
		event.Data = b
	}
	return event, nil
}

// Watch opens the printer room stream. Cancel ctx to close it.
func (c *PrinterClient) Watch(ctx context.Context) (*WatchStream, error) {
	stream, err := c.conn.NewStream(ctx, &PrinterFeedServiceDesc.Streams[0], watchMethod)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &WatchStream{stream: stream}, nil
}

// IsStreamEnd reports whether err just means the stream finished.
func IsStreamEnd(err error) bool {
	return errors.Is(err, io.EOF)
}

func (c *PrinterClient) Close() error {
	return c.conn.Close()
}
