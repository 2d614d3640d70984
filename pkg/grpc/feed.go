package grpc

import (
	"context"
	"fmt"
	"time"

	"github.com/example/tableorder/pkg/models"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// PrinterFeedServer is the server API of the printer feed. Messages use
// the well-known protobuf types so no generated code is needed.
type PrinterFeedServer interface {
	ListPending(context.Context, *wrapperspb.UInt32Value) (*structpb.ListValue, error)
	MarkPrinted(context.Context, *wrapperspb.UInt64Value) (*structpb.Struct, error)
	Watch(*emptypb.Empty, grpc.ServerStream) error
}

const (
	feedService       = "tableorder.printer.v1.PrinterFeed"
	listPendingMethod = "/" + feedService + "/ListPending"
	markPrintedMethod = "/" + feedService + "/MarkPrinted"
	watchMethod       = "/" + feedService + "/Watch"
)

var PrinterFeedServiceDesc = grpc.ServiceDesc{
	ServiceName: feedService,
	HandlerType: (*PrinterFeedServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListPending", Handler: listPendingHandler},
		{MethodName: "MarkPrinted", Handler: markPrintedHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "tableorder/printer/v1/feed.proto",
}

func RegisterPrinterFeedServer(s grpc.ServiceRegistrar, srv PrinterFeedServer) {
	s.RegisterService(&PrinterFeedServiceDesc, srv)
}

func listPendingHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.UInt32Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PrinterFeedServer).ListPending(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listPendingMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PrinterFeedServer).ListPending(ctx, req.(*wrapperspb.UInt32Value))
	}
	return interceptor(ctx, in, info, handler)
}

func markPrintedHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.UInt64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PrinterFeedServer).MarkPrinted(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: markPrintedMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PrinterFeedServer).MarkPrinted(ctx, req.(*wrapperspb.UInt64Value))
	}
	return interceptor(ctx, in, info, handler)
}

func watchHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(PrinterFeedServer).Watch(in, stream)
}

func jobToStruct(job *models.PrintJob) (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"id":        job.ID,
		"type":      string(job.Type),
		"payload":   job.Payload,
		"isPrinted": job.IsPrinted,
		"createdAt": job.CreatedAt.Format(time.RFC3339Nano),
	}
	if job.PrintedAt != nil {
		fields["printedAt"] = job.PrintedAt.Format(time.RFC3339Nano)
	}
	return structpb.NewStruct(fields)
}

func jobFromStruct(s *structpb.Struct) (*models.PrintJob, error) {
	f := s.GetFields()
	job := &models.PrintJob{
		ID:        uint(f["id"].GetNumberValue()),
		Type:      models.PrintJobType(f["type"].GetStringValue()),
		Payload:   f["payload"].GetStringValue(),
		IsPrinted: f["isPrinted"].GetBoolValue(),
	}
	if job.ID == 0 {
		return nil, fmt.Errorf("print job without id")
	}

	createdAt, err := time.Parse(time.RFC3339Nano, f["createdAt"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("job %d: invalid createdAt: %w", job.ID, err)
	}
	job.CreatedAt = createdAt

	if v, ok := f["printedAt"]; ok {
		printedAt, err := time.Parse(time.RFC3339Nano, v.GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("job %d: invalid printedAt: %w", job.ID, err)
		}
		job.PrintedAt = &printedAt
	}
	return job, nil
}
