package query

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const serviceName = "fieldalert.query.v1.FieldQuery"

// FieldQueryServer is the server side of the field query API.
type FieldQueryServer interface {
	GetField(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	ListReadings(context.Context, *structpb.Struct) (*structpb.ListValue, error)
}

var _ FieldQueryServer = (*Service)(nil)

// ServiceDesc describes FieldQuery with well-known protobuf types as payloads.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*FieldQueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetField", Handler: getFieldHandler},
		{MethodName: "ListReadings", Handler: listReadingsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fieldalert/query/v1/query.proto",
}

func RegisterFieldQueryServer(s grpc.ServiceRegistrar, srv FieldQueryServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func getFieldHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FieldQueryServer).GetField(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetField"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FieldQueryServer).GetField(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func listReadingsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FieldQueryServer).ListReadings(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/ListReadings"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FieldQueryServer).ListReadings(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// LoggingInterceptor logs every call with its status code and duration.
func LoggingInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Debug("grpc call",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("took", time.Since(start)))
		return resp, err
	}
}

// Client calls FieldQuery over an existing connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) GetField(ctx context.Context, fieldID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/GetField", wrapperspb.String(fieldID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ListReadings asks for the readings of fieldID in [from, to]. Zero times
// leave the bound to the server default.
func (c *Client) ListReadings(ctx context.Context, fieldID string, from, to time.Time, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	req := map[string]interface{}{"fieldId": fieldID}
	if !from.IsZero() {
		req["from"] = from.UTC().Format(time.RFC3339)
	}
	if !to.IsZero() {
		req["to"] = to.UTC().Format(time.RFC3339)
	}
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/ListReadings", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
