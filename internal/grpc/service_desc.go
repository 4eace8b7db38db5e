package grpc

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the content subtype clients select with grpc.CallContentSubtype.
const CodecName = "json"

// jsonCodec carries the placeholder message types until generated code exists.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

const serviceName = "payout.v1.PayoutService"

// PayoutServiceServer is the server API for PayoutService
type PayoutServiceServer interface {
	RunDuePayouts(context.Context, *RunDuePayoutsRequest) (*RunDuePayoutsResponse, error)
	GetPayout(context.Context, *GetPayoutRequest) (*GetPayoutResponse, error)
	ResetPayout(context.Context, *ResetPayoutRequest) (*ResetPayoutResponse, error)
	CancelPayout(context.Context, *CancelPayoutRequest) (*CancelPayoutResponse, error)
}

// PayoutService_ServiceDesc describes PayoutService for grpc.Server.RegisterService
var PayoutService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*PayoutServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RunDuePayouts", Handler: unaryHandler("RunDuePayouts", PayoutServiceServer.RunDuePayouts)},
		{MethodName: "GetPayout", Handler: unaryHandler("GetPayout", PayoutServiceServer.GetPayout)},
		{MethodName: "ResetPayout", Handler: unaryHandler("ResetPayout", PayoutServiceServer.ResetPayout)},
		{MethodName: "CancelPayout", Handler: unaryHandler("CancelPayout", PayoutServiceServer.CancelPayout)},
	},
	Streams: []grpc.StreamDesc{},
}

func unaryHandler[Req any, Resp any](
	method string,
	call func(PayoutServiceServer, context.Context, *Req) (*Resp, error),
) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PayoutServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + serviceName + "/" + method,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(PayoutServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RegisterPayoutServiceServer registers the server
func RegisterPayoutServiceServer(s grpc.ServiceRegistrar, srv PayoutServiceServer) {
	s.RegisterService(&PayoutService_ServiceDesc, srv)
}

// PayoutServiceClient calls PayoutService over a connection using the JSON codec
type PayoutServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewPayoutServiceClient creates a new client
func NewPayoutServiceClient(cc grpc.ClientConnInterface) *PayoutServiceClient {
	return &PayoutServiceClient{cc: cc}
}

func (c *PayoutServiceClient) RunDuePayouts(ctx context.Context, in *RunDuePayoutsRequest, opts ...grpc.CallOption) (*RunDuePayoutsResponse, error) {
	out := new(RunDuePayoutsResponse)
	return out, c.invoke(ctx, "RunDuePayouts", in, out, opts)
}

func (c *PayoutServiceClient) GetPayout(ctx context.Context, in *GetPayoutRequest, opts ...grpc.CallOption) (*GetPayoutResponse, error) {
	out := new(GetPayoutResponse)
	return out, c.invoke(ctx, "GetPayout", in, out, opts)
}

func (c *PayoutServiceClient) ResetPayout(ctx context.Context, in *ResetPayoutRequest, opts ...grpc.CallOption) (*ResetPayoutResponse, error) {
	out := new(ResetPayoutResponse)
	return out, c.invoke(ctx, "ResetPayout", in, out, opts)
}

func (c *PayoutServiceClient) CancelPayout(ctx context.Context, in *CancelPayoutRequest, opts ...grpc.CallOption) (*CancelPayoutResponse, error) {
	out := new(CancelPayoutResponse)
	return out, c.invoke(ctx, "CancelPayout", in, out, opts)
}

func (c *PayoutServiceClient) invoke(ctx context.Context, method string, in, out interface{}, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...)
}
