package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fjod/cpqcart/internal/domain"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

const (
	ServiceName  = "cpq.CartService"
	invokeMethod = "/cpq.CartService/Invoke"
	codecName    = "json"
)

// jsonCodec lets the invoke service travel over gRPC without generated
// protobuf types; the payload is schemaless by contract.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// Dial opens an instrumented client connection to a cart service backend.
func Dial(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
	conn, err := grpc.NewClient(addr, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to cart service: %w", err)
	}
	return conn, nil
}

type GRPCTransport struct {
	conn grpc.ClientConnInterface
}

func NewGRPCTransport(conn grpc.ClientConnInterface) *GRPCTransport {
	return &GRPCTransport{conn: conn}
}

func (t *GRPCTransport) RoundTrip(ctx context.Context, input InputMap) ([]byte, error) {
	var resp InvokeResponse
	err := t.conn.Invoke(ctx, invokeMethod, &InvokeRequest{InputMap: input}, &resp, grpc.CallContentSubtype(codecName))
	if err != nil {
		st := status.Convert(err)
		payload, _ := json.Marshal(map[string]string{
			"code":    st.Code().String(),
			"message": st.Message(),
		})
		return nil, &CallError{Method: input.Method(), Payload: payload, Err: err}
	}
	return []byte(resp.Result), nil
}

// RegisterInvokeServer exposes h as cpq.CartService/Invoke on s.
func RegisterInvokeServer(s grpc.ServiceRegistrar, h Handler) {
	s.RegisterService(&invokeServiceDesc, h)
}

var invokeServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Invoke",
			Handler:    invokeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cpq/cart_service.json",
}

func invokeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(InvokeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return serveInvoke(ctx, srv.(Handler), req.(*InvokeRequest))
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: invokeMethod,
	}
	return interceptor(ctx, in, info, handler)
}

func serveInvoke(ctx context.Context, h Handler, req *InvokeRequest) (*InvokeResponse, error) {
	env, err := h.Invoke(ctx, req.InputMap)
	if err != nil {
		return nil, status.Error(grpcCodeOf(err), err.Error())
	}
	result, err := domain.EncodeEnvelope(env)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return &InvokeResponse{Result: result}, nil
}

func grpcCodeOf(err error) codes.Code {
	switch {
	case errors.Is(err, ErrMissingMethod), errors.Is(err, ErrUnknownMethod), errors.Is(err, ErrInvalidInput):
		return codes.InvalidArgument
	case errors.Is(err, ErrNotFound):
		return codes.NotFound
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}
