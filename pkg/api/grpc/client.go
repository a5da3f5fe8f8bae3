package grpcapi

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/lemonberrylabs/calcd/pkg/types"
)

// Client is a typed client for calc.v1.Calculator.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an existing connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Dial opens a plaintext connection to a calculator server.
func Dial(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

// Evaluate evaluates a single expression on the server.
func (c *Client) Evaluate(ctx context.Context, expression string) (float64, error) {
	out := new(wrapperspb.DoubleValue)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Evaluate", wrapperspb.String(expression), out); err != nil {
		return 0, fromStatus(err)
	}
	return out.GetValue(), nil
}

// Run evaluates source, or the stored program it names, on the server.
func (c *Client) Run(ctx context.Context, source string) ([]float64, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Run", wrapperspb.String(source), out); err != nil {
		return nil, fromStatus(err)
	}
	results := make([]float64, len(out.GetValues()))
	for i, v := range out.GetValues() {
		results[i] = v.GetNumberValue()
	}
	return results, nil
}

// ListPrograms returns the names of the programs stored on the server.
func (c *Client) ListPrograms(ctx context.Context) ([]string, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/ListPrograms", &emptypb.Empty{}, out); err != nil {
		return nil, fromStatus(err)
	}
	names := make([]string, len(out.GetValues()))
	for i, v := range out.GetValues() {
		names[i] = v.GetStringValue()
	}
	return names, nil
}

// fromStatus turns an InvalidArgument status carrying a calculator error kind
// back into a *types.CalcError. Other errors are returned unchanged.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.InvalidArgument {
		return err
	}
	kind, msg, found := strings.Cut(st.Message(), ": ")
	if !found {
		return err
	}
	k, known := types.ParseKind(kind)
	if !known {
		return err
	}
	return &types.CalcError{Kind: k, Message: msg, Pos: -1}
}
