package judge

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region constants

// JudgeMethod is the unary RPC a remote judge service exposes. Request and
// response are google.protobuf.Struct so no generated stubs are needed.
const JudgeMethod = "/trustscore.judge.v1.JudgeService/Judge"

// #endregion constants

// #region client-struct

// GRPCJudge calls a remote judge service over gRPC.
type GRPCJudge struct {
	conn  *grpc.ClientConn
	cc    grpc.ClientConnInterface
	model string
}

// #endregion client-struct

// #region constructor

// NewGRPCJudge connects to a remote judge service.
func NewGRPCJudge(addr, model string) (*GRPCJudge, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &GRPCJudge{conn: conn, cc: conn, model: model}, nil
}

// NewGRPCJudgeWithConn creates a GRPCJudge over an injected connection.
// Used for testing without a real server.
func NewGRPCJudgeWithConn(cc grpc.ClientConnInterface, model string) *GRPCJudge {
	return &GRPCJudge{cc: cc, model: model}
}

// #endregion constructor

// #region close

// Close shuts down the gRPC connection.
func (g *GRPCJudge) Close() error {
	if g.conn == nil {
		return nil
	}
	return g.conn.Close()
}

// #endregion close

// #region judge

// Judge implements Judge. The service receives the rendered prompt plus the raw
// fields and must answer with {"response": "<judge JSON>"}.
func (g *GRPCJudge) Judge(ctx context.Context, req Request) (string, error) {
	prompt, err := RenderPrompt(req)
	if err != nil {
		return "", err
	}
	model := req.Model
	if model == "" {
		model = g.model
	}

	in, err := structpb.NewStruct(map[string]any{
		"prompt":          req.Prompt,
		"output":          req.Output,
		"ground_truth":    req.GroundTruth,
		"model":           model,
		"rendered_prompt": prompt,
	})
	if err != nil {
		return "", fmt.Errorf("encode judge request: %w", err)
	}

	out := &structpb.Struct{}
	if err := g.cc.Invoke(ctx, JudgeMethod, in, out); err != nil {
		return "", classifyRPC(err)
	}

	field, ok := out.GetFields()["response"]
	if !ok {
		return "", malformed("remote judge reply has no response field")
	}
	if s, ok := field.GetKind().(*structpb.Value_StringValue); ok {
		return s.StringValue, nil
	}
	// Structured reply: re-encode as JSON for the common parser.
	raw, err := field.MarshalJSON()
	if err != nil {
		return "", malformed("remote judge reply: %v", err)
	}
	return string(raw), nil
}

// #endregion judge

// #region classify

func classifyRPC(err error) error {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.NotFound, codes.Unimplemented, codes.FailedPrecondition:
		return permanent("judge rpc", err)
	default:
		return unavailable("judge rpc", err)
	}
}

// #endregion classify
