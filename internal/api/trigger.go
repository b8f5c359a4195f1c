package api

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/victornm/quizxp/internal/domain"
	"github.com/victornm/quizxp/internal/errors"
)

// TriggerService lets an external scheduler or event source drive the core.
// Payloads are google.protobuf.Struct:
//
//	RunJob             {name, at?}                            -> Empty
//	QuizAttemptCreated {id, userId, score?, difficulty?, quizId?} -> {attemptId, userId, xp, total, duplicate}
const TriggerServiceName = "quizxp.v1.TriggerService"

type TriggerServiceServer interface {
	RunJob(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error)
	QuizAttemptCreated(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func RegisterTriggerServiceServer(s grpc.ServiceRegistrar, srv TriggerServiceServer) {
	s.RegisterService(&triggerServiceDesc, srv)
}

var triggerServiceDesc = grpc.ServiceDesc{
	ServiceName: TriggerServiceName,
	HandlerType: (*TriggerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "RunJob",
			Handler: unaryHandler("RunJob", func(srv TriggerServiceServer, ctx context.Context, req *structpb.Struct) (any, error) {
				return srv.RunJob(ctx, req)
			}),
		},
		{
			MethodName: "QuizAttemptCreated",
			Handler: unaryHandler("QuizAttemptCreated", func(srv TriggerServiceServer, ctx context.Context, req *structpb.Struct) (any, error) {
				return srv.QuizAttemptCreated(ctx, req)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "quizxp/v1/trigger.proto",
}

// methodHandler is the handler signature of grpc.MethodDesc.
type methodHandler = func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error)

func unaryHandler(method string, call func(TriggerServiceServer, context.Context, *structpb.Struct) (any, error)) methodHandler {
	fullMethod := "/" + TriggerServiceName + "/" + method

	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}

		if interceptor == nil {
			return call(srv.(TriggerServiceServer), ctx, in)
		}

		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(TriggerServiceServer), ctx, req.(*structpb.Struct))
		}

		return interceptor(ctx, in, info, handler)
	}
}

func (a *API) RunJob(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	fields := req.GetFields()

	name := fields["name"].GetStringValue()
	if name == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("job name is required"))
	}

	at := a.now()
	if s := fields["at"].GetStringValue(); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid at: %q", s), errors.WithCause(err))
		}
		at = t
	}

	if err := a.jobs.Run(ctx, name, at); err != nil {
		return nil, errors.Convert(err)
	}

	return &emptypb.Empty{}, nil
}

// QuizAttemptCreated awards XP for an attempt created outside this process.
// Redelivery of the same attempt id is a no-op.
func (a *API) QuizAttemptCreated(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()

	at := domain.Attempt{
		ID:         fields["id"].GetStringValue(),
		UserID:     fields["userId"].GetStringValue(),
		QuizID:     fields["quizId"].GetStringValue(),
		Score:      fields["score"].GetNumberValue(),
		Difficulty: domain.Difficulty(fields["difficulty"].GetStringValue()),
	}

	res, err := a.xs.Award(ctx, at)
	if err != nil {
		return nil, errors.Convert(err)
	}

	out, err := structpb.NewStruct(map[string]any{
		"attemptId": res.Award.AttemptID,
		"userId":    res.Award.UserID,
		"xp":        res.Award.XP,
		"total":     res.Award.Total,
		"duplicate": res.Duplicate,
	})
	if err != nil {
		return nil, errors.Internal(err)
	}

	return out, nil
}
