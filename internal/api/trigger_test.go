package api_test

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/victornm/quizxp/internal/api"
	"github.com/victornm/quizxp/internal/domain"
	"github.com/victornm/quizxp/internal/store"
	"github.com/victornm/quizxp/internal/telemetry"
)

func dialTrigger(t *testing.T, a *api.API) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(telemetry.GRPCServerInterceptor())
	api.RegisterTriggerServiceServer(srv, a)

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func newStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()

	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func TestTriggerService_RunJob(t *testing.T) {
	const method = "/" + api.TriggerServiceName + "/RunJob"

	tests := map[string]struct {
		req    map[string]any
		assert func(t *testing.T, f fixture, err error)
	}{
		"Publish quiz for a given tick": {
			req: map[string]any{"name": "publish_quiz", "at": "2024-01-03T00:00:00Z"},
			assert: func(t *testing.T, f fixture, err error) {
				require.NoError(t, err)

				d, err := f.store.Get(context.Background(), store.Doc(domain.CollectionWeeklyQuizzes, "2024-W01"))
				require.NoError(t, err)
				assert.Equal(t, "active", d.String("status"))
			},
		},

		"Aggregate now": {
			req: map[string]any{"name": "aggregate_leaderboards"},
			assert: func(t *testing.T, f fixture, err error) {
				require.NoError(t, err)

				d, err := f.store.Get(context.Background(), store.Doc(domain.CollectionLeaderboards, domain.BoardWeekly))
				require.NoError(t, err)
				assert.Equal(t, "2024-W10", d.String("week"))
			},
		},

		"Missing name": {
			req: map[string]any{},
			assert: func(t *testing.T, _ fixture, err error) {
				assert.Equal(t, codes.InvalidArgument, status.Code(err))
			},
		},

		"Unknown job": {
			req: map[string]any{"name": "vacuum"},
			assert: func(t *testing.T, _ fixture, err error) {
				assert.Equal(t, codes.NotFound, status.Code(err))
			},
		},

		"Invalid tick": {
			req: map[string]any{"name": "publish_quiz", "at": "monday"},
			assert: func(t *testing.T, _ fixture, err error) {
				assert.Equal(t, codes.InvalidArgument, status.Code(err))
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			f := makeFixture(t)
			seedQuestions(t, f.store, 5)
			conn := dialTrigger(t, f.api)

			err := conn.Invoke(context.Background(), method, newStruct(t, tc.req), &emptypb.Empty{})
			tc.assert(t, f, err)
		})
	}
}

func TestTriggerService_QuizAttemptCreated(t *testing.T) {
	const method = "/" + api.TriggerServiceName + "/QuizAttemptCreated"

	f := makeFixture(t)
	seedUsers(t, f.store, map[string]int{"u1": 50})
	conn := dialTrigger(t, f.api)

	req := newStruct(t, map[string]any{"id": "a1", "userId": "u1", "score": 0.8, "difficulty": "hard"})

	out := &structpb.Struct{}
	require.NoError(t, conn.Invoke(context.Background(), method, req, out))
	assert.Equal(t, float64(104), out.Fields["xp"].GetNumberValue())
	assert.Equal(t, float64(154), out.Fields["total"].GetNumberValue())
	assert.False(t, out.Fields["duplicate"].GetBoolValue())

	// Redelivery is a no-op.
	out = &structpb.Struct{}
	require.NoError(t, conn.Invoke(context.Background(), method, req, out))
	assert.True(t, out.Fields["duplicate"].GetBoolValue())
	assert.Equal(t, float64(154), out.Fields["total"].GetNumberValue())

	d, err := f.store.Get(context.Background(), store.Doc(domain.CollectionUsers, "u1"))
	require.NoError(t, err)
	assert.Equal(t, int64(154), d.Int("xp"))

	err = conn.Invoke(context.Background(), method, newStruct(t, map[string]any{"score": 1}), &structpb.Struct{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
