package grpc

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ekisa-team/beamline/internal/cache"
	"github.com/ekisa-team/beamline/internal/config"
	"github.com/ekisa-team/beamline/internal/envvar"
	"github.com/ekisa-team/beamline/internal/model"
	"github.com/ekisa-team/beamline/internal/predictor/predictortest"
	"github.com/ekisa-team/beamline/internal/service"
)

func newTestConn(t *testing.T) *grpc.ClientConn {
	t.Helper()
	t.Setenv(envvar.BeamlineHome, "")
	t.Setenv(envvar.BeamlineZooPath, "")

	zoo := predictortest.NewZoo(t)
	zoo.AddDefault(t, 1, 2, 3)

	c, err := cache.New(8)
	require.NoError(t, err)
	m := model.NewManager()
	t.Cleanup(func() { _ = m.Close() })

	svc := service.NewXAS(m, c)
	require.NoError(t, svc.Reload(context.Background(), &config.Config{
		Version: "1",
		Storage: config.StorageConfig{HomeDir: t.TempDir(), ZooDir: zoo.Root},
		Models:  map[string]config.ModelConfig{"ti-o": {}},
	}))

	lis := bufconn.Listen(1 << 20)
	srv := NewServer("", svc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func rutileRequest(t *testing.T, modelID string) *structpb.Struct {
	t.Helper()

	req, err := structpb.NewStruct(map[string]any{
		"model_id": modelID,
		"average":  true,
		"structure": map[string]any{
			"lattice": []any{
				[]any{4.594, 0.0, 0.0},
				[]any{0.0, 4.594, 0.0},
				[]any{0.0, 0.0, 2.959},
			},
			"sites": []any{
				map[string]any{"species": "O", "abc": []any{0.305, 0.305, 0.0}},
				map[string]any{"species": "Ti", "abc": []any{0.0, 0.0, 0.0}},
				map[string]any{"species": "O", "abc": []any{0.695, 0.695, 0.0}},
				map[string]any{"species": "O", "abc": []any{0.805, 0.195, 0.5}},
				map[string]any{"species": "Ti", "abc": []any{0.5, 0.5, 0.5}},
				map[string]any{"species": "O", "abc": []any{0.195, 0.805, 0.5}},
			},
		},
	})
	require.NoError(t, err)
	return req
}

func TestPredict(t *testing.T) {
	conn := newTestConn(t)

	var header metadata.MD
	out := new(structpb.Struct)
	err := conn.Invoke(context.Background(), "/"+ServiceName+"/Predict", rutileRequest(t, "ti-o"), out, grpc.Header(&header))
	require.NoError(t, err)
	assert.NotEmpty(t, header.Get(RequestIDHeader))

	resp := out.AsMap()
	assert.Equal(t, "ti-o", resp["model_id"])
	assert.Equal(t, "Ti", resp["absorber"])
	assert.Len(t, resp["energies"], 200)

	sites := resp["sites"].([]any)
	require.Len(t, sites, 2)
	first := sites[0].(map[string]any)
	assert.Equal(t, 1.0, first["index"])
	spectrum := first["spectrum"].(map[string]any)
	assert.Equal(t, []any{1.0, 2.0, 3.0}, spectrum["data"])

	avg := resp["average"].(map[string]any)
	assert.Equal(t, []any{3.0}, avg["shape"])
}

func TestPredict_Errors(t *testing.T) {
	conn := newTestConn(t)
	out := new(structpb.Struct)

	err := conn.Invoke(context.Background(), "/"+ServiceName+"/Predict", rutileRequest(t, "missing"), out)
	assert.Equal(t, codes.NotFound, status.Code(err))

	empty, err := structpb.NewStruct(map[string]any{"model_id": "ti-o"})
	require.NoError(t, err)
	err = conn.Invoke(context.Background(), "/"+ServiceName+"/Predict", empty, out)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	bad, err := structpb.NewStruct(map[string]any{
		"model_id":  "ti-o",
		"structure": map[string]any{"sites": []any{map[string]any{"species": "Ti", "xyz": []any{1.0}}}},
	})
	require.NoError(t, err)
	err = conn.Invoke(context.Background(), "/"+ServiceName+"/Predict", bad, out)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestListModels(t *testing.T) {
	conn := newTestConn(t)

	out := new(structpb.Struct)
	require.NoError(t, conn.Invoke(context.Background(), "/"+ServiceName+"/ListModels", &emptypb.Empty{}, out))

	models := out.AsMap()["models"].([]any)
	require.Len(t, models, 1)
	m := models[0].(map[string]any)
	assert.Equal(t, "ti-o", m["id"])
	assert.Equal(t, "loaded", m["status"])
	assert.Contains(t, m, "loaded_at")
}

func TestHealth(t *testing.T) {
	conn := newTestConn(t)

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
