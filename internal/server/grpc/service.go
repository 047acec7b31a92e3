package grpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ekisa-team/beamline/internal/mapsafe"
	"github.com/ekisa-team/beamline/internal/model"
	"github.com/ekisa-team/beamline/internal/predictor"
	"github.com/ekisa-team/beamline/internal/service"
	"github.com/ekisa-team/beamline/internal/structure"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "beamline.v1.Predictor"

// PredictorServer is the server API for the beamline.v1.Predictor service.
// Messages are google.protobuf.Struct documents shaped like the HTTP API
// bodies.
type PredictorServer interface {
	Predict(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListModels(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// RegisterPredictorServer registers srv on s.
func RegisterPredictorServer(s grpc.ServiceRegistrar, srv PredictorServer) {
	s.RegisterService(&predictorServiceDesc, srv)
}

var predictorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PredictorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Predict", Handler: predictHandler},
		{MethodName: "ListModels", Handler: listModelsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "beamline/v1/predictor.proto",
}

func predictHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PredictorServer).Predict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + ServiceName + "/Predict",
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PredictorServer).Predict(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func listModelsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PredictorServer).ListModels(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + ServiceName + "/ListModels",
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PredictorServer).ListModels(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// XASServer implements PredictorServer on top of the XAS service.
type XASServer struct {
	service *service.XAS
}

// NewXASServer creates a new XASServer instance.
func NewXASServer(svc *service.XAS) *XASServer {
	return &XASServer{service: svc}
}

// Predict decodes the request document, runs the prediction and encodes
// the site-resolved result.
func (s *XASServer) Predict(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := in.AsMap()

	sm, ok := mapsafe.Lookup[map[string]any](req, "structure")
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "missing structure")
	}
	st, err := decodeStructure(sm)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	resp, err := s.service.Predict(ctx, &service.PredictRequest{
		ModelID:   mapsafe.Get(req, "model_id", ""),
		Theory:    mapsafe.Get(req, "theory", ""),
		Absorber:  mapsafe.Get(req, "absorber", ""),
		Version:   mapsafe.Get(req, "version", ""),
		Average:   mapsafe.Get(req, "average", false),
		Structure: st,
	})
	if err != nil {
		return nil, toStatus(err)
	}

	sites := make([]any, 0, len(resp.Sites))
	for _, idx := range resp.Sites.Indexes() {
		sites = append(sites, map[string]any{
			"index":    idx,
			"spectrum": encodeArray(resp.Sites[idx]),
		})
	}

	out := map[string]any{
		"model_id": resp.ModelID,
		"absorber": resp.Absorber,
		"energies": floats(resp.Energies),
		"sites":    sites,
		"cached":   resp.Cached,
	}
	if resp.Average != nil {
		out["average"] = encodeArray(*resp.Average)
	}

	return newStruct(out)
}

// ListModels describes every configured model.
func (s *XASServer) ListModels(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	infos := s.service.Models()

	models := make([]any, 0, len(infos))
	for _, info := range infos {
		m := map[string]any{
			"id":        info.ID,
			"name":      info.Name,
			"theory":    info.Selector.Theory,
			"xas_type":  info.Selector.XASType,
			"version":   info.Selector.Version,
			"directory": info.Selector.Directory,
			"absorber":  info.Absorber,
			"status":    string(info.Status),
			"permalink": info.Permalink,
		}
		if info.LoadedAt != nil {
			m["loaded_at"] = info.LoadedAt.Format(time.RFC3339)
		}
		if info.Error != "" {
			m["error"] = info.Error
		}
		models = append(models, m)
	}

	return newStruct(map[string]any{"models": models})
}

func decodeStructure(m map[string]any) (*structure.Structure, error) {
	s := &structure.Structure{}

	if rows, ok := mapsafe.Lookup[[]any](m, "lattice"); ok {
		if len(rows) != 3 {
			return nil, fmt.Errorf("lattice needs 3 vectors, got %d", len(rows))
		}
		var lattice structure.Lattice
		for i, row := range rows {
			vec, ok := toVector(row)
			if !ok {
				return nil, fmt.Errorf("lattice vector %d must hold 3 numbers", i)
			}
			lattice[i] = vec
		}
		s.Lattice = &lattice
	}

	sites, ok := mapsafe.Lookup[[]any](m, "sites")
	if !ok || len(sites) == 0 {
		return nil, errors.New("structure has no sites")
	}
	for i, raw := range sites {
		site, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("site %d is not an object", i)
		}

		out := structure.Site{Species: mapsafe.Get(site, "species", "")}
		if v, ok := mapsafe.Lookup[[]any](site, "xyz"); ok {
			if out.XYZ, ok = toVector(v); !ok {
				return nil, fmt.Errorf("site %d: xyz must hold 3 numbers", i)
			}
		}
		if v, ok := mapsafe.Lookup[[]any](site, "abc"); ok {
			abc, ok := toVector(v)
			if !ok {
				return nil, fmt.Errorf("site %d: abc must hold 3 numbers", i)
			}
			out.ABC = &abc
		}
		s.Sites = append(s.Sites, out)
	}

	return s, nil
}

func toVector(v any) ([3]float64, bool) {
	var vec [3]float64

	xs, ok := mapsafe.Floats(map[string]any{"v": v}, "v")
	if !ok || len(xs) != 3 {
		return vec, false
	}
	copy(vec[:], xs)
	return vec, true
}

func encodeArray(a predictor.Array) map[string]any {
	shape := make([]any, len(a.Shape))
	for i, d := range a.Shape {
		shape[i] = d
	}
	return map[string]any{
		"shape": shape,
		"data":  floats(a.Data),
	}
}

// floats converts for structpb, which does not accept []float64.
func floats(xs []float64) []any {
	out := make([]any, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return s, nil
}

// toStatus maps sentinel errors to gRPC status codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, model.ErrNotFound), errors.Is(err, predictor.ErrGridNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, model.ErrNotReady):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, service.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// Ensure XASServer implements PredictorServer at compile time
var _ PredictorServer = (*XASServer)(nil)
