package envvar

const (
	// BeamlineEnv is the environment variable used to determine the environment
	BeamlineEnv = "BEAMLINE_ENV"

	// BeamlineHome overrides the per-user storage directory
	BeamlineHome = "BEAMLINE_HOME"

	// BeamlineZooPath points at the packaged model zoo
	BeamlineZooPath = "BEAMLINE_ZOO_PATH"

	// BeamlineServerHTTPPort is the environment variable used to determine the HTTP port
	BeamlineServerHTTPPort = "BEAMLINE_SERVER_HTTP_PORT"

	// BeamlineServerGRPCPort is the environment variable used to determine the gRPC port
	BeamlineServerGRPCPort = "BEAMLINE_SERVER_GRPC_PORT"

	// BeamlineOnnxRuntimeLib is the path to the onnxruntime shared library
	BeamlineOnnxRuntimeLib = "BEAMLINE_ONNXRUNTIME_LIB"
)
