package http

import (
	"context"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/ekisa-team/beamline/internal/metrics"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestID reuses the caller's X-Request-ID or generates a UUID, stores it
// in the context and echoes it in the response.
func RequestID(ctx huma.Context, next func(huma.Context)) {
	id := ctx.Header(RequestIDHeader)
	if id == "" {
		id = uuid.New().String()
	}

	ctx.SetHeader(RequestIDHeader, id)
	next(huma.WithValue(ctx, requestIDKey{}, id))
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// Metrics records the latency of every operation.
func Metrics(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	next(ctx)

	op := "unknown"
	if o := ctx.Operation(); o != nil {
		op = o.OperationID
	}
	metrics.RecordHTTPLatency(op, strconv.Itoa(ctx.Status()), time.Since(start).Seconds())
}
