package grpcx

import (
	"context"

	"github.com/ItsMoloy/Android-250/libs/httpx"
	"github.com/google/uuid"
	"google.golang.org/grpc/metadata"
)

// RequestIDMetadataKey is the canonical key used for request id propagation over gRPC metadata.
const RequestIDMetadataKey = "x-request-id"

// requestIDFromIncoming returns the caller's request id or mints one. The id
// is stored with httpx so HTTP and gRPC handlers log it the same way.
func requestIDFromIncoming(ctx context.Context) (context.Context, string) {
	id := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(RequestIDMetadataKey); len(vals) > 0 {
			id = vals[0]
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	return httpx.ContextWithRequestID(ctx, id), id
}
