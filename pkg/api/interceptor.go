package api

import (
	"context"
	"strings"

	"github.com/cuemby/paramd/pkg/log"
	"github.com/cuemby/paramd/pkg/metrics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// readOnlyMethods may be called on a read-only socket. Anything else,
// including methods of other services, is rejected.
var readOnlyMethods = map[string]bool{
	MethodGetParameter:   true,
	MethodGetCommitID:    true,
	MethodListParameters: true,
	MethodWaitParameter:  true,
}

// ReadOnlyInterceptor rejects every method that can change a parameter
func ReadOnlyInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !isReadOnlyMethod(info.FullMethod) {
			return nil, status.Errorf(codes.PermissionDenied,
				"%s not allowed on a read-only socket", methodName(info.FullMethod))
		}
		return handler(ctx, req)
	}
}

// MetricsInterceptor counts and times every call and logs failures
func MetricsInterceptor() grpc.UnaryServerInterceptor {
	logger := log.WithComponent("api")
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		timer := metrics.NewTimer()
		resp, err := handler(ctx, req)

		method := methodName(info.FullMethod)
		code := status.Code(err)
		metrics.APIRequestsTotal.WithLabelValues(method, code.String()).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, method)

		if err != nil {
			logger.Debug().
				Str("method", method).
				Stringer("code", code).
				Dur("duration", timer.Duration()).
				Err(err).
				Msg("request failed")
		}
		return resp, err
	}
}

// methodName strips the service from a full method name:
// "/paramd.v1.ParamService/GetParameter" -> "GetParameter"
func methodName(fullMethod string) string {
	return fullMethod[strings.LastIndexByte(fullMethod, '/')+1:]
}

func isReadOnlyMethod(fullMethod string) bool {
	return readOnlyMethods[fullMethod]
}
