package api

import (
	"context"
	"testing"

	"github.com/cuemby/paramd/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestIsReadOnlyMethod(t *testing.T) {
	tests := []struct {
		method string
		want   bool
	}{
		{MethodGetParameter, true},
		{MethodGetCommitID, true},
		{MethodListParameters, true},
		{MethodWaitParameter, true},
		{MethodSetParameter, false},
		{"", false},
		{"/paramd.v1.ParamService/", false},
		{"/other.v1.Service/GetParameter", false},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			assert.Equal(t, tt.want, isReadOnlyMethod(tt.method))
		})
	}
}

func TestReadOnlyInterceptor(t *testing.T) {
	interceptor := ReadOnlyInterceptor()
	called := false
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		called = true
		return "ok", nil
	}

	resp, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: MethodGetParameter}, handler)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.True(t, called)

	called = false
	_, err = interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: MethodSetParameter}, handler)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "SetParameter")
	assert.False(t, called)
}

func TestMethodName(t *testing.T) {
	assert.Equal(t, "GetParameter", methodName(MethodGetParameter))
	assert.Equal(t, "bare", methodName("bare"))
	assert.Equal(t, "", methodName(""))
}

func TestMetricsInterceptor(t *testing.T) {
	interceptor := MetricsInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: MethodGetCommitID}

	okBefore := testutil.ToFloat64(metrics.APIRequestsTotal.WithLabelValues("GetCommitId", codes.OK.String()))
	nfBefore := testutil.ToFloat64(metrics.APIRequestsTotal.WithLabelValues("GetCommitId", codes.NotFound.String()))

	_, err := interceptor(context.Background(), nil, info, func(context.Context, interface{}) (interface{}, error) {
		return nil, nil
	})
	require.NoError(t, err)
	_, err = interceptor(context.Background(), nil, info, func(context.Context, interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "missing")
	})
	require.Error(t, err)

	assert.Equal(t, okBefore+1, testutil.ToFloat64(metrics.APIRequestsTotal.WithLabelValues("GetCommitId", codes.OK.String())))
	assert.Equal(t, nfBefore+1, testutil.ToFloat64(metrics.APIRequestsTotal.WithLabelValues("GetCommitId", codes.NotFound.String())))
}
