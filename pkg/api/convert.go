package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cuemby/paramd/pkg/types"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// EntryToStruct converts an entry to its wire form
func EntryToStruct(e types.Entry) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"name":      structpb.NewStringValue(e.Name),
		"value":     structpb.NewStringValue(e.Value),
		"commit_id": structpb.NewNumberValue(float64(e.CommitID)),
	}}
}

// EntryFromStruct converts the wire form back to an entry
func EntryFromStruct(s *structpb.Struct) types.Entry {
	fields := s.GetFields()
	return types.Entry{
		Name:     fields["name"].GetStringValue(),
		Value:    fields["value"].GetStringValue(),
		CommitID: uint32(fields["commit_id"].GetNumberValue()),
	}
}

// ToStatus maps a service error to a gRPC status error
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	var code codes.Code
	switch {
	case errors.Is(err, types.ErrInvalidName), errors.Is(err, types.ErrInvalidValue):
		code = codes.InvalidArgument
	case errors.Is(err, types.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, types.ErrForbidden), errors.Is(err, types.ErrPolicyUnavailable):
		code = codes.PermissionDenied
	case errors.Is(err, types.ErrCapacityExceeded):
		code = codes.ResourceExhausted
	case errors.Is(err, types.ErrReadOnly):
		code = codes.FailedPrecondition
	case errors.Is(err, types.ErrTransientRead):
		code = codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// sentinels recognized in status messages, most specific first
var sentinels = []error{
	types.ErrInvalidName,
	types.ErrInvalidValue,
	types.ErrNotFound,
	types.ErrPolicyUnavailable,
	types.ErrForbidden,
	types.ErrCapacityExceeded,
	types.ErrReadOnly,
	types.ErrTransientRead,
}

// FromStatus maps a gRPC error back to the matching sentinel so callers can
// use errors.Is on either side of the socket
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	msg := st.Message()
	for _, s := range sentinels {
		if strings.Contains(msg, s.Error()) {
			return fmt.Errorf("%s: %w", msg, s)
		}
	}

	var sentinel error
	switch st.Code() {
	case codes.InvalidArgument:
		sentinel = types.ErrInvalidName
	case codes.NotFound:
		sentinel = types.ErrNotFound
	case codes.PermissionDenied:
		sentinel = types.ErrForbidden
	case codes.ResourceExhausted:
		sentinel = types.ErrCapacityExceeded
	case codes.FailedPrecondition:
		sentinel = types.ErrReadOnly
	case codes.Unavailable:
		sentinel = types.ErrTransport
	case codes.DeadlineExceeded:
		sentinel = context.DeadlineExceeded
	case codes.Canceled:
		sentinel = context.Canceled
	default:
		return err
	}
	return fmt.Errorf("%s: %w", msg, sentinel)
}
