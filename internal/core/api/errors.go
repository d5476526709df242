package api

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/solatis/critidx/internal/core/store"
	"github.com/solatis/critidx/internal/types"
)

// Auth errors are mapped by the auth interceptor. Everything a handler
// returns passes through toStatus.

// toStatus maps engine and store failures onto gRPC codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, types.ErrInvalidRequest),
		errors.Is(err, types.ErrPayloadTooLarge),
		errors.Is(err, types.ErrMalformedCriteria):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	}

	var ie *types.IndexError
	if !errors.As(err, &ie) {
		// Outside the index taxonomy only the store remains.
		return status.Error(codes.Unavailable, err.Error())
	}
	switch ie.Kind {
	case types.KindIndexNotFound:
		return status.Error(codes.NotFound, err.Error())
	case types.KindIndexGroupExists:
		return status.Error(codes.AlreadyExists, err.Error())
	case types.KindIndexGenerationError, types.KindIndexImportError:
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func invalidArgument(format string, args ...any) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}
