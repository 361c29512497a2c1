package api

import (
	"context"
	"errors"

	domrepo "ChartFeed/internal/domain/repository"
	xhttp "ChartFeed/pkg/http"
)

// toAppError maps domain sentinels onto stable API codes.
func toAppError(err error) *xhttp.AppError {
	switch {
	case errors.Is(err, domrepo.ErrRangeTooLarge):
		return xhttp.RangeTooLargeError(err.Error()).WithError(err)
	case errors.Is(err, domrepo.ErrInvalidParameters):
		return xhttp.InvalidParametersError("", err.Error()).WithError(err)
	case errors.Is(err, domrepo.ErrUnknownTimeframe):
		return xhttp.InvalidParametersError("tf", err.Error()).WithError(err)
	case errors.Is(err, domrepo.ErrUnknownSeriesType):
		return xhttp.InvalidParametersError("type", err.Error()).WithError(err)
	case errors.Is(err, domrepo.ErrSeriesNotFound):
		return xhttp.NotFoundErrorf("%s", err.Error()).WithError(err)
	case errors.Is(err, domrepo.ErrTransport), errors.Is(err, context.DeadlineExceeded):
		return xhttp.TransportError(err.Error()).WithError(err)
	default:
		return xhttp.InternalError("internal error").WithError(err)
	}
}
