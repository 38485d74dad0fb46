package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/menta2k/membercard/internal/artifact"
	"github.com/menta2k/membercard/pkg/crop"
	"github.com/menta2k/membercard/pkg/export"
	"github.com/menta2k/membercard/pkg/imageio"
	"github.com/menta2k/membercard/pkg/membership"
	"github.com/menta2k/membercard/pkg/qr"
	"github.com/menta2k/membercard/pkg/types"
)

var (
	errNoImage     = errors.New("api: image is required")
	errBadRequest  = errors.New("api: bad request")
	errUnavailable = errors.New("api: service not configured")
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, artifact.ErrNotFound), errors.Is(err, membership.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errNoImage), errors.Is(err, errBadRequest),
		errors.Is(err, qr.ErrEmptyPayload), errors.Is(err, types.ErrRegionOutOfRange),
		errors.Is(err, imageio.ErrUnsupportedFormat), errors.Is(err, membership.ErrMissingPhone):
		return http.StatusBadRequest
	case errors.Is(err, crop.ErrEmptyRegion), errors.Is(err, crop.ErrNoContext),
		errors.Is(err, crop.ErrNotLoaded), errors.Is(err, export.ErrNotReady),
		errors.Is(err, export.ErrAssetLoad):
		return http.StatusUnprocessableEntity
	case errors.Is(err, membership.ErrService), errors.Is(err, membership.ErrEmptyID):
		return http.StatusBadGateway
	case errors.Is(err, errUnavailable):
		return http.StatusServiceUnavailable
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
}
