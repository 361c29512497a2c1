package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"ChartFeed/internal/domain/models"
	"ChartFeed/internal/usecase"
	xhttp "ChartFeed/pkg/http"
	xlogger "ChartFeed/pkg/logger"
)

// SeriesHandler exposes dataset metadata, reloads and the health check.
type SeriesHandler struct {
	logger   *xlogger.Logger
	datasets *usecase.DatasetService
}

func NewSeriesHandler(logger *xlogger.Logger, datasets *usecase.DatasetService) *SeriesHandler {
	return &SeriesHandler{logger: logger, datasets: datasets}
}

func (h *SeriesHandler) RegisterRoutes(e *echo.Echo, api *echo.Group) {
	api.GET("/series", h.List)
	api.GET("/series/:series", h.Meta)
	api.POST("/series/:series/reload", h.Reload)
	e.GET("/healthz", h.Health)
}

func (h *SeriesHandler) List(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.datasets.List())
}

func (h *SeriesHandler) Meta(c echo.Context) error {
	req := &models.SeriesRequest{}
	if verr := xhttp.BindAndValidate(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	info, err := h.datasets.Meta(req.Series)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, info)
}

func (h *SeriesHandler) Reload(c echo.Context) error {
	req := &models.SeriesRequest{}
	if verr := xhttp.BindAndValidate(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	info, err := h.datasets.Reload(c.Request().Context(), req.Series)
	if err != nil {
		h.logger.Error("series.reload failed", xlogger.String("series", req.Series), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, info)
}

// Health reports ok once at least one dataset is loaded.
func (h *SeriesHandler) Health(c echo.Context) error {
	loaded := h.datasets.List()
	status := http.StatusOK
	if len(loaded) == 0 {
		status = http.StatusServiceUnavailable
	}
	return xhttp.DataResponse(c, status, map[string]interface{}{"series": len(loaded)})
}
