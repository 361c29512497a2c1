package api

import (
	"github.com/labstack/echo/v4"

	"ChartFeed/internal/domain/models"
	domrepo "ChartFeed/internal/domain/repository"
	"ChartFeed/internal/usecase"
	xhttp "ChartFeed/pkg/http"
	xlogger "ChartFeed/pkg/logger"
	"ChartFeed/pkg/util"
)

// CandlesHandler serves aggregated bars over HTTP.
type CandlesHandler struct {
	logger    *xlogger.Logger
	candles   *usecase.CandlesUseCase
	defaultTF domrepo.Timeframe
}

func NewCandlesHandler(logger *xlogger.Logger, candles *usecase.CandlesUseCase, defaultTF domrepo.Timeframe) *CandlesHandler {
	if !domrepo.IsValidTimeframe(defaultTF) {
		defaultTF = domrepo.DefaultTimeframe()
	}
	return &CandlesHandler{logger: logger, candles: candles, defaultTF: defaultTF}
}

func (h *CandlesHandler) RegisterRoutes(_ *echo.Echo, api *echo.Group) {
	api.GET("/candles/:series", h.Candles)
	api.GET("/candles/:series/paginated", h.Paginated)
	api.GET("/timeframes", h.Timeframes)
}

type candlesResponse struct {
	*usecase.GetCandlesResult
	Shape models.Shape `json:"shape"`
	Bars  interface{}  `json:"bars"`
}

func (h *CandlesHandler) Candles(c echo.Context) error {
	req := &models.CandlesRequest{}
	if verr := xhttp.BindAndValidate(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tf, err := domrepo.ParseTimeframe(req.TF, h.defaultTF)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	st, _ := models.ParseSeriesType(req.Type)
	start, end, aerr := parseWindow(req.Start, req.End)
	if aerr != nil {
		return xhttp.AppErrorResponse(c, aerr)
	}

	res, err := h.candles.GetCandles(c.Request().Context(), usecase.GetCandlesParams{
		SeriesID:   req.Series,
		Timeframe:  tf,
		SeriesType: st,
		Start:      start,
		End:        end,
		Limit:      req.Limit,
	})
	if err != nil {
		h.logUsecaseError("candles", req.Series, err)
		return xhttp.AppErrorResponse(c, toAppError(err))
	}

	shape := models.Shape(req.Shape)
	return xhttp.SuccessResponse(c, candlesResponse{
		GetCandlesResult: res,
		Shape:            shape,
		Bars:             models.Project(res.Bars, shape),
	})
}

func (h *CandlesHandler) Paginated(c echo.Context) error {
	req := &models.PaginatedRequest{}
	if verr := xhttp.BindAndValidate(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tf, err := domrepo.ParseTimeframe(req.TF, domrepo.TF1s)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	st, _ := models.ParseSeriesType(req.Type)
	start, end, aerr := parseWindow(req.Start, req.End)
	if aerr != nil {
		return xhttp.AppErrorResponse(c, aerr)
	}
	if start == nil || end == nil {
		return xhttp.AppErrorResponse(c, xhttp.InvalidParametersError("start", "start and end are required"))
	}

	res, err := h.candles.GetPage(c.Request().Context(), usecase.GetPageParams{
		SeriesID:   req.Series,
		Timeframe:  tf,
		SeriesType: st,
		Start:      start,
		End:        end,
		Page:       req.Page,
		PageSize:   req.PageSize,
	})
	if err != nil {
		h.logUsecaseError("paginated", req.Series, err)
		return xhttp.AppErrorResponse(c, toAppError(err))
	}

	return xhttp.PageResponse(c, xhttp.PageDataResponse{
		Rows:     models.Project(res.Bars, models.Shape(req.Shape)),
		Total:    res.Total,
		Page:     res.Page,
		PageSize: res.PageSize,
		HasMore:  res.HasMore,
	})
}

type timeframeInfo struct {
	Name         string `json:"name"`
	Seconds      int64  `json:"seconds"`
	InitialBars  int    `json:"initialBars"`
	Backfillable bool   `json:"backfillable"`
}

func (h *CandlesHandler) Timeframes(c echo.Context) error {
	tfs := domrepo.Timeframes()
	out := make([]timeframeInfo, 0, len(tfs))
	for _, tf := range tfs {
		out = append(out, timeframeInfo{
			Name:         string(tf),
			Seconds:      tf.Seconds(),
			InitialBars:  tf.InitialBars(),
			Backfillable: tf.Backfillable(),
		})
	}
	return xhttp.SuccessResponse(c, out)
}

func (h *CandlesHandler) logUsecaseError(op, series string, err error) {
	if toAppError(err).Status < 500 {
		return
	}
	h.logger.Error("candles."+op+" usecase error", xlogger.String("series", series), xlogger.Error(err))
}

// parseWindow parses optional start/end query values.
func parseWindow(rawStart, rawEnd string) (start, end *int64, aerr *xhttp.AppError) {
	if v, ok, err := util.ParseUnix(rawStart); err != nil {
		return nil, nil, xhttp.InvalidParametersError("start", err.Error())
	} else if ok {
		start = &v
	}
	if v, ok, err := util.ParseUnix(rawEnd); err != nil {
		return nil, nil, xhttp.InvalidParametersError("end", err.Error())
	} else if ok {
		end = &v
	}
	return start, end, nil
}
