package http

import "github.com/labstack/echo/v4"

// Handler registers its routes. api is the rate-limited /api group; root-level
// routes such as health checks and websockets go on e.
type Handler interface {
	RegisterRoutes(e *echo.Echo, api *echo.Group)
}
