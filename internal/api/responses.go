package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// SuccessCreated returns a 201 Created response
func SuccessCreated(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusCreated, data)
}

// SuccessOK returns a 200 OK response
func SuccessOK(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, data)
}

// SuccessNoContent returns a 204 No Content response
func SuccessNoContent(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}
