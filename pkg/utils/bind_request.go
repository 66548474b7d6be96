package utils

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/errors"
)

// BindRequest binds the request body into T and validates it
func BindRequest[T any](c echo.Context) (T, error) {
	var v T

	if err := c.Bind(&v); err != nil {
		return v, httperror.WrapError(http.StatusBadRequest, err)
	}

	return Validate(v)
}

// QueryInt reads an integer query parameter, returning def when absent
func QueryInt(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Newf(errors.KindValidation, "query parameter %s must be an integer", name)
	}
	return v, nil
}

// QueryFloat reads an optional float query parameter
func QueryFloat(c echo.Context, name string) (*float64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, errors.Newf(errors.KindValidation, "query parameter %s must be a number", name)
	}
	return &v, nil
}

// QueryBool reads an optional boolean query parameter
func QueryBool(c echo.Context, name string) (bool, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.Newf(errors.KindValidation, "query parameter %s must be a boolean", name)
	}
	return v, nil
}
