package api

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	apperrors "github.com/MrBigodon205/app-de-professor-sub003/internal/errors"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/logging"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// statusFor maps an error code to the HTTP status reported for it.
func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrInvalid, apperrors.ErrValidation, apperrors.ErrUnsupportedTable, apperrors.ErrBackupInvalid:
		return http.StatusBadRequest
	case apperrors.ErrSyncInProgress, apperrors.ErrConstraint:
		return http.StatusConflict
	case apperrors.ErrSyncOffline, apperrors.ErrRemoteUnavailable, apperrors.ErrRemoteTimeout:
		return http.StatusServiceUnavailable
	case apperrors.ErrSyncNotConfigured:
		return http.StatusPreconditionFailed
	case apperrors.ErrRemoteRejected, apperrors.ErrRemoteAuth, apperrors.ErrReconcileFailed:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// errorHandler renders echo, validator and application errors as
// ErrorBody. Unknown errors become a 500 without leaking their text
// unless the server runs in debug mode.
func errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	body := ErrorBody{Code: string(apperrors.ErrInternal), Message: http.StatusText(http.StatusInternalServerError)}

	var httpErr *echo.HTTPError
	var verrs validator.ValidationErrors
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &httpErr):
		code = httpErr.Code
		body.Code = http.StatusText(code)
		if msg, ok := httpErr.Message.(string); ok {
			body.Message = msg
		} else {
			body.Message = http.StatusText(code)
		}
	case errors.As(err, &verrs):
		code = http.StatusBadRequest
		body.Code = string(apperrors.ErrValidation)
		body.Message = "validation failed"
		body.Fields = make(map[string]string, len(verrs))
		for _, fe := range verrs {
			body.Fields[fe.Field()] = fe.Tag()
		}
	case errors.As(err, &appErr):
		code = statusFor(appErr.Code)
		body.Code = string(appErr.Code)
		body.Message = appErr.Message
	}

	if code >= http.StatusInternalServerError {
		logging.ErrorWithCode("request failed", body.Code, err, map[string]interface{}{
			"method": c.Request().Method,
			"path":   c.Path(),
		})
	}
	if c.Echo().Debug {
		body.Message = err.Error()
	}

	if c.Response().Committed {
		return
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, body)
	}
	if err != nil {
		logging.Error("failed to write error response", err)
	}
}
