package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/coursework"
)

var (
	errUnauthorized         = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errAuthenticationFailed = echo.NewHTTPError(http.StatusBadRequest, "authentication failed")
	errAccountDeactivated   = echo.NewHTTPError(http.StatusForbidden, "account deactivated")
	errRefreshExpired       = echo.NewHTTPError(http.StatusForbidden, "refresh has expired")
	errHttpForbidden        = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHttpNotFound         = echo.NewHTTPError(http.StatusNotFound, "not found")
)

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		switch origErr := errors.Cause(err).(type) {
		case *echo.HTTPError:
			if origErr == middleware.ErrJWTMissing {
				code = http.StatusUnauthorized
				message = origErr.Message
				break
			}
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			message = origErr.Message
		case validator.ValidationErrors:
			fldErrs := make(map[string]string, len(origErr))
			for _, vErr := range origErr {
				fldErrs[vErr.Field()] = vErr.Translate(translator)
			}
			code = http.StatusBadRequest
			message = fldErrs
		case *core.ValidationError:
			if origErr.Fields != nil {
				fldErrs := make(map[string]string, len(origErr.Fields))
				for _, fErr := range origErr.Fields {
					fldErrs[fErr.Field] = fErr.Error
				}
				message = fldErrs
			} else {
				message = origErr.Error()
			}
			code = http.StatusBadRequest
		case *core.InvalidInputError:
			code = http.StatusBadRequest
			message = map[string]string{origErr.Field: origErr.Reason}
		case *core.NotFoundError:
			code = http.StatusNotFound
			message = errHttpNotFound.Message
		case *core.QueryError:
			if origErr.IndexRequired {
				// retrying will not help until the index exists
				code = http.StatusServiceUnavailable
				message = http.StatusText(code)
				logger.Error("query needs a composite index", err, contextSession(ctx))
				break
			}
			code, message = serverError(logger, err, ctx, signalShutdown)
		default:
			if core.IsPermissionDenied(err) {
				code = http.StatusForbidden
				message = errHttpForbidden.Message
				break
			}
			if errors.Is(err, coursework.ErrSubmissionChanged) {
				code = http.StatusConflict
				message = coursework.ErrSubmissionChanged.Error()
				break
			}
			code, message = serverError(logger, err, ctx, signalShutdown)
		}

		if ctx.Echo().Debug {
			message = err.Error()
		} else if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}

// serverError logs any other error as a server error.
func serverError(logger core.Logger, err error, ctx echo.Context, signalShutdown func()) (int, interface{}) {
	msg := http.StatusText(http.StatusInternalServerError)
	logger.Error(msg, errors.Wrap(err, msg), contextSession(ctx))

	// shutting down...
	if core.IsShutdown(err) && signalShutdown != nil {
		signalShutdown()
	}
	return http.StatusInternalServerError, msg
}

func contextSession(ctx echo.Context) core.Session {
	sess, _ := getContextSession(ctx)
	return sess
}
