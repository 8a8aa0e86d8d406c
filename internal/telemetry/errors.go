package telemetry

import (
	"fmt"
	"net/http"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/storacha/poe/pkg/build"
)

// HTTPError is an error that also has an associated HTTP status code
type HTTPError struct {
	err        error
	statusCode int
}

// Error implements the error interface
func (he HTTPError) Error() string {
	return he.err.Error()
}

func (he HTTPError) Unwrap() error {
	return he.err
}

// StatusCode returns the HTTP status code associated with the error
func (he HTTPError) StatusCode() int {
	return he.statusCode
}

// NewHTTPError creates a new HTTPError
func NewHTTPError(err error, statusCode int) HTTPError {
	return HTTPError{err: err, statusCode: statusCode}
}

// ErrorReturningHTTPHandler is a HTTP handler function that returns an error
type ErrorReturningHTTPHandler func(http.ResponseWriter, *http.Request) error

// SetupErrorReporting configures the Sentry SDK for error reporting. Errors
// are only sent once this has been called with a non-empty DSN.
func SetupErrorReporting(dsn, environment string) error {
	if dsn == "" {
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     build.Version,
		Transport:   sentry.NewHTTPSyncTransport(),
	})
	if err != nil {
		return fmt.Errorf("sentry.Init: %w", err)
	}
	return nil
}

// NewErrorReportingHandler wraps an ErrorReturningHTTPHandler with error reporting
func NewErrorReportingHandler(errorReturningHandler ErrorReturningHTTPHandler) http.Handler {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := errorReturningHandler(w, r); err != nil {
			// if the error is an HTTPError, send an appropriate response aside from reporting it
			if e, ok := err.(HTTPError); ok {
				if e.StatusCode() >= http.StatusInternalServerError {
					ReportError(err)
				}
				http.Error(w, e.Error(), e.StatusCode())
				return
			}
			ReportError(err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	})

	sentryHandler := sentryhttp.New(sentryhttp.Options{})
	return sentryHandler.Handle(handler)
}

// ReportError reports an error to Sentry
func ReportError(err error) {
	sentry.CaptureException(err)
}
