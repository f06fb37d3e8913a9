// Package httpx provides HTTP request/response handling utilities for the
// conda-store server. Handlers return a *Response or an error; WrapHttpRsp
// turns them into http.HandlerFunc with uniform error serialization.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/peytondmurray/conda-store/internal/common/apperrors"
)

// GetRequestData parses a JSON request body into data. Only POST and PUT
// requests carry bodies in this API.
func GetRequestData(r *http.Request, data any) error {
	if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodDelete {
		return ErrReqMethodNotSupported()
	}
	if r.Body == nil {
		log.Ctx(r.Context()).Error().Msg("empty request body")
		return ErrUnableToParseReqData()
	}
	if err := json.NewDecoder(r.Body).Decode(data); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return ErrRequestTooLarge(maxErr.Limit)
		}
		return ErrUnableToParseReqData()
	}
	return nil
}

// Response represents an HTTP response. Location doubles as a redirect target
// when StatusCode is a 3xx code, and as the Location header for 201 Created.
type Response struct {
	StatusCode  int
	Location    string
	Response    any
	ContentType string
}

// RequestHandler is the handler shape used throughout the server.
type RequestHandler func(r *http.Request) (*Response, error)

// WrapHttpRsp wraps a RequestHandler into an http.HandlerFunc, serializing
// application errors with their status codes.
func WrapHttpRsp(handler RequestHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rsp, err := handler(r)
		if err != nil {
			sendHandlerError(w, err)
			return
		}
		if rsp == nil {
			ErrApplicationError().Send(w)
			return
		}
		if rsp.StatusCode >= http.StatusMultipleChoices && rsp.StatusCode < http.StatusBadRequest {
			http.Redirect(w, r, rsp.Location, rsp.StatusCode)
			return
		}
		if rsp.ContentType == "" {
			rsp.ContentType = "application/json"
		}
		var location []string
		if rsp.Location != "" {
			location = append(location, rsp.Location)
		}
		switch rsp.ContentType {
		case "application/json":
			SendJsonRsp(r.Context(), w, rsp.StatusCode, rsp.Response, location...)
		case "text/plain":
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(rsp.StatusCode)
			if s, ok := rsp.Response.(string); ok {
				w.Write([]byte(s))
			} else if b, ok := rsp.Response.([]byte); ok {
				w.Write(b)
			}
		default:
			ErrApplicationError("unsupported response type").Send(w)
		}
	}
}

func sendHandlerError(w http.ResponseWriter, err error) {
	if httperror, ok := err.(*Error); ok {
		httperror.Send(w)
		return
	}
	if appErr, ok := err.(apperrors.Error); ok {
		statusCode := appErr.StatusCode()
		if statusCode == 0 {
			statusCode = http.StatusInternalServerError
		}
		(&Error{StatusCode: statusCode, Description: appErr.ErrorAll()}).Send(w)
		return
	}
	ErrApplicationError(err.Error()).Send(w)
}
