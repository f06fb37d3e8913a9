package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/peytondmurray/conda-store/internal/common/httpx"
	"github.com/peytondmurray/conda-store/internal/condastore/auth"
)

// apiRsp is the response envelope every endpoint returns.
type apiRsp struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func okRsp(data any) *httpx.Response {
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   &apiRsp{Status: "ok", Data: data},
	}
}

func okMsgRsp(message string) *httpx.Response {
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   &apiRsp{Status: "ok", Message: message},
	}
}

func redirectRsp(location string) *httpx.Response {
	return &httpx.Response{
		StatusCode: http.StatusTemporaryRedirect,
		Location:   location,
	}
}

func urlParamInt64(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, httpx.ErrInvalidRequest("invalid " + name + ": " + raw)
	}
	return id, nil
}

// authorizeNamespace checks the required permissions over the namespace.
func authorizeNamespace(r *http.Request, namespace string, required ...auth.Permission) error {
	_, err := auth.Authorize(r.Context(), namespace, required, true)
	if err != nil {
		return err
	}
	return nil
}

// authorizeEnvironment checks the required permissions over
// namespace/environment.
func authorizeEnvironment(r *http.Request, namespace, environment string, required ...auth.Permission) error {
	_, err := auth.Authorize(r.Context(), namespace+"/"+environment, required, true)
	if err != nil {
		return err
	}
	return nil
}
