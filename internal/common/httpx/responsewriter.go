package httpx

import (
	"net/http"
)

// ResponseWriter wraps http.ResponseWriter and records whether a response has
// been written, so panic and error paths can avoid double writes.
type ResponseWriter struct {
	http.ResponseWriter
	wroteHeader bool
	statusCode  int
}

// NewResponseWriter returns a ResponseWriter wrapping w.
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w}
}

// WriteHeader records the status code and forwards to the underlying writer.
func (rw *ResponseWriter) WriteHeader(statusCode int) {
	if rw.wroteHeader {
		return
	}
	rw.wroteHeader = true
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

// Write forwards to the underlying writer, recording an implicit 200.
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.wroteHeader = true
		rw.statusCode = http.StatusOK
	}
	return rw.ResponseWriter.Write(b)
}

// Written reports whether a response header has been written.
func (rw *ResponseWriter) Written() bool {
	return rw.wroteHeader
}

// StatusCode returns the recorded status code, or 0 if nothing was written.
func (rw *ResponseWriter) StatusCode() int {
	return rw.statusCode
}
