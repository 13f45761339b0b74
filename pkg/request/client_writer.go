package request

import "net/http"

// ClientWriter wraps a http.ResponseWriter and remembers the status code
// written, so middleware can report it after the handler has run.
type ClientWriter struct {
	http.ResponseWriter

	// status is the status code written to the client.
	status int
}

// NewClientWriter creates a new ClientWriter.
func NewClientWriter(w http.ResponseWriter) *ClientWriter {
	return &ClientWriter{
		ResponseWriter: w,
	}
}

// WriteHeader implements the http.ResponseWriter interface.
func (w *ClientWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// StatusCode returns the status code written to the client. Defaults to 200
// when the handler never called WriteHeader.
func (w *ClientWriter) StatusCode() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}
