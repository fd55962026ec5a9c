package middleware

import (
	"context"
	"net/http"
	"time"
)

type logger interface {
	Info(msg string, args ...any)
}

type logData struct {
	responseStatus int
	responseSize   int
}

type logWriter struct {
	http.ResponseWriter
	data logData
}

func (w *logWriter) Write(p []byte) (int, error) {
	size, err := w.ResponseWriter.Write(p)
	w.data.responseSize += size
	return size, err
}

func (w *logWriter) WriteHeader(statusCode int) {
	w.ResponseWriter.WriteHeader(statusCode)
	w.data.responseStatus = statusCode
}

// Let http.ResponseController reach the real writer
func (w *logWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

type accessLogKey struct{}

// Fields inner handlers add to the access log line
type accessLog struct {
	fields []any
}

// Add key-value pairs to the access log line of the request. No-op outside LoggerMiddleware
func Annotate(ctx context.Context, args ...any) {
	if a, ok := ctx.Value(accessLogKey{}).(*accessLog); ok {
		a.fields = append(a.fields, args...)
	}
}

func LoggerMiddleware(l logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			lw := &logWriter{
				ResponseWriter: w,
				data:           logData{responseStatus: http.StatusOK, responseSize: 0},
			}

			access := &accessLog{}
			next.ServeHTTP(lw, r.WithContext(context.WithValue(r.Context(), accessLogKey{}, access)))

			args := []any{
				"method", r.Method,
				"uri", r.RequestURI,
				"remote", r.RemoteAddr,
				"duration", time.Since(start),
				"status", lw.data.responseStatus,
				"size", lw.data.responseSize,
			}
			l.Info("got HTTP request", append(args, access.fields...)...)
		})

	}
}
