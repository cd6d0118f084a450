package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Correlation headers. Both are echoed on the response.
const (
	RequestIDHeader = "X-Request-ID"
	TraceIDHeader   = "X-Trace-ID"
)

// maxCorrelationID bounds caller-supplied IDs before they reach the logs.
const maxCorrelationID = 128

type requestInfoKey struct{}

// requestInfo is shared by the middleware chain for one request. Inner
// middleware fills it in and the access log reads it after the handler
// returns, all on the request goroutine.
type requestInfo struct {
	id        string
	traceID   string
	keyID     string
	recovered bool
}

func infoFrom(ctx context.Context) *requestInfo {
	info, _ := ctx.Value(requestInfoKey{}).(*requestInfo)
	return info
}

// cleanCorrelationID returns v when it is short printable ASCII, else "".
func cleanCorrelationID(v string) string {
	if v == "" || len(v) > maxCorrelationID {
		return ""
	}
	for i := 0; i < len(v); i++ {
		if v[i] < 0x21 || v[i] > 0x7e {
			return ""
		}
	}
	return v
}

// RequestID assigns each request an ID, reusing a well-formed X-Request-ID
// from the caller, and carries X-Trace-ID through when present.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := &requestInfo{
			id:      cleanCorrelationID(r.Header.Get(RequestIDHeader)),
			traceID: cleanCorrelationID(r.Header.Get(TraceIDHeader)),
		}
		if info.id == "" {
			info.id = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, info.id)
		if info.traceID != "" {
			w.Header().Set(TraceIDHeader, info.traceID)
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info)))
	})
}

// GetRequestID returns the request ID, or "" outside RequestID.
func GetRequestID(ctx context.Context) string {
	if info := infoFrom(ctx); info != nil {
		return info.id
	}
	return ""
}

// GetTraceID returns the caller's trace ID, if any.
func GetTraceID(ctx context.Context) string {
	if info := infoFrom(ctx); info != nil {
		return info.traceID
	}
	return ""
}

func setRequestKeyID(ctx context.Context, keyID string) {
	if info := infoFrom(ctx); info != nil {
		info.keyID = keyID
	}
}

func markRecovered(ctx context.Context) {
	if info := infoFrom(ctx); info != nil {
		info.recovered = true
	}
}
