// Package monitoring - request_logger.go emits one debug line when a request
// arrives and one when its response is written, both keyed by request_id.
// Uploads additionally get an info line with the admission counts.
package monitoring

import (
	"net/http"
	"time"
)

// RequestLogger writes per-request log lines for the HTTP server.
type RequestLogger struct {
	logger *Logger
}

func NewRequestLogger(logger *Logger) *RequestLogger {
	return &RequestLogger{logger: logger}
}

// RequestInfo is captured before the handler runs.
type RequestInfo struct {
	RequestID  string
	Method     string
	Path       string
	RemoteAddr string
	StartTime  time.Time
}

func NewRequestInfo(r *http.Request, requestID string) *RequestInfo {
	return &RequestInfo{
		RequestID:  requestID,
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
		StartTime:  time.Now(),
	}
}

func (rl *RequestLogger) LogIncoming(info *RequestInfo) {
	rl.logger.Debug().
		Str("request_id", info.RequestID).
		Str("method", info.Method).
		Str("path", info.Path).
		Str("remote", info.RemoteAddr).
		Msg("incoming")
}

type ResponseInfo struct {
	RequestID  string
	StatusCode int
	Latency    time.Duration
}

func (rl *RequestLogger) LogResponse(info *ResponseInfo) {
	rl.logger.Debug().
		Str("request_id", info.RequestID).
		Int("status", info.StatusCode).
		Dur("latency", info.Latency).
		Msg("response")
}

// UploadInfo is the admission result of one multipart upload.
type UploadInfo struct {
	RequestID string
	SessionID string
	Admitted  int
	Rejected  int
	Bytes     int64
}

// LogUpload logs how many files an upload added to a queue.
func (rl *RequestLogger) LogUpload(info *UploadInfo) {
	rl.logger.Info().
		Str("request_id", info.RequestID).
		Str("session", info.SessionID).
		Int("admitted", info.Admitted).
		Int("rejected", info.Rejected).
		Int64("bytes", info.Bytes).
		Msg("upload")
}
