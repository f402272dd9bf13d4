package middleware

import (
	"net/http"
	"spotify-lyrics-api-go/logcolors"
	"spotify-lyrics-api-go/stats"
	"time"

	log "github.com/sirupsen/logrus"
)

// ResponseRecorder captures the status code and body size written by a handler
type ResponseRecorder struct {
	http.ResponseWriter
	StatusCode  int
	BodySize    int
	wroteHeader bool
}

// NewResponseRecorder wraps w with a 200 default status
func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{ResponseWriter: w, StatusCode: http.StatusOK}
}

func (r *ResponseRecorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.StatusCode = code
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *ResponseRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(b)
	r.BodySize += n
	return n, err
}

// Flush lets streaming handlers (zip downloads) push bytes early
func (r *ResponseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func getStatusColor(code int) string {
	switch {
	case code >= 200 && code < 300:
		return logcolors.Green
	case code >= 300 && code < 400:
		return logcolors.Cyan
	case code >= 400 && code < 500:
		return logcolors.Yellow
	case code >= 500:
		return logcolors.Red
	default:
		return logcolors.Reset
	}
}

// LoggingMiddleware logs each request with a status-coloured line and feeds the stats counters
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := NewResponseRecorder(w)

		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		s := stats.Get()
		s.RecordRequest(r.URL.Path)
		s.RecordStatusCode(rec.StatusCode)
		s.RecordResponseTime(elapsed, r.URL.Path)

		color := getStatusColor(rec.StatusCode)
		log.Infof("%s %s %s %s%d%s %dB %v",
			logcolors.LogHTTP, r.Method, r.URL.Path, color, rec.StatusCode, logcolors.Reset, rec.BodySize, elapsed.Round(time.Microsecond))
	})
}
