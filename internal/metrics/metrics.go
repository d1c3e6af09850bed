// Package metrics provides Prometheus metrics for the vault server.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vault_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_commands_total",
			Help: "POST commands executed, by command and response status",
		},
		[]string{"command", "status"},
	)

	// Content transfer metrics
	bytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vault_bytes_downloaded_total",
			Help: "Total plaintext bytes served from the vault",
		},
	)

	bytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vault_bytes_uploaded_total",
			Help: "Total plaintext bytes stored in the vault",
		},
	)

	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_uploads_total",
			Help: "Total number of stored uploads",
		},
		[]string{"status"},
	)

	// Crypto metrics
	cryptoOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_folder_crypto_operations_total",
			Help: "Folder encrypt/decrypt operations",
		},
		[]string{"operation", "result"},
	)

	cryptoOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vault_folder_crypto_duration_seconds",
			Help:    "Folder encrypt/decrypt duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	keyVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_key_verifications_total",
			Help: "Sentinel key verifications",
		},
		[]string{"result"},
	)

	// Retention metrics
	retentionRemovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vault_retention_files_removed_total",
			Help: "Files removed by the retention sweep",
		},
	)

	retentionArchivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vault_retention_files_archived_total",
			Help: "Files archived before removal by the retention sweep",
		},
	)

	retentionSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vault_retention_sweep_duration_seconds",
			Help:    "Time spent walking the vault during a retention sweep",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Archive backend metrics
	archiveOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vault_archive_operation_duration_seconds",
			Help:    "Archive backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	archiveOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_archive_operations_total",
			Help: "Total archive backend operations",
		},
		[]string{"backend", "operation", "status"},
	)

	// SSE metrics
	sseSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vault_sse_subscribers",
			Help: "Number of connected event stream subscribers",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_sse_events_total",
			Help: "Events published to subscribers",
		},
		[]string{"type"},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_auth_attempts_total",
			Help: "Authentication attempts",
		},
		[]string{"result"},
	)

	// Quota metrics
	rateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vault_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter",
		},
	)

	storageLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vault_storage_limit_hits_total",
			Help: "Uploads rejected by the per-account storage limit",
		},
	)

	// Chunked upload metrics
	uploadSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vault_upload_sessions_active",
			Help: "Chunked upload sessions currently open",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordCommand records the outcome of a POST command.
func RecordCommand(command string, status int) {
	commandsTotal.WithLabelValues(command, strconv.Itoa(status)).Inc()
}

// RecordDownload records a file fetch.
func RecordDownload(bytes int64) {
	bytesDownloaded.Add(float64(bytes))
}

// RecordUpload records a stored upload.
func RecordUpload(bytes int64, success bool) {
	if success {
		bytesUploaded.Add(float64(bytes))
	}
	uploadsTotal.WithLabelValues(statusLabel(success)).Inc()
}

// RecordCryptoOperation records a folder encrypt or decrypt.
func RecordCryptoOperation(operation string, duration time.Duration, success bool) {
	cryptoOperationsTotal.WithLabelValues(operation, statusLabel(success)).Inc()
	cryptoOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordKeyVerification records a sentinel verification.
func RecordKeyVerification(valid bool) {
	result := "valid"
	if !valid {
		result = "invalid"
	}
	keyVerificationsTotal.WithLabelValues(result).Inc()
}

// RecordRetentionSweep records the outcome of one retention sweep.
func RecordRetentionSweep(removed, archived int, duration time.Duration) {
	retentionRemovedTotal.Add(float64(removed))
	retentionArchivedTotal.Add(float64(archived))
	retentionSweepDuration.Observe(duration.Seconds())
}

// RecordArchiveOperation records an archive backend operation.
func RecordArchiveOperation(backend, operation string, duration time.Duration, success bool) {
	archiveOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	archiveOperationsTotal.WithLabelValues(backend, operation, statusLabel(success)).Inc()
}

// SetSSESubscribers sets the number of connected event subscribers.
func SetSSESubscribers(count int) {
	sseSubscribers.Set(float64(count))
}

// RecordSSEEvent records a published event.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	authAttemptsTotal.WithLabelValues(statusLabel(success)).Inc()
}

// RecordRateLimitHit records a rate-limited request.
func RecordRateLimitHit() {
	rateLimitHits.Inc()
}

// RecordStorageLimitHit records an upload rejected by the storage limit.
func RecordStorageLimitHit() {
	storageLimitHits.Inc()
}

// SetUploadSessions sets the number of open chunked upload sessions.
func SetUploadSessions(count int) {
	uploadSessionsActive.Set(float64(count))
}

// Route collapses a request path into a low-cardinality label.
func Route(path string) string {
	switch {
	case path == "/files" || strings.HasPrefix(path, "/files/"):
		return "/files"
	case path == "/info", path == "/events", path == "/health":
		return path
	default:
		return "static"
	}
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, Route(r.URL.Path), rw.statusCode, time.Since(start))
	})
}
