package monitoring

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	// AttemptEvents 作答生命周期事件：started / resumed / expired / submitted / graded / rejected
	AttemptEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_attempt_events_total",
			Help: "Exam attempt lifecycle events",
		},
		[]string{"event"},
	)

	AttemptScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "exam_attempt_total_score",
			Help:    "Total score of graded attempts",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)

	LockWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "exam_attempt_lock_wait_seconds",
			Help:    "Time spent waiting for the per-student attempt lock",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 3},
		},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RequestCounter)
		prometheus.MustRegister(RequestDuration)
		prometheus.MustRegister(AttemptEvents)
		prometheus.MustRegister(AttemptScore)
		prometheus.MustRegister(LockWait)
	})
}

func RecordAttemptEvent(event string) {
	AttemptEvents.WithLabelValues(event).Inc()
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
