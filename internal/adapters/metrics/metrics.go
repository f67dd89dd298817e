// Package metrics exposes Prometheus collectors for the chat router
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TurnsTotal counts orchestrated inbound messages by outcome
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bewo",
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Inbound messages processed by the orchestrator",
		},
		[]string{"channel", "strategy", "fallback"},
	)

	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bewo",
			Subsystem: "chat",
			Name:      "turn_duration_seconds",
			Help:      "End-to-end orchestrator turn duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 20},
		},
		[]string{"channel", "strategy"},
	)

	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bewo",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Chat completion requests by provider and result",
		},
		[]string{"provider", "result"},
	)

	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bewo",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens reported by providers",
		},
		[]string{"provider", "type"},
	)

	LLMDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bewo",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Chat completion latency in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"provider"},
	)

	LLMCostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bewo",
			Subsystem: "llm",
			Name:      "cost_usd_total",
			Help:      "Estimated chat completion spend in USD",
		},
		[]string{"provider", "model"},
	)

	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bewo",
			Subsystem: "delivery",
			Name:      "total",
			Help:      "Outbound channel deliveries by final status",
		},
		[]string{"channel", "status"},
	)

	DuplicatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bewo",
			Subsystem: "webhook",
			Name:      "duplicates_total",
			Help:      "Redelivered webhook messages that were skipped",
		},
		[]string{"channel"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bewo",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bewo",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"method", "route"},
	)
)

// RecordTurn records one orchestrator turn
func RecordTurn(channel, strategy string, fallback bool, d time.Duration) {
	TurnsTotal.WithLabelValues(channel, strategy, strconv.FormatBool(fallback)).Inc()
	TurnDuration.WithLabelValues(channel, strategy).Observe(d.Seconds())
}

// RecordLLM records one completion attempt; result is "ok" or an error kind
func RecordLLM(provider, result string, promptTokens, completionTokens int, d time.Duration) {
	LLMRequestsTotal.WithLabelValues(provider, result).Inc()
	LLMDuration.WithLabelValues(provider).Observe(d.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(provider, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(provider, "completion").Add(float64(completionTokens))
	}
}

// RecordLLMCost adds the estimated spend of one completion
func RecordLLMCost(provider, model string, usd float64) {
	if usd > 0 {
		LLMCostTotal.WithLabelValues(provider, model).Add(usd)
	}
}

// RecordDelivery records the final status of an outbound send
func RecordDelivery(channel, status string) {
	DeliveriesTotal.WithLabelValues(channel, status).Inc()
}

// RecordDuplicate counts a skipped redelivery
func RecordDuplicate(channel string) {
	DuplicatesTotal.WithLabelValues(channel).Inc()
}

// Handler serves /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working behind the middleware
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Middleware records request count and latency labelled by chi route pattern
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
