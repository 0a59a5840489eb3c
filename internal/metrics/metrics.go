package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_rate_limited_total",
			Help: "Requests rejected by the chat rate limiter.",
		},
		[]string{"bucket"},
	)

	ChatMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Chat messages appended, by sender.",
		},
		[]string{"sender"},
	)

	ChatSessionsStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_sessions_started_total",
			Help: "StartSession outcomes by owner kind and whether a session was reused.",
		},
		[]string{"owner", "reused"},
	)

	AccessDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_access_denied_total",
			Help: "Session access denials by reason.",
		},
		[]string{"reason"},
	)
)

// MustRegister registers every collector on reg.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		RateLimitedTotal,
		ChatMessagesTotal,
		ChatSessionsStartedTotal,
		AccessDeniedTotal,
	)
}
