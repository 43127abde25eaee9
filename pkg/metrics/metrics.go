package metrics

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telekom/copilot-gateway/pkg/deviceauth"
	"github.com/telekom/copilot-gateway/pkg/stats"
)

var (
	// Upstream call outcomes as recorded by the retry executor.
	UpstreamRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "copilot_upstream_requests_total",
		Help: "Total number of completed upstream calls by outcome",
	}, []string{"outcome", "retried"})
	UpstreamRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "copilot_upstream_retries_total",
		Help: "Total number of HTTP-level retries issued against the upstream API",
	})
	StatsResets = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "copilot_stats_resets_total",
		Help: "Total number of times the request statistics were reset",
	})

	// Device authorization
	DeviceAuthSessions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "copilot_device_auth_sessions_total",
		Help: "Device authorization sessions by terminal state",
	}, []string{"result"})

	// Local proxy
	ProxyRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "copilot_proxy_requests_total",
		Help: "Requests served by the local proxy",
	}, []string{"route", "code"})
	ProxyRateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "copilot_proxy_rate_limited_total",
		Help: "Requests rejected by the proxy rate limiter",
	})
)

func init() {
	prometheus.MustRegister(UpstreamRequests)
	prometheus.MustRegister(UpstreamRetries)
	prometheus.MustRegister(StatsResets)
	prometheus.MustRegister(DeviceAuthSessions)
	prometheus.MustRegister(ProxyRequests)
	prometheus.MustRegister(ProxyRateLimited)
}

// StatsObserver mirrors stats.Counter mutations into the Prometheus
// counters. Restores are not mirrored since they replay persisted history.
func StatsObserver() stats.Observer {
	return stats.ObserverFunc(func(ev stats.Event, retried bool, _ stats.Snapshot) {
		switch ev {
		case stats.EventSuccess:
			UpstreamRequests.WithLabelValues("success", strconv.FormatBool(retried)).Inc()
		case stats.EventFailure:
			UpstreamRequests.WithLabelValues("failure", strconv.FormatBool(retried)).Inc()
		case stats.EventRetry:
			UpstreamRetries.Inc()
		case stats.EventReset:
			StatsResets.Inc()
		}
	})
}

// ObserveDeviceAuth counts sessions reaching a terminal state. It matches
// deviceauth.Config.OnStateChange.
func ObserveDeviceAuth(_, to deviceauth.State) {
	if to.Terminal() {
		DeviceAuthSessions.WithLabelValues(strings.ToLower(to.String())).Inc()
	}
}

// ObserveProxyRequest counts a served proxy request.
func ObserveProxyRequest(route string, code int) {
	if route == "" {
		route = "unmatched"
	}
	ProxyRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
