package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/mcclellann/carloan/pkg/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carloan",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route template, method and status.",
	}, []string{"route", "method", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "carloan",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route template.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})

	paymentsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carloan",
		Name:      "payments_applied_total",
		Help:      "Payments recorded by classified type.",
	}, []string{"type"})

	loansClosed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "carloan",
		Name:      "loans_closed_total",
		Help:      "Loans closed by a payment reaching the total amount.",
	})

	overdueLoans = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "carloan",
		Name:      "overdue_loans",
		Help:      "Active loans with overdue periods at the last sweep.",
	})
)

// routeTemplate keeps label cardinality bounded by using the mux path
// template instead of the raw URL.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// metricsMiddleware records request counts and latency.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := routeTemplate(r)
		httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

func observePayment(res *ledger.ApplyResult) {
	paymentsApplied.WithLabelValues(string(res.Payment.Type)).Inc()
	if res.Closed {
		loansClosed.Inc()
	}
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
