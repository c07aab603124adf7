package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OffersSent     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "partner_dispatch", Name: "offers_sent_total", Help: "Offers pushed to partners"})
	OffersAccepted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "partner_dispatch", Name: "offers_accepted_total", Help: "Offers accepted before expiry"})
	OffersRejected = promauto.NewCounter(prometheus.CounterOpts{Namespace: "partner_dispatch", Name: "offers_rejected_total", Help: "Offers explicitly rejected"})
	OffersExpired  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "partner_dispatch", Name: "offers_expired_total", Help: "Offers that timed out"})

	DispatchExhausted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "partner_dispatch", Name: "dispatch_exhausted_total", Help: "Dispatch attempts that ran out of candidates"})
	DriversAvailable  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "partner_dispatch", Name: "drivers_available", Help: "Partners currently in the availability pool"})
	EvictionsTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "partner_dispatch", Name: "evictions_total", Help: "Partners auto-offlined by the heartbeat sweep"})
	CodesVerified     = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "partner_dispatch", Name: "codes_verified_total", Help: "Verification outcomes by phase"}, []string{"phase"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "partner_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "partner_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
