package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Eviction reasons used as label values.
const (
	ReasonExpired  = "expired"
	ReasonCorrupt  = "corrupt"
	ReasonConsumed = "consumed"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clibin_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteRetrieved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clibin_paste_retrieved_total",
		Help: "no. of pastes served",
	})
	PasteMissed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clibin_paste_not_found_total",
		Help: "no. of retrievals answered with not found",
	})
	PasteEvicted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clibin_paste_evicted_total",
			Help: "no. of pastes removed, by reason and path",
		},
		[]string{"reason", "path"},
	)
	IDCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clibin_id_collisions_total",
		Help: "no. of generated ids that were already taken",
	})
	JanitorSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clibin_janitor_sweeps_total",
		Help: "no. of janitor sweeps",
	})
	JanitorFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clibin_janitor_record_failures_total",
		Help: "no. of records the janitor could not check or delete",
	})
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clibin_rate_limited_total",
		Help: "no. of requests rejected by the rate limiter",
	})
	HighlightFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clibin_highlight_fallbacks_total",
			Help: "no. of highlight requests served by a fallback",
		},
		[]string{"fallback"},
	)
)
