// Package telemetry provides the bot's Prometheus metrics.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	RelayedMessages *prometheus.CounterVec // label: direction (to_staff, to_user)
	RelayFailures   prometheus.Counter
	FloodDeletions  prometheus.Counter
	RaidActivations prometheus.Counter
	QuotesPosted    prometheus.Counter
	TimerCallbacks  prometheus.Counter
	ContactTimeouts prometheus.Counter

	// Histograms (seconds)
	RelayDuration prometheus.Observer

	// Gauges
	ActiveContactSessions prometheus.Gauge
	PendingContactOffers  prometheus.Gauge
	ScheduledMutes        prometheus.Gauge
	RaidModeGauge         prometheus.Gauge // 1=active,0=inactive
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		RelayedMessages = promauto.NewCounterVec(prometheus.CounterOpts{Name: "aaravos_contact_relayed_messages_total", Help: "Messages relayed between users and staff"}, []string{"direction"})
		RelayFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "aaravos_contact_relay_failures_total", Help: "Relay sends that failed"})
		FloodDeletions = promauto.NewCounter(prometheus.CounterOpts{Name: "aaravos_flood_deleted_messages_total", Help: "Messages deleted by the flood guard"})
		RaidActivations = promauto.NewCounter(prometheus.CounterOpts{Name: "aaravos_raid_activations_total", Help: "Times raid mode was switched on"})
		QuotesPosted = promauto.NewCounter(prometheus.CounterOpts{Name: "aaravos_quotes_posted_total", Help: "Messages quoted to the storybook"})
		TimerCallbacks = promauto.NewCounter(prometheus.CounterOpts{Name: "aaravos_unmute_timers_fired_total", Help: "Unmute timers that fired"})
		ContactTimeouts = promauto.NewCounter(prometheus.CounterOpts{Name: "aaravos_contact_offer_timeouts_total", Help: "Contact offers that expired unconfirmed"})
		RelayDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "aaravos_contact_relay_duration_seconds", Help: "Time to forward one relayed message", Buckets: prometheus.DefBuckets})
		ActiveContactSessions = promauto.NewGauge(prometheus.GaugeOpts{Name: "aaravos_contact_sessions_active", Help: "Contact sessions with a staff channel"})
		PendingContactOffers = promauto.NewGauge(prometheus.GaugeOpts{Name: "aaravos_contact_offers_pending", Help: "Contact offers awaiting confirmation"})
		ScheduledMutes = promauto.NewGauge(prometheus.GaugeOpts{Name: "aaravos_mutes_scheduled", Help: "Mutes with a pending unmute timer"})
		RaidModeGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "aaravos_raid_mode", Help: "Raid mode active=1 inactive=0"})
	})
}

// RecordRelay counts one relayed message in the given direction.
func RecordRelay(direction string) {
	if RelayedMessages != nil {
		RelayedMessages.WithLabelValues(direction).Inc()
	}
}

// Inc increments c if metrics are initialized.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// Add adds n to c if metrics are initialized.
func Add(c prometheus.Counter, n int) {
	if c != nil {
		c.Add(float64(n))
	}
}

// SetGauge records n on g if metrics are initialized.
func SetGauge(g prometheus.Gauge, n int) {
	if g != nil {
		g.Set(float64(n))
	}
}

// UpdateRaidGauge sets the raid gauge to 1 if active else 0.
func UpdateRaidGauge(active bool) {
	if RaidModeGauge == nil {
		return
	}
	if active {
		RaidModeGauge.Set(1)
	} else {
		RaidModeGauge.Set(0)
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}
