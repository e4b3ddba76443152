package engine

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"mascotas.dev/petwatch/internal/feed"
	"mascotas.dev/petwatch/pkg/metrics"
)

var _ = Describe("holdOffFor", func() {
	const interval = 15 * time.Second

	It("should start at the poll interval when the threshold is reached", func() {
		Expect(holdOffFor(interval, 5, 5)).To(Equal(interval))
	})

	It("should double for each failure past the threshold", func() {
		Expect(holdOffFor(interval, 6, 5)).To(Equal(30 * time.Second))
		Expect(holdOffFor(interval, 7, 5)).To(Equal(time.Minute))
	})

	It("should cap at the maximum hold-off", func() {
		Expect(holdOffFor(interval, 8, 5)).To(Equal(maxHoldOff))
		Expect(holdOffFor(interval, 9, 5)).To(Equal(maxHoldOff))
	})

	It("should stay at the cap through a sustained outage", func() {
		// Exponents this large overflowed a shifted duration to a negative
		// value, which disabled the hold-off entirely.
		for _, failures := range []int{35, 65, 100, 1000} {
			holdOff := holdOffFor(interval, failures, 5)
			Expect(holdOff).To(Equal(maxHoldOff))
			Expect(holdOff).To(BeNumerically(">", 0))
		}
	})

	It("should cap an interval that already exceeds the maximum", func() {
		Expect(holdOffFor(5*time.Minute, 5, 5)).To(Equal(maxHoldOff))
	})
})

var _ = Describe("recordFailure", func() {
	It("should count malformed payloads separately from feed errors", func() {
		ticks := prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "test_ticks_total"},
			[]string{"outcome"},
		)
		m := &metrics.EngineMetrics{
			TicksTotal:          ticks,
			ConsecutiveFailures: prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_consecutive_failures"}),
		}

		s := &Scheduler{
			logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
			cfg: &Config{
				Metrics:          m,
				Interval:         DefaultInterval,
				FailureThreshold: DefaultFailureThreshold,
			},
			st: newEngineState(nil),
		}

		s.recordFailure(fmt.Errorf("%w: not json", feed.ErrMalformedPayload))
		s.recordFailure(fmt.Errorf("%w: status 502", feed.ErrUnavailable))

		Expect(testutil.ToFloat64(ticks.WithLabelValues("malformed_payload"))).To(Equal(1.0))
		Expect(testutil.ToFloat64(ticks.WithLabelValues("feed_error"))).To(Equal(1.0))
	})
})
