package channel

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

// poolMetrics holds the metric set of one slot pool
type poolMetrics struct {
	set        *metrics.Set
	registered *metrics.Counter
	delivered  *metrics.Counter
	failed     *metrics.Counter
	exhausted  *metrics.Counter
	cancelled  *metrics.Counter
}

// newPoolMetrics creates the metric set of p, every metric carries the pool label
func newPoolMetrics(p *SlotPool, pool string) *poolMetrics {
	s := metrics.NewSet()
	name := func(metric string) string {
		return fmt.Sprintf("%s{pool=%q}", metric, pool)
	}

	s.NewGauge(name("dwire_slots_in_use"), func() float64 {
		return float64(p.InFlight())
	})
	s.NewGauge(name("dwire_slots_capacity"), func() float64 {
		return float64(p.Capacity())
	})
	s.NewGauge(name("dwire_requests_pending"), func() float64 {
		return float64(p.Pending())
	})

	return &poolMetrics{
		set:        s,
		registered: s.NewCounter(name("dwire_requests_registered_total")),
		delivered:  s.NewCounter(name("dwire_responses_delivered_total")),
		failed:     s.NewCounter(name("dwire_requests_failed_total")),
		exhausted:  s.NewCounter(name("dwire_slots_exhausted_total")),
		cancelled:  s.NewCounter(name("dwire_requests_cancelled_total")),
	}
}
