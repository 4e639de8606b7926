package wire

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/dWire/lib/util"
	"github.com/rcrowley/go-metrics"
)

// Stats collects the latency statistics of one wire
type Stats struct {
	registry  metrics.Registry
	roundTrip metrics.Timer
	sent      metrics.Meter
	failed    metrics.Counter
	payload   *util.SizeHistogram
}

// StatsSnapshot is a point in time view of the statistics of a wire
type StatsSnapshot struct {
	Sent     int64
	Failed   int64
	Received int64
	Rate1    float64
	Mean     time.Duration
	P50      time.Duration
	P99      time.Duration
	Max      time.Duration

	AvgPayload int // mean request payload in bytes
	P99Payload int // estimated 99th percentile request payload in bytes
}

func newStats() *Stats {
	r := metrics.NewRegistry()
	return &Stats{
		registry:  r,
		roundTrip: metrics.NewRegisteredTimer("wire.roundtrip", r),
		sent:      metrics.NewRegisteredMeter("wire.sent", r),
		failed:    metrics.NewRegisteredCounter("wire.failed", r),
		payload:   util.NewSizeHistogram(),
	}
}

func (s *Stats) snapshot() StatsSnapshot {
	rt := s.roundTrip.Snapshot()
	ps := rt.Percentiles([]float64{0.5, 0.99})
	sent := s.sent.Snapshot()

	return StatsSnapshot{
		Sent:     sent.Count(),
		Failed:   s.failed.Count(),
		Received: rt.Count(),
		Rate1:    sent.Rate1(),
		Mean:     time.Duration(rt.Mean()),
		P50:      time.Duration(ps[0]),
		P99:      time.Duration(ps[1]),
		Max:      time.Duration(rt.Max()),

		AvgPayload: s.payload.Average(),
		P99Payload: s.payload.Percentile(99),
	}
}

// stop detaches the meters from the global ticker
func (s *Stats) stop() {
	s.roundTrip.Stop()
	s.sent.Stop()
}

// String returns a one line summary
func (s StatsSnapshot) String() string {
	return fmt.Sprintf("sent=%d received=%d failed=%d rate1=%.1f/s mean=%s p50=%s p99=%s max=%s payload(avg=%dB p99=%dB)",
		s.Sent, s.Received, s.Failed, s.Rate1, s.Mean, s.P50, s.P99, s.Max, s.AvgPayload, s.P99Payload)
}
