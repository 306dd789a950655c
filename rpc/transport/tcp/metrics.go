package tcp

import (
	"fmt"
	"github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
	"io"
)

// --------------------------------------------------------------------------
// Prometheus metrics per server / client pool
// --------------------------------------------------------------------------

// transportMetrics groups the exported metrics of one server or client pool.
// A nil *transportMetrics is valid and records nothing.
type transportMetrics struct {
	set *metrics.Set

	accepted     *metrics.Counter
	acceptErrors *metrics.Counter
	opened       *metrics.Counter
	released     *metrics.Counter
	brokenLinks  *metrics.Counter
	framingErrs  *metrics.Counter
	messages     *metrics.Counter
	bytes        *metrics.Counter
	sizes        *metrics.Histogram
}

// newTransportMetrics creates the metric set for a server or client pool.
// open is sampled on every scrape for the number of live connections.
func newTransportMetrics(kind, label string, open func() int) *transportMetrics {
	set := metrics.NewSet()
	name := func(metric string) string {
		return fmt.Sprintf(`dtcp_%s_%s{label=%q}`, kind, metric, label)
	}

	m := &transportMetrics{
		set:          set,
		accepted:     set.NewCounter(name("connections_accepted_total")),
		acceptErrors: set.NewCounter(name("accept_errors_total")),
		opened:       set.NewCounter(name("connections_opened_total")),
		released:     set.NewCounter(name("connections_released_total")),
		brokenLinks:  set.NewCounter(name("broken_links_total")),
		framingErrs:  set.NewCounter(name("framing_errors_total")),
		messages:     set.NewCounter(name("messages_received_total")),
		bytes:        set.NewCounter(name("bytes_received_total")),
		sizes:        set.NewHistogram(name("message_size_bytes")),
	}
	set.NewGauge(name("connections_open"), func() float64 {
		return float64(open())
	})
	return m
}

func (m *transportMetrics) connectionAccepted() {
	if m != nil {
		m.accepted.Inc()
	}
}

func (m *transportMetrics) acceptFailed() {
	if m != nil {
		m.acceptErrors.Inc()
	}
}

func (m *transportMetrics) connectionOpened() {
	if m != nil {
		m.opened.Inc()
	}
}

func (m *transportMetrics) connectionReleased() {
	if m != nil {
		m.released.Inc()
	}
}

func (m *transportMetrics) brokenLink() {
	if m != nil {
		m.brokenLinks.Inc()
	}
}

func (m *transportMetrics) framingError() {
	if m != nil {
		m.framingErrs.Inc()
	}
}

func (m *transportMetrics) messageReceived(size int) {
	if m != nil {
		m.messages.Inc()
		m.bytes.Add(size)
		m.sizes.Update(float64(size))
	}
}

func (m *transportMetrics) writePrometheus(w io.Writer) {
	if m != nil {
		m.set.WritePrometheus(w)
	}
}

// --------------------------------------------------------------------------
// In-process statistics per worker
// --------------------------------------------------------------------------

// WorkerStats is a point-in-time snapshot of one I/O worker
type WorkerStats struct {
	ID              int
	State           string
	Connections     int
	Messages        int64
	BrokenLinks     int64
	FramingErrors   int64
	MeanMessageSize float64
	MaxMessageSize  int64
}

func (s WorkerStats) String() string {
	return fmt.Sprintf("worker:%d state:%s conns:%d msgs:%d broken:%d framing-errors:%d size(mean/max):%.0f/%d",
		s.ID, s.State, s.Connections, s.Messages, s.BrokenLinks, s.FramingErrors, s.MeanMessageSize, s.MaxMessageSize)
}

// workerStats records per-worker counters in a private go-metrics registry
type workerStats struct {
	registry      gometrics.Registry
	messages      gometrics.Counter
	brokenLinks   gometrics.Counter
	framingErrors gometrics.Counter
	sizes         gometrics.Histogram
}

func newWorkerStats() *workerStats {
	r := gometrics.NewRegistry()
	s := &workerStats{
		registry:      r,
		messages:      gometrics.NewCounter(),
		brokenLinks:   gometrics.NewCounter(),
		framingErrors: gometrics.NewCounter(),
		sizes:         gometrics.NewHistogram(gometrics.NewUniformSample(1028)),
	}
	_ = r.Register("messages", s.messages)
	_ = r.Register("broken_links", s.brokenLinks)
	_ = r.Register("framing_errors", s.framingErrors)
	_ = r.Register("message_size", s.sizes)
	return s
}

func (s *workerStats) snapshot(id int, state string, conns int) WorkerStats {
	return WorkerStats{
		ID:              id,
		State:           state,
		Connections:     conns,
		Messages:        s.messages.Count(),
		BrokenLinks:     s.brokenLinks.Count(),
		FramingErrors:   s.framingErrors.Count(),
		MeanMessageSize: s.sizes.Mean(),
		MaxMessageSize:  s.sizes.Max(),
	}
}

// write dumps the worker's go-metrics registry in the go-metrics text format
func (s *workerStats) write(w io.Writer) {
	gometrics.WriteOnce(s.registry, w)
}
