package metrics

import (
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const namespace = "docsync"

// Gauges is a point-in-time view of the registry, supplied at scrape time.
type Gauges struct {
	Rooms       int
	Connections int
	Members     int
	Cursors     int
}

// Collector accumulates counters. All methods are safe on a nil *Collector so
// components can run without metrics wired.
type Collector struct {
	mu         sync.Mutex
	framesIn   map[string]uint64
	errorsSent map[string]uint64
	delivered  uint64
	skipped    uint64
	relayed    uint64

	gauges func() Gauges
}

// New returns an empty Collector.
func New() *Collector {
	return &Collector{
		framesIn:   make(map[string]uint64),
		errorsSent: make(map[string]uint64),
	}
}

// SetGauges installs the callback used to read gauges at scrape time.
func (c *Collector) SetGauges(fn func() Gauges) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.gauges = fn
	c.mu.Unlock()
}

// FrameIn counts one inbound frame of the given type.
func (c *Collector) FrameIn(typ string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.framesIn[typ]++
	c.mu.Unlock()
}

// ErrorSent counts one error frame sent to a client, labelled by message.
func (c *Collector) ErrorSent(msg string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.errorsSent[msg]++
	c.mu.Unlock()
}

// Broadcast records the outcome of one fan-out.
func (c *Collector) Broadcast(delivered, skipped int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.delivered += uint64(delivered)
	c.skipped += uint64(skipped)
	c.mu.Unlock()
}

// Relayed counts one frame received from another node.
func (c *Collector) Relayed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.relayed++
	c.mu.Unlock()
}

// Families returns the current non-empty metric families sorted by name.
func (c *Collector) Families() []*dto.MetricFamily {
	c.mu.Lock()
	framesIn := copyMap(c.framesIn)
	errorsSent := copyMap(c.errorsSent)
	delivered, skipped, relayed := c.delivered, c.skipped, c.relayed
	gaugeFn := c.gauges
	c.mu.Unlock()

	var g Gauges
	if gaugeFn != nil {
		g = gaugeFn()
	}

	fams := []*dto.MetricFamily{
		labelledCounter("frames_received_total", "Inbound frames by type.", "type", framesIn),
		labelledCounter("errors_sent_total", "Error frames sent to clients by message.", "message", errorsSent),
		counter("broadcast_delivered_total", "Frames queued to room members.", float64(delivered)),
		counter("broadcast_skipped_total", "Frames skipped for closed or saturated members.", float64(skipped)),
		counter("relay_received_total", "Frames received from other nodes.", float64(relayed)),
		gauge("rooms", "Rooms with at least one member.", float64(g.Rooms)),
		gauge("connections", "Open WebSocket connections.", float64(g.Connections)),
		gauge("room_members", "Members across all rooms.", float64(g.Members)),
		gauge("cursors", "Live cursors across all rooms.", float64(g.Cursors)),
	}
	// Labelled counters have no samples until first use, and the text
	// encoder rejects empty families.
	out := fams[:0]
	for _, mf := range fams {
		if len(mf.Metric) > 0 {
			out = append(out, mf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GetName() < out[j].GetName() })
	return out
}

// WriteText writes all families in the text exposition format.
func (c *Collector) WriteText(w io.Writer) error {
	for _, mf := range c.Families() {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// ServeHTTP serves the text exposition.
func (c *Collector) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	if err := c.WriteText(w); err != nil {
		slog.Warn("metrics: write failed", "err", err)
	}
}

// --- dto builders -----------------------------------------------------------

func counter(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   strPtr(namespace + "_" + name),
		Help:   strPtr(help),
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{Counter: &dto.Counter{Value: &v}}},
	}
}

func gauge(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   strPtr(namespace + "_" + name),
		Help:   strPtr(help),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: &v}}},
	}
}

func labelledCounter(name, help, label string, values map[string]uint64) *dto.MetricFamily {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mf := &dto.MetricFamily{
		Name: strPtr(namespace + "_" + name),
		Help: strPtr(help),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	for _, k := range keys {
		v := float64(values[k])
		mf.Metric = append(mf.Metric, &dto.Metric{
			Label:   []*dto.LabelPair{{Name: strPtr(label), Value: strPtr(k)}},
			Counter: &dto.Counter{Value: &v},
		})
	}
	return mf
}

func copyMap(m map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func strPtr(s string) *string { return &s }
