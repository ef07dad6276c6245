package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/tcp-relay/internal/hub"
	"github.com/rickgao/tcp-relay/internal/relay"
	"github.com/rickgao/tcp-relay/internal/sink"
)

const namespace = "tcp_relay"

// Sources supplies the snapshots a Collector exports. Nil sources are
// skipped.
type Sources struct {
	Relay    func() relay.Stats
	Dispatch func() sink.DispatcherStats
	Hub      func() hub.Stats
}

// Collector is a prometheus.Collector over component statistics.
type Collector struct {
	src Sources

	accepted     *prometheus.Desc
	rejected     *prometheus.Desc
	connected    *prometheus.Desc
	messages     *prometheus.Desc
	commands     *prometheus.Desc
	faults       *prometheus.Desc
	deliveries   *prometheus.Desc
	acceptErrors *prometheus.Desc

	sinkEvents  *prometheus.Desc
	sinkQueue   *prometheus.Desc
	sinkDropped *prometheus.Desc
	sinkPanics  *prometheus.Desc

	hubSubscribers *prometheus.Desc
	hubBroadcasts  *prometheus.Desc
	hubRequests    *prometheus.Desc
	hubWriteErrors *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a Collector reading from src.
func NewCollector(src Sources) *Collector {
	desc := func(subsystem, name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
	}

	return &Collector{
		src: src,

		accepted:     desc("", "connections_accepted_total", "TCP connections accepted."),
		rejected:     desc("", "connections_rejected_total", "TCP connections refused as duplicate identities."),
		connected:    desc("", "connections", "TCP peers currently registered."),
		messages:     desc("", "messages_received_total", "Messages received from TCP peers."),
		commands:     desc("", "commands_total", "Command messages answered."),
		faults:       desc("", "connection_faults_total", "Connections torn down by an I/O or framing fault."),
		deliveries:   desc("", "deliveries_total", "Operator sends to TCP peers by result.", "result"),
		acceptErrors: desc("", "accept_errors_total", "Listener accept failures."),

		sinkEvents:  desc("sink", "events_total", "Events delivered to sinks by kind.", "kind"),
		sinkQueue:   desc("sink", "queue_depth", "Events waiting for delivery."),
		sinkDropped: desc("sink", "dropped_total", "Events published after the dispatcher stopped."),
		sinkPanics:  desc("sink", "panics_total", "Sink panics recovered."),

		hubSubscribers: desc("hub", "subscribers", "Connected dashboard WebSocket clients."),
		hubBroadcasts:  desc("hub", "broadcasts_total", "Events pushed to dashboard clients."),
		hubRequests:    desc("hub", "requests_total", "Requests received from dashboard clients."),
		hubWriteErrors: desc("hub", "write_errors_total", "Failed writes to dashboard clients."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.accepted, c.rejected, c.connected, c.messages, c.commands, c.faults, c.deliveries, c.acceptErrors,
		c.sinkEvents, c.sinkQueue, c.sinkDropped, c.sinkPanics,
		c.hubSubscribers, c.hubBroadcasts, c.hubRequests, c.hubWriteErrors,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counter := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v int) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v))
	}

	if c.src.Relay != nil {
		s := c.src.Relay()
		counter(c.accepted, s.Accepted)
		counter(c.rejected, s.Rejected)
		gauge(c.connected, s.Connected)
		counter(c.messages, s.Messages)
		counter(c.commands, s.Commands)
		counter(c.faults, s.Faults)
		counter(c.deliveries, s.Delivered, "ok")
		counter(c.deliveries, s.SendFailures, "failed")
		counter(c.acceptErrors, s.AcceptErrors)
	}

	if c.src.Dispatch != nil {
		s := c.src.Dispatch()
		counter(c.sinkEvents, s.Logs, "log")
		counter(c.sinkEvents, s.Messages, "message")
		counter(c.sinkEvents, s.Metrics, "metrics")
		gauge(c.sinkQueue, s.Queue.Depth)
		counter(c.sinkDropped, s.Dropped)
		counter(c.sinkPanics, s.Panics)
	}

	if c.src.Hub != nil {
		s := c.src.Hub()
		gauge(c.hubSubscribers, s.Subscribers)
		counter(c.hubBroadcasts, s.Broadcasts)
		counter(c.hubRequests, s.Requests)
		counter(c.hubWriteErrors, s.WriteErrors)
	}
}

// NewRegistry returns a registry holding c plus the Go runtime and process
// collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry:          reg,
		EnableOpenMetrics: true,
	})
}
