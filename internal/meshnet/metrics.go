package meshnet

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector the swarm adapter and the peer
// node populate. It uses an isolated prometheus.Registry so these metrics
// never collide with the default global registry, which also lets each
// test build its own throwaway instance.
type Metrics struct {
	Registry *prometheus.Registry

	MessagesSentTotal     *prometheus.CounterVec
	MessagesReceivedTotal *prometheus.CounterVec
	IntroductionsTotal    *prometheus.CounterVec
	PublishFailuresTotal  *prometheus.CounterVec

	ConnectedPeers *prometheus.GaugeVec

	RendezvousRegistrationsTotal *prometheus.CounterVec
	MDNSDiscoveredTotal          *prometheus.CounterVec

	BuildInfo *prometheus.GaugeVec
}

// NewMetrics builds a Metrics instance with every collector registered on
// its own isolated registry. version and goVersion are recorded as labels
// on the info gauge.
func NewMetrics(version, goVersion string) *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		MessagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ceylonmesh_messages_sent_total",
				Help: "Total envelopes published to the workspace topic, by routing kind.",
			},
			[]string{"routing"},
		),
		MessagesReceivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ceylonmesh_messages_received_total",
				Help: "Total node messages accepted from the workspace topic, by routing kind.",
			},
			[]string{"type"},
		),
		IntroductionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ceylonmesh_introductions_total",
				Help: "Total agent introductions sent and first-time introductions received, by outcome.",
			},
			[]string{"outcome"},
		),
		PublishFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ceylonmesh_publish_failures_total",
				Help: "Total gossipsub publish failures, by topic.",
			},
			[]string{"topic"},
		),

		ConnectedPeers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ceylonmesh_connected_peers",
				Help: "Number of peers currently connected, by role.",
			},
			[]string{"role"},
		),

		RendezvousRegistrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ceylonmesh_rendezvous_registrations_total",
				Help: "Total rendezvous registrations, by side (client or server) and outcome.",
			},
			[]string{"side", "outcome"},
		),
		MDNSDiscoveredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ceylonmesh_mdns_discovered_total",
				Help: "Total mDNS discovery events, by result.",
			},
			[]string{"result"},
		),

		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ceylonmesh_info",
				Help: "Build information for the running ceylonmesh instance.",
			},
			[]string{"version", "go_version"},
		),
	}

	reg.MustRegister(
		m.MessagesSentTotal,
		m.MessagesReceivedTotal,
		m.IntroductionsTotal,
		m.PublishFailuresTotal,
		m.ConnectedPeers,
		m.RendezvousRegistrationsTotal,
		m.MDNSDiscoveredTotal,
		m.BuildInfo,
	)

	m.BuildInfo.WithLabelValues(version, goVersion).Set(1)

	return m
}

// Handler serves the Prometheus exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
