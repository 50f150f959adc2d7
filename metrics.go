package ic

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the Controller's prometheus collectors. Registration is
// left to the embedder (via Controller.Collectors() and a registry of its
// choosing) so multiple Controllers in one process, or tests, don't
// collide on the default registry.
type metrics struct {
	beaconsSent      prometheus.Counter
	beaconsRejected  prometheus.Counter
	peersEstablished prometheus.Counter
	peersGone        prometheus.Counter
	pingsSent        prometheus.Counter
	framesDropped    *prometheus.CounterVec
}

func newMetrics() *metrics {
	return &metrics{
		beaconsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ic",
			Name:      "beacons_sent_total",
			Help:      "Beacon frames emitted by SEND-mode interfaces.",
		}),
		beaconsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ic",
			Name:      "beacons_rejected_total",
			Help:      "Inbound beacons rejected (bad prefix, own key, version mismatch).",
		}),
		peersEstablished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ic",
			Name:      "peers_established_total",
			Help:      "Peers that completed the handshake and reached ESTABLISHED.",
		}),
		peersGone: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ic",
			Name:      "peers_gone_total",
			Help:      "PEER_GONE events emitted (teardown, forget, or unresponsive transition).",
		}),
		pingsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ic",
			Name:      "pings_sent_total",
			Help:      "Switch-pings issued by the liveness scheduler or opportunistically during handshake.",
		}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ic",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped, labeled by reason.",
		}, []string{"reason"}),
	}
}

// Collectors returns every collector so the embedder can register them
// with whatever prometheus.Registerer it uses.
func (m *metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.beaconsSent,
		m.beaconsRejected,
		m.peersEstablished,
		m.peersGone,
		m.pingsSent,
		m.framesDropped,
	}
}
