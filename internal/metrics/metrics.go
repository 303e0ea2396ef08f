// Package metrics holds the Prometheus collectors of the relay and the
// bridge. Each instance registers on its own registry so several relays or
// bridges can live in one process.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Relay collectors.
type Relay struct {
	Connections       prometheus.Gauge
	Broadcasts        prometheus.Counter
	BroadcastFailures prometheus.Counter
	DecodeFaults      prometheus.Counter
	JournalFailures   prometheus.Counter
}

// NewRelay registers relay collectors on reg. A nil reg creates a private
// registry.
func NewRelay(reg prometheus.Registerer) *Relay {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Relay{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "codlab_relay_connections",
			Help: "Bridges currently connected to the relay",
		}),
		Broadcasts: f.NewCounter(prometheus.CounterOpts{
			Name: "codlab_relay_broadcasts_total",
			Help: "Change frames delivered to peers",
		}),
		BroadcastFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "codlab_relay_broadcast_failures_total",
			Help: "Change frames that could not be delivered to a peer",
		}),
		DecodeFaults: f.NewCounter(prometheus.CounterOpts{
			Name: "codlab_relay_decode_faults_total",
			Help: "Inbound frames that failed to decode",
		}),
		JournalFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "codlab_relay_journal_failures_total",
			Help: "Relayed changes the journal failed to record",
		}),
	}
}

// Bridge collectors.
type Bridge struct {
	ChangesSent      prometheus.Counter
	RemoteApplied    prometheus.Counter
	EchoesSuppressed prometheus.Counter
	EchoesExpired    prometheus.Counter
}

// NewBridge registers bridge collectors on reg. A nil reg creates a private
// registry.
func NewBridge(reg prometheus.Registerer) *Bridge {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Bridge{
		ChangesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "codlab_bridge_changes_sent_total",
			Help: "Change messages sent to the relay",
		}),
		RemoteApplied: f.NewCounter(prometheus.CounterOpts{
			Name: "codlab_bridge_remote_changes_applied_total",
			Help: "Remote changes applied to the local editor",
		}),
		EchoesSuppressed: f.NewCounter(prometheus.CounterOpts{
			Name: "codlab_bridge_echoes_suppressed_total",
			Help: "Local content changes recognised as echoes and not sent",
		}),
		EchoesExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "codlab_bridge_echoes_expired_total",
			Help: "Expected echoes dropped after the timeout",
		}),
	}
}
