/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package stats exports NIC, Protocol, Clock, and VehicleRSUManager
// counters as Prometheus gauges, polled on a periodic.Task the way
// sptp/stats's PrometheusExporter scrapes and republishes sptp's JSON
// counters — except here the snapshot is taken directly off the in-process
// types rather than over HTTP.
package stats

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetmesh/v2x/nic"
	"github.com/fleetmesh/v2x/periodic"
	"github.com/fleetmesh/v2x/ptpclock"
	"github.com/fleetmesh/v2x/rsumanager"
	"github.com/fleetmesh/v2x/v2xproto"
)

// DefaultInterval is how often Start polls the watched sources by default.
const DefaultInterval = 5 * time.Second

// Registry holds the gauges this package exports and the sources it polls
// to refresh them.
type Registry struct {
	reg *prometheus.Registry

	nicPacketsSent prometheus.Gauge
	nicTxDrops     prometheus.Gauge
	nicRxDrops     prometheus.Gauge
	nicFreeBuffers prometheus.Gauge

	protoRxDrops prometheus.Gauge

	clockOffset prometheus.Gauge
	clockDrift  prometheus.Gauge
	clockState  prometheus.Gauge

	knownRSUs prometheus.Gauge

	nics    []*nic.NIC
	protos  []*v2xproto.Protocol
	clocks  []*ptpclock.Clock
	rsuMgrs []*rsumanager.Manager

	task *periodic.Task
}

// NewRegistry constructs an empty Registry and registers its gauges.
func NewRegistry() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.nicPacketsSent = prometheus.NewGauge(prometheus.GaugeOpts{Name: "v2x_nic_packets_sent_total", Help: "Packets successfully transmitted by the NIC."})
	r.nicTxDrops = prometheus.NewGauge(prometheus.GaugeOpts{Name: "v2x_nic_tx_drops_total", Help: "Send-side failures at the NIC."})
	r.nicRxDrops = prometheus.NewGauge(prometheus.GaugeOpts{Name: "v2x_nic_rx_drops_total", Help: "Receive-side failures at the NIC."})
	r.nicFreeBuffers = prometheus.NewGauge(prometheus.GaugeOpts{Name: "v2x_nic_free_buffers", Help: "Buffers currently available in the NIC's pool."})
	r.protoRxDrops = prometheus.NewGauge(prometheus.GaugeOpts{Name: "v2x_protocol_rx_drops_total", Help: "Packets dropped by the Protocol layer's receive path."})
	r.clockOffset = prometheus.NewGauge(prometheus.GaugeOpts{Name: "v2x_clock_offset_microseconds", Help: "Current PTP clock offset estimate."})
	r.clockDrift = prometheus.NewGauge(prometheus.GaugeOpts{Name: "v2x_clock_drift_fe", Help: "Current PTP clock frequency-error estimate."})
	r.clockState = prometheus.NewGauge(prometheus.GaugeOpts{Name: "v2x_clock_state", Help: "Current PTP clock state (0=UNSYNCHRONIZED, 1=AWAITING_SECOND_MSG, 2=SYNCHRONIZED)."})
	r.knownRSUs = prometheus.NewGauge(prometheus.GaugeOpts{Name: "v2x_vehicle_known_rsus", Help: "Number of RSUs in the vehicle's known-RSU table."})

	for _, c := range []prometheus.Collector{
		r.nicPacketsSent, r.nicTxDrops, r.nicRxDrops, r.nicFreeBuffers,
		r.protoRxDrops, r.clockOffset, r.clockDrift, r.clockState, r.knownRSUs,
	} {
		r.reg.MustRegister(c)
	}

	r.task = periodic.New(r.snapshot)
	return r
}

// WatchNIC adds n to the set of NICs polled on every snapshot.
func (r *Registry) WatchNIC(n *nic.NIC) { r.nics = append(r.nics, n) }

// WatchProtocol adds p to the set of Protocol layers polled on every snapshot.
func (r *Registry) WatchProtocol(p *v2xproto.Protocol) { r.protos = append(r.protos, p) }

// WatchClock adds c to the watched Clocks. The clock gauges report only the
// first watched Clock; later ones are not read.
func (r *Registry) WatchClock(c *ptpclock.Clock) { r.clocks = append(r.clocks, c) }

// WatchRSUManager adds m to the set of VehicleRSUManagers polled on every
// snapshot.
func (r *Registry) WatchRSUManager(m *rsumanager.Manager) { r.rsuMgrs = append(r.rsuMgrs, m) }

func (r *Registry) snapshot() {
	var packetsSent, txDrops, rxDrops, freeBuffers int64
	for _, n := range r.nics {
		packetsSent += n.PacketsSent()
		txDrops += n.TxDrops()
		rxDrops += n.RxDrops()
		freeBuffers += int64(n.FreeCount())
	}
	r.nicPacketsSent.Set(float64(packetsSent))
	r.nicTxDrops.Set(float64(txDrops))
	r.nicRxDrops.Set(float64(rxDrops))
	r.nicFreeBuffers.Set(float64(freeBuffers))

	var protoDrops int64
	for _, p := range r.protos {
		protoDrops += p.RxDrops()
	}
	r.protoRxDrops.Set(float64(protoDrops))

	if len(r.clocks) > 0 {
		c := r.clocks[0]
		r.clockOffset.Set(float64(c.Offset()))
		r.clockDrift.Set(c.DriftFE())
		r.clockState.Set(float64(c.GetState()))
	}

	var known int
	for _, m := range r.rsuMgrs {
		known += len(m.KnownRSUs())
	}
	r.knownRSUs.Set(float64(known))
}

// Start launches the periodic snapshot task at the given interval. An
// interval of 0 selects DefaultInterval.
func (r *Registry) Start(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	r.task.Start(interval)
}

// Stop terminates the snapshot task.
func (r *Registry) Stop() {
	r.task.Stop()
}

// Handler returns the promhttp handler serving this Registry's metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
