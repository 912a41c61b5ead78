// Package metrics exposes Prometheus metrics about the bridged server
// and its playback devices.
package metrics

import (
	"github.com/koying/jellyfin-ha/internal/session"
	"github.com/prometheus/client_golang/prometheus"
)

type (
	// sensorSource and deviceSource are the slices of the session layer
	// the collector samples on each scrape.
	sensorSource interface {
		Attributes() session.Attributes
	}

	deviceSource interface {
		Devices() []*session.Device
	}

	// BridgeCollector implements prometheus.Collector over the live
	// entity state; it holds no counters of its own and samples the
	// session layer on every scrape.
	BridgeCollector struct {
		sensor  sensorSource
		devices deviceSource

		serverInfo        *prometheus.GaugeVec
		serverOnline      prometheus.Gauge
		deviceCount       *prometheus.GaugeVec
		deviceStateMetric *prometheus.GaugeVec
	}
)

func NewBridgeCollector(sensor sensorSource, devices deviceSource) *BridgeCollector {
	return &BridgeCollector{
		sensor:  sensor,
		devices: devices,

		serverInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "jellyfin",
				Subsystem: "server",
				Name:      "info",
				Help:      "Information about the bridged Jellyfin server",
			},
			[]string{"server_name", "server_id", "version"},
		),
		serverOnline: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "jellyfin",
				Subsystem: "server",
				Name:      "online",
				Help:      "Whether the bridged Jellyfin server is reachable",
			},
		),
		deviceCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "jellyfin",
				Subsystem: "devices",
				Name:      "count",
				Help:      "Known playback devices by liveness",
			},
			[]string{"active"},
		),
		deviceStateMetric: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "jellyfin",
				Subsystem: "devices",
				Name:      "state",
				Help:      "Current play state per device",
			},
			[]string{"device", "client", "state"},
		),
	}
}

func (collector *BridgeCollector) Describe(ch chan<- *prometheus.Desc) {
	collector.serverInfo.Describe(ch)
	collector.serverOnline.Describe(ch)
	collector.deviceCount.Describe(ch)
	collector.deviceStateMetric.Describe(ch)
}

func (collector *BridgeCollector) Collect(ch chan<- prometheus.Metric) {
	attributes := collector.sensor.Attributes()

	collector.serverInfo.Reset()
	collector.serverInfo.WithLabelValues(attributes.ServerName, attributes.ServerID, attributes.Version).Set(1)

	if attributes.Online {
		collector.serverOnline.Set(1)
	} else {
		collector.serverOnline.Set(0)
	}

	collector.deviceCount.Reset()
	collector.deviceCount.WithLabelValues("true").Set(float64(attributes.ActiveDevices))
	collector.deviceCount.WithLabelValues("false").Set(float64(attributes.TotalDevices - attributes.ActiveDevices))

	collector.deviceStateMetric.Reset()
	for _, device := range collector.devices.Devices() {
		collector.deviceStateMetric.WithLabelValues(device.DeviceName(), device.ClientName(), string(device.State())).Set(1)
	}

	collector.serverInfo.Collect(ch)
	collector.serverOnline.Collect(ch)
	collector.deviceCount.Collect(ch)
	collector.deviceStateMetric.Collect(ch)
}
