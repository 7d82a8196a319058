package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rigd-project/rigd/pkg/radio"
)

// Metrics exposes the connection layer's Prometheus instruments. A single
// instance is registered on the default registry by the daemon.
type Metrics struct {
	ConnectionState   prometheus.Gauge
	ReconnectAttempts prometheus.Counter
	BackendErrors     *prometheus.CounterVec
	FrequencyHz       prometheus.Gauge
	MeterSWR          prometheus.Gauge
	MeterALC          prometheus.Gauge
	MeterLevel        prometheus.Gauge
	MeterPower        prometheus.Gauge
}

// New registers the instruments on the default registry.
func New() *Metrics {
	return &Metrics{
		ConnectionState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rigd_connection_state",
			Help: "Current connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 error).",
		}),
		ReconnectAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rigd_reconnect_attempts_total",
			Help: "Reconnection attempts since process start.",
		}),
		BackendErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rigd_backend_errors_total",
			Help: "Backend errors by classification.",
		}, []string{"kind"}),
		FrequencyHz: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rigd_frequency_hz",
			Help: "Last observed operating frequency in Hz.",
		}),
		MeterSWR: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rigd_meter_swr",
			Help: "Last SWR reading.",
		}),
		MeterALC: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rigd_meter_alc_percent",
			Help: "Last ALC reading in percent.",
		}),
		MeterLevel: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rigd_meter_s_units",
			Help: "Last signal level in S-units.",
		}),
		MeterPower: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rigd_meter_power_percent",
			Help: "Last output power reading in percent.",
		}),
	}
}

// ObserveState records a state transition.
func (m *Metrics) ObserveState(state radio.ConnectionState) {
	m.ConnectionState.Set(float64(state))
	if state == radio.StateReconnecting {
		m.ReconnectAttempts.Inc()
	}
}

// ObserveEvent updates instruments from a manager event.
func (m *Metrics) ObserveEvent(ev radio.Event) {
	switch ev.Kind {
	case radio.EventFrequencyChanged:
		m.FrequencyHz.Set(float64(ev.Frequency))
	case radio.EventMeterData:
		md := ev.Meters
		if md.SWR != nil {
			m.MeterSWR.Set(*md.SWR)
		}
		if md.ALC != nil {
			m.MeterALC.Set(*md.ALC)
		}
		if md.Level != nil {
			m.MeterLevel.Set(float64(*md.Level))
		}
		if md.Power != nil {
			m.MeterPower.Set(*md.Power)
		}
	case radio.EventError:
		m.BackendErrors.WithLabelValues(radio.KindOf(ev.Err).String()).Inc()
	}
}
