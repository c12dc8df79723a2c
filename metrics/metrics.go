// Package metrics exports controller and bus state to Prometheus.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/w1xm/radiotelescope/antenna"
	"github.com/w1xm/radiotelescope/internal/modbus"
)

// Collector bundles the antenna metrics. A nil *Collector records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	State            *prometheus.GaugeVec
	Position         *prometheus.GaugeVec
	Moving           prometheus.Gauge
	Commands         *prometheus.CounterVec
	ExchangeDuration *prometheus.HistogramVec
	ExchangeErrors   *prometheus.CounterVec
}

// NewCollector registers the metrics against reg, defaulting to the global
// registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	c := &Collector{
		gatherer: gatherer,
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "antenna_state",
			Help: "1 for the controller's current state, 0 otherwise.",
		}, []string{"state"}),
		Position: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "antenna_position_degrees",
			Help: "Last polled antenna position, by axis and frame (raw or referenced).",
		}, []string{"axis", "frame"}),
		Moving: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "antenna_moving",
			Help: "1 while either axis is moving.",
		}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "antenna_commands_total",
			Help: "Commands issued to the controller, by command and error kind.",
		}, []string{"command", "kind"}),
		ExchangeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "modbus_exchange_duration_seconds",
			Help:    "Modbus request/response latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.15, 0.2, 0.3, 0.5, 1, 2},
		}, []string{"function"}),
		ExchangeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modbus_exchange_errors_total",
			Help: "Failed Modbus exchanges, by function.",
		}, []string{"function"}),
	}
	for name, collector := range map[string]prometheus.Collector{
		"antenna_state":                    c.State,
		"antenna_position_degrees":         c.Position,
		"antenna_moving":                   c.Moving,
		"antenna_commands_total":           c.Commands,
		"modbus_exchange_duration_seconds": c.ExchangeDuration,
		"modbus_exchange_errors_total":     c.ExchangeErrors,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("registering %s: %w", name, err)
		}
	}
	return c, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// ObserveStatus is an antenna.StatusCallback.
func (c *Collector) ObserveStatus(status antenna.Status) {
	if c == nil {
		return
	}
	for _, s := range antenna.States {
		v := 0.0
		if s == status.State {
			v = 1
		}
		c.State.WithLabelValues(s.String()).Set(v)
	}
	c.Position.WithLabelValues("azimuth", "raw").Set(status.RawPosition.Azimuth)
	c.Position.WithLabelValues("elevation", "raw").Set(status.RawPosition.Elevation)
	c.Position.WithLabelValues("azimuth", "referenced").Set(status.Position.Azimuth)
	c.Position.WithLabelValues("elevation", "referenced").Set(status.Position.Elevation)
	moving := 0.0
	if status.Moving {
		moving = 1
	}
	c.Moving.Set(moving)
}

// ObserveCommand counts a command and the kind of error it returned.
func (c *Collector) ObserveCommand(command string, err error) {
	if c == nil {
		return
	}
	kind := antenna.Kind(err)
	if kind == "" {
		kind = "ok"
	}
	c.Commands.WithLabelValues(command, kind).Inc()
}

var functionNames = map[byte]string{
	modbus.FuncReadCoils:              "read_coils",
	modbus.FuncReadDiscreteInputs:     "read_discrete_inputs",
	modbus.FuncReadHoldingRegisters:   "read_holding_registers",
	modbus.FuncReadInputRegisters:     "read_input_registers",
	modbus.FuncWriteSingleCoil:        "write_single_coil",
	modbus.FuncWriteSingleRegister:    "write_single_register",
	modbus.FuncWriteMultipleCoils:     "write_multiple_coils",
	modbus.FuncWriteMultipleRegisters: "write_multiple_registers",
}

// ObserveExchange satisfies modbus.ExchangeObserver.
func (c *Collector) ObserveExchange(function byte, d time.Duration, err error) {
	if c == nil {
		return
	}
	name, ok := functionNames[function]
	if !ok {
		name = fmt.Sprintf("0x%02x", function)
	}
	c.ExchangeDuration.WithLabelValues(name).Observe(d.Seconds())
	if err != nil {
		c.ExchangeErrors.WithLabelValues(name).Inc()
	}
}
