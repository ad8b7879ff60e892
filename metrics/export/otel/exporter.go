package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/adminauth"
	"github.com/MrEthical07/adminauth/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() adminauth.MetricsSnapshot
	AuditDropped() uint64
}

// collection is what one callback run reads from the source.
type collection struct {
	snapshot adminauth.MetricsSnapshot
	dropped  uint64
	warnings int
}

// binding ties an instrument to the value it reports from a collection.
type binding struct {
	instrument metric.Int64Observable
	read       func(c *collection) int64
}

// OTelExporter keeps the callback registration alive until Close.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration
	bindings     []binding
	posture      bool
}

// NewOTelExporter registers instruments on meter that read from engine,
// including the adminauth_security_warnings gauge.
func NewOTelExporter(meter metric.Meter, engine *adminauth.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

// NewOTelExporterFromSource registers instruments for any snapshot source.
// The security gauge is registered only when source implements
// internaldefs.PostureSource.
func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{source: source}
	_, e.posture = internaldefs.SecurityWarnings(source)

	counter := func(name, help string, read func(c *collection) int64) error {
		ins, err := meter.Int64ObservableCounter(name, metric.WithDescription(help))
		if err != nil {
			return fmt.Errorf("create observable counter %s: %w", name, err)
		}
		e.bindings = append(e.bindings, binding{instrument: ins, read: read})
		return nil
	}
	gauge := func(name, help string, read func(c *collection) int64) error {
		ins, err := meter.Int64ObservableGauge(name, metric.WithDescription(help))
		if err != nil {
			return fmt.Errorf("create observable gauge %s: %w", name, err)
		}
		e.bindings = append(e.bindings, binding{instrument: ins, read: read})
		return nil
	}

	for _, def := range internaldefs.CounterDefs {
		id := def.ID
		if err := counter(def.Name, def.Help, func(c *collection) int64 {
			return int64(c.snapshot.Counters[id])
		}); err != nil {
			return nil, err
		}
	}
	if err := counter(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, func(c *collection) int64 {
		return int64(c.dropped)
	}); err != nil {
		return nil, err
	}

	for _, def := range internaldefs.HistogramDefs {
		id := def.ID
		cumulative := func(c *collection) [8]uint64 {
			return internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(c.snapshot.Histograms[id]))
		}
		for i, suffix := range internaldefs.HistogramBoundSuffix {
			i := i
			if err := gauge(def.Name+"_bucket_le_"+suffix, "Cumulative histogram bucket count.", func(c *collection) int64 {
				return int64(cumulative(c)[i])
			}); err != nil {
				return nil, err
			}
		}
		if err := gauge(def.Name+"_count", "Histogram total sample count.", func(c *collection) int64 {
			b := cumulative(c)
			return int64(b[len(b)-1])
		}); err != nil {
			return nil, err
		}
	}

	if e.posture {
		if err := gauge(internaldefs.SecurityWarningsName, internaldefs.SecurityWarningsHelp, func(c *collection) int64 {
			return int64(c.warnings)
		}); err != nil {
			return nil, err
		}
	}

	observables := make([]metric.Observable, 0, len(e.bindings))
	for _, b := range e.bindings {
		observables = append(observables, b.instrument)
	}

	registration, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

func (e *OTelExporter) observe(_ context.Context, observer metric.Observer) error {
	c := &collection{
		snapshot: e.source.MetricsSnapshot(),
		dropped:  e.source.AuditDropped(),
	}
	if e.posture {
		c.warnings, _ = internaldefs.SecurityWarnings(e.source)
	}
	for _, b := range e.bindings {
		observer.ObserveInt64(b.instrument, b.read(c))
	}
	return nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
