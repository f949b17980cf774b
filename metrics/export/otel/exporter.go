package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authflow"
	"github.com/MrEthical07/authflow/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// MetricsSource is what the exporter observes on every collection.
// *authflow.Controller implements it.
type MetricsSource interface {
	MetricsSnapshot() authflow.MetricsSnapshot
	AuditDropped() uint64
}

// reading is one collection pass: a snapshot plus the audit drop count.
type reading struct {
	snapshot   authflow.MetricsSnapshot
	dropped    uint64
	cumulative map[authflow.MetricID][8]uint64
}

func (r *reading) buckets(id authflow.MetricID) [8]uint64 {
	if b, ok := r.cumulative[id]; ok {
		return b
	}
	b := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(r.snapshot.Histograms[id]))
	if r.cumulative == nil {
		r.cumulative = make(map[authflow.MetricID][8]uint64, len(internaldefs.HistogramDefs))
	}
	r.cumulative[id] = b
	return b
}

// gauge binds an instrument to the value it reports from a reading.
type gauge struct {
	instrument metric.Int64Observable
	value      func(r *reading) int64
}

// OTelExporter publishes the controller's session counters and latency
// histograms through asynchronous instruments on a caller-supplied Meter.
// Every collection takes one snapshot, so all instruments in a pass agree.
type OTelExporter struct {
	source       MetricsSource
	gauges       []gauge
	registration metric.Registration
}

// NewOTelExporter registers instruments for ctrl on meter.
func NewOTelExporter(meter metric.Meter, ctrl *authflow.Controller) (*OTelExporter, error) {
	if ctrl == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, ctrl)
}

// NewOTelExporterFromSource registers instruments for source on meter.
// Histograms become one cumulative gauge per bucket plus a count gauge.
func NewOTelExporterFromSource(meter metric.Meter, source MetricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}
	e := &OTelExporter{source: source}

	for _, def := range internaldefs.CounterDefs {
		id := def.ID
		if err := e.addCounter(meter, def.Name, def.Help, func(r *reading) int64 {
			return int64(r.snapshot.Counters[id])
		}); err != nil {
			return nil, err
		}
	}
	for _, def := range internaldefs.HistogramDefs {
		if err := e.addHistogram(meter, def); err != nil {
			return nil, err
		}
	}
	if err := e.addCounter(meter, internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, func(r *reading) int64 {
		return int64(r.dropped)
	}); err != nil {
		return nil, err
	}

	observables := make([]metric.Observable, len(e.gauges))
	for i, g := range e.gauges {
		observables[i] = g.instrument
	}
	registration, err := meter.RegisterCallback(e.collect, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

func (e *OTelExporter) addCounter(meter metric.Meter, name, help string, value func(*reading) int64) error {
	ins, err := meter.Int64ObservableCounter(name, metric.WithDescription(help))
	if err != nil {
		return fmt.Errorf("create observable counter %s: %w", name, err)
	}
	e.gauges = append(e.gauges, gauge{instrument: ins, value: value})
	return nil
}

func (e *OTelExporter) addGauge(meter metric.Meter, name, help string, value func(*reading) int64) error {
	ins, err := meter.Int64ObservableGauge(name, metric.WithDescription(help))
	if err != nil {
		return fmt.Errorf("create observable gauge %s: %w", name, err)
	}
	e.gauges = append(e.gauges, gauge{instrument: ins, value: value})
	return nil
}

func (e *OTelExporter) addHistogram(meter metric.Meter, def internaldefs.HistogramDef) error {
	id := def.ID
	bucket := func(r *reading, i int) int64 {
		return int64(r.buckets(id)[i])
	}
	last := len(internaldefs.HistogramBoundSuffix) - 1
	for i, suffix := range internaldefs.HistogramBoundSuffix {
		name := def.Name + "_bucket_le_" + suffix
		if err := e.addGauge(meter, name, def.Help+" Cumulative bucket count.", func(r *reading) int64 {
			return bucket(r, i)
		}); err != nil {
			return err
		}
	}
	return e.addGauge(meter, def.Name+"_count", def.Help+" Sample count.", func(r *reading) int64 {
		return bucket(r, last)
	})
}

func (e *OTelExporter) collect(_ context.Context, observer metric.Observer) error {
	r := &reading{snapshot: e.source.MetricsSnapshot(), dropped: e.source.AuditDropped()}
	for _, g := range e.gauges {
		observer.ObserveInt64(g.instrument, g.value(r))
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
