package prometheus

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/authflow"
	"github.com/MrEthical07/authflow/metrics/export/internaldefs"
)

// MetricsSource is what the exporter reads on every scrape.
// *authflow.Controller implements it.
type MetricsSource interface {
	MetricsSnapshot() authflow.MetricsSnapshot
	AuditDropped() uint64
}

// PrometheusExporter renders controller metrics in Prometheus text
// exposition format.
type PrometheusExporter struct {
	source MetricsSource
}

// NewPrometheusExporter creates an exporter reading from ctrl.
func NewPrometheusExporter(ctrl *authflow.Controller) *PrometheusExporter {
	if ctrl == nil {
		return &PrometheusExporter{}
	}
	return &PrometheusExporter{source: ctrl}
}

// NewPrometheusExporterFromSource creates an exporter reading from source.
func NewPrometheusExporterFromSource(source MetricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler serves the metrics page for a dashboard scrape endpoint.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = io.WriteString(w, p.Render())
	})
}

// Render returns the controller's sign-in, refresh, logout and agreement
// counters, its latency histograms and the audit drop count. It returns ""
// when the controller was built with metrics disabled and nothing was
// dropped.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}
	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var pg page
	pg.Grow(4096)
	for _, def := range internaldefs.CounterDefs {
		pg.counter(def.Name, def.Help, snapshot.Counters[def.ID])
	}
	for _, def := range internaldefs.HistogramDefs {
		buckets := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[def.ID]))
		pg.histogram(def.Name, def.Help, buckets)
	}
	pg.counter(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, dropped)
	return pg.String()
}

// page accumulates one exposition document.
type page struct {
	strings.Builder
}

func (pg *page) family(name, help, kind string) {
	pg.WriteString("# HELP " + name + " " + helpEscaper.Replace(help) + "\n")
	pg.WriteString("# TYPE " + name + " " + kind + "\n")
}

func (pg *page) sample(name, labels string, v uint64) {
	pg.WriteString(name)
	pg.WriteString(labels)
	pg.WriteByte(' ')
	pg.WriteString(strconv.FormatUint(v, 10))
	pg.WriteByte('\n')
}

func (pg *page) counter(name, help string, v uint64) {
	pg.family(name, help, "counter")
	pg.sample(name, "", v)
}

func (pg *page) histogram(name, help string, cumulative [8]uint64) {
	pg.family(name, help, "histogram")
	for i, le := range internaldefs.HistogramBounds {
		pg.sample(name+"_bucket", `{le="`+le+`"}`, cumulative[i])
	}
	pg.sample(name+"_count", "", cumulative[len(cumulative)-1])
	// Latencies are kept as bucket counts only, so no sum is known.
	pg.sample(name+"_sum", "", 0)
}

var helpEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`)
