package gkv

import (
	"fmt"
	"io"
	"strings"

	"github.com/VictoriaMetrics/metrics"
)

// set holds every gkv metric so that applications can expose them
// without touching their own default set.
var set = metrics.NewSet()

// WriteMetrics writes all gkv metrics in Prometheus text format.
func WriteMetrics(w io.Writer) {
	set.WritePrometheus(w)
}

// txnMetrics are the counters of one backend.
type txnMetrics struct {
	roBegun        *metrics.Counter
	roAborted      *metrics.Counter
	rwBegun        *metrics.Counter
	rwBusy         *metrics.Counter
	rwCommitted    *metrics.Counter
	rwAborted      *metrics.Counter
	rwFailed       *metrics.Counter
	commitDuration *metrics.Histogram
}

func newTxnMetrics(label string) *txnMetrics {
	counter := func(name, mode string) *metrics.Counter {
		return set.GetOrCreateCounter(fmt.Sprintf(`gkv_txn_%s_total{backend=%q,mode=%q}`, name, label, mode))
	}
	return &txnMetrics{
		roBegun:        counter("begun", "ro"),
		roAborted:      counter("aborted", "ro"),
		rwBegun:        counter("begun", "rw"),
		rwBusy:         counter("busy", "rw"),
		rwCommitted:    counter("committed", "rw"),
		rwAborted:      counter("aborted", "rw"),
		rwFailed:       counter("failed", "rw"),
		commitDuration: set.GetOrCreateHistogram(fmt.Sprintf(`gkv_commit_duration_seconds{backend=%q}`, label)),
	}
}

// backendLabel derives a short engine name from a version string such as
// "bbolt/v1.4.3".
func backendLabel(version string) string {
	if i := strings.IndexAny(version, "/ "); i > 0 {
		version = version[:i]
	}
	if version == "" {
		return "unknown"
	}
	return version
}
