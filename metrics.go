package lbltools

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Resolution outcomes.
const (
	outcomeLocal      = "local"      // Found on the local file system.
	outcomeCached     = "cached"     // Found in the cache.
	outcomeDownloaded = "downloaded" // Downloaded into the cache.
	outcomeSkipped    = "skipped"    // Not cached and downloads are disabled.
	outcomeError      = "error"
)

var (
	resolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lbltools_resolve_total",
		Help: "Total number of resolved file references, by reference kind and outcome",
	}, []string{"kind", "outcome"})

	downloadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lbltools_download_bytes_total",
		Help: "Total number of bytes downloaded into the cache",
	})
)

// WriteMetrics writes the metrics of the default registry to path in the text exposition format,
// e.g. for the node exporter's textfile collector.
func WriteMetrics(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
