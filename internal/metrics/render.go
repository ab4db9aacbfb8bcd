package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var renderDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "postermaker",
		Subsystem: "render",
		Name:      "duration_seconds",
		Help:      "渲染耗时分布（秒），按渲染路径区分。",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"path"},
)

// ObserveRenderDuration 记录一次渲染的耗时。
// path 取 "preview" 或 "composite"。
func ObserveRenderDuration(path string, d time.Duration) {
	renderDuration.WithLabelValues(path).Observe(d.Seconds())
}
