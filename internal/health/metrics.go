package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus counters for the Streamer Worker capture lifecycle, named
// after the ffmpeg-runner counters they mirror.
var (
	CaptureStartTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_start_total",
		Help: "Total number of times a Streamer Worker started a capture session.",
	}, []string{"broadcaster_id"})

	CaptureExitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_exit_total",
		Help: "Total number of capture session exits, labeled by reason.",
	}, []string{"broadcaster_id", "reason"})

	WorkerRetryCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "worker_retry_count",
		Help: "Current retry_count of each broadcaster's Streamer Worker.",
	}, []string{"broadcaster_id"})
)

// serviceDesc describes the per-service gauges derived from a
// StatusProvider at scrape time.
var (
	serviceHealthyDesc = prometheus.NewDesc(
		"service_healthy", "Is the service currently healthy (1=healthy, 0=not).",
		[]string{"name"}, nil)
	serviceUptimeDesc = prometheus.NewDesc(
		"service_uptime_seconds", "Seconds since the service last started.",
		[]string{"name"}, nil)
	serviceRestartsDesc = prometheus.NewDesc(
		"service_restarts_total", "Total supervisor restarts for the service.",
		[]string{"name"}, nil)
	serviceFailuresDesc = prometheus.NewDesc(
		"service_failures_total", "Total capture-level failures for the service.",
		[]string{"name"}, nil)

	diskFreeDesc = prometheus.NewDesc(
		"disk_free_bytes", "Free bytes on the recording filesystem.", nil, nil)
	diskTotalDesc = prometheus.NewDesc(
		"disk_total_bytes", "Total bytes on the recording filesystem.", nil, nil)
	diskLowDesc = prometheus.NewDesc(
		"disk_low_warning", "1 when free disk is below the configured threshold.", nil, nil)
	ntpSyncedDesc = prometheus.NewDesc(
		"ntp_synced", "1 when the system clock is NTP-synchronized.", nil, nil)
)

// serviceCollector adapts a StatusProvider/SystemInfoProvider pair into a
// prometheus.Collector, so /metrics reports live per-broadcaster gauges
// without the handler needing its own exposition-format writer.
type serviceCollector struct {
	provider    StatusProvider
	sysProvider SystemInfoProvider
}

func (c *serviceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- serviceHealthyDesc
	ch <- serviceUptimeDesc
	ch <- serviceRestartsDesc
	ch <- serviceFailuresDesc
	ch <- diskFreeDesc
	ch <- diskTotalDesc
	ch <- diskLowDesc
	ch <- ntpSyncedDesc
}

func (c *serviceCollector) Collect(ch chan<- prometheus.Metric) {
	if c.provider != nil {
		for _, svc := range c.provider.Services() {
			healthy := 0.0
			if svc.Healthy {
				healthy = 1.0
			}
			ch <- prometheus.MustNewConstMetric(serviceHealthyDesc, prometheus.GaugeValue, healthy, svc.Name)
			ch <- prometheus.MustNewConstMetric(serviceUptimeDesc, prometheus.GaugeValue, svc.Uptime.Seconds(), svc.Name)
			ch <- prometheus.MustNewConstMetric(serviceRestartsDesc, prometheus.CounterValue, float64(svc.Restarts), svc.Name)
			ch <- prometheus.MustNewConstMetric(serviceFailuresDesc, prometheus.CounterValue, float64(svc.Failures), svc.Name)
		}
	}

	if c.sysProvider != nil {
		si := c.sysProvider.SystemInfo()
		ch <- prometheus.MustNewConstMetric(diskFreeDesc, prometheus.GaugeValue, float64(si.DiskFreeBytes))
		ch <- prometheus.MustNewConstMetric(diskTotalDesc, prometheus.GaugeValue, float64(si.DiskTotalBytes))
		low := 0.0
		if si.DiskLowWarning {
			low = 1.0
		}
		ch <- prometheus.MustNewConstMetric(diskLowDesc, prometheus.GaugeValue, low)
		synced := 0.0
		if si.NTPSynced {
			synced = 1.0
		}
		ch <- prometheus.MustNewConstMetric(ntpSyncedDesc, prometheus.GaugeValue, synced)
	}
}
