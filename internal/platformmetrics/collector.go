package platformmetrics

import (
	"context"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	authdomain "github.com/smallbiznis/phage/internal/auth/domain"
	simdomain "github.com/smallbiznis/phage/internal/simulation/domain"
	"gorm.io/gorm"
)

var knownStatuses = []simdomain.Status{
	simdomain.StatusPending,
	simdomain.StatusQueued,
	simdomain.StatusRunning,
	simdomain.StatusCompleted,
	simdomain.StatusFailed,
}

// Collector keeps platform gauges on a registry dedicated to pushing, so the
// request-level metrics on /metrics are never shipped.
type Collector struct {
	registry *prometheus.Registry
	db       *gorm.DB

	usersTotal         prometheus.Gauge
	simulationsTotal   *prometheus.GaugeVec
	creditsOutstanding prometheus.Gauge
	memoryBytes        prometheus.Gauge
}

func NewCollector(db *gorm.DB, appName, version string) *Collector {
	constLabels := prometheus.Labels{"service": appName, "version": version}
	c := &Collector{
		registry: prometheus.NewRegistry(),
		db:       db,
		usersTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "phage_platform_users_total",
			Help:        "Registered users.",
			ConstLabels: constLabels,
		}),
		simulationsTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "phage_platform_simulations_total",
			Help:        "Simulations by status.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		creditsOutstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "phage_platform_credits_outstanding",
			Help:        "Sum of unspent credit balances.",
			ConstLabels: constLabels,
		}),
		memoryBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "phage_platform_process_memory_bytes",
			Help:        "Memory obtained from the OS by the process.",
			ConstLabels: constLabels,
		}),
	}
	c.registry.MustRegister(c.usersTotal, c.simulationsTotal, c.creditsOutstanding, c.memoryBytes)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

type statusCount struct {
	Status string
	Count  int64
}

// Refresh reloads every gauge from the database and the runtime.
func (c *Collector) Refresh(ctx context.Context) error {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	c.memoryBytes.Set(float64(m.Sys))

	if c.db == nil {
		return nil
	}
	db := c.db.WithContext(ctx)

	var users int64
	if err := db.Model(&authdomain.User{}).Count(&users).Error; err != nil {
		return err
	}
	c.usersTotal.Set(float64(users))

	var credits int64
	if err := db.Model(&authdomain.User{}).Select("COALESCE(SUM(credits), 0)").Scan(&credits).Error; err != nil {
		return err
	}
	c.creditsOutstanding.Set(float64(credits))

	var rows []statusCount
	if err := db.Model(&simdomain.Simulation{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return err
	}
	c.simulationsTotal.Reset()
	for _, status := range knownStatuses {
		c.simulationsTotal.WithLabelValues(string(status)).Set(0)
	}
	for _, row := range rows {
		c.simulationsTotal.WithLabelValues(row.Status).Set(float64(row.Count))
	}
	return nil
}
