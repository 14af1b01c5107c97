package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// Métricas de resolución y del keystore. Viven en un paquete aparte para que
// resolver, keystore y http las compartan sin ciclos de import.

var (
	ResolveDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "keytrust_resolve_duration_seconds",
		Help:    "Duración de una consulta de confianza por veredicto",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"outcome"}) // outcome: trusted|not_trusted|unknown

	NodeTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keytrust_node_transitions_total",
		Help: "Transiciones de nodos de resolución por estado destino",
	}, []string{"state"})

	FetchAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keytrust_fetch_attempts_total",
		Help: "Descargas de claves contra el keystore por resultado",
	}, []string{"result"}) // result: ok|not_found|error

	SignatureChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keytrust_signature_checks_total",
		Help: "Verificaciones de firma por tipo y resultado",
	}, []string{"kind", "result"}) // kind: self|trust|link

	CacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keytrust_cache_lookups_total",
		Help: "Lookups del cache de claves",
	}, []string{"result"}) // result: hit|miss
)

// Register registra las métricas en reg (o el default si es nil),
// ignorando las que ya estaban registradas.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{ResolveDuration, NodeTransitions, FetchAttempts, SignatureChecks, CacheLookups} {
		if err := RegisterCollector(reg, c); err != nil {
			return err
		}
	}
	return nil
}

// RegisterCollector registra c ignorando duplicados.
func RegisterCollector(reg prometheus.Registerer, c prometheus.Collector) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if err := reg.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}

// PoolCollector expone gauges del pgxpool del keystore postgres.
type PoolCollector struct {
	pool func() *pgxpool.Pool

	acquiredDesc *prometheus.Desc
	idleDesc     *prometheus.Desc
	totalDesc    *prometheus.Desc
}

// NewPoolCollector crea el collector. pool puede devolver nil.
func NewPoolCollector(pool func() *pgxpool.Pool) *PoolCollector {
	return &PoolCollector{
		pool:         pool,
		acquiredDesc: prometheus.NewDesc("keystore_pg_acquired", "Conexiones adquiridas del keystore", nil, nil),
		idleDesc:     prometheus.NewDesc("keystore_pg_idle", "Conexiones inactivas del keystore", nil, nil),
		totalDesc:    prometheus.NewDesc("keystore_pg_total", "Conexiones totales del keystore", nil, nil),
	}
}

func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquiredDesc
	ch <- c.idleDesc
	ch <- c.totalDesc
}

func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	if c.pool == nil {
		return
	}
	pool := c.pool()
	if pool == nil {
		return
	}
	stat := pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.acquiredDesc, prometheus.GaugeValue, float64(stat.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idleDesc, prometheus.GaugeValue, float64(stat.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.totalDesc, prometheus.GaugeValue, float64(stat.TotalConns()))
}
