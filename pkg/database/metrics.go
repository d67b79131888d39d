package database

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const queryStartKey = "carebridge:query_start"

// InstrumentQueries observes every statement's latency on the given
// histogram, labeled by operation and table. Register before serving traffic.
func InstrumentQueries(db *gorm.DB, duration *prometheus.HistogramVec) error {
	before := func(tx *gorm.DB) {
		tx.InstanceSet(queryStartKey, time.Now())
	}
	after := func(op string) func(*gorm.DB) {
		return func(tx *gorm.DB) {
			v, ok := tx.InstanceGet(queryStartKey)
			if !ok {
				return
			}
			start, ok := v.(time.Time)
			if !ok {
				return
			}
			duration.WithLabelValues(op, tx.Statement.Table).Observe(time.Since(start).Seconds())
		}
	}

	cb := db.Callback()
	if err := cb.Create().Before("gorm:create").Register("carebridge:metrics_before_create", before); err != nil {
		return fmt.Errorf("registering create callback: %w", err)
	}
	if err := cb.Create().After("gorm:create").Register("carebridge:metrics_after_create", after("create")); err != nil {
		return fmt.Errorf("registering create callback: %w", err)
	}
	if err := cb.Query().Before("gorm:query").Register("carebridge:metrics_before_query", before); err != nil {
		return fmt.Errorf("registering query callback: %w", err)
	}
	if err := cb.Query().After("gorm:query").Register("carebridge:metrics_after_query", after("query")); err != nil {
		return fmt.Errorf("registering query callback: %w", err)
	}
	if err := cb.Update().Before("gorm:update").Register("carebridge:metrics_before_update", before); err != nil {
		return fmt.Errorf("registering update callback: %w", err)
	}
	if err := cb.Update().After("gorm:update").Register("carebridge:metrics_after_update", after("update")); err != nil {
		return fmt.Errorf("registering update callback: %w", err)
	}
	if err := cb.Delete().Before("gorm:delete").Register("carebridge:metrics_before_delete", before); err != nil {
		return fmt.Errorf("registering delete callback: %w", err)
	}
	if err := cb.Delete().After("gorm:delete").Register("carebridge:metrics_after_delete", after("delete")); err != nil {
		return fmt.Errorf("registering delete callback: %w", err)
	}
	return nil
}

// MonitorPool samples the connection pool size onto the gauge at the given
// interval until the returned stop function is called.
func MonitorPool(db *gorm.DB, gauge prometheus.Gauge, interval time.Duration) (func(), error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				gauge.Set(float64(sqlDB.Stats().OpenConnections))
			}
		}
	}()

	return func() { close(done) }, nil
}
