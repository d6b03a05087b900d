package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/monitor"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

func NewDBConnectionPoolWithMetrics(ctx context.Context, dbConnectionPool DBConnectionPool, monitorServiceInterface monitor.MonitorServiceInterface) (*DBConnectionPoolWithMetrics, error) {
	sqlExec, err := NewSQLExecuterWithMetrics(dbConnectionPool, monitorServiceInterface)
	if err != nil {
		return nil, fmt.Errorf("error creating SQLExecuterWithMetrics: %w", err)
	}

	registerPoolMetrics(ctx, dbConnectionPool, monitorServiceInterface)

	return &DBConnectionPoolWithMetrics{
		dbConnectionPool:       dbConnectionPool,
		SQLExecuterWithMetrics: *sqlExec,
	}, nil
}

// registerPoolMetrics exposes sql.DB pool stats as function metrics, read at scrape time.
func registerPoolMetrics(ctx context.Context, dbConnectionPool DBConnectionPool, monitorServiceInterface monitor.MonitorServiceInterface) {
	labels := map[string]string{
		"pool": databaseNameFromDSN(ctx, dbConnectionPool),
	}

	sqlDB, err := dbConnectionPool.SqlDB(ctx)
	if err != nil {
		log.Ctx(ctx).Errorf("Error getting SQL DB for pool metrics: %s", err)
		return
	}

	gauges := []struct {
		name string
		help string
		fn   func() float64
	}{
		{"max_open_connections", "Maximum number of open connections to the database", func() float64 { return float64(sqlDB.Stats().MaxOpenConnections) }},
		{"in_use_connections", "The number of connections currently in use", func() float64 { return float64(sqlDB.Stats().InUse) }},
		{"idle_connections", "The number of idle connections", func() float64 { return float64(sqlDB.Stats().Idle) }},
	}
	for _, g := range gauges {
		err = monitorServiceInterface.RegisterFunctionMetric(monitor.FuncGaugeType, monitor.FuncMetricOptions{
			Namespace: monitor.DefaultNamespace, Subservice: string(monitor.DBSubservice), Name: g.name,
			Help:     g.help,
			Labels:   labels,
			Function: g.fn,
		})
		if err != nil {
			log.Ctx(ctx).Errorf("Error registering pool gauge %s: %s", g.name, err)
		}
	}

	counters := []struct {
		name string
		help string
		fn   func() float64
	}{
		{"wait_count_total", "The total number of connections waited for", func() float64 { return float64(sqlDB.Stats().WaitCount) }},
		{"wait_duration_seconds_total", "The total time blocked waiting for a new connection", func() float64 { return sqlDB.Stats().WaitDuration.Seconds() }},
	}
	for _, c := range counters {
		err = monitorServiceInterface.RegisterFunctionMetric(monitor.FuncCounterType, monitor.FuncMetricOptions{
			Namespace: monitor.DefaultNamespace, Subservice: string(monitor.DBSubservice), Name: c.name,
			Help:     c.help,
			Labels:   labels,
			Function: c.fn,
		})
		if err != nil {
			log.Ctx(ctx).Errorf("Error registering pool counter %s: %s", c.name, err)
		}
	}
}

// OpenDBConnectionPoolWithMetrics opens a new database connection pool wired to the monitor service.
// It returns an error if it can't connect to the database.
func OpenDBConnectionPoolWithMetrics(ctx context.Context, dataSourceName string, monitorService monitor.MonitorServiceInterface) (DBConnectionPool, error) {
	dbConnectionPool, err := OpenDBConnectionPool(dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("error opening a new db connection pool: %w", err)
	}

	return NewDBConnectionPoolWithMetrics(ctx, dbConnectionPool, monitorService)
}

// DBConnectionPoolWithMetrics is a wrapper around DBConnectionPool that implements the monitoring service.
type DBConnectionPoolWithMetrics struct {
	dbConnectionPool DBConnectionPool
	SQLExecuterWithMetrics
}

// make sure *DBConnectionPoolWithMetrics implements DBConnectionPool:
var _ DBConnectionPool = (*DBConnectionPoolWithMetrics)(nil)

func (dbc *DBConnectionPoolWithMetrics) BeginTxx(ctx context.Context, opts *sql.TxOptions) (DBTransaction, error) {
	dbTransaction, err := dbc.dbConnectionPool.BeginTxx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("error starting a new transaction: %w", err)
	}

	return NewDBTransactionWithMetrics(dbTransaction, dbc.monitorServiceInterface)
}

func (dbc *DBConnectionPoolWithMetrics) Close() error {
	return dbc.dbConnectionPool.Close()
}

func (dbc *DBConnectionPoolWithMetrics) Ping(ctx context.Context) error {
	return dbc.dbConnectionPool.Ping(ctx)
}

func (dbc *DBConnectionPoolWithMetrics) SqlDB(ctx context.Context) (*sql.DB, error) {
	return dbc.dbConnectionPool.SqlDB(ctx)
}

func (dbc *DBConnectionPoolWithMetrics) SqlxDB(ctx context.Context) (*sqlx.DB, error) {
	return dbc.dbConnectionPool.SqlxDB(ctx)
}

func (dbc *DBConnectionPoolWithMetrics) DSN(ctx context.Context) (string, error) {
	return dbc.dbConnectionPool.DSN(ctx)
}
