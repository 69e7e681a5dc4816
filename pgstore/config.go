package pgstore

import "time"

type Config struct {
	ConnectionString  string        `env:"SYNC_PG_CONN_URL,required"`               // ConnectionString is the connection string to the database.
	MaxOpenConns      int32         `env:"SYNC_PG_MAX_OPEN_CONNS" envDefault:"10"`  // MaxOpenConns is the maximum number of open connections.
	MaxIdleConns      int32         `env:"SYNC_PG_MAX_IDLE_CONNS" envDefault:"5"`   // MaxIdleConns is the maximum number of idle connections.
	HealthCheckPeriod time.Duration `env:"SYNC_PG_HEALTHCHECK_PERIOD" envDefault:"1m"`
	MaxConnIdleTime   time.Duration `env:"SYNC_PG_MAX_CONN_IDLE_TIME" envDefault:"10m"`
	MaxConnLifetime   time.Duration `env:"SYNC_PG_MAX_CONN_LIFETIME" envDefault:"30m"`

	RetryAttempts int           `env:"SYNC_PG_RETRY_ATTEMPTS" envDefault:"3"` // RetryAttempts is the number of connection attempts.
	RetryInterval time.Duration `env:"SYNC_PG_RETRY_INTERVAL" envDefault:"5s"`

	MigrationsTable string `env:"SYNC_PG_MIGRATIONS_TABLE" envDefault:"sync_schema_migrations"`
}
