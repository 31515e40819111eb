package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
)

// Options describes the MySQL connection.
type Options struct {
	User     string
	Pass     string
	Host     string
	Port     string
	Name     string
	Attempts int           // connection attempts before giving up (default 10)
	Wait     time.Duration // pause between attempts (default 2s)
}

// DSN builds the driver connection string.
// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
// clientFoundRows=true -> RowsAffected counts matched rows
func (o Options) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = o.User
	cfg.Passwd = o.Pass
	cfg.Net = "tcp"
	cfg.Addr = o.Host + ":" + o.Port
	cfg.DBName = o.Name
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.ClientFoundRows = true
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// Open connects to MySQL and verifies the connection.  The database is
// often still starting when the service boots, so the ping is retried a
// bounded number of times.
func Open(o Options, log logrus.FieldLogger) (*sql.DB, error) {
	db, err := sql.Open("mysql", o.DSN())
	if err != nil {
		return nil, err
	}

	// Pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	attempts := o.Attempts
	if attempts <= 0 {
		attempts = 10
	}
	wait := o.Wait
	if wait <= 0 {
		wait = 2 * time.Second
	}
	for i := 1; i <= attempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = db.PingContext(ctx)
		cancel()
		if err == nil {
			log.WithField("addr", o.Host+":"+o.Port).Info("database connected")
			return db, nil
		}
		log.WithError(err).Warnf("database not ready (attempt %d/%d)", i, attempts)
		if i < attempts {
			time.Sleep(wait)
		}
	}
	_ = db.Close()
	return nil, fmt.Errorf("connect mysql after %d attempts: %w", attempts, err)
}
