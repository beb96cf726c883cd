// Package postgres implements the repository contracts against
// PostgreSQL. Importing it registers the lib/pq driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Open connects to PostgreSQL, configures the pool and verifies the
// connection before returning.
func Open(url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return db, nil
}
