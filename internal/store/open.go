package store

import (
	"context"
	"fmt"
)

// Open connects to the store named by driver ("sqlite" or "postgres").
func Open(ctx context.Context, driver, dbPath, databaseURL string, retry RetryPolicy) (Repository, error) {
	switch driver {
	case "sqlite":
		s, err := NewSQLite(dbPath, retry)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		if databaseURL == "" {
			return nil, fmt.Errorf("postgres requires a connection string")
		}
		s, err := NewPostgres(ctx, databaseURL, retry)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}
