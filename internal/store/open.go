package store

import (
	"context"
	"fmt"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open returns the backend named by driver. path is used by sqlite, url by postgres.
func Open(ctx context.Context, driver, path, url string) (Store, error) {
	switch driver {
	case DriverSQLite, "":
		s, err := OpenSQLite(ctx, path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		s, err := OpenPostgres(ctx, url)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
