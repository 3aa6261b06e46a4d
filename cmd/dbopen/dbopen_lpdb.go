// Copyright (C) 2025 ArchiveHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package dbopen

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archivehq/logpacker/lpdb"
	lpdbmigrations "github.com/archivehq/logpacker/lpdb/migrations"
)

// Options configures database connection behavior.
type Options struct {
	SkipMigrationCheck bool
}

// ConnectToLPDB opens a pgx pool against the LPDB_* environment
// configuration and verifies the schema is at the expected migration
// version unless opts disable the check.
func ConnectToLPDB(ctx context.Context, opts ...Options) (*pgxpool.Pool, error) {
	connectionString, err := getDatabaseURLFromEnv("LPDB")
	if err != nil {
		return nil, errors.Join(ErrDatabaseNotConfigured, fmt.Errorf("failed to get LPDB connection string: %w", err))
	}

	pool, err := lpdb.NewConnectionPool(ctx, connectionString)
	if err != nil {
		return nil, err
	}

	skipMigrationCheck := false
	if len(opts) > 0 {
		skipMigrationCheck = opts[0].SkipMigrationCheck
	}

	if !skipMigrationCheck {
		if err := lpdbmigrations.CheckExpectedVersion(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("LPDB migration version check failed: %w", err)
		}
	}

	return pool, nil
}

// LPDBStore opens the pool and wraps it in the query store.
func LPDBStore(ctx context.Context) (*lpdb.Store, error) {
	pool, err := ConnectToLPDB(ctx)
	if err != nil {
		return nil, err
	}
	return lpdb.NewStore(pool), nil
}
