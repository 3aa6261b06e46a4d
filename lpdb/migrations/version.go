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

package migrations

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const versionTable = "gomigrate_lpdb"

// CheckExpectedVersion verifies that the database is at the version of the
// newest embedded migration. The check can be disabled by setting
// LPDB_MIGRATION_CHECK_ENABLED=false.
func CheckExpectedVersion(ctx context.Context, pool *pgxpool.Pool) error {
	if val := os.Getenv("LPDB_MIGRATION_CHECK_ENABLED"); strings.EqualFold(val, "false") {
		slog.Debug("Migration version checking disabled for lpdb")
		return nil
	}

	expected, err := expectedVersion()
	if err != nil {
		return err
	}

	var current int64
	var dirty bool
	row := pool.QueryRow(ctx, fmt.Sprintf("SELECT version, dirty FROM %s LIMIT 1", versionTable))
	if err := row.Scan(&current, &dirty); err != nil {
		if err == pgx.ErrNoRows {
			return fmt.Errorf("lpdb has no recorded migration version, expected %d (run migrations)", expected)
		}
		return fmt.Errorf("reading lpdb migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("lpdb migration state is dirty at version %d", current)
	}
	if current != expected {
		return fmt.Errorf("lpdb is at migration version %d, expected %d", current, expected)
	}
	return nil
}

// expectedVersion returns the highest version among the embedded migration
// files, parsed from the NNNNNN_name.up.sql naming convention.
func expectedVersion() (int64, error) {
	entries, err := migrationFiles.ReadDir(".")
	if err != nil {
		return 0, fmt.Errorf("reading embedded migrations: %w", err)
	}
	var max int64
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		idx := strings.Index(name, "_")
		if idx <= 0 {
			continue
		}
		v, err := strconv.ParseInt(name[:idx], 10, 64)
		if err != nil {
			continue
		}
		if v > max {
			max = v
		}
	}
	if max == 0 {
		return 0, fmt.Errorf("no embedded migration files found")
	}
	return max, nil
}
