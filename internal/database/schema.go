package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/cinema-seat-hold/internal/config"
)

// table is one CREATE TABLE statement plus its secondary indexes.  The DDL
// sticks to the subset MySQL and SQLite both accept; indexes are created
// separately because only MySQL allows them inline.
type table struct {
	name    string
	ddl     string
	indexes []index
}

type index struct {
	name    string
	columns string
}

var schema = []table{
	{
		name: "movies",
		ddl: `CREATE TABLE IF NOT EXISTS movies (
			id CHAR(36) NOT NULL PRIMARY KEY,
			title VARCHAR(255) NOT NULL,
			duration_minutes INT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	},
	{
		name: "halls",
		ddl: `CREATE TABLE IF NOT EXISTS halls (
			id CHAR(36) NOT NULL PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			hall_class VARCHAR(20) NOT NULL DEFAULT 'STANDARD',
			screen_class VARCHAR(20) NOT NULL DEFAULT 'STANDARD_2D'
		)`,
	},
	{
		name: "seats",
		ddl: `CREATE TABLE IF NOT EXISTS seats (
			id CHAR(36) NOT NULL PRIMARY KEY,
			hall_id CHAR(36) NOT NULL,
			seat_number VARCHAR(10) NOT NULL,
			status VARCHAR(30) NOT NULL DEFAULT 'ACTIVE',
			deleted_at DATETIME NULL,
			UNIQUE (hall_id, seat_number),
			FOREIGN KEY (hall_id) REFERENCES halls (id)
		)`,
	},
	{
		name: "screenings",
		ddl: `CREATE TABLE IF NOT EXISTS screenings (
			id CHAR(36) NOT NULL PRIMARY KEY,
			movie_id CHAR(36) NOT NULL,
			hall_id CHAR(36) NOT NULL,
			start_time DATETIME NOT NULL,
			end_time DATETIME NOT NULL,
			deleted_at DATETIME NULL,
			FOREIGN KEY (movie_id) REFERENCES movies (id),
			FOREIGN KEY (hall_id) REFERENCES halls (id)
		)`,
		indexes: []index{{name: "idx_screenings_hall_start", columns: "hall_id, start_time"}},
	},
	{
		// The composite primary key is the exclusivity guarantee for holds:
		// a second insert on the same seat fails instead of racing a SELECT.
		name: "seat_holds",
		ddl: `CREATE TABLE IF NOT EXISTS seat_holds (
			screening_id CHAR(36) NOT NULL,
			seat_id CHAR(36) NOT NULL,
			user_id VARCHAR(64) NOT NULL,
			expires_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (screening_id, seat_id)
		)`,
		indexes: []index{
			{name: "idx_seat_holds_user", columns: "user_id"},
			{name: "idx_seat_holds_expires", columns: "expires_at"},
		},
	},
	{
		name: "ledger_transactions",
		ddl: `CREATE TABLE IF NOT EXISTS ledger_transactions (
			id CHAR(36) NOT NULL PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			status VARCHAR(20) NOT NULL,
			total_amount_cents BIGINT NOT NULL,
			payment_method VARCHAR(30) NOT NULL,
			failure_reason VARCHAR(255) NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
	},
	{
		// live_key is 1 while a ticket is PENDING or PAID and NULL otherwise.
		// NULLs never collide in a unique index, so refunded and cancelled
		// rows accumulate freely while two live tickets for one seat cannot.
		name: "tickets",
		ddl: `CREATE TABLE IF NOT EXISTS tickets (
			id CHAR(36) NOT NULL PRIMARY KEY,
			screening_id CHAR(36) NOT NULL,
			seat_id CHAR(36) NOT NULL,
			user_id VARCHAR(64) NOT NULL,
			status VARCHAR(20) NOT NULL,
			price_cents BIGINT NOT NULL,
			transaction_id CHAR(36) NOT NULL,
			live_key TINYINT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			deleted_at DATETIME NULL,
			UNIQUE (screening_id, seat_id, live_key),
			FOREIGN KEY (transaction_id) REFERENCES ledger_transactions (id)
		)`,
		indexes: []index{{name: "idx_tickets_user", columns: "user_id"}},
	},
}

// Migrate creates every table and index that does not exist yet.  It is
// safe to run on every start.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	for _, t := range schema {
		if _, err := db.ExecContext(ctx, t.ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.name, err)
		}
		for _, ix := range t.indexes {
			if err := createIndex(ctx, db, driver, t.name, ix); err != nil {
				return fmt.Errorf("create index %s: %w", ix.name, err)
			}
		}
	}
	return nil
}

func createIndex(ctx context.Context, db *sql.DB, driver, tableName string, ix index) error {
	if driver != config.DriverMySQL {
		_, err := db.ExecContext(ctx, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", ix.name, tableName, ix.columns))
		return err
	}
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.statistics
		 WHERE table_schema = DATABASE() AND table_name = ? AND index_name = ?`,
		tableName, ix.name,
	).Scan(&n)
	if err != nil || n > 0 {
		return err
	}
	_, err = db.ExecContext(ctx, fmt.Sprintf("CREATE INDEX %s ON %s (%s)", ix.name, tableName, ix.columns))
	return err
}
