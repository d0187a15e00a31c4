package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Supported database drivers
const (
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"
)

const tableListItems = "list_items"

const schemaListItems = `CREATE TABLE IF NOT EXISTS list_items (
	id VARCHAR(64) PRIMARY KEY,
	list_id VARCHAR(64) NOT NULL,
	name TEXT NOT NULL,
	is_checked BOOLEAN NOT NULL DEFAULT FALSE,
	last_modified_by VARCHAR(64) NOT NULL DEFAULT ''
)`

// SQLStore refetches list items from a SQL database
type SQLStore struct {
	raw  *sql.DB
	db   *goqu.Database
	snap *snapshots
}

// OpenSQLStore opens a store on driver (sqlite3 or mysql) and ensures the
// list_items table exists.
func OpenSQLStore(driver, dsn string) (*SQLStore, error) {
	switch driver {
	case DriverSQLite, DriverMySQL:
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	raw, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := raw.Exec(schemaListItems); err != nil {
		raw.Close()
		return nil, fmt.Errorf("failed to create %s: %w", tableListItems, err)
	}

	log.Info().Str("driver", driver).Msg("List item store opened")

	return &SQLStore{
		raw:  raw,
		db:   goqu.Dialect(driver).DB(raw),
		snap: newSnapshots(),
	}, nil
}

// RefetchListItems reads every item of the list and replaces the cached copy
func (s *SQLStore) RefetchListItems(ctx context.Context, listID string) error {
	var items []Item
	err := s.db.From(tableListItems).
		Select("id", "list_id", "name", "is_checked", "last_modified_by").
		Where(goqu.C("list_id").Eq(listID)).
		Order(goqu.C("id").Asc()).
		ScanStructsContext(ctx, &items)
	if err != nil {
		return fmt.Errorf("refetch list %s: %w", listID, err)
	}

	s.snap.replace(listID, items)
	return nil
}

// Items returns the last refetched items of a list
func (s *SQLStore) Items(listID string) ([]Item, bool) {
	return s.snap.get(listID)
}

// Put writes an item, replacing any row with the same id
func (s *SQLStore) Put(ctx context.Context, item Item) error {
	return s.db.WithTx(func(tx *goqu.TxDatabase) error {
		if _, err := tx.Delete(tableListItems).
			Where(goqu.C("id").Eq(item.ID)).
			Executor().ExecContext(ctx); err != nil {
			return err
		}
		_, err := tx.Insert(tableListItems).Rows(item).Executor().ExecContext(ctx)
		return err
	})
}

// Delete removes an item
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.Delete(tableListItems).
		Where(goqu.C("id").Eq(id)).
		Executor().ExecContext(ctx)
	return err
}

// Close closes the database
func (s *SQLStore) Close() error {
	return s.raw.Close()
}
