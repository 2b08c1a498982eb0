package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"stock-sync/internal/models"
	"stock-sync/internal/util"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrNotFound is returned when a session or config row does not exist
	ErrNotFound = errors.New("not found")
	// ErrSessionClosed is returned when writing to a session that is no longer running
	ErrSessionClosed = errors.New("session is not running")
)

type Store struct {
	db                  *sqlx.DB
	reservationStatuses []string
}

// NewStore creates a new database store. reservationStatuses lists the order
// statuses whose lines count against available stock.
func NewStore(databaseURL string, reservationStatuses []string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, reservationStatuses: reservationStatuses}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection, used by the readiness endpoint
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RunMigrations applies the embedded schema migrations
func (s *Store) RunMigrations() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}

	driver, err := postgres.WithInstance(s.db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, _, _ := m.Version()
	util.GetLogger().Sugar().Infof("Migrations applied, schema version %d", version)
	return nil
}

type productRow struct {
	models.Product
	PlatformList pq.StringArray `db:"platforms"`
}

// ListProducts returns the full catalog with platform membership
func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	var rows []productRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT barcode, name, platforms, asin, merchant_sku, woo_product_id, hepsiburada_sku
		FROM products ORDER BY barcode`)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	products := make([]models.Product, len(rows))
	for i, row := range rows {
		p := row.Product
		for _, name := range row.PlatformList {
			if platform, err := models.ParsePlatform(name); err == nil {
				p.Platforms = append(p.Platforms, platform)
			}
		}
		products[i] = p
	}
	return products, nil
}

// ListBarcodeAliases returns every alias mapping
func (s *Store) ListBarcodeAliases(ctx context.Context) ([]models.BarcodeAlias, error) {
	var aliases []models.BarcodeAlias
	err := s.db.SelectContext(ctx, &aliases, "SELECT alias_barcode, main_barcode FROM barcode_aliases")
	if err != nil {
		return nil, fmt.Errorf("failed to list barcode aliases: %w", err)
	}
	return aliases, nil
}

type reservationRow struct {
	Barcode  string `db:"barcode"`
	Reserved int    `db:"reserved"`
}

// LoadStockSnapshot reads central stock and open reservations in one
// repeatable-read transaction so both come from the same point in time
func (s *Store) LoadStockSnapshot(ctx context.Context) (*models.StockSnapshot, error) {
	ctx, span := util.StartSpan(ctx, "Store.LoadStockSnapshot")
	defer span.End()

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer tx.Rollback()

	var central []models.CentralStock
	if err := tx.SelectContext(ctx, &central, "SELECT barcode, qty FROM central_stock"); err != nil {
		return nil, fmt.Errorf("failed to read central stock: %w", err)
	}

	var reserved []reservationRow
	err = tx.SelectContext(ctx, &reserved, `
		SELECT ol.barcode, COALESCE(SUM(ol.quantity), 0) AS reserved
		FROM order_lines ol
		JOIN orders o ON o.id = ol.order_id
		WHERE o.status = ANY($1)
		GROUP BY ol.barcode`, pq.Array(s.reservationStatuses))
	if err != nil {
		return nil, fmt.Errorf("failed to read reservations: %w", err)
	}

	snap := &models.StockSnapshot{
		Central:  make(map[string]int, len(central)),
		Reserved: make(map[string]int, len(reserved)),
		TakenAt:  time.Now().UTC(),
	}
	for _, c := range central {
		snap.Central[c.Barcode] += c.Qty
	}
	for _, r := range reserved {
		snap.Reserved[r.Barcode] += r.Reserved
	}

	return snap, tx.Commit()
}
