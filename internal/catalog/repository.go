package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/storefront/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

var ErrProductNotFound = fmt.Errorf("product %w", domain.ErrNotFound)

// Repository is the SQLite-backed catalog.
type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) RunMigrations(migrationsPath string) error {
	driver, err := sqlite.WithInstance(r.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath),
		"sqlite",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

func (r *Repository) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	query := `
		SELECT p.id, p.name, c.name, p.image_url, p.price, p.offer_percent, p.stock
		FROM products p
		JOIN categories c ON c.id = p.category_id
		WHERE p.id = ?
	`

	var (
		p            domain.Product
		price, offer string
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.Category,
		&p.ImageURL,
		&price,
		&offer,
		&p.Available,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%d: %w", id, ErrProductNotFound)
	}
	if err != nil {
		return nil, domain.Persistence("query product", err)
	}

	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse price of product %d: %w", id, err)
	}
	if p.OfferPercent, err = decimal.NewFromString(offer); err != nil {
		return nil, fmt.Errorf("parse offer of product %d: %w", id, err)
	}
	return &p, nil
}

// CreateProduct inserts a product, creating its category on first use.
func (r *Repository) CreateProduct(ctx context.Context, p *domain.Product) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, domain.Persistence("begin tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO categories (name) VALUES (?)`, p.Category); err != nil {
		return 0, domain.Persistence("insert category", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO products (name, category_id, image_url, price, offer_percent, stock)
		VALUES (?, (SELECT id FROM categories WHERE name = ?), ?, ?, ?, ?)`,
		p.Name, p.Category, p.ImageURL, p.Price.String(), p.OfferPercent.String(), p.Available)
	if err != nil {
		return 0, domain.Persistence("insert product", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, domain.Persistence("read product id", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, domain.Persistence("commit product", err)
	}
	return id, nil
}

// SetStock overwrites the stock counter of a product.
func (r *Repository) SetStock(ctx context.Context, id int64, stock int) error {
	if stock < 0 {
		return domain.Invalid("stock", "must not be negative")
	}
	res, err := r.db.ExecContext(ctx, `UPDATE products SET stock = ? WHERE id = ?`, stock, id)
	if err != nil {
		return domain.Persistence("update stock", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Persistence("update stock", err)
	}
	if n == 0 {
		return fmt.Errorf("%d: %w", id, ErrProductNotFound)
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}
