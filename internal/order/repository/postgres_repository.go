package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fjod/storefront/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const orderColumns = `id, idempotency_key, owner_kind, owner_id, customer, items, address, payment,
	subtotal, discount, delivery_charge, total_amount, status, cart_version, created_at, updated_at`

type Repository struct {
	db *sql.DB
}

func NewRepository(cred *Credentials) (*Repository, error) {
	sslMode := cred.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName,
		sslMode)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	return &Repository{db: db}, nil
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "orders_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) CreateOrder(ctx context.Context, order *domain.Order) error {
	customer, items, address, payment, err := encodeOrder(order)
	if err != nil {
		return domain.Persistence("encode order", err)
	}
	event, err := json.Marshal(domain.NewOrderPlacedEvent(order))
	if err != nil {
		return domain.Persistence("encode order event", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Persistence("begin order transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := `INSERT INTO orders (` + orderColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err = tx.ExecContext(ctx, query,
		order.ID,
		nullable(order.IdempotencyKey),
		order.Owner.Kind,
		order.Owner.ID,
		customer,
		items,
		address,
		payment,
		order.Subtotal,
		order.Discount,
		order.DeliveryCharge,
		order.TotalAmount,
		order.Status,
		order.CartVersion,
		order.CreatedAt,
		order.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateOrder
		}
		return domain.Persistence("insert order", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO outbox_events (aggregate_id, event_type, payload) VALUES ($1, $2, $3)`,
		order.ID, domain.EventOrderPlaced, event)
	if err != nil {
		return domain.Persistence("insert outbox event", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Persistence("commit order", err)
	}
	return nil
}

func (r *Repository) GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, domain.Persistence("query order by id", err)
	}
	return order, nil
}

func (r *Repository) GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE idempotency_key = $1`, key)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, domain.Persistence("query order by idempotency key", err)
	}
	return order, nil
}

func (r *Repository) ListOrdersByOwner(ctx context.Context, owner domain.Owner) ([]*domain.Order, error) {
	return r.listOrders(ctx, "list orders by owner",
		`SELECT `+orderColumns+` FROM orders WHERE owner_kind = $1 AND owner_id = $2 ORDER BY created_at DESC`,
		owner.Kind, owner.ID)
}

func (r *Repository) ListOrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error) {
	return r.listOrders(ctx, "list orders by status",
		`SELECT `+orderColumns+` FROM orders WHERE status = $1 ORDER BY created_at ASC`,
		status)
}

func (r *Repository) listOrders(ctx context.Context, op, query string, args ...any) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Persistence(op, err)
	}
	defer rows.Close()

	orders := make([]*domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, domain.Persistence(op, fmt.Errorf("scan order row: %w", err))
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Persistence(op, fmt.Errorf("row iteration error: %w", err))
	}
	return orders, nil
}

func (r *Repository) SetOrderStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3 RETURNING `+orderColumns,
		to, id, from)
	order, err := scanOrder(row)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Persistence("update order status", err)
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, domain.Persistence("check order", err)
	}
	if !exists {
		return nil, ErrOrderNotFound
	}
	return nil, ErrStatusChanged
}

func (r *Repository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, aggregate_id, event_type, payload, created_at
		 FROM outbox_events WHERE processed_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, domain.Persistence("query outbox events", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, domain.Persistence("scan outbox event", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Persistence("iterate outbox events", err)
	}
	return events, nil
}

func (r *Repository) MarkEventAsProcessed(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE outbox_events SET processed_at = NOW() WHERE id = $1`, id); err != nil {
		return domain.Persistence("mark outbox event processed", err)
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (*domain.Order, error) {
	var (
		o                                 domain.Order
		key                               sql.NullString
		customer, items, address, payment []byte
	)
	err := s.Scan(
		&o.ID,
		&key,
		&o.Owner.Kind,
		&o.Owner.ID,
		&customer,
		&items,
		&address,
		&payment,
		&o.Subtotal,
		&o.Discount,
		&o.DeliveryCharge,
		&o.TotalAmount,
		&o.Status,
		&o.CartVersion,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.IdempotencyKey = key.String

	if err := json.Unmarshal(customer, &o.Customer); err != nil {
		return nil, fmt.Errorf("unmarshal order customer: %w", err)
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}
	if err := json.Unmarshal(address, &o.Address); err != nil {
		return nil, fmt.Errorf("unmarshal order address: %w", err)
	}
	if err := json.Unmarshal(payment, &o.Payment); err != nil {
		return nil, fmt.Errorf("unmarshal order payment: %w", err)
	}
	return &o, nil
}

func encodeOrder(o *domain.Order) (customer, items, address, payment []byte, err error) {
	if customer, err = json.Marshal(o.Customer); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal order customer: %w", err)
	}
	if items, err = json.Marshal(o.Items); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal order items: %w", err)
	}
	if address, err = json.Marshal(o.Address); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal order address: %w", err)
	}
	if payment, err = json.Marshal(o.Payment); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal order payment: %w", err)
	}
	return customer, items, address, payment, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
