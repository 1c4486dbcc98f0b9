package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wificontrol/wificontrol-pro/internal/domain"
)

type Repositories struct {
	db          *pgxpool.Pool
	Client      *ClientRepository
	Transaction *TransactionRepository
	CommandLog  *CommandLogRepository
}

func NewRepositories(db *pgxpool.Pool) *Repositories {
	return &Repositories{
		db:          db,
		Client:      &ClientRepository{db: db},
		Transaction: &TransactionRepository{db: db},
		CommandLog:  &CommandLogRepository{db: db},
	}
}

// ErrClientNotFound is returned when a stats update matches no client row
var ErrClientNotFound = errors.New("client not found")

// ClientRepository reads and updates the hosted clients table
type ClientRepository struct {
	db *pgxpool.Pool
}

func (r *ClientRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Client, error) {
	client := &domain.Client{}
	err := r.db.QueryRow(ctx, `
		SELECT id, name, phone, credits, fidelity_points, created_at
		FROM clients WHERE id = $1
	`, id).Scan(&client.ID, &client.Name, &client.Phone, &client.Credits, &client.FidelityPoints, &client.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return client, err
}

// GetByPhone matches the digits-only phone against the stored number, which may be formatted
func (r *ClientRepository) GetByPhone(ctx context.Context, phone string) (*domain.Client, error) {
	client := &domain.Client{}
	err := r.db.QueryRow(ctx, `
		SELECT id, name, phone, credits, fidelity_points, created_at
		FROM clients
		WHERE regexp_replace(COALESCE(phone, ''), '\D', '', 'g') IN ($1, substring($1 from 3))
		ORDER BY created_at
		LIMIT 1
	`, phone).Scan(&client.ID, &client.Name, &client.Phone, &client.Credits, &client.FidelityPoints, &client.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return client, err
}

// IncrementStats adds credits and points through the increment_client_stats function
func (r *ClientRepository) IncrementStats(ctx context.Context, id uuid.UUID, credits, points int) error {
	_, err := r.db.Exec(ctx, `SELECT increment_client_stats($1, $2, $3)`, id, credits, points)
	return err
}

// AddStats reads the current totals and writes the new ones. It is the fallback
// when the stored function is unavailable.
func (r *ClientRepository) AddStats(ctx context.Context, id uuid.UUID, credits, points int) error {
	var current, currentPoints int
	err := r.db.QueryRow(ctx, `SELECT credits, fidelity_points FROM clients WHERE id = $1`, id).Scan(&current, &currentPoints)
	if err == pgx.ErrNoRows {
		return ErrClientNotFound
	}
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE clients SET credits = $1, fidelity_points = $2 WHERE id = $3
	`, current+credits, currentPoints+points, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrClientNotFound
	}
	return nil
}

// ListLowCredit returns clients with a phone number and at most threshold credits
func (r *ClientRepository) ListLowCredit(ctx context.Context, threshold int) ([]*domain.Client, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, phone, credits, fidelity_points, created_at
		FROM clients
		WHERE credits <= $1 AND phone IS NOT NULL AND phone <> ''
		ORDER BY credits, name
	`, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []*domain.Client
	for rows.Next() {
		c := &domain.Client{}
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Credits, &c.FidelityPoints, &c.CreatedAt); err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

type TransactionRepository struct {
	db *pgxpool.Pool
}

func (r *TransactionRepository) Create(ctx context.Context, tx *domain.FinancialTransaction) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO financial_transactions (amount, type, description, payment_method, client_name, client_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, tx.Amount, tx.Type, tx.Description, tx.PaymentMethod, tx.ClientName, tx.ClientID).Scan(&tx.ID, &tx.CreatedAt)
}

type CommandLogRepository struct {
	db *pgxpool.Pool
}

func (r *CommandLogRepository) Create(ctx context.Context, entry *domain.CommandLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	applied := entry.Applied
	if applied == nil {
		applied = []string{}
	}
	failures := entry.Failures
	if failures == nil {
		failures = map[string]string{}
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO whatsapp_command_logs
			(id, message_id, sender, client_id, text, action, status, applied, failures, error, reply, router_host, received_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, entry.ID, entry.MessageID, entry.Sender, entry.ClientID, entry.Text, entry.Action, entry.Status,
		applied, failures, entry.Error, entry.Reply, entry.RouterHost, entry.ReceivedAt, entry.ProcessedAt)
	if err != nil {
		return fmt.Errorf("insert command log: %w", err)
	}
	return nil
}

// ListRecent returns the newest command logs first
func (r *CommandLogRepository) ListRecent(ctx context.Context, limit int) ([]*domain.CommandLog, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, COALESCE(message_id, ''), sender, client_id, text, action, status, applied, failures,
			error, COALESCE(reply, ''), COALESCE(router_host, ''), received_at, processed_at
		FROM whatsapp_command_logs
		ORDER BY processed_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*domain.CommandLog
	for rows.Next() {
		l := &domain.CommandLog{}
		if err := rows.Scan(
			&l.ID, &l.MessageID, &l.Sender, &l.ClientID, &l.Text, &l.Action, &l.Status, &l.Applied, &l.Failures,
			&l.Error, &l.Reply, &l.RouterHost, &l.ReceivedAt, &l.ProcessedAt,
		); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
