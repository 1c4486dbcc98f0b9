package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func Connect(databaseURL string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// Migrate creates the tables this service touches when they do not exist yet.
// On the hosted backend they already exist and every statement is a no-op.
func Migrate(db *pgxpool.Pool) error {
	ctx := context.Background()

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS clients (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name VARCHAR(255) NOT NULL,
			phone VARCHAR(50),
			credits INT NOT NULL DEFAULT 0,
			fidelity_points INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_clients_phone ON clients(phone)`,

		`CREATE TABLE IF NOT EXISTS financial_transactions (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			amount NUMERIC(12,2) NOT NULL,
			type VARCHAR(20) NOT NULL,
			description TEXT,
			payment_method VARCHAR(100),
			client_name VARCHAR(255),
			client_id UUID REFERENCES clients(id) ON DELETE SET NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS whatsapp_command_logs (
			id UUID PRIMARY KEY,
			message_id VARCHAR(255),
			sender VARCHAR(50) NOT NULL,
			client_id UUID REFERENCES clients(id) ON DELETE SET NULL,
			text TEXT NOT NULL,
			action VARCHAR(50) NOT NULL,
			status VARCHAR(50) NOT NULL,
			applied JSONB NOT NULL DEFAULT '[]',
			failures JSONB NOT NULL DEFAULT '{}',
			error TEXT,
			reply TEXT,
			router_host VARCHAR(255),
			received_at TIMESTAMPTZ NOT NULL,
			processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_command_logs_processed ON whatsapp_command_logs(processed_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_command_logs_sender ON whatsapp_command_logs(sender)`,

		`CREATE OR REPLACE FUNCTION increment_client_stats(p_client_id UUID, p_credits INT, p_points INT)
		RETURNS VOID AS $$
		BEGIN
			UPDATE clients
			SET credits = credits + p_credits,
				fidelity_points = fidelity_points + p_points
			WHERE id = p_client_id;
			IF NOT FOUND THEN
				RAISE EXCEPTION 'client % not found', p_client_id;
			END IF;
		END;
		$$ LANGUAGE plpgsql`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
