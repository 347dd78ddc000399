package db

import (
	"context"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect opens the database and applies migrations.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(ctx context.Context, db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id BIGSERIAL PRIMARY KEY,
            name TEXT NOT NULL,
            avatar_url TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS communities (
            id BIGSERIAL PRIMARY KEY,
            seller_id BIGINT NOT NULL UNIQUE REFERENCES users(id),
            name TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS community_members (
            community_id BIGINT NOT NULL REFERENCES communities(id) ON DELETE CASCADE,
            user_id BIGINT NOT NULL REFERENCES users(id),
            joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY(community_id, user_id)
        );`,
		// clock_timestamp keeps created_at increasing across messages inserted in one transaction.
		`CREATE TABLE IF NOT EXISTS community_chat_messages (
            id BIGSERIAL PRIMARY KEY,
            community_id BIGINT NOT NULL REFERENCES communities(id) ON DELETE CASCADE,
            author_id BIGINT NOT NULL REFERENCES users(id),
            content TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
            deleted_at TIMESTAMPTZ
        );`,
		`CREATE INDEX IF NOT EXISTS idx_community_chat_messages_order
            ON community_chat_messages (community_id, created_at, id)
            WHERE deleted_at IS NULL;`,
		`CREATE TABLE IF NOT EXISTS read_markers (
            user_id BIGINT NOT NULL REFERENCES users(id),
            community_id BIGINT NOT NULL REFERENCES communities(id) ON DELETE CASCADE,
            last_read_message_id BIGINT NOT NULL,
            last_read_message_created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY(user_id, community_id)
        );`,
	}

	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	log.Println("database migrations applied")
	return nil
}
