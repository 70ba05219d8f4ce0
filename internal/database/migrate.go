package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	id         BIGINT PRIMARY KEY,
	nick_name  TEXT NOT NULL DEFAULT '',
	first_name TEXT NOT NULL DEFAULT '',
	last_name  TEXT NOT NULL DEFAULT '',
	group_num  INTEGER
);

CREATE TABLE IF NOT EXISTS classes (
	id    BIGSERIAL PRIMARY KEY,
	place TEXT NOT NULL,
	date  DATE NOT NULL,
	time  TEXT NOT NULL,
	open  BOOLEAN NOT NULL DEFAULT TRUE,
	UNIQUE (place, date, time)
);

CREATE TABLE IF NOT EXISTS schedule (
	user_id  BIGINT NOT NULL REFERENCES users (id),
	class_id BIGINT NOT NULL REFERENCES classes (id),
	PRIMARY KEY (user_id, class_id)
);

CREATE INDEX IF NOT EXISTS schedule_class_id_idx ON schedule (class_id);

CREATE TABLE IF NOT EXISTS settings (
	param TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

INSERT INTO settings (param, value) VALUES ('allow', 'yes')
ON CONFLICT (param) DO NOTHING;
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id         INTEGER PRIMARY KEY,
	nick_name  TEXT NOT NULL DEFAULT '',
	first_name TEXT NOT NULL DEFAULT '',
	last_name  TEXT NOT NULL DEFAULT '',
	group_num  INTEGER
);

CREATE TABLE IF NOT EXISTS classes (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	place TEXT NOT NULL,
	date  TEXT NOT NULL,
	time  TEXT NOT NULL,
	open  INTEGER NOT NULL DEFAULT 1,
	UNIQUE (place, date, time)
);

CREATE TABLE IF NOT EXISTS schedule (
	user_id  INTEGER NOT NULL REFERENCES users (id),
	class_id INTEGER NOT NULL REFERENCES classes (id),
	PRIMARY KEY (user_id, class_id)
);

CREATE INDEX IF NOT EXISTS schedule_class_id_idx ON schedule (class_id);

CREATE TABLE IF NOT EXISTS settings (
	param TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

INSERT INTO settings (param, value) VALUES ('allow', 'yes')
ON CONFLICT (param) DO NOTHING;
`

// MigratePostgres creates the schema if it does not exist yet.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

// MigrateSQLite creates the schema if it does not exist yet.
func MigrateSQLite(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("migrate sqlite: %w", err)
	}
	return nil
}
