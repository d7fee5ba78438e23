package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/annel0/blastguard/internal/durability"
	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// SQLStore хранит снимок в таблице block_durability.
// Один и тот же код работает поверх SQLite (modernc) и MariaDB/MySQL.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLiteStore открывает файл SQLite. Каталог создаётся при необходимости.
func NewSQLiteStore(ctx context.Context, path string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть SQLite: %w", err)
	}
	// SQLite не любит конкурентных писателей
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", p, err)
		}
	}
	return newSQLStore(ctx, db, "sqlite")
}

// NewMySQLStore подключается к MariaDB/MySQL.
//
// Параметры:
//
//	dsn - строка подключения к базе данных (user:pass@tcp(host:port)/dbname)
func NewMySQLStore(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}
	return newSQLStore(ctx, db, "mysql")
}

func newSQLStore(ctx context.Context, db *sql.DB, dialect string) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect}
	if err := s.createTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицу: %w", err)
	}
	return s, nil
}

// createTable создает таблицу block_durability, если она не существует.
func (s *SQLStore) createTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS block_durability (
			world_id BIGINT NOT NULL,
			x        INT    NOT NULL,
			y        INT    NOT NULL,
			z        INT    NOT NULL,
			damage   INT    NOT NULL,
			PRIMARY KEY (world_id, x, y, z)
		)
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Dialect возвращает имя драйвера: sqlite или mysql
func (s *SQLStore) Dialect() string {
	return s.dialect
}

func (s *SQLStore) Load(ctx context.Context) (map[durability.BlockKey]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT world_id, x, y, z, damage FROM block_durability`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения block_durability: %w", err)
	}
	defer rows.Close()

	out := make(map[durability.BlockKey]int)
	for rows.Next() {
		var (
			world   int64
			x, y, z int32
			damage  int
		)
		if err := rows.Scan(&world, &x, &y, &z, &damage); err != nil {
			return nil, err
		}
		if damage <= 0 {
			continue
		}
		out[durability.BlockKey{World: durability.WorldID(uint64(world)), X: x, Y: y, Z: z}] = damage
	}
	return out, rows.Err()
}

// Save заменяет содержимое таблицы в одной транзакции
func (s *SQLStore) Save(ctx context.Context, data map[durability.BlockKey]int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM block_durability`); err != nil {
		return fmt.Errorf("очистка block_durability: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO block_durability (world_id, x, y, z, damage) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for k, damage := range data {
		if _, err := stmt.ExecContext(ctx, int64(k.World), k.X, k.Y, k.Z, damage); err != nil {
			return fmt.Errorf("запись %s: %w", k, err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
