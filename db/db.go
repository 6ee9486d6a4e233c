package db

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the database struct.
type DB struct {
	db *sql.DB
}

var (
	dbInstance *DB
	dbOnce     sync.Once
)

func GetDB() *DB {
	dbOnce.Do(func() {
		instance, err := Open("database.db")
		if err != nil {
			panic(err)
		}
		dbInstance = instance
	})

	return dbInstance
}

// Open opens a sqlite database at path. Most callers want the GetDB
// singleton; tests open throwaway in-memory instances.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	var journalMode string
	err = db.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode)
	if err != nil {
		log.Printf("Warning: Failed to enable WAL mode: %v", err)
	} else {
		log.Printf("Database journal mode: %s", journalMode)
	}

	// Optimize PRAGMAs for concurrent inbox workload
	db.Exec("PRAGMA synchronous = NORMAL")
	db.Exec("PRAGMA cache_size = -64000")
	db.Exec("PRAGMA temp_store = MEMORY")
	db.Exec("PRAGMA busy_timeout = 5000")
	db.Exec("PRAGMA foreign_keys = ON")

	log.Printf("Database initialized with connection pooling (max 25 connections)")

	return &DB{db: db}, nil
}

// wrapTransaction runs the given function within a transaction. A busy
// database aborts the attempt, so every retry starts a fresh transaction;
// the context deadline bounds the retries.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	for {
		tx, err := db.db.BeginTx(ctx, nil)
		if err != nil {
			log.Printf("error starting transaction: %s", err)
			return err
		}
		err = f(tx)
		if err != nil {
			tx.Rollback()
			if isBusy(err) {
				continue
			}
			log.Printf("error in transaction: %s", err)
			return err
		}
		err = tx.Commit()
		if err != nil {
			if isBusy(err) {
				continue
			}
			log.Printf("error committing transaction: %s", err)
			return err
		}
		return nil
	}
}

func isBusy(err error) bool {
	serr, ok := err.(*sqlite.Error)
	return ok && serr.Code() == sqlitelib.SQLITE_BUSY
}

// IsUniqueViolation reports whether err is a sqlite uniqueness-constraint
// failure. Stub upserts use it to resolve duplicate-insert races.
func IsUniqueViolation(err error) bool {
	serr, ok := err.(*sqlite.Error)
	if !ok {
		return false
	}
	code := serr.Code()
	return code == sqlitelib.SQLITE_CONSTRAINT ||
		code == sqlitelib.SQLITE_CONSTRAINT_UNIQUE ||
		code == sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY
}
