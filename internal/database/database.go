// Package database opens the Postgres connection shared by every store.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-fulfillment/internal/config"
	"ms-fulfillment/internal/logger"
	"ms-fulfillment/internal/models"
)

const connectAttempts = 5

// Connect opens Postgres with retries and wraps it in bun.
func Connect(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*bun.DB, error) {
	var (
		sqldb *sql.DB
		err   error
	)
	for i := 0; i < connectAttempts; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, connectAttempts))
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err == nil {
			err = sqldb.PingContext(ctx)
		}
		if err == nil {
			break
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if sqldb != nil {
			sqldb.Close()
		}
		if i < connectAttempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect postgres after %d attempts: %w", connectAttempts, err)
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	log.Info("DATABASE", "PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

// Models lists every table, in creation order.
func Models() []interface{} {
	return []interface{}{
		(*models.Order)(nil),
		(*models.OrderItem)(nil),
		(*models.KitchenTicket)(nil),
		(*models.KitchenTicketItem)(nil),
	}
}

// CreateSchema creates tables straight from the bun models. Used by tests and
// the migrate create-schema command; production goes through migrations.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	for _, m := range Models() {
		if _, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", m, err)
		}
	}
	return nil
}

func DropSchema(ctx context.Context, db *bun.DB) error {
	all := Models()
	for i := len(all) - 1; i >= 0; i-- {
		if _, err := db.NewDropTable().Model(all[i]).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("drop table for %T: %w", all[i], err)
		}
	}
	return nil
}

// IsUniqueViolation recognises unique-constraint failures from Postgres and
// from the sqlite driver used in tests.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
