package sources

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/yairfalse/lifeline/pkg/domain"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// MySQLSource reads transaction records from a MySQL events table with
// customer_id, event_date, and amount columns.
type MySQLSource struct {
	logger *zap.Logger
	db     *sql.DB
	table  string
}

// OpenMySQL connects to MySQL and wraps the connection as a source.
func OpenMySQL(logger *zap.Logger, dsn, table string) (*MySQLSource, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &MySQLSource{logger: logger, db: db, table: table}, nil
}

// Transactions reads all event rows ordered by customer and time.
func (s *MySQLSource) Transactions(ctx context.Context) ([]domain.Transaction, error) {
	query := fmt.Sprintf(
		"SELECT customer_id, event_date, amount FROM %s ORDER BY customer_id, event_date",
		s.table)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", s.table, err)
	}
	defer rows.Close()

	var records []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		if err := rows.Scan(&tx.CustomerID, &tx.Timestamp, &tx.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		records = append(records, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event rows: %w", err)
	}

	s.logger.Info("Read transaction records from mysql",
		zap.String("table", s.table),
		zap.Int("records", len(records)))

	return records, nil
}

// Close releases the database connection.
func (s *MySQLSource) Close() error {
	return s.db.Close()
}
