package postgres

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/deident/internal/storage/interfaces"
	"github.com/inferloop/deident/pkg/errors"
	"github.com/inferloop/deident/pkg/models"
)

// PostgresConfig holds configuration for PostgreSQL table storage. DSN, when
// set, takes precedence over the individual connection fields.
type PostgresConfig struct {
	DSN             string        `json:"dsn" yaml:"dsn" mapstructure:"dsn"`
	Host            string        `json:"host" yaml:"host" mapstructure:"host"`
	Port            int           `json:"port" yaml:"port" mapstructure:"port"`
	Database        string        `json:"database" yaml:"database" mapstructure:"database"`
	Username        string        `json:"username" yaml:"username" mapstructure:"username"`
	Password        string        `json:"password" yaml:"password" mapstructure:"password"`
	SSLMode         string        `json:"ssl_mode" yaml:"ssl_mode" mapstructure:"ssl_mode"`
	Schema          string        `json:"schema" yaml:"schema" mapstructure:"schema"`
	ConnectTimeout  time.Duration `json:"connect_timeout" yaml:"connect_timeout" mapstructure:"connect_timeout"`
	MaxConnections  int           `json:"max_connections" yaml:"max_connections" mapstructure:"max_connections"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// PostgresStorage reads datasets from tables and writes them to TEXT-typed
// tables. Every column is read back as text; SQL NULL is an undefined cell.
type PostgresStorage struct {
	config   *PostgresConfig
	db       *sqlx.DB
	logger   *logrus.Logger
	mu       sync.RWMutex
	readOps  int64
	writeOps int64
	since    time.Time
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(config *PostgresConfig, logger *logrus.Logger) (*PostgresStorage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "PostgreSQL config cannot be nil")
	}
	if config.DSN == "" && config.Host == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "PostgreSQL DSN or host is required")
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &PostgresStorage{
		config: config,
		logger: logger,
		since:  time.Now(),
	}, nil
}

// Connect opens the connection pool and pings the server
func (ps *PostgresStorage) Connect(ctx context.Context) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.db != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, ps.config.ConnectTimeout)
	defer cancel()

	db, err := sqlx.ConnectContext(ctx, "postgres", ps.connectionString())
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectFailed, "failed to connect to PostgreSQL")
	}

	if ps.config.MaxConnections > 0 {
		db.SetMaxOpenConns(ps.config.MaxConnections)
	}
	if ps.config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(ps.config.MaxIdleConns)
	}
	if ps.config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(ps.config.ConnMaxLifetime)
	}

	ps.db = db
	ps.logger.WithFields(logrus.Fields{
		"host":     ps.config.Host,
		"database": ps.config.Database,
	}).Info("Connected to PostgreSQL")

	return nil
}

// Close closes the database connection
func (ps *PostgresStorage) Close() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.db == nil {
		return nil
	}

	err := ps.db.Close()
	ps.db = nil
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeInternalError, "failed to close database connection")
	}
	return nil
}

// GetInfo returns information about the PostgreSQL storage
func (ps *PostgresStorage) GetInfo() interfaces.StorageInfo {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	return interfaces.StorageInfo{
		Type:        "postgres",
		Description: "PostgreSQL tables with TEXT columns",
		Connected:   ps.db != nil,
		ReadOps:     ps.readOps,
		WriteOps:    ps.writeOps,
		Since:       ps.since,
	}
}

// ReadDataset selects every row of table. Column order follows the table
// definition; row order is unspecified.
func (ps *PostgresStorage) ReadDataset(ctx context.Context, table string) (*models.Dataset, error) {
	ps.mu.RLock()
	db := ps.db
	ps.mu.RUnlock()

	if db == nil {
		return nil, errors.NewStorageError(errors.CodeNotConnected, "PostgreSQL not connected")
	}

	schema, name, err := ps.splitTable(table)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryxContext(ctx, "SELECT * FROM "+quoteTable(schema, name))
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, fmt.Sprintf("failed to query table %s", table))
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "failed to read column names")
	}

	var data [][]models.Value
	for rows.Next() {
		cells, err := rows.SliceScan()
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "failed to scan row")
		}
		row := make([]models.Value, len(cells))
		for i, cell := range cells {
			row[i] = toValue(cell)
		}
		data = append(data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "failed to iterate rows")
	}

	ds, err := models.NewDataset(columns, data)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidInput, fmt.Sprintf("table %s is not a valid dataset", table))
	}

	ps.mu.Lock()
	ps.readOps++
	ps.mu.Unlock()

	ps.logger.WithFields(logrus.Fields{
		"table": table,
		"rows":  ds.Len(),
	}).Info("Dataset loaded from PostgreSQL")

	return ds, nil
}

// WriteDataset replaces table with ds inside one transaction, loading rows
// with COPY.
func (ps *PostgresStorage) WriteDataset(ctx context.Context, table string, ds *models.Dataset) error {
	ps.mu.RLock()
	db := ps.db
	ps.mu.RUnlock()

	if db == nil {
		return errors.NewStorageError(errors.CodeNotConnected, "PostgreSQL not connected")
	}
	if ds == nil {
		return errors.NewValidationError(errors.CodeInvalidInput, "dataset cannot be nil")
	}

	schema, name, err := ps.splitTable(table)
	if err != nil {
		return err
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "failed to begin transaction")
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DROP TABLE IF EXISTS " + quoteTable(schema, name),
		createTableStatement(schema, name, ds.Columns),
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, fmt.Sprintf("failed to prepare table %s", table))
		}
	}

	copyStmt, err := tx.PreparexContext(ctx, pq.CopyInSchema(schema, name, ds.Columns...))
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "failed to start COPY")
	}

	args := make([]interface{}, len(ds.Columns))
	for _, row := range ds.Rows {
		for i, v := range row {
			if v.Valid {
				args[i] = v.Text
			} else {
				args[i] = nil
			}
		}
		if _, err := copyStmt.ExecContext(ctx, args...); err != nil {
			copyStmt.Close()
			return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "failed to copy row")
		}
	}
	if _, err := copyStmt.ExecContext(ctx); err != nil {
		copyStmt.Close()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "failed to flush COPY")
	}
	if err := copyStmt.Close(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "failed to finish COPY")
	}

	if err := tx.Commit(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "failed to commit")
	}

	ps.mu.Lock()
	ps.writeOps++
	ps.mu.Unlock()

	ps.logger.WithFields(logrus.Fields{
		"table": table,
		"rows":  ds.Len(),
	}).Info("Dataset written to PostgreSQL")

	return nil
}

func (ps *PostgresStorage) connectionString() string {
	if ps.config.DSN != "" {
		return ps.config.DSN
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   ps.config.Host,
		Path:   "/" + ps.config.Database,
	}
	if ps.config.Port > 0 {
		u.Host = fmt.Sprintf("%s:%d", ps.config.Host, ps.config.Port)
	}
	if ps.config.Username != "" {
		u.User = url.UserPassword(ps.config.Username, ps.config.Password)
	}
	if ps.config.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{ps.config.SSLMode}}.Encode()
	}
	return u.String()
}

// splitTable resolves "schema.table" or a bare table name against the
// configured schema.
func (ps *PostgresStorage) splitTable(location string) (string, string, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", "", errors.NewValidationError(errors.CodeInvalidInput, "table name is required")
	}

	parts := strings.Split(location, ".")
	switch len(parts) {
	case 1:
		schema := ps.config.Schema
		if schema == "" {
			schema = "public"
		}
		return schema, parts[0], nil
	case 2:
		if parts[0] == "" || parts[1] == "" {
			break
		}
		return parts[0], parts[1], nil
	}
	return "", "", errors.NewValidationError(errors.CodeInvalidInput, fmt.Sprintf("invalid table name %q", location))
}

func quoteTable(schema, name string) string {
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(name)
}

func createTableStatement(schema, name string, columns []string) string {
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = pq.QuoteIdentifier(c) + " TEXT"
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteTable(schema, name), strings.Join(defs, ", "))
}

func toValue(cell interface{}) models.Value {
	switch v := cell.(type) {
	case nil:
		return models.Null()
	case []byte:
		return models.String(string(v))
	case string:
		return models.String(v)
	case time.Time:
		return models.String(v.Format("2006-01-02 15:04:05"))
	default:
		return models.String(fmt.Sprint(v))
	}
}
