// Package transfer copies a harvester database from sqlite into postgres.
package transfer

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/feedmeta/harvester/pkg/logging"
)

// DefaultChunkSize is the number of rows sent per COPY.
const DefaultChunkSize = 1000

// Table names a table and the columns to copy, in order.
type Table struct {
	Name    string
	Columns []string
}

// Tables lists every table of the harvester schema in copy order.
var Tables = []Table{
	{Name: "items", Columns: []string{"id", "promoted", "up", "down", "created", "image", "thumb", "fullsize", "source", "flags", "user", "mark"}},
	{Name: "sizes", Columns: []string{"id", "width", "height"}},
	{Name: "tags", Columns: []string{"id", "item_id", "confidence", "tag"}},
	{Name: "users", Columns: []string{"id", "name", "registered", "score"}},
	{Name: "user_score", Columns: []string{"user_id", "timestamp", "score"}},
	{Name: "item_previews", Columns: []string{"id", "width", "height", "preview"}},
}

// Target receives rows. *pgxpool.Pool and *pgx.Conn implement it.
type Target interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Copier streams tables from source to target in chunks.
type Copier struct {
	source    *gorm.DB
	target    Target
	chunkSize int
	logger    *zap.Logger
}

// NewCopier creates a copier. chunkSize <= 0 uses DefaultChunkSize.
func NewCopier(source *gorm.DB, target Target, chunkSize int) *Copier {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Copier{
		source:    source,
		target:    target,
		chunkSize: chunkSize,
		logger:    logging.WithComponent("transfer"),
	}
}

// CopyAll copies tables in order and stops at the first failure.
func (c *Copier) CopyAll(ctx context.Context, tables []Table) error {
	for _, table := range tables {
		count, err := c.CopyTable(ctx, table)
		if err != nil {
			return err
		}
		c.logger.Info("Table copied", zap.String("table", table.Name), zap.Int64("rows", count))
	}
	return nil
}

// CopyTable copies one table and returns the number of rows written.
func (c *Copier) CopyTable(ctx context.Context, table Table) (int64, error) {
	// user and timestamp need quoting on some engines
	columns := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		columns[i] = c.source.Statement.Quote(col)
	}

	rows, err := c.source.WithContext(ctx).Table(table.Name).Select(strings.Join(columns, ", ")).Rows()
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", table.Name, err)
	}
	defer rows.Close()

	var total int64
	chunks := 0
	chunk := make([][]any, 0, c.chunkSize)

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		n, err := c.target.CopyFrom(ctx, pgx.Identifier{table.Name}, table.Columns, pgx.CopyFromRows(chunk))
		if err != nil {
			return fmt.Errorf("copy %s: %w", table.Name, err)
		}
		total += n
		chunks++
		if chunks%100 == 0 {
			c.logger.Info("Copy progress", zap.String("table", table.Name), zap.Int64("rows", total))
		}
		chunk = make([][]any, 0, c.chunkSize)
		return nil
	}

	for rows.Next() {
		values := make([]any, len(table.Columns))
		targets := make([]any, len(values))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return total, fmt.Errorf("scan %s: %w", table.Name, err)
		}

		chunk = append(chunk, values)
		if len(chunk) == c.chunkSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return total, fmt.Errorf("read %s: %w", table.Name, err)
	}

	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}
