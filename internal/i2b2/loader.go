package i2b2

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// LoaderConfig holds configuration for the metadata table loader.
type LoaderConfig struct {
	// Table is the target metadata table name.
	Table string
	// Truncate clears the table before loading instead of appending.
	Truncate bool
}

// DefaultLoaderConfig returns sensible defaults.
func DefaultLoaderConfig() LoaderConfig {
	return LoaderConfig{Table: "rxnorm_metadata"}
}

// TableLoader bulk-loads metadata rows into a Postgres table via COPY.
type TableLoader struct {
	pool   *pgxpool.Pool
	config LoaderConfig
	logger *zap.Logger
	tracer trace.Tracer
}

// NewTableLoader creates a loader over an existing pool.
func NewTableLoader(pool *pgxpool.Pool, cfg LoaderConfig, logger *zap.Logger) *TableLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Table == "" {
		cfg.Table = DefaultLoaderConfig().Table
	}
	return &TableLoader{
		pool:   pool,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer("i2b2_loader"),
	}
}

// tableColumns mirrors the output file's columns, lower-cased for Postgres,
// plus the load timestamps the warehouse schema carries.
var tableColumns = func() []string {
	cols := make([]string, 0, len(columns)+2)
	for _, c := range columns {
		cols = append(cols, strings.ToLower(c))
	}
	return append(cols, "update_date", "import_date")
}()

// Load copies all rows into the configured table in one COPY operation.
func (l *TableLoader) Load(ctx context.Context, rows []Row) (int64, error) {
	ctx, span := l.tracer.Start(ctx, "metadata_table_load",
		trace.WithAttributes(
			attribute.String("table", l.config.Table),
			attribute.Int("rows", len(rows)),
		))
	defer span.End()

	if l.config.Truncate {
		if _, err := l.pool.Exec(ctx, "TRUNCATE TABLE "+pgx.Identifier{l.config.Table}.Sanitize()); err != nil {
			span.RecordError(err)
			return 0, fmt.Errorf("truncate %s: %w", l.config.Table, err)
		}
	}

	now := time.Now()
	source := pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		return rowValues(rows[i], now), nil
	})

	copied, err := l.pool.CopyFrom(ctx, pgx.Identifier{l.config.Table}, tableColumns, source)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("copy into %s: %w", l.config.Table, err)
	}

	l.logger.Info("metadata table loaded",
		zap.String("table", l.config.Table),
		zap.Int64("rows", copied))
	return copied, nil
}

// rowValues renders a row in tableColumns order. Nullable text columns use
// nil for empty values so the warehouse sees NULL rather than ''.
func rowValues(r Row, now time.Time) []any {
	dimCode := r.DimCode
	if dimCode == "" {
		dimCode = r.FullName
	}
	tooltip := r.Tooltip
	if tooltip == "" {
		tooltip = strings.Trim(r.FullName, `\`)
	}
	return []any{
		r.FullName,
		int32(r.Level),
		r.Name,
		nullable(r.BaseCode),
		r.VisualAttr,
		defaultStr(r.AppliedPath, "@"),
		"N",
		defaultStr(r.TableName, "concept_dimension"),
		defaultStr(r.ColumnName, "concept_path"),
		defaultStr(r.DataType, "T"),
		defaultStr(r.Operator, "LIKE"),
		dimCode,
		defaultStr(r.FactColumn, "concept_cd"),
		tooltip,
		int32(0),
		int32(0),
		defaultStr(r.Source, SourceSystem),
		nullable(r.MetadataXML),
		now,
		now,
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
