// Package backup produces plain-SQL dumps of the public schema and manages
// the dump files on local disk.
package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultBatchSize is the maximum number of rows per INSERT statement.
const DefaultBatchSize = 100

type column struct {
	Name      string
	DataType  string
	UDTName   string
	MaxLength sql.NullInt64
	Precision sql.NullInt64
	Scale     sql.NullInt64
	Nullable  string
	Default   sql.NullString
}

type foreignKey struct {
	ColumnName    string
	ForeignTable  string
	ForeignColumn string
}

// Generator streams a dump of every base table in a schema.
type Generator struct {
	db        *gorm.DB
	schema    string
	batchSize int
	log       *zap.Logger
	now       func() time.Time
}

// NewGenerator creates a generator over the public schema.
func NewGenerator(db *gorm.DB, log *zap.Logger) *Generator {
	return &Generator{
		db:        db,
		schema:    "public",
		batchSize: DefaultBatchSize,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Chunks returns the dump as a lazy sequence of SQL text chunks. Each call
// starts over and reads the catalog afresh. A failure to list tables ends
// the sequence with an error; failures on a single table become a comment
// and the dump moves on.
func (g *Generator) Chunks(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		tables, err := g.tables(ctx)
		if err != nil {
			yield("", fmt.Errorf("list tables: %w", err))
			return
		}

		header := fmt.Sprintf("-- NutriBin database backup\n-- Generated at %s\n-- Tables: %d\n\n",
			g.now().Format(time.RFC3339), len(tables))
		if !yield(header, nil) {
			return
		}

		for _, table := range tables {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !g.dumpTable(ctx, table, yield) {
				return
			}
		}
	}
}

func (g *Generator) tables(ctx context.Context) ([]string, error) {
	var tables []string
	err := g.db.WithContext(ctx).Raw(
		`SELECT table_name FROM information_schema.tables
WHERE table_schema = ? AND table_type = 'BASE TABLE'
ORDER BY table_name`, g.schema).Scan(&tables).Error
	return tables, err
}

func (g *Generator) columns(ctx context.Context, table string) ([]column, error) {
	var cols []column
	err := g.db.WithContext(ctx).Raw(
		`SELECT column_name AS name, data_type, udt_name AS udt_name,
character_maximum_length AS max_length, numeric_precision AS precision, numeric_scale AS scale,
is_nullable AS nullable, column_default AS "default"
FROM information_schema.columns
WHERE table_schema = ? AND table_name = ?
ORDER BY ordinal_position`, g.schema, table).Scan(&cols).Error
	return cols, err
}

func (g *Generator) primaryKey(ctx context.Context, table string) ([]string, error) {
	var cols []string
	err := g.db.WithContext(ctx).Raw(
		`SELECT kcu.column_name FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = ? AND tc.table_name = ?
ORDER BY kcu.ordinal_position`, g.schema, table).Scan(&cols).Error
	return cols, err
}

func (g *Generator) foreignKeys(ctx context.Context, table string) ([]foreignKey, error) {
	var fks []foreignKey
	err := g.db.WithContext(ctx).Raw(
		`SELECT kcu.column_name AS column_name, ccu.table_name AS foreign_table, ccu.column_name AS foreign_column
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = ? AND tc.table_name = ?
ORDER BY kcu.column_name`, g.schema, table).Scan(&fks).Error
	return fks, err
}

// dumpTable emits the DDL and data of one table. It returns false when the
// consumer stopped the iteration.
func (g *Generator) dumpTable(ctx context.Context, table string, yield func(string, error) bool) bool {
	ddl, cols, err := g.tableDDL(ctx, table)
	if err != nil {
		if cause := aborted(ctx, err); cause != nil {
			yield("", fmt.Errorf("read schema for table %s: %w", table, cause))
			return false
		}
		g.log.Warn("backup: failed to read table schema", zap.String("table", table), zap.Error(err))
		return yield(fmt.Sprintf("-- Error reading schema for table %s: %s\n\n", quoteIdent(table), oneLine(err)), nil)
	}
	if !yield(ddl, nil) {
		return false
	}

	types := make(map[string]string, len(cols))
	for _, c := range cols {
		types[c.Name] = c.DataType
	}

	wrote, stopped, err := g.dumpRows(ctx, table, types, yield)
	if stopped {
		return false
	}
	if err != nil {
		if cause := aborted(ctx, err); cause != nil {
			yield("", fmt.Errorf("read data for table %s: %w", table, cause))
			return false
		}
		g.log.Warn("backup: failed to read table data", zap.String("table", table), zap.Error(err))
		return yield(fmt.Sprintf("-- Error reading data for table %s: %s\n\n", quoteIdent(table), oneLine(err)), nil)
	}
	if wrote == 0 {
		return yield(fmt.Sprintf("-- No data for table %s\n\n", quoteIdent(table)), nil)
	}
	return yield("\n", nil)
}

// aborted returns the cancellation behind a failed read, if any. A cancelled
// dump must end the sequence instead of being recorded as a table error.
func aborted(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func (g *Generator) tableDDL(ctx context.Context, table string) (string, []column, error) {
	cols, err := g.columns(ctx, table)
	if err != nil {
		return "", nil, err
	}
	if len(cols) == 0 {
		return "", nil, fmt.Errorf("no columns found")
	}
	pk, err := g.primaryKey(ctx, table)
	if err != nil {
		return "", nil, err
	}
	fks, err := g.foreignKeys(ctx, table)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	name := quoteIdent(table)
	fmt.Fprintf(&b, "DROP TABLE IF EXISTS %s CASCADE;\n", name)
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", name)
	lines := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		lines = append(lines, "  "+columnDefinition(c))
	}
	if len(pk) > 0 {
		quoted := make([]string, len(pk))
		for i, p := range pk {
			quoted[i] = quoteIdent(p)
		}
		lines = append(lines, "  PRIMARY KEY ("+strings.Join(quoted, ", ")+")")
	}
	b.WriteString(strings.Join(lines, ",\n"))
	b.WriteString("\n);\n")
	for _, fk := range fks {
		fmt.Fprintf(&b, "ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s);\n",
			name, quoteIdent("fk_"+table+"_"+fk.ColumnName), quoteIdent(fk.ColumnName),
			quoteIdent(fk.ForeignTable), quoteIdent(fk.ForeignColumn))
	}
	b.WriteString("\n")
	return b.String(), cols, nil
}

// columnDefinition renders one column of a CREATE TABLE. Sequence-backed
// integer columns become SERIAL/BIGSERIAL since the dropped table takes its
// owned sequence with it.
func columnDefinition(c column) string {
	typ := sqlType(c)
	def := c.Default.Valid && c.Default.String != ""
	if def && strings.HasPrefix(c.Default.String, "nextval(") {
		switch c.DataType {
		case "integer":
			typ, def = "SERIAL", false
		case "bigint":
			typ, def = "BIGSERIAL", false
		case "smallint":
			typ, def = "SMALLSERIAL", false
		}
	}
	out := quoteIdent(c.Name) + " " + typ
	if c.Nullable == "NO" {
		out += " NOT NULL"
	}
	if def {
		out += " DEFAULT " + c.Default.String
	}
	return out
}

// sqlType maps catalog type metadata to a column type.
func sqlType(c column) string {
	switch c.DataType {
	case "character varying":
		if c.MaxLength.Valid {
			return fmt.Sprintf("VARCHAR(%d)", c.MaxLength.Int64)
		}
		return "VARCHAR"
	case "character":
		if c.MaxLength.Valid {
			return fmt.Sprintf("CHAR(%d)", c.MaxLength.Int64)
		}
		return "CHAR"
	case "USER-DEFINED":
		return c.UDTName
	case "ARRAY":
		return strings.ToUpper(strings.TrimPrefix(c.UDTName, "_")) + "[]"
	case "numeric":
		if c.Precision.Valid && c.Scale.Valid {
			return fmt.Sprintf("NUMERIC(%d,%d)", c.Precision.Int64, c.Scale.Int64)
		}
		return "NUMERIC"
	default:
		return strings.ToUpper(c.DataType)
	}
}

// dumpRows streams the table contents as batched INSERT statements.
func (g *Generator) dumpRows(ctx context.Context, table string, types map[string]string, yield func(string, error) bool) (wrote int, stopped bool, err error) {
	rows, err := g.db.WithContext(ctx).Raw("SELECT * FROM " + quoteIdent(table)).Rows()
	if err != nil {
		return 0, false, err
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return 0, false, err
	}
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES\n", quoteIdent(table), strings.Join(quoted, ", "))

	values := make([]any, len(names))
	dest := make([]any, len(names))
	for i := range values {
		dest[i] = &values[i]
	}

	batch := make([]string, 0, g.batchSize)
	flush := func() bool {
		if len(batch) == 0 {
			return true
		}
		stmt := prefix + strings.Join(batch, ",\n") + ";\n"
		batch = batch[:0]
		return yield(stmt, nil)
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return wrote, false, err
		}
		literals := make([]string, len(values))
		for i, v := range values {
			literals[i] = columnLiteral(v, types[names[i]])
		}
		batch = append(batch, "("+strings.Join(literals, ", ")+")")
		wrote++
		if len(batch) == g.batchSize && !flush() {
			return wrote, true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return wrote, false, err
	}
	if !flush() {
		return wrote, true, nil
	}
	return wrote, false, nil
}

func oneLine(err error) string {
	return strings.Join(strings.Fields(err.Error()), " ")
}
