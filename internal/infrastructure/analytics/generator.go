package analytics

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/marcboeker/go-duckdb"

	"github.com/shelfwatch/backend/internal/domain/dataset"
	"github.com/shelfwatch/backend/internal/domain/insight"
	"github.com/shelfwatch/backend/internal/infrastructure/config"
	"github.com/shelfwatch/backend/internal/infrastructure/log"
)

// tableName 内存表名
const tableName = "products"

// Generator 基于 DuckDB 的洞察生成器
type Generator struct {
	schema   dataset.Schema
	topLimit int
	logger   *slog.Logger
}

// 确保实现接口
var _ insight.Generator = (*Generator)(nil)

// NewGenerator 创建生成器
func NewGenerator(schema dataset.Schema, topLimit int) *Generator {
	return &Generator{
		schema:   schema,
		topLimit: ClampLimit(topLimit),
		logger:   log.NewModuleLogger("analytics", "generator"),
	}
}

// ProvideGenerator 根据配置创建生成器
func ProvideGenerator(ds *config.DatasetConfig, ic *config.InsightConfig) *Generator {
	return NewGenerator(ds.Schema(), ic.TopLimit)
}

// Generate 计算一次摄取的指标包
func (g *Generator) Generate(ctx context.Context, view insight.RowsView) (*insight.Result, error) {
	start := time.Now()

	db, err := openMemoryDB()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, g.createTableSQL()); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	if err := g.load(ctx, db, view); err != nil {
		return nil, err
	}

	pack, err := g.compute(ctx, db)
	if err != nil {
		return nil, err
	}
	pack.SourcePath = view.SourcePath()
	pack.Fingerprint = view.Fingerprint()

	payload, err := json.Marshal(pack)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal insight pack: %w", err)
	}

	g.logger.Debug("Insight pack generated",
		"path", pack.SourcePath,
		"products", pack.KPIs.Products,
		"duration", time.Since(start),
	)

	return &insight.Result{
		Summary: strings.Join(pack.Bullets, " "),
		Payload: payload,
	}, nil
}

// openMemoryDB 打开一个独立的内存数据库
func openMemoryDB() (*sql.DB, error) {
	connector, err := duckdb.NewConnector("", func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA threads=2",
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)
	return db, nil
}

// createTableSQL 按声明的列生成建表语句
func (g *Generator) createTableSQL() string {
	defs := make([]string, 0, len(g.schema.Columns))
	for _, col := range g.schema.Columns {
		defs = append(defs, fmt.Sprintf("%s %s", quoteIdent(col.Name), duckType(col.Type)))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", tableName, strings.Join(defs, ", "))
}

// load 通过 Appender 批量写入行
func (g *Generator) load(ctx context.Context, db *sql.DB, view insight.RowsView) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	return conn.Raw(func(driverConn any) error {
		dConn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("failed to cast to duckdb.Conn")
		}

		appender, err := duckdb.NewAppenderFromConn(dConn, "", tableName)
		if err != nil {
			return fmt.Errorf("failed to create appender: %w", err)
		}
		defer appender.Close()

		args := make([]driver.Value, len(g.schema.Columns))
		err = view.Each(ctx, func(row insight.Row) error {
			for i, col := range g.schema.Columns {
				args[i] = toDuckValue(row.Values[col.Name], col.Type)
			}
			if err := appender.AppendRow(args...); err != nil {
				return fmt.Errorf("failed to append row %s: %w", row.Key, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		return appender.Flush()
	})
}

// compute 执行各项查询
func (g *Generator) compute(ctx context.Context, db *sql.DB) (*Pack, error) {
	pack := &Pack{
		BrandConcentration: []BrandShare{},
		DiscountBands:      []DiscountBand{},
		TopDiscountedRated: []map[string]any{},
	}

	var err error
	if pack.KPIs, err = g.coreKPIs(ctx, db); err != nil {
		return nil, err
	}
	if pack.BrandConcentration, err = g.brandConcentration(ctx, db); err != nil {
		return nil, err
	}
	if pack.DiscountBands, err = g.discountBands(ctx, db); err != nil {
		return nil, err
	}
	if pack.TopDiscountedRated, err = g.topDiscountedRated(ctx, db); err != nil {
		return nil, err
	}
	pack.Bullets = Bullets(pack.KPIs, pack.BrandConcentration, pack.DiscountBands)
	return pack, nil
}

func (g *Generator) has(names ...string) bool {
	for _, n := range names {
		if _, ok := g.schema.Lookup(n); !ok {
			return false
		}
	}
	return true
}

// avgExpr 列存在时取平均，否则为 0
func (g *Generator) avgExpr(col string) string {
	if !g.has(col) {
		return "0"
	}
	return fmt.Sprintf("COALESCE(ROUND(AVG(%s), 2), 0)", quoteIdent(col))
}

func (g *Generator) coreKPIs(ctx context.Context, db *sql.DB) (KPIs, error) {
	noDiscount := "0"
	if g.has("price", "mrp") {
		noDiscount = "COALESCE(SUM(CASE WHEN price = mrp THEN 1 ELSE 0 END), 0)"
	}
	query := fmt.Sprintf(`
		SELECT
		  CAST(%s AS DOUBLE),
		  CAST(%s AS DOUBLE),
		  CAST(%s AS DOUBLE),
		  CAST(%s AS BIGINT),
		  CAST(COUNT(*) AS BIGINT)
		FROM %s`,
		g.avgExpr("price"), g.avgExpr("mrp"), g.avgExpr("discount_percent"), noDiscount, tableName)

	var k KPIs
	err := db.QueryRowContext(ctx, query).Scan(&k.AvgPrice, &k.AvgMRP, &k.AvgDiscountPct, &k.NoDiscountItems, &k.Products)
	if err != nil {
		return k, fmt.Errorf("failed to query kpis: %w", err)
	}
	return k, nil
}

func (g *Generator) brandConcentration(ctx context.Context, db *sql.DB) ([]BrandShare, error) {
	result := []BrandShare{}
	if !g.has("brand") {
		return result, nil
	}

	query := fmt.Sprintf(`
		SELECT t.brand, t.items,
		       CAST(CASE WHEN total.s > 0 THEN ROUND(100.0 * t.items / total.s, 2) ELSE 0 END AS DOUBLE) AS share_pct
		FROM (
		  SELECT brand, CAST(COUNT(*) AS BIGINT) AS items
		  FROM %[1]s
		  WHERE brand IS NOT NULL
		  GROUP BY brand
		) t
		CROSS JOIN (SELECT COUNT(*) AS s FROM %[1]s) total
		ORDER BY t.items DESC, t.brand
		LIMIT 10`, tableName)

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query brand concentration: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var b BrandShare
		if err := rows.Scan(&b.Brand, &b.Items, &b.SharePct); err != nil {
			return nil, fmt.Errorf("failed to scan brand share: %w", err)
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func (g *Generator) discountBands(ctx context.Context, db *sql.DB) ([]DiscountBand, error) {
	result := []DiscountBand{}
	if !g.has("discount_percent") {
		return result, nil
	}

	query := fmt.Sprintf(`
		SELECT band, CAST(COUNT(*) AS BIGINT) AS items FROM (
		  SELECT CASE
		    WHEN discount_percent = 0 THEN '0%%'
		    WHEN discount_percent < 20 THEN '0-20%%'
		    WHEN discount_percent < 40 THEN '20-40%%'
		    WHEN discount_percent < 60 THEN '40-60%%'
		    ELSE '60%%+'
		  END AS band
		  FROM %s
		  WHERE discount_percent IS NOT NULL
		) b
		GROUP BY band
		ORDER BY items DESC, band`, tableName)

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query discount bands: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var b DiscountBand
		if err := rows.Scan(&b.Band, &b.Items); err != nil {
			return nil, fmt.Errorf("failed to scan discount band: %w", err)
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

// topDiscountedColumns top 列表输出的列
var topDiscountedColumns = []string{
	"product_id", "title", "brand", "price", "mrp", "discount_percent", "rating", "rating_total",
}

func (g *Generator) topDiscountedRated(ctx context.Context, db *sql.DB) ([]map[string]any, error) {
	result := []map[string]any{}
	if !g.has("discount_percent", "rating_total") {
		return result, nil
	}

	var cols []string
	for _, c := range topDiscountedColumns {
		if g.has(c) {
			cols = append(cols, quoteIdent(c))
		}
	}
	order := "discount_percent DESC"
	if g.has("price") {
		order += ", price ASC"
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE rating_total > 0
		ORDER BY %s
		LIMIT %d`, strings.Join(cols, ", "), tableName, order, g.topLimit)

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query top discounted: %w", err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan top discounted: %w", err)
		}
		item := make(map[string]any, len(names))
		for i, name := range names {
			item[name] = values[i]
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

// duckType 列类型映射
func duckType(t dataset.ColumnType) string {
	switch t {
	case dataset.TypeInt:
		return "BIGINT"
	case dataset.TypeFloat:
		return "DOUBLE"
	case dataset.TypeBool:
		return "BOOLEAN"
	case dataset.TypeTime:
		return "TIMESTAMP"
	default:
		return "VARCHAR"
	}
}

// toDuckValue 把存储层解码的值转换为 Appender 需要的类型
func toDuckValue(v any, t dataset.ColumnType) driver.Value {
	if v == nil {
		return nil
	}
	switch t {
	case dataset.TypeInt:
		switch n := v.(type) {
		case int64:
			return n
		case int:
			return int64(n)
		case float64:
			return int64(n)
		}
	case dataset.TypeFloat:
		switch n := v.(type) {
		case float64:
			return n
		case int64:
			return float64(n)
		case int:
			return float64(n)
		}
	case dataset.TypeBool:
		if b, ok := v.(bool); ok {
			return b
		}
	case dataset.TypeTime:
		switch tv := v.(type) {
		case time.Time:
			return tv
		case string:
			if parsed, err := time.Parse(time.RFC3339Nano, tv); err == nil {
				return parsed
			}
		}
	default:
		switch s := v.(type) {
		case string:
			return s
		case int64:
			return strconv.FormatInt(s, 10)
		default:
			return fmt.Sprint(s)
		}
	}
	return nil
}

// quoteIdent 引用列名
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
