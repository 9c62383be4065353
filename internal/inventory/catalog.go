package inventory

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Catalog checks product and warehouse ids against master data tables.
type Catalog struct {
	pool *pgxpool.Pool
}

// NewCatalog constructs Catalog.
func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

// ProductExists implements CatalogPort.
func (c *Catalog) ProductExists(ctx context.Context, id int64) (bool, error) {
	return c.exists(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id=$1 AND deleted_at IS NULL)`, id)
}

// WarehouseExists implements CatalogPort.
func (c *Catalog) WarehouseExists(ctx context.Context, id int64) (bool, error) {
	return c.exists(ctx, `SELECT EXISTS (SELECT 1 FROM warehouses WHERE id=$1 AND is_active)`, id)
}

func (c *Catalog) exists(ctx context.Context, sql string, id int64) (bool, error) {
	var ok bool
	if err := c.pool.QueryRow(ctx, sql, id).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}
