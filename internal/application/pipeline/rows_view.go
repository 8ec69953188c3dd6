package pipeline

import (
	"context"

	"github.com/shelfwatch/backend/internal/domain/insight"
	domain "github.com/shelfwatch/backend/internal/domain/pipeline"
)

// storedView 基于行存储的只读视图
type storedView struct {
	rows        domain.RowStore
	sourcePath  string
	fingerprint string
	count       int
}

var _ insight.RowsView = (*storedView)(nil)

func (v *storedView) SourcePath() string  { return v.sourcePath }
func (v *storedView) Fingerprint() string { return v.fingerprint }
func (v *storedView) Len() int            { return v.count }

func (v *storedView) Each(ctx context.Context, fn func(insight.Row) error) error {
	return v.rows.Each(ctx, v.sourcePath, v.fingerprint, func(r *domain.StoredRow) error {
		return fn(insight.Row{Key: r.Key, Values: r.Values, Extra: r.Extra})
	})
}
