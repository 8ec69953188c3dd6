// Package analytics 提供内置的洞察生成器
// 把一次摄取提交的行载入内存 DuckDB，计算零售商品的指标包
package analytics

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// KPIs 核心指标
type KPIs struct {
	AvgPrice        float64 `json:"avg_price"`
	AvgMRP          float64 `json:"avg_mrp"`
	AvgDiscountPct  float64 `json:"avg_discount_pct"`
	NoDiscountItems int64   `json:"no_discount_items"`
	Products        int64   `json:"products"`
}

// BrandShare 品牌集中度
type BrandShare struct {
	Brand    string  `json:"brand"`
	Items    int64   `json:"items"`
	SharePct float64 `json:"share_pct"`
}

// DiscountBand 折扣区间
type DiscountBand struct {
	Band  string `json:"band"`
	Items int64  `json:"items"`
}

// Pack 洞察指标包
type Pack struct {
	SourcePath         string           `json:"source_path"`
	Fingerprint        string           `json:"fingerprint"`
	KPIs               KPIs             `json:"kpis"`
	BrandConcentration []BrandShare     `json:"brand_concentration"`
	DiscountBands      []DiscountBand   `json:"discount_bands"`
	TopDiscountedRated []map[string]any `json:"top_discounted_rated"`
	Bullets            []string         `json:"bullets"`
	Narrative          string           `json:"narrative,omitempty"`
}

// printer 数字带千分位
var printer = message.NewPrinter(language.English)

// Bullets 生成摘要要点
func Bullets(k KPIs, brands []BrandShare, bands []DiscountBand) []string {
	if k.Products <= 0 {
		return []string{"No items match the current filters."}
	}

	out := []string{
		printer.Sprintf("Avg price ₹%.2f, avg MRP ₹%.2f, avg discount %.2f%% across %d items.",
			k.AvgPrice, k.AvgMRP, k.AvgDiscountPct, k.Products),
		printer.Sprintf("%d items are at MRP (0%% discount).", k.NoDiscountItems),
	}

	if len(brands) > 0 {
		b := brands[0]
		out = append(out, printer.Sprintf("Top brand: %s with %d items (~%.2f%%).", b.Brand, b.Items, b.SharePct))
	}

	if len(bands) > 0 {
		var total int64
		largest := bands[0]
		for _, b := range bands {
			total += b.Items
			if b.Items > largest.Items {
				largest = b
			}
		}
		if total == 0 {
			total = 1
		}
		out = append(out, printer.Sprintf("Largest discount band: %s at %d items (~%.1f%%).",
			largest.Band, largest.Items, 100*float64(largest.Items)/float64(total)))
	}
	return out
}

// ClampLimit 限制 top 列表长度在 [1, 1000]
func ClampLimit(n int) int {
	if n < 1 {
		return 1
	}
	if n > 1000 {
		return 1000
	}
	return n
}
