package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/shelfwatch/backend/internal/domain/dataset"
)

const retailHeader = "product_id,style_id,title,brand,price,mrp,discount_percent,rating,rating_total,img_primary,img_count"

func retailLine(id int) string {
	return fmt.Sprintf("%d,%d,Shirt %d,Acme,499.0,999.0,50.05,4.2,17,http://img/%d.jpg,3", id, id*10, id, id)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newRetailRegistry() *Registry {
	return NewRegistry(dataset.RetailProductSchema(), []string{".csv", ".tsv"}, "", EncodingAuto)
}

func TestParse_WellFormedFile(t *testing.T) {
	lines := []string{retailHeader}
	for i := 1; i <= 100; i++ {
		lines = append(lines, retailLine(i))
	}
	content := strings.Join(lines, "\n") + "\n"
	path := writeFile(t, "sales_jan.csv", content)

	rs, err := newRetailRegistry().Parse(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, rs.Rows, 100)
	assert.Equal(t, 0, rs.SkippedCount)
	assert.Equal(t, path, rs.SourcePath)
	assert.Equal(t, dataset.FingerprintBytes([]byte(content)), rs.Fingerprint)

	first := rs.Rows[0]
	assert.Equal(t, 2, first.Line)
	assert.Equal(t, "1", first.Key)
	assert.Equal(t, int64(1), first.Values["product_id"])
	assert.Equal(t, "Acme", first.Values["brand"])
	assert.InDelta(t, 499.0, first.Values["price"], 0.001)
	assert.Equal(t, int64(17), first.Values["rating_total"])
}

func TestParse_SkipsMalformedRows(t *testing.T) {
	content := strings.Join([]string{
		retailHeader,
		retailLine(1),
		"2,20,Shirt 2,Acme,not-a-price,999.0,50,4.2,17,x,3", // 价格无法转换
		retailLine(3),
		"4,40,Shirt 4,Acme,499.0",                    // 列数不对
		",50,Shirt 5,Acme,499.0,999.0,50,4.2,17,x,3", // 主键为空
		retailLine(6),
	}, "\n")
	path := writeFile(t, "mixed.csv", content)

	rs, err := newRetailRegistry().Parse(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, rs.Rows, 3, "N 行有效")
	assert.Equal(t, 3, rs.SkippedCount, "M 行跳过")
	require.Len(t, rs.Skipped, 3)
	assert.Equal(t, 3, rs.Skipped[0].Line)
	assert.Contains(t, rs.Skipped[0].Reason, "price")
	assert.Equal(t, 5, rs.Skipped[1].Line)
	assert.Contains(t, rs.Skipped[1].Reason, "expected 11 fields")
	assert.Equal(t, 6, rs.Skipped[2].Line)
}

func TestParse_FailureKinds(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    error
	}{
		{"空文件", "", dataset.ErrEmptyInput},
		{"只有表头", retailHeader + "\n", dataset.ErrEmptyInput},
		{"缺少必需列", "product_id,title,price,mrp\n1,a,1,2\n", dataset.ErrSchemaMismatch},
		{"所有行都无效", retailHeader + "\nx,1,a,b,c,d,e,f,g,h,i\n", dataset.ErrMalformedInput},
		{"重复列名", "product_id,title,brand,price,mrp,Brand\n1,a,b,1,2,c\n", dataset.ErrMalformedInput},
		{"二进制内容", "product_id\x00title\n", dataset.ErrMalformedInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "f.csv", tt.content)
			_, err := newRetailRegistry().Parse(context.Background(), path)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParse_ExtraColumnsPassThrough(t *testing.T) {
	content := "product_id,title,brand,price,mrp,Colour,Season\n1,Tee,Acme,10,20,red,SS24\n"
	path := writeFile(t, "extra.csv", content)

	rs, err := newRetailRegistry().Parse(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 1)
	assert.Equal(t, map[string]string{"colour": "red", "season": "SS24"}, rs.Rows[0].Extra)
	assert.Equal(t, []string{"product_id", "title", "brand", "price", "mrp", "colour", "season"}, rs.Header)
}

func TestParse_OptionalEmptyCellsAreNull(t *testing.T) {
	content := retailHeader + "\n1,,Tee,Acme,10,20,,nan,,,\n"
	path := writeFile(t, "nulls.csv", content)

	rs, err := newRetailRegistry().Parse(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 1)
	v := rs.Rows[0].Values
	assert.Nil(t, v["style_id"])
	assert.Nil(t, v["rating"])
	assert.Nil(t, v["img_primary"])
	assert.Contains(t, v, "rating_total")
}

func TestParse_DuplicateKeysLastWins(t *testing.T) {
	content := strings.Join([]string{
		"product_id,title,brand,price,mrp",
		"1,Old,Acme,10,20",
		"2,Other,Acme,10,20",
		"1,New,Acme,12,20",
	}, "\n")
	path := writeFile(t, "dups.csv", content)

	rs, err := newRetailRegistry().Parse(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 2)
	assert.Equal(t, 1, rs.DuplicateRows)
	assert.Equal(t, 0, rs.SkippedCount)
	assert.Equal(t, "New", rs.Rows[0].Values["title"])
	assert.Equal(t, 4, rs.Rows[0].Line)
}

func TestParse_BOMAndHeaderCase(t *testing.T) {
	content := "\ufeff Product_ID ,TITLE,Brand,Price,MRP\n7,Tee,Acme,10,20\n"
	path := writeFile(t, "bom.csv", content)

	rs, err := newRetailRegistry().Parse(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 1)
	assert.Equal(t, "7", rs.Rows[0].Key)
}

func TestParse_GBKFallback(t *testing.T) {
	utf8Content := "product_id,title,brand,price,mrp\n1,衬衫,李宁,99,199\n"
	gbk, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte(utf8Content))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "gbk.csv")
	require.NoError(t, os.WriteFile(path, gbk, 0644))

	rs, err := newRetailRegistry().Parse(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 1)
	assert.Equal(t, "李宁", rs.Rows[0].Values["brand"])
	assert.Equal(t, dataset.FingerprintBytes(gbk), rs.Fingerprint, "指纹基于原始字节")

	strict := NewRegistry(dataset.RetailProductSchema(), []string{".csv"}, "", EncodingUTF8)
	_, err = strict.Parse(context.Background(), path)
	assert.ErrorIs(t, err, dataset.ErrMalformedInput)
}

func TestRegistry_TSVAndUnknownExtension(t *testing.T) {
	content := "product_id\ttitle\tbrand\tprice\tmrp\n1\tTee, blue\tAcme\t10\t20\n"
	path := writeFile(t, "products.tsv", content)

	rs, err := newRetailRegistry().Parse(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 1)
	assert.Equal(t, "Tee, blue", rs.Rows[0].Values["title"])

	_, err = newRetailRegistry().Parse(context.Background(), writeFile(t, "a.xlsx", "x"))
	assert.ErrorIs(t, err, dataset.ErrMalformedInput)
}

func TestParse_CompositeKey(t *testing.T) {
	schema := dataset.Schema{
		KeyColumns: []string{"store", "txn_id"},
		Columns: []dataset.Column{
			{Name: "store", Type: dataset.TypeString},
			{Name: "txn_id", Type: dataset.TypeInt},
			{Name: "amount", Type: dataset.TypeFloat, Required: true},
		},
	}
	p := NewTabularParser("csv", ',', schema, EncodingAuto)
	rs, err := p.ParseBytes(context.Background(), []byte("store,txn_id,amount\nS1,10,5.5\nS2,10,1\n"))
	require.NoError(t, err)
	require.Len(t, rs.Rows, 2)
	assert.Equal(t, "S1|10", rs.Rows[0].Key)
	assert.Equal(t, "S2|10", rs.Rows[1].Key)
}

func TestParse_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewTabularParser("csv", ',', dataset.RetailProductSchema(), EncodingAuto)
	_, err := p.ParseBytes(ctx, []byte(retailHeader+"\n"+retailLine(1)+"\n"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParse_MissingFileIsTransient(t *testing.T) {
	_, err := newRetailRegistry().Parse(context.Background(), filepath.Join(t.TempDir(), "gone.csv"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, dataset.ErrMalformedInput)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
