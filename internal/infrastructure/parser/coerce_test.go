package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/shelfwatch/backend/internal/domain/dataset"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		typ     dataset.ColumnType
		want    any
		wantErr bool
	}{
		{"int", "42", dataset.TypeInt, int64(42), false},
		{"int with spaces", " 42 ", dataset.TypeInt, int64(42), false},
		{"integral float as int", "12.0", dataset.TypeInt, int64(12), false},
		{"fractional int", "12.5", dataset.TypeInt, nil, true},
		{"int garbage", "abc", dataset.TypeInt, nil, true},
		{"float", "3.25", dataset.TypeFloat, 3.25, false},
		{"float nan is null", "NaN", dataset.TypeFloat, nil, false},
		{"float inf", "inf", dataset.TypeFloat, nil, true},
		{"empty float", "", dataset.TypeFloat, nil, false},
		{"n/a", "N/A", dataset.TypeInt, nil, false},
		{"bool yes", "yes", dataset.TypeBool, true, false},
		{"bool 0", "0", dataset.TypeBool, false, false},
		{"bool garbage", "maybe", dataset.TypeBool, nil, true},
		{"string", " Acme ", dataset.TypeString, "Acme", false},
		{"string nan", "nan", dataset.TypeString, nil, false},
		{"string null literal kept", "null", dataset.TypeString, "null", false},
		{"date", "2024-01-31", dataset.TypeTime, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), false},
		{"bad date", "31/01/2024", dataset.TypeTime, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coerce(tt.raw, tt.typ)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeyPart(t *testing.T) {
	assert.Equal(t, "12", keyPart(int64(12)))
	assert.Equal(t, "1.5", keyPart(1.5))
	assert.Equal(t, "abc", keyPart("abc"))
	assert.Equal(t, "true", keyPart(true))
}
