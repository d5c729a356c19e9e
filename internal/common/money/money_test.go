package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromMajor(t *testing.T) {
	m := NewFromMajor(100.50, KES)
	assert.Equal(t, int64(10050), m.AmountMinor)
	assert.Equal(t, KES, m.Currency)

	m = NewFromMajor(0.1, KES)
	assert.Equal(t, int64(10), m.AmountMinor)
}

func TestWholeMajor(t *testing.T) {
	tests := []struct {
		name      string
		m         Money
		want      int64
		wantWhole bool
	}{
		{"whole shillings", New(10000, KES), 100, true},
		{"one shilling", New(100, KES), 1, true},
		{"fractional", New(10050, KES), 0, false},
		{"single cent", New(1, KES), 0, false},
		{"zero", New(0, KES), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, whole := tt.m.WholeMajor()
			assert.Equal(t, tt.wantWhole, whole)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMoneyJSONRoundTrip(t *testing.T) {
	m := New(15000, KES)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount_minor":15000,"currency":"KES"}`, string(data))

	var decoded Money
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, m.Equal(decoded))
}

func TestString(t *testing.T) {
	assert.Equal(t, "KSh 150.00", New(15000, KES).String())
	assert.Equal(t, "$ 9.99", New(999, USD).String())
}
