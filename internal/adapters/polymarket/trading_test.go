package polymarket

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeOrderStatus(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"LIVE", "LIVE"},
		{"MATCHED", "MATCHED"},
		{"FILLED", "FILLED"},
		{"CANCELLED", "CANCELLED"},
		{"CANCELED", "CANCELLED"}, // live CLOB spelling
		{"canceled", "CANCELLED"},
		{"ORDER_CANCELED", "CANCELLED"},
		{"INVALID", "CANCELLED"},
		{"EXPIRED", "EXPIRED"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, normalizeOrderStatus(tc.raw), "raw %q", tc.raw)
	}
}
