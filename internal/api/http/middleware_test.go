package http

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"/api/orders", "/api/orders", true},
		{"/api/orders", "/api/orders/", true},
		{"/api/orders/*/cancel", "/api/orders/123/cancel", true},
		{"/api/orders/*/cancel", "/api/orders/123/456/cancel", false},
		{"/api/orders/*/cancel", "/api/orders/cancel", false},
		{"/api/orders", "/api/orderbook", false},
		{"/api/orders", "/api/orders/123", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchPattern(tt.pattern, tt.path),
			"pattern %q path %q", tt.pattern, tt.path)
	}
}

func TestIsProtected(t *testing.T) {
	patterns := map[string][]string{
		"POST": {"/api/orders", "/api/orders/*/cancel"},
	}
	assert.True(t, isProtected(patterns, "POST", "/api/orders"))
	assert.True(t, isProtected(patterns, "POST", "/api/orders/abc/cancel"))
	assert.False(t, isProtected(patterns, "GET", "/api/orders"))
	assert.False(t, isProtected(patterns, "POST", "/api/deposit"))
}
