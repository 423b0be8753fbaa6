package rest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBucketKey(t *testing.T) {
	t.Parallel()
	tests := []struct {
		method   string
		path     string
		expected string
	}{
		{"GET", "/gateway/bot", "GET:/gateway/bot"},
		{"GET", "/channels/111111111111111111", "GET:/channels/111111111111111111"},
		{
			"POST", "/channels/111111111111111111/messages",
			"POST:/channels/111111111111111111/messages",
		},
		{
			// Message ids are minor parameters.
			"DELETE", "/channels/111111111111111111/messages/222222222222222222",
			"DELETE:/channels/111111111111111111/messages/:id",
		},
		{
			"GET", "/guilds/333333333333333333/members/444444444444444444",
			"GET:/guilds/333333333333333333/members/:id",
		},
		{
			// Same route, different major id: distinct buckets.
			"POST", "/channels/555555555555555555/messages",
			"POST:/channels/555555555555555555/messages",
		},
		{"GET", "/users/@me", "GET:/users/@me"},
		{
			"GET", "/channels/111111111111111111/messages?limit=50",
			"GET:/channels/111111111111111111/messages",
		},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, BucketKey(tt.method, tt.path), "%s %s", tt.method, tt.path)
	}
}

func TestBucketKeySeparatesMethods(t *testing.T) {
	t.Parallel()
	get := BucketKey("GET", "/channels/111111111111111111/messages")
	post := BucketKey("POST", "/channels/111111111111111111/messages")
	assert.NotEqual(t, get, post)
}
