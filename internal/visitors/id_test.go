package visitors_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"statsq/internal/visitors"
)

func TestHash(t *testing.T) {
	at := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	base := visitors.Hash("example.com", "192.168.1.1", "Mozilla/5.0", "salt", at)

	assert.Len(t, base, 64, "hex encoded SHA-256")
	assert.Equal(t, base, visitors.Hash("example.com", "192.168.1.1", "Mozilla/5.0", "salt", at.Add(14*time.Hour)),
		"stable within the UTC day")

	tests := []struct {
		name string
		hash string
	}{
		{"different site", visitors.Hash("other.com", "192.168.1.1", "Mozilla/5.0", "salt", at)},
		{"different ip", visitors.Hash("example.com", "192.168.1.2", "Mozilla/5.0", "salt", at)},
		{"different user agent", visitors.Hash("example.com", "192.168.1.1", "curl/8.0", "salt", at)},
		{"different salt", visitors.Hash("example.com", "192.168.1.1", "Mozilla/5.0", "pepper", at)},
		{"next UTC day", visitors.Hash("example.com", "192.168.1.1", "Mozilla/5.0", "salt", at.Add(15*time.Hour))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, base, tt.hash)
		})
	}

	t.Run("day follows UTC not the local zone", func(t *testing.T) {
		tokyo := time.FixedZone("JST", 9*3600)
		assert.Equal(t, base, visitors.Hash("example.com", "192.168.1.1", "Mozilla/5.0", "salt", at.In(tokyo)))
	})
}
