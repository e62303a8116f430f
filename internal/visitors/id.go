package visitors

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Hash derives the visitor_hash of an event. The signature rotates at midnight UTC,
// so the same browser on two days counts as two visitors. The IP address is only
// hashed, never stored.
func Hash(site, ipAddress, userAgent, salt string, at time.Time) string {
	day := at.UTC().Format("2006-01-02")
	data := fmt.Sprintf("%s-%s.%s.%s.%s", day, salt, site, ipAddress, userAgent)

	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}
