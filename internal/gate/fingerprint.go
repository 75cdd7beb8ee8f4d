package gate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"quantpilot/internal/models"
)

// Fingerprint hashes the salient fields of an execution opportunity. Size is
// rounded to whole dollars and urgency to one decimal so wire jitter in
// either does not defeat the materially-unchanged check.
func Fingerprint(direction models.Side, strategy string, sizeUSD, urgency float64) string {
	payload := fmt.Sprintf("%s|%s|%.0f|%.1f", direction, strategy, sizeUSD, urgency)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:8])
}
