package angelone

import (
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
)

// GenerateTOTP produces the 6-digit login code for the configured seed.
// Seeds come in two shapes: standard base32, or a 32-character hex string
// that must be decoded to raw bytes first. Either way the code is RFC 6238
// with a 30-second step and SHA1.
func GenerateTOTP(secret string, at time.Time) (string, error) {
	normalized := strings.ToUpper(strings.NewReplacer(" ", "", "-", "").Replace(secret))
	if normalized == "" {
		return "", fmt.Errorf("empty TOTP secret")
	}

	if len(normalized) == 32 && isHex(normalized) {
		raw, err := hex.DecodeString(normalized)
		if err != nil {
			return "", fmt.Errorf("failed to decode hex TOTP seed: %w", err)
		}
		normalized = base32.StdEncoding.EncodeToString(raw)
	}

	code, err := totp.GenerateCode(normalized, at)
	if err != nil {
		return "", fmt.Errorf("failed to generate TOTP code: %w", err)
	}
	return code, nil
}

func isHex(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'A' || r > 'F') {
			return false
		}
	}
	return true
}
