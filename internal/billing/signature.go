package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"crm-automation-api/internal/domain"
)

// SignatureHeader carries the provider's signature over the raw body.
const SignatureHeader = "Stripe-Signature"

// DefaultTolerance is the accepted clock drift of a signed timestamp.
const DefaultTolerance = 5 * time.Minute

const signatureScheme = "v1"

// ComputeSignature is the hex HMAC-SHA256 of "<timestamp>.<payload>".
func ComputeSignature(secret string, timestamp int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignHeader builds a header value the way the provider sends it.
func SignHeader(secret string, at time.Time, payload []byte) string {
	ts := at.Unix()
	return fmt.Sprintf("t=%d,%s=%s", ts, signatureScheme, ComputeSignature(secret, ts, payload))
}

type signedHeader struct {
	timestamp  time.Time
	signatures [][]byte
}

func parseSignatureHeader(header string) (signedHeader, error) {
	var parsed signedHeader
	haveTimestamp := false

	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return signedHeader{}, fmt.Errorf("invalid timestamp %q", value)
			}
			parsed.timestamp = time.Unix(ts, 0)
			haveTimestamp = true
		case signatureScheme:
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			parsed.signatures = append(parsed.signatures, sig)
		}
	}

	if !haveTimestamp {
		return signedHeader{}, fmt.Errorf("no timestamp in signature header")
	}
	if len(parsed.signatures) == 0 {
		return signedHeader{}, fmt.Errorf("no %s signatures in signature header", signatureScheme)
	}
	return parsed, nil
}

// VerifySignature checks header against the raw payload. Every failure wraps
// domain.ErrInvalidSignature.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if strings.TrimSpace(header) == "" {
		return fmt.Errorf("%w: missing %s header", domain.ErrInvalidSignature, SignatureHeader)
	}
	if secret == "" {
		return fmt.Errorf("%w: signing secret is not configured", domain.ErrInvalidSignature)
	}

	parsed, err := parseSignatureHeader(header)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}

	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	drift := now.Sub(parsed.timestamp)
	if drift < 0 {
		drift = -drift
	}
	if drift > tolerance {
		return fmt.Errorf("%w: timestamp outside allowed tolerance", domain.ErrInvalidSignature)
	}

	expected, _ := hex.DecodeString(ComputeSignature(secret, parsed.timestamp.Unix(), payload))
	for _, sig := range parsed.signatures {
		if hmac.Equal(sig, expected) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching signature", domain.ErrInvalidSignature)
}
