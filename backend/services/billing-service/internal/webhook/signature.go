package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrBadSignature means the x-signature header did not verify.
var ErrBadSignature = errors.New("webhook: bad signature")

// Verifier checks Mercado Pago's x-signature header: "ts=<unix>,v1=<hex>"
// where v1 is HMAC-SHA256 over "id:<data.id>;request-id:<x-request-id>;ts:<ts>;".
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier returns nil when secret is empty, which disables verification.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if secret == "" {
		return nil
	}
	return &Verifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

// Verify checks header against dataID and requestID.
func (v *Verifier) Verify(header, requestID, dataID string) error {
	if v == nil {
		return nil
	}
	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "ts":
			ts = value
		case "v1":
			sig = value
		}
	}
	if ts == "" || sig == "" {
		return fmt.Errorf("%w: missing ts or v1", ErrBadSignature)
	}

	if v.tolerance > 0 {
		sec, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: bad ts", ErrBadSignature)
		}
		// ts is sent in milliseconds by some integrations
		if sec > 1e12 {
			sec /= 1000
		}
		if age := v.now().Sub(time.Unix(sec, 0)); age > v.tolerance || age < -v.tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", ErrBadSignature)
		}
	}

	expected := Sign(v.secret, dataID, requestID, ts)
	given, err := hex.DecodeString(sig)
	if err != nil || !hmac.Equal(given, expected) {
		return ErrBadSignature
	}
	return nil
}

// Sign computes the raw v1 HMAC.
func Sign(secret []byte, dataID, requestID, ts string) []byte {
	var manifest strings.Builder
	manifest.WriteString("id:" + strings.ToLower(dataID) + ";")
	if requestID != "" {
		manifest.WriteString("request-id:" + requestID + ";")
	}
	manifest.WriteString("ts:" + ts + ";")

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(manifest.String()))
	return mac.Sum(nil)
}
