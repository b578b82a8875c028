package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// SignatureHeader carries "t=<unix>,v1=<hex hmac>".
	SignatureHeader = "X-Schoolkit-Signature"
	// DeliveryHeader carries a unique id per delivery attempt.
	DeliveryHeader = "X-Schoolkit-Delivery"
	// EventHeader names the event carried in the payload, when known.
	EventHeader = "X-Schoolkit-Event"
)

// Signature binds a payload to the time it was signed.
type Signature struct {
	Timestamp time.Time
	MAC       string
}

// String renders the signature header value.
func (s Signature) String() string {
	return fmt.Sprintf("t=%d,v1=%s", s.Timestamp.Unix(), s.MAC)
}

// Sign computes HMAC-SHA256(secret, "<unix>.<payload>").
func Sign(secret string, payload []byte, at time.Time) (Signature, error) {
	if secret == "" {
		return Signature{}, fmt.Errorf("%w: secret is required", ErrInvalidConfiguration)
	}
	if len(payload) == 0 {
		return Signature{}, fmt.Errorf("%w: payload cannot be empty", ErrInvalidPayload)
	}
	at = time.Unix(at.Unix(), 0)
	return Signature{Timestamp: at, MAC: computeMAC(secret, at.Unix(), payload)}, nil
}

// ParseSignature parses a header produced by Signature.String.
func ParseSignature(header string) (Signature, error) {
	var sig Signature
	for part := range strings.SplitSeq(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return Signature{}, fmt.Errorf("%w: malformed timestamp", ErrInvalidSignature)
			}
			sig.Timestamp = time.Unix(ts, 0)
		case "v1":
			sig.MAC = v
		}
	}
	if sig.Timestamp.IsZero() || sig.MAC == "" {
		return Signature{}, fmt.Errorf("%w: missing timestamp or mac", ErrInvalidSignature)
	}
	return sig, nil
}

// Verify checks header against payload. A positive tolerance rejects
// signatures older than tolerance and more than a minute in the future.
func Verify(secret string, payload []byte, header string, tolerance time.Duration, now time.Time) error {
	if secret == "" {
		return fmt.Errorf("%w: secret is required", ErrInvalidConfiguration)
	}
	sig, err := ParseSignature(header)
	if err != nil {
		return err
	}
	if tolerance > 0 {
		age := now.Sub(sig.Timestamp)
		if age > tolerance {
			return fmt.Errorf("%w: signature is %s old", ErrInvalidSignature, age.Truncate(time.Second))
		}
		if age < -time.Minute {
			return fmt.Errorf("%w: signature timestamp is in the future", ErrInvalidSignature)
		}
	}
	expected := computeMAC(secret, sig.Timestamp.Unix(), payload)
	if !hmac.Equal([]byte(expected), []byte(sig.MAC)) {
		return fmt.Errorf("%w: mac mismatch", ErrInvalidSignature)
	}
	return nil
}

// VerifyRequest reads and verifies the body of a signed webhook request.
// The body is returned so handlers can decode it.
func VerifyRequest(r *http.Request, secret string, tolerance time.Duration) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook body: %w", err)
	}
	if err := Verify(secret, body, r.Header.Get(SignatureHeader), tolerance, time.Now()); err != nil {
		return nil, err
	}
	return body, nil
}

func computeMAC(secret string, ts int64, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(strconv.FormatInt(ts, 10)))
	h.Write([]byte{'.'})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
