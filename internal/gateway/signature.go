package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cassiomorais/esusu/internal/domain/errors"
)

// SignatureHeader is the webhook signature header name.
const SignatureHeader = "X-Gateway-Signature"

// SignPayload produces a "t=<unix>,v1=<hex hmac>" signature over
// "<unix>.<body>" with the shared secret. Exposed so tests and the replay
// tool can build valid envelopes.
func SignPayload(secret string, body []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

// VerifySignature checks the signature header against the body. The
// timestamp must be within tolerance of now to bound replay windows.
func VerifySignature(secret string, body []byte, header string, tolerance time.Duration, now time.Time) error {
	ts, sig, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	at := time.Unix(ts, 0)
	if tolerance > 0 {
		drift := now.Sub(at)
		if drift < 0 {
			drift = -drift
		}
		if drift > tolerance {
			return errors.ErrInvalidSignature
		}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(sig)
	if err != nil || !hmac.Equal(expected, got) {
		return errors.ErrInvalidSignature
	}
	return nil
}

func parseSignatureHeader(header string) (ts int64, sig string, err error) {
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, err = strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, "", errors.ErrInvalidSignature
			}
		case "v1":
			sig = v
		}
	}
	if ts == 0 || sig == "" {
		return 0, "", errors.ErrInvalidSignature
	}
	return ts, sig, nil
}
