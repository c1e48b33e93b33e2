// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultSignatureTolerance is how old a signed notification may be.
const DefaultSignatureTolerance = 5 * time.Minute

// SignatureValidator checks the HMAC-SHA256 signature a CalDAV push bridge
// puts on each notification.
type SignatureValidator struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

// NewSignatureValidator creates a validator. An empty secret disables checking.
func NewSignatureValidator(secret string) *SignatureValidator {
	return &SignatureValidator{
		secret:    secret,
		tolerance: DefaultSignatureTolerance,
		now:       time.Now,
	}
}

// Enabled reports whether a secret is configured.
func (v *SignatureValidator) Enabled() bool {
	return v != nil && v.secret != ""
}

// Sign returns the signature of body at timestamp, in header form.
func (v *SignatureValidator) Sign(body []byte, timestamp string) string {
	h := hmac.New(sha256.New, []byte(v.secret))
	h.Write([]byte(timestamp))
	h.Write([]byte{'.'})
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// ValidateSignature validates signature over "<timestamp>.<body>".
func (v *SignatureValidator) ValidateSignature(body []byte, signature, timestamp string) error {
	if !v.Enabled() {
		return nil
	}

	if signature == "" {
		return fmt.Errorf("missing webhook signature")
	}

	if timestamp == "" {
		return fmt.Errorf("missing webhook timestamp")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp format: %w", err)
	}

	// replay protection
	age := v.now().Sub(time.Unix(ts, 0))
	if age > v.tolerance || age < -v.tolerance {
		return fmt.Errorf("request timestamp outside tolerance")
	}

	expected := strings.TrimPrefix(v.Sign(body, timestamp), "sha256=")
	provided := strings.TrimPrefix(signature, "sha256=")

	if !hmac.Equal([]byte(provided), []byte(expected)) {
		return fmt.Errorf("invalid webhook signature")
	}

	return nil
}
