// Package ids provides the kernel's clock abstraction and ID generation.
package ids

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time.Now so components can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock is a Clock that always returns the same instant. Useful in tests.
type FixedClock struct{ At time.Time }

func (c FixedClock) Now() time.Time { return c.At }

// FormatRFC3339Z renders t as an RFC3339 timestamp with a literal "Z" suffix,
// matching the telemetry and proof schema's UTC-with-Z convention.
func FormatRFC3339Z(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func shortHash(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("ids: failed to generate random suffix: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// NewWorkcellID derives a workcell ID as wc-<issueID>-<8charhash>, or
// wc-<issueID>-<tag>-<8charhash> when a speculate tag is supplied.
func NewWorkcellID(issueID, speculateTag string) (string, error) {
	suffix, err := shortHash(4)
	if err != nil {
		return "", err
	}
	if speculateTag == "" {
		return fmt.Sprintf("wc-%s-%s", issueID, suffix), nil
	}
	return fmt.Sprintf("wc-%s-%s-%s", issueID, speculateTag, suffix), nil
}

// NewRunID generates a globally unique run identifier for `.cyntra/runs/<run-id>/`.
func NewRunID() string {
	return uuid.NewString()
}

// BranchName returns the canonical feature branch name for a workcell.
func BranchName(issueID, workcellID string) string {
	return fmt.Sprintf("wc/%s/%s", issueID, workcellID)
}
