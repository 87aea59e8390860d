package model

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

const maxQueueNameLength = 64

var (
	queueNamePattern = regexp.MustCompile(`^[\p{L}\p{N}][\p{L}\p{N}._-]*$`)
	folder           = cases.Fold()

	ErrEmptyQueueName   = errors.New("queue name is required")
	ErrQueueNameTooLong = fmt.Errorf("queue name must be at most %d characters", maxQueueNameLength)
	ErrQueueNameChars   = errors.New("queue name may only contain letters, digits, '.', '-' and '_'")
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a suffix.
// This is useful for creating unique identifiers with context-specific prefixes.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New() // Generate a new UUID.
	uuidStr := id.String()
	idWithSuffix := fmt.Sprintf("%s_%s", module, uuidStr) // Append the module as a suffix to the UUID.
	return idWithSuffix
}

// CanonicalQueueName returns the case-folded form used to store and look up a queue.
// "Coffee", "COFFEE" and "coffee" all resolve to the same record.
func CanonicalQueueName(name string) string {
	return folder.String(strings.TrimSpace(name))
}

// ValidateQueueName checks a name after canonicalisation.
func ValidateQueueName(name string) error {
	canonical := CanonicalQueueName(name)
	if canonical == "" {
		return ErrEmptyQueueName
	}
	if utf8.RuneCountInString(canonical) > maxQueueNameLength {
		return ErrQueueNameTooLong
	}
	if !queueNamePattern.MatchString(canonical) {
		return ErrQueueNameChars
	}
	return nil
}

// NowMillis returns t as wall-clock milliseconds since the Unix epoch.
func NowMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// HashReference derives a short, stable key from an external reference such as a
// payment request. Used to make credits idempotent per invoice.
func HashReference(reference string) string {
	hash := sha256.Sum256([]byte(reference))
	return hex.EncodeToString(hash[:16])
}
