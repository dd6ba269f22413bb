package store

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/lucyheather39-png/que-management/internal/models"
)

// ComputeCompletionHash chains a completion record onto the previous record
// of the same service.
func ComputeCompletionHash(prevHash string, c models.Completion) string {
	servedAt := ""
	if c.ServedAt != nil {
		servedAt = hashTime(*c.ServedAt)
	}
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s|%s|%s|%s",
		prevHash,
		c.EntryID,
		c.QueueNumber,
		c.ServiceID,
		c.Tier,
		hashTime(c.CreatedAt),
		servedAt,
		hashTime(c.CompletedAt),
		c.CompletedBy,
	)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// hashTime renders at database precision so a record read back from storage
// hashes the same as when it was written.
func hashTime(t time.Time) string {
	return t.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano)
}

// VerifyCompletionChain checks records of one service in append order and
// returns the index of the first broken link, or -1.
func VerifyCompletionChain(records []models.Completion) int {
	prev := ""
	for i, record := range records {
		if record.PrevHash != prev {
			return i
		}
		if ComputeCompletionHash(prev, record) != record.Hash {
			return i
		}
		prev = record.Hash
	}
	return -1
}
