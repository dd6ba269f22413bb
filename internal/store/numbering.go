package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	WalkinPrefix    = "W-"
	queueDateLayout = "020106"
)

// FormatQueueNumber renders an online number as CODE-ddmmyy-NNNN.
func FormatQueueNumber(code string, queueDate time.Time, n int64) string {
	return fmt.Sprintf("%s-%s-%04d", strings.ToUpper(code), queueDate.Format(queueDateLayout), n)
}

func FormatWalkinNumber(n int64) string {
	return fmt.Sprintf("%s%03d", WalkinPrefix, n)
}

// QueueNumberPrefix is the part of an online number shared by every entry of
// a service on one day.
func QueueNumberPrefix(code string, queueDate time.Time) string {
	return fmt.Sprintf("%s-%s-", strings.ToUpper(code), queueDate.Format(queueDateLayout))
}

// ParseSuffix extracts the counter from a number carrying prefix. Malformed
// numbers report false and are ignored by the verification scan.
func ParseSuffix(number, prefix string) (int64, bool) {
	if !strings.HasPrefix(number, prefix) {
		return 0, false
	}
	digits := number[len(prefix):]
	if digits == "" {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// MaxSuffix returns the largest well-formed counter among numbers.
func MaxSuffix(numbers []string, prefix string) int64 {
	var highest int64
	for _, number := range numbers {
		if n, ok := ParseSuffix(number, prefix); ok && n > highest {
			highest = n
		}
	}
	return highest
}

// ReconcileCounter raises a minted counter value past any number already
// issued when the counter row lags behind the ledger.
func ReconcileCounter(minted, highestIssued int64) int64 {
	if minted <= highestIssued {
		return highestIssued + 1
	}
	return minted
}
