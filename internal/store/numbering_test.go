package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatQueueNumber(t *testing.T) {
	day := time.Date(2025, time.March, 7, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "BIRTH-070325-0001", FormatQueueNumber("birth", day, 1))
	assert.Equal(t, "BPERM-070325-0123", FormatQueueNumber("BPERM", day, 123))
	assert.Equal(t, "BIRTH-070325-", QueueNumberPrefix("Birth", day))
}

func TestFormatWalkinNumber(t *testing.T) {
	assert.Equal(t, "W-001", FormatWalkinNumber(1))
	assert.Equal(t, "W-042", FormatWalkinNumber(42))
	assert.Equal(t, "W-1000", FormatWalkinNumber(1000))
}

func TestParseSuffix(t *testing.T) {
	cases := []struct {
		number string
		prefix string
		want   int64
		ok     bool
	}{
		{"W-007", WalkinPrefix, 7, true},
		{"W-1000", WalkinPrefix, 1000, true},
		{"W-", WalkinPrefix, 0, false},
		{"W-abc", WalkinPrefix, 0, false},
		{"W-00x", WalkinPrefix, 0, false},
		{"W--01", WalkinPrefix, 0, false},
		{"W-000", WalkinPrefix, 0, false},
		{"BIRTH-070325-0004", "BIRTH-070325-", 4, true},
		{"DEATH-070325-0004", "BIRTH-070325-", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseSuffix(tc.number, tc.prefix)
		assert.Equal(t, tc.ok, ok, tc.number)
		assert.Equal(t, tc.want, got, tc.number)
	}
}

func TestMaxSuffixSkipsMalformed(t *testing.T) {
	numbers := []string{"W-003", "W-bad", "W-010", "W-", "legacy"}
	assert.Equal(t, int64(10), MaxSuffix(numbers, WalkinPrefix))
	assert.Equal(t, int64(0), MaxSuffix(nil, WalkinPrefix))
}

func TestReconcileCounter(t *testing.T) {
	assert.Equal(t, int64(5), ReconcileCounter(5, 4))
	assert.Equal(t, int64(8), ReconcileCounter(3, 7))
	assert.Equal(t, int64(8), ReconcileCounter(7, 7))
	assert.Equal(t, int64(1), ReconcileCounter(1, 0))
}
