package models

import "time"

type Entry struct {
	EntryID      string     `json:"entry_id"`
	QueueNumber  string     `json:"queue_number"`
	Namespace    string     `json:"namespace"`
	ServiceID    string     `json:"service_id"`
	HolderKind   string     `json:"holder_kind"`
	CitizenID    string     `json:"citizen_id,omitempty"`
	Tier         Tier       `json:"priority_level"`
	Status       string     `json:"status"`
	Position     int        `json:"position"`
	LivePosition int        `json:"live_position,omitempty"`
	QueueDate    time.Time  `json:"queue_date"`
	CreatedAt    time.Time  `json:"created_at"`
	ServedAt     *time.Time `json:"served_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Seq          int64      `json:"-"`
}

const (
	StatusWaiting   = "waiting"
	StatusServing   = "serving"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

const (
	NamespaceOnline = "online"
	NamespaceWalkin = "walkin"
)

// Holder kinds. Walk-in entries carry no citizen id and are exempt from the
// one-active-entry rule.
const (
	HolderCitizen = "citizen"
	HolderWalkin  = "walkin"
)

// IsActive reports whether the status still occupies a place in the queue.
func IsActive(status string) bool {
	return status == StatusWaiting || status == StatusServing
}

// Completion is the append-only record written when an entry is completed
// and removed from the ledger.
type Completion struct {
	CompletionID string     `json:"completion_id"`
	EntryID      string     `json:"entry_id"`
	QueueNumber  string     `json:"queue_number"`
	ServiceID    string     `json:"service_id"`
	Namespace    string     `json:"namespace"`
	Tier         Tier       `json:"priority_level"`
	QueueDate    time.Time  `json:"queue_date"`
	CreatedAt    time.Time  `json:"created_at"`
	ServedAt     *time.Time `json:"served_at,omitempty"`
	CompletedAt  time.Time  `json:"completed_at"`
	CompletedBy  string     `json:"completed_by"`
	PrevHash     string     `json:"prev_hash"`
	Hash         string     `json:"hash"`
}

type DailyStats struct {
	QueueDate time.Time `json:"queue_date"`
	Issued    int       `json:"issued"`
	Waiting   int       `json:"waiting"`
	Serving   int       `json:"serving"`
	Completed int       `json:"completed"`
	Cancelled int       `json:"cancelled"`
	Walkins   int       `json:"walkins_active"`
}
