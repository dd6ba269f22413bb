package store

import (
	"context"
	"strings"
	"time"

	"github.com/lucyheather39-png/que-management/internal/models"
)

type AdmitInput struct {
	Namespace  string
	ServiceID  string
	HolderKind string
	CitizenID  string
	Tier       models.Tier
	QueueDate  time.Time
	CreatedAt  time.Time
}

type TransitionInput struct {
	EntryID    string
	Action     string
	Actor      models.Actor
	OccurredAt time.Time
}

// ListFilter narrows entry listings. Zero values mean "any".
type ListFilter struct {
	ServiceID  string
	Namespace  string
	CitizenID  string
	QueueDate  time.Time
	ActiveOnly bool
	Newest     bool
	Limit      int
}

type ServiceInput struct {
	Code             string
	Name             string
	Description      string
	EstimatedMinutes int
	MaxDailyQueue    int
	Active           *bool
}

type AdminLog struct {
	AdminID     string    `json:"admin_id"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type LedgerStore interface {
	Admit(ctx context.Context, input AdmitInput) (models.Entry, error)
	GetEntry(ctx context.Context, entryID string) (models.Entry, error)
	ListEntries(ctx context.Context, filter ListFilter) ([]models.Entry, error)
	Transition(ctx context.Context, input TransitionInput) (models.Entry, error)
	DeleteEntry(ctx context.Context, entryID string) (models.Entry, error)
	ResetWalkins(ctx context.Context) (int, error)
	LivePosition(ctx context.Context, entryID string) (int, error)
	DailyStats(ctx context.Context, queueDate time.Time) (models.DailyStats, error)
	ListCompletions(ctx context.Context, serviceID string, limit int) ([]models.Completion, error)
}

type ServiceStore interface {
	ListServices(ctx context.Context, activeOnly bool) ([]models.Service, error)
	GetService(ctx context.Context, serviceID string) (models.Service, error)
	CreateService(ctx context.Context, input ServiceInput) (models.Service, error)
	UpdateService(ctx context.Context, serviceID string, input ServiceInput) (models.Service, error)
	DeleteService(ctx context.Context, serviceID string, cascade bool) (int, error)
}

type AuditStore interface {
	InsertAdminLog(ctx context.Context, entry AdminLog) error
}

type Store interface {
	LedgerStore
	ServiceStore
	AuditStore
}

// Validate rejects admissions whose holder, namespace and tier do not fit
// together. Walk-ins never carry a citizen id; citizens always do.
func (in AdmitInput) Validate() error {
	if !in.Tier.Valid() {
		return ErrInvalidInput
	}
	switch in.Namespace {
	case models.NamespaceOnline:
		if in.HolderKind != models.HolderCitizen || in.CitizenID == "" {
			return ErrInvalidInput
		}
	case models.NamespaceWalkin:
		if in.HolderKind != models.HolderWalkin || in.CitizenID != "" {
			return ErrInvalidInput
		}
	default:
		return ErrInvalidInput
	}
	return nil
}

// Normalize trims the input and fills defaults for a new service.
func (in ServiceInput) Normalize() ServiceInput {
	in.Code = strings.ToUpper(strings.TrimSpace(in.Code))
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if in.MaxDailyQueue == 0 {
		in.MaxDailyQueue = models.DefaultMaxDailyQueue
	}
	if in.EstimatedMinutes == 0 {
		in.EstimatedMinutes = 30
	}
	return in
}

func (in ServiceInput) Validate() error {
	switch {
	case in.Code == "" || len(in.Code) > 20:
		return ErrInvalidInput
	case strings.ContainsAny(in.Code, " -"):
		return ErrInvalidInput
	case in.Name == "" || len(in.Name) > 200:
		return ErrInvalidInput
	case in.EstimatedMinutes < 1:
		return ErrInvalidInput
	case in.MaxDailyQueue < 1:
		return ErrInvalidInput
	}
	return nil
}

// IsActive returns the requested active flag, defaulting to true.
func (in ServiceInput) IsActive() bool {
	return in.Active == nil || *in.Active
}
