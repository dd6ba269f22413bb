// Package memory is an in-process Store used by tests and local demos. It
// follows the same admission and transition rules as the PostgreSQL store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lucyheather39-png/que-management/internal/models"
	"github.com/lucyheather39-png/que-management/internal/store"
)

type InMemoryStore struct {
	mu          sync.RWMutex
	seq         int64
	services    map[string]models.Service
	entries     map[string]models.Entry
	counters    map[string]int64
	completions []models.Completion
	adminLogs   []store.AdminLog
}

var _ store.Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		services: make(map[string]models.Service),
		entries:  make(map[string]models.Entry),
		counters: make(map[string]int64),
	}
}

func counterKey(namespace, serviceID string, queueDate time.Time) string {
	if namespace == models.NamespaceWalkin {
		return namespace
	}
	return namespace + "|" + serviceID + "|" + queueDate.Format("2006-01-02")
}

func (s *InMemoryStore) Admit(_ context.Context, input store.AdmitInput) (models.Entry, error) {
	if err := input.Validate(); err != nil {
		return models.Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	service, ok := s.services[input.ServiceID]
	if !ok {
		return models.Entry{}, store.ErrServiceNotFound
	}
	if !service.Active {
		return models.Entry{}, store.ErrServiceInactive
	}

	if input.HolderKind == models.HolderCitizen {
		for _, existing := range s.entries {
			if existing.CitizenID == input.CitizenID && existing.QueueDate.Equal(input.QueueDate) && models.IsActive(existing.Status) {
				return models.Entry{}, store.ErrActiveEntry
			}
		}
	}

	prefix := store.WalkinPrefix
	if input.Namespace == models.NamespaceOnline {
		prefix = store.QueueNumberPrefix(service.Code, input.QueueDate)
	}
	key := counterKey(input.Namespace, input.ServiceID, input.QueueDate)
	n := store.ReconcileCounter(s.counters[key]+1, store.MaxSuffix(s.numbersIn(input.Namespace), prefix))
	if input.Namespace == models.NamespaceOnline && n > int64(service.MaxDailyQueue) {
		return models.Entry{}, store.ErrCapacityExceeded
	}

	number := store.FormatWalkinNumber(n)
	if input.Namespace == models.NamespaceOnline {
		number = store.FormatQueueNumber(service.Code, input.QueueDate, n)
	}
	for _, existing := range s.entries {
		if existing.Namespace == input.Namespace && existing.QueueNumber == number {
			return models.Entry{}, store.ErrNumberCollision
		}
	}

	s.counters[key] = n
	s.seq++
	entry := models.Entry{
		EntryID:     uuid.NewString(),
		QueueNumber: number,
		Namespace:   input.Namespace,
		ServiceID:   input.ServiceID,
		HolderKind:  input.HolderKind,
		CitizenID:   input.CitizenID,
		Tier:        input.Tier,
		Status:      models.StatusWaiting,
		Position:    store.PositionOf(s.queueOf(input.ServiceID, input.QueueDate), input.Tier),
		QueueDate:   input.QueueDate,
		CreatedAt:   input.CreatedAt,
		Seq:         s.seq,
	}
	s.entries[entry.EntryID] = entry
	return entry, nil
}

func (s *InMemoryStore) numbersIn(namespace string) []string {
	var numbers []string
	for _, entry := range s.entries {
		if entry.Namespace == namespace {
			numbers = append(numbers, entry.QueueNumber)
		}
	}
	return numbers
}

func (s *InMemoryStore) queueOf(serviceID string, queueDate time.Time) []models.Entry {
	var entries []models.Entry
	for _, entry := range s.entries {
		if entry.ServiceID == serviceID && entry.QueueDate.Equal(queueDate) {
			entries = append(entries, entry)
		}
	}
	return entries
}

func (s *InMemoryStore) GetEntry(_ context.Context, entryID string) (models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[entryID]
	if !ok {
		return models.Entry{}, store.ErrEntryNotFound
	}
	return entry, nil
}

func (s *InMemoryStore) ListEntries(_ context.Context, filter store.ListFilter) ([]models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]models.Entry, 0)
	for _, entry := range s.entries {
		if filter.ServiceID != "" && entry.ServiceID != filter.ServiceID {
			continue
		}
		if filter.Namespace != "" && entry.Namespace != filter.Namespace {
			continue
		}
		if filter.CitizenID != "" && entry.CitizenID != filter.CitizenID {
			continue
		}
		if !filter.QueueDate.IsZero() && !entry.QueueDate.Equal(filter.QueueDate) {
			continue
		}
		if filter.ActiveOnly && !models.IsActive(entry.Status) {
			continue
		}
		entries = append(entries, entry)
	}

	if filter.Newest {
		sort.Slice(entries, func(i, j int) bool { return entries[i].Seq > entries[j].Seq })
	} else {
		store.SortEntries(entries)
	}
	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[:filter.Limit]
	}
	return entries, nil
}

func (s *InMemoryStore) Transition(_ context.Context, input store.TransitionInput) (models.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[input.EntryID]
	if !ok {
		return models.Entry{}, store.ErrEntryNotFound
	}
	if err := store.Authorize(input.Actor, entry, input.Action); err != nil {
		return models.Entry{}, err
	}

	occurredAt := input.OccurredAt
	switch input.Action {
	case store.ActionServe:
		entry.Status = models.StatusServing
		entry.ServedAt = &occurredAt
	case store.ActionCancel:
		entry.Status = models.StatusCancelled
	case store.ActionComplete:
		entry.Status = models.StatusCompleted
		entry.CompletedAt = &occurredAt
		s.appendCompletion(entry, input.Actor.ID)
		delete(s.entries, entry.EntryID)
		return entry, nil
	default:
		return models.Entry{}, store.ErrInvalidState
	}
	s.entries[entry.EntryID] = entry
	return entry, nil
}

func (s *InMemoryStore) appendCompletion(entry models.Entry, completedBy string) {
	prev := ""
	for i := len(s.completions) - 1; i >= 0; i-- {
		if s.completions[i].ServiceID == entry.ServiceID {
			prev = s.completions[i].Hash
			break
		}
	}
	record := models.Completion{
		CompletionID: uuid.NewString(),
		EntryID:      entry.EntryID,
		QueueNumber:  entry.QueueNumber,
		ServiceID:    entry.ServiceID,
		Namespace:    entry.Namespace,
		Tier:         entry.Tier,
		QueueDate:    entry.QueueDate,
		CreatedAt:    entry.CreatedAt,
		ServedAt:     entry.ServedAt,
		CompletedAt:  *entry.CompletedAt,
		CompletedBy:  completedBy,
		PrevHash:     prev,
	}
	record.Hash = store.ComputeCompletionHash(prev, record)
	s.completions = append(s.completions, record)
}

func (s *InMemoryStore) DeleteEntry(_ context.Context, entryID string) (models.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[entryID]
	if !ok {
		return models.Entry{}, store.ErrEntryNotFound
	}
	delete(s.entries, entryID)
	return entry, nil
}

func (s *InMemoryStore) ResetWalkins(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, entry := range s.entries {
		if entry.Namespace == models.NamespaceWalkin {
			delete(s.entries, id)
			deleted++
		}
	}
	delete(s.counters, counterKey(models.NamespaceWalkin, "", time.Time{}))
	return deleted, nil
}

func (s *InMemoryStore) LivePosition(_ context.Context, entryID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[entryID]
	if !ok {
		return 0, store.ErrEntryNotFound
	}
	return store.LivePosition(s.queueOf(entry.ServiceID, entry.QueueDate), entryID), nil
}

func (s *InMemoryStore) DailyStats(_ context.Context, queueDate time.Time) (models.DailyStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := models.DailyStats{QueueDate: queueDate}
	for _, entry := range s.entries {
		if !entry.QueueDate.Equal(queueDate) {
			continue
		}
		switch entry.Status {
		case models.StatusWaiting:
			stats.Waiting++
		case models.StatusServing:
			stats.Serving++
		case models.StatusCancelled:
			stats.Cancelled++
		}
		if entry.Namespace == models.NamespaceWalkin && models.IsActive(entry.Status) {
			stats.Walkins++
		}
	}
	for _, record := range s.completions {
		if record.QueueDate.Equal(queueDate) {
			stats.Completed++
		}
	}
	stats.Issued = stats.Waiting + stats.Serving + stats.Cancelled + stats.Completed
	return stats, nil
}

func (s *InMemoryStore) ListCompletions(_ context.Context, serviceID string, limit int) ([]models.Completion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]models.Completion, 0)
	for _, record := range s.completions {
		if serviceID == "" || record.ServiceID == serviceID {
			records = append(records, record)
		}
	}
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}
