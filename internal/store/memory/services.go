package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lucyheather39-png/que-management/internal/models"
	"github.com/lucyheather39-png/que-management/internal/store"
)

func (s *InMemoryStore) ListServices(_ context.Context, activeOnly bool) ([]models.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	services := make([]models.Service, 0, len(s.services))
	for _, service := range s.services {
		if activeOnly && !service.Active {
			continue
		}
		services = append(services, service)
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })
	return services, nil
}

func (s *InMemoryStore) GetService(_ context.Context, serviceID string) (models.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	service, ok := s.services[serviceID]
	if !ok {
		return models.Service{}, store.ErrServiceNotFound
	}
	return service, nil
}

func (s *InMemoryStore) CreateService(_ context.Context, input store.ServiceInput) (models.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codeTaken(input.Code, "") {
		return models.Service{}, store.ErrDuplicateCode
	}
	service := models.Service{
		ServiceID:        uuid.NewString(),
		Code:             input.Code,
		Name:             input.Name,
		Description:      input.Description,
		EstimatedMinutes: input.EstimatedMinutes,
		MaxDailyQueue:    input.MaxDailyQueue,
		Active:           input.IsActive(),
		CreatedAt:        time.Now().UTC(),
	}
	s.services[service.ServiceID] = service
	return service, nil
}

func (s *InMemoryStore) UpdateService(_ context.Context, serviceID string, input store.ServiceInput) (models.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	service, ok := s.services[serviceID]
	if !ok {
		return models.Service{}, store.ErrServiceNotFound
	}
	if s.codeTaken(input.Code, serviceID) {
		return models.Service{}, store.ErrDuplicateCode
	}
	service.Code = input.Code
	service.Name = input.Name
	service.Description = input.Description
	service.EstimatedMinutes = input.EstimatedMinutes
	service.MaxDailyQueue = input.MaxDailyQueue
	if input.Active != nil {
		service.Active = *input.Active
	}
	s.services[serviceID] = service
	return service, nil
}

func (s *InMemoryStore) DeleteService(_ context.Context, serviceID string, cascade bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.services[serviceID]; !ok {
		return 0, store.ErrServiceNotFound
	}
	var referencing []string
	for id, entry := range s.entries {
		if entry.ServiceID == serviceID {
			referencing = append(referencing, id)
		}
	}
	if len(referencing) > 0 && !cascade {
		return 0, store.ErrServiceInUse
	}
	for _, id := range referencing {
		delete(s.entries, id)
	}
	delete(s.services, serviceID)
	return len(referencing), nil
}

func (s *InMemoryStore) codeTaken(code, exceptID string) bool {
	for id, service := range s.services {
		if id != exceptID && service.Code == code {
			return true
		}
	}
	return false
}

func (s *InMemoryStore) InsertAdminLog(_ context.Context, entry store.AdminLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adminLogs = append(s.adminLogs, entry)
	return nil
}

// AdminLogs returns a copy of the recorded admin actions.
func (s *InMemoryStore) AdminLogs() []store.AdminLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.AdminLog{}, s.adminLogs...)
}
