package queue

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lucyheather39-png/que-management/internal/models"
	"github.com/lucyheather39-png/que-management/internal/store"
)

// DefaultServices is the municipal catalog installed by the seed command.
var DefaultServices = []store.ServiceInput{
	{Code: "BIRTH", Name: "Birth Certificate", Description: "Birth Certificate Application and Issuance", EstimatedMinutes: 30},
	{Code: "DEATH", Name: "Death Certificate", Description: "Death Certificate Application and Issuance", EstimatedMinutes: 20},
	{Code: "MARRIAGE", Name: "Marriage Certificate", Description: "Marriage Certificate Application and Issuance", EstimatedMinutes: 25},
	{Code: "BPERM", Name: "Business Permit", Description: "Business Permit Application and Processing", EstimatedMinutes: 45},
	{Code: "ASSESS", Name: "Property Assessment", Description: "Property Assessment and Evaluation", EstimatedMinutes: 40},
	{Code: "INQUIRY", Name: "General Inquiry", Description: "General Information and Inquiry Services", EstimatedMinutes: 15},
}

func (l *Ledger) ListServices(ctx context.Context, activeOnly bool) ([]models.Service, error) {
	return l.store.ListServices(ctx, activeOnly)
}

func (l *Ledger) GetService(ctx context.Context, serviceID string) (models.Service, error) {
	return l.store.GetService(ctx, serviceID)
}

func (l *Ledger) CreateService(ctx context.Context, actor models.Actor, input store.ServiceInput) (models.Service, error) {
	if !actor.IsAdmin() {
		return models.Service{}, store.ErrAdminOnly
	}
	input = input.Normalize()
	if err := input.Validate(); err != nil {
		return models.Service{}, err
	}
	service, err := l.store.CreateService(ctx, input)
	if err != nil {
		return models.Service{}, err
	}
	l.audit(ctx, actor, fmt.Sprintf("Created service %s (%s).", service.Name, service.Code))
	return service, nil
}

func (l *Ledger) UpdateService(ctx context.Context, actor models.Actor, serviceID string, input store.ServiceInput) (models.Service, error) {
	if !actor.IsAdmin() {
		return models.Service{}, store.ErrAdminOnly
	}
	input = input.Normalize()
	if err := input.Validate(); err != nil {
		return models.Service{}, err
	}
	service, err := l.store.UpdateService(ctx, serviceID, input)
	if err != nil {
		return models.Service{}, err
	}
	l.audit(ctx, actor, fmt.Sprintf("Updated service %s (%s).", service.Name, service.Code))
	return service, nil
}

// DeleteService removes a service. Without cascade the call fails while any
// queue entry still references the service.
func (l *Ledger) DeleteService(ctx context.Context, actor models.Actor, serviceID string, cascade bool) (int, error) {
	if !actor.IsAdmin() {
		return 0, store.ErrAdminOnly
	}
	service, err := l.store.GetService(ctx, serviceID)
	if err != nil {
		return 0, err
	}
	deleted, err := l.store.DeleteService(ctx, serviceID, cascade)
	if err != nil {
		return 0, err
	}
	l.audit(ctx, actor, fmt.Sprintf("Deleted service %s (%s) and %d queue entries.", service.Name, service.Code, deleted))
	return deleted, nil
}

// SeedDefaults installs DefaultServices, skipping codes that already exist.
func (l *Ledger) SeedDefaults(ctx context.Context) (int, error) {
	existing, err := l.store.ListServices(ctx, false)
	if err != nil {
		return 0, err
	}
	codes := make(map[string]bool, len(existing))
	for _, service := range existing {
		codes[service.Code] = true
	}

	created := 0
	for _, input := range DefaultServices {
		input = input.Normalize()
		if codes[input.Code] {
			continue
		}
		service, err := l.store.CreateService(ctx, input)
		if err != nil {
			return created, err
		}
		created++
		l.logger.WithFields(logrus.Fields{"code": service.Code, "service_id": service.ServiceID}).Info("service seeded")
	}
	return created, nil
}
