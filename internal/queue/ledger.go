// Package queue coordinates admissions and state changes on top of a Store,
// adding retries, audit logging, metrics, tracing and change notifications.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lucyheather39-png/que-management/internal/events"
	"github.com/lucyheather39-png/que-management/internal/metrics"
	"github.com/lucyheather39-png/que-management/internal/models"
	"github.com/lucyheather39-png/que-management/internal/store"
	"github.com/lucyheather39-png/que-management/internal/telemetry"
)

const (
	defaultBoardSize    = 20
	defaultRetryBackoff = 15 * time.Millisecond
)

type Ledger struct {
	store     store.Store
	logger    logrus.FieldLogger
	metrics   *metrics.Metrics
	publisher events.Publisher
	tracer    trace.Tracer
	now       func() time.Time
	location  *time.Location
	retries   int
	retryWait time.Duration
	boardSize int
}

type Option func(l *Ledger)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

func WithPublisher(publisher events.Publisher) Option {
	return func(l *Ledger) {
		l.publisher = publisher
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// WithLocation sets the timezone that decides which queue date "today" is.
func WithLocation(location *time.Location) Option {
	return func(l *Ledger) {
		if location != nil {
			l.location = location
		}
	}
}

// WithMaxRetries caps admission attempts after number collisions and
// serialization failures.
func WithMaxRetries(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.retries = n
		}
	}
}

// WithRetryBackoff sets the first wait between admission attempts. Later
// waits grow exponentially with jitter.
func WithRetryBackoff(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.retryWait = d
		}
	}
}

func WithBoardSize(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.boardSize = n
		}
	}
}

func New(st store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:     st,
		logger:    logrus.StandardLogger(),
		publisher: events.NopPublisher{},
		tracer:    telemetry.Tracer("queue"),
		now:       time.Now,
		location:  time.UTC,
		retries:   3,
		retryWait: defaultRetryBackoff,
		boardSize: defaultBoardSize,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.metrics == nil {
		l.metrics = metrics.New(prometheus.NewRegistry())
	}
	return l
}

// Today is the current queue date in the configured timezone, expressed as
// midnight UTC so it compares equal to dates read back from storage.
func (l *Ledger) Today() time.Time {
	now := l.now().In(l.location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// Admit places a citizen in a service's queue for today.
func (l *Ledger) Admit(ctx context.Context, actor models.Actor, serviceID string) (entry models.Entry, err error) {
	ctx, span := l.tracer.Start(ctx, "queue.Admit", trace.WithAttributes(attribute.String("service_id", serviceID)))
	defer func() { endSpan(span, err) }()

	if !actor.IsCitizen() {
		return models.Entry{}, fmt.Errorf("%w: only citizens can join the online queue", store.ErrForbidden)
	}
	return l.admit(ctx, store.AdmitInput{
		Namespace:  models.NamespaceOnline,
		ServiceID:  serviceID,
		HolderKind: models.HolderCitizen,
		CitizenID:  actor.ID,
		Tier:       models.TierOf(actor.Classification),
		QueueDate:  l.Today(),
	})
}

// AdmitWalkin issues a walk-in number. Walk-ins are always regular tier.
func (l *Ledger) AdmitWalkin(ctx context.Context, serviceID string) (entry models.Entry, err error) {
	ctx, span := l.tracer.Start(ctx, "queue.AdmitWalkin", trace.WithAttributes(attribute.String("service_id", serviceID)))
	defer func() { endSpan(span, err) }()

	return l.admit(ctx, store.AdmitInput{
		Namespace:  models.NamespaceWalkin,
		ServiceID:  serviceID,
		HolderKind: models.HolderWalkin,
		Tier:       models.TierRegular,
		QueueDate:  l.Today(),
	})
}

func (l *Ledger) admit(ctx context.Context, input store.AdmitInput) (models.Entry, error) {
	start := time.Now()
	log := l.logger.WithFields(logrus.Fields{
		"service_id": input.ServiceID,
		"namespace":  input.Namespace,
	})

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = l.retryWait
	policy.MaxInterval = 16 * l.retryWait
	policy.RandomizationFactor = 0.5

	attempt := 0
	entry, err := backoff.Retry(ctx, func() (models.Entry, error) {
		attempt++
		input.CreatedAt = l.now().UTC()
		entry, err := l.store.Admit(ctx, input)
		if err != nil && !store.Retryable(err) {
			return models.Entry{}, backoff.Permanent(err)
		}
		return entry, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(l.retries)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			l.metrics.IncrementRetry()
			log.WithError(err).WithFields(logrus.Fields{
				"attempt": attempt,
				"wait_ms": wait.Milliseconds(),
			}).Warn("admission conflict, retrying")
		}),
	)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}

	switch {
	case err == nil:
	case store.Retryable(err):
		l.metrics.ObserveAdmit(input.Namespace, "exhausted", start)
		log.WithError(err).WithField("attempts", attempt).Error("admission retries exhausted")
		return models.Entry{}, store.ErrNumberExhausted
	default:
		l.metrics.ObserveAdmit(input.Namespace, outcome(err), start)
		log.WithError(err).Info("admission rejected")
		return models.Entry{}, err
	}

	l.metrics.ObserveAdmit(input.Namespace, "ok", start)
	log.WithFields(logrus.Fields{
		"entry_id":     entry.EntryID,
		"queue_number": entry.QueueNumber,
		"position":     entry.Position,
		"tier":         entry.Tier.Label(),
		"attempts":     attempt,
	}).Info("queue entry admitted")
	l.publish(ctx, events.Event{
		Type:        events.TypeAdmitted,
		ServiceID:   entry.ServiceID,
		EntryID:     entry.EntryID,
		QueueNumber: entry.QueueNumber,
		Status:      entry.Status,
	})
	return entry, nil
}

// ListActive returns today's active online entries in service order. An
// empty serviceID lists every service.
func (l *Ledger) ListActive(ctx context.Context, actor models.Actor, serviceID string) ([]models.Entry, error) {
	if !actor.IsAdmin() {
		return nil, store.ErrAdminOnly
	}
	return l.store.ListEntries(ctx, store.ListFilter{
		ServiceID:  serviceID,
		Namespace:  models.NamespaceOnline,
		QueueDate:  l.Today(),
		ActiveOnly: true,
	})
}

// WalkinBoard lists the most recent active walk-in entries. Walk-in numbers
// run across days, so the board is not limited to today.
func (l *Ledger) WalkinBoard(ctx context.Context) ([]models.Entry, error) {
	return l.store.ListEntries(ctx, store.ListFilter{
		Namespace:  models.NamespaceWalkin,
		ActiveOnly: true,
		Newest:     true,
		Limit:      l.boardSize,
	})
}

// ListWalkins returns every active walk-in entry in serving order, oldest
// first. An empty serviceID lists every service.
func (l *Ledger) ListWalkins(ctx context.Context, actor models.Actor, serviceID string) ([]models.Entry, error) {
	if !actor.IsAdmin() {
		return nil, store.ErrAdminOnly
	}
	return l.store.ListEntries(ctx, store.ListFilter{
		ServiceID:  serviceID,
		Namespace:  models.NamespaceWalkin,
		ActiveOnly: true,
	})
}

// MyEntries lists the citizen's entries for today with their live rank.
func (l *Ledger) MyEntries(ctx context.Context, actor models.Actor) ([]models.Entry, error) {
	if !actor.IsCitizen() {
		return nil, store.ErrForbidden
	}
	entries, err := l.store.ListEntries(ctx, store.ListFilter{
		CitizenID: actor.ID,
		QueueDate: l.Today(),
	})
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if err := l.withLivePosition(ctx, &entries[i]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// GetEntry returns one entry. Citizens only see their own entries.
func (l *Ledger) GetEntry(ctx context.Context, actor models.Actor, entryID string) (models.Entry, error) {
	entry, err := l.store.GetEntry(ctx, entryID)
	if err != nil {
		return models.Entry{}, err
	}
	if !actor.IsAdmin() && (entry.CitizenID == "" || entry.CitizenID != actor.ID) {
		return models.Entry{}, store.ErrEntryNotFound
	}
	if err := l.withLivePosition(ctx, &entry); err != nil {
		return models.Entry{}, err
	}
	return entry, nil
}

func (l *Ledger) withLivePosition(ctx context.Context, entry *models.Entry) error {
	if !models.IsActive(entry.Status) {
		return nil
	}
	rank, err := l.store.LivePosition(ctx, entry.EntryID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	entry.LivePosition = rank
	return nil
}

// Transition moves an entry to targetStatus on behalf of actor.
func (l *Ledger) Transition(ctx context.Context, actor models.Actor, entryID, targetStatus string) (models.Entry, error) {
	action, ok := store.ActionFor(targetStatus)
	if !ok {
		return models.Entry{}, fmt.Errorf("%w: cannot move an entry to %q", store.ErrInvalidState, targetStatus)
	}
	return l.apply(ctx, actor, entryID, action)
}

// Cancel withdraws an entry. Citizens may only cancel their own waiting
// entries; admins may cancel any entry that is still active.
func (l *Ledger) Cancel(ctx context.Context, actor models.Actor, entryID string) (models.Entry, error) {
	return l.apply(ctx, actor, entryID, store.ActionCancel)
}

func (l *Ledger) apply(ctx context.Context, actor models.Actor, entryID, action string) (entry models.Entry, err error) {
	ctx, span := l.tracer.Start(ctx, "queue.Transition", trace.WithAttributes(
		attribute.String("entry_id", entryID),
		attribute.String("action", action),
	))
	defer func() { endSpan(span, err) }()

	entry, err = l.store.Transition(ctx, store.TransitionInput{
		EntryID:    entryID,
		Action:     action,
		Actor:      actor,
		OccurredAt: l.now().UTC(),
	})
	if err != nil {
		l.metrics.IncrementTransition(action, outcome(err))
		return models.Entry{}, err
	}
	l.metrics.IncrementTransition(action, "ok")

	l.logger.WithFields(logrus.Fields{
		"entry_id":     entry.EntryID,
		"queue_number": entry.QueueNumber,
		"action":       action,
		"actor_id":     actor.ID,
		"status":       entry.Status,
	}).Info("queue entry updated")

	if actor.IsAdmin() {
		l.audit(ctx, actor, describeTransition(action, entry))
	}
	l.publish(ctx, events.Event{
		Type:        eventTypeFor(action),
		ServiceID:   entry.ServiceID,
		EntryID:     entry.EntryID,
		QueueNumber: entry.QueueNumber,
		Status:      entry.Status,
	})
	return entry, nil
}

// DeleteEntry removes an entry without writing a completion record.
func (l *Ledger) DeleteEntry(ctx context.Context, actor models.Actor, entryID string) (models.Entry, error) {
	if !actor.IsAdmin() {
		return models.Entry{}, store.ErrAdminOnly
	}
	entry, err := l.store.DeleteEntry(ctx, entryID)
	if err != nil {
		return models.Entry{}, err
	}
	l.audit(ctx, actor, fmt.Sprintf("Deleted queue entry %s.", entry.QueueNumber))
	l.publish(ctx, events.Event{
		Type:        events.TypeDeleted,
		ServiceID:   entry.ServiceID,
		EntryID:     entry.EntryID,
		QueueNumber: entry.QueueNumber,
	})
	return entry, nil
}

// ResetWalkins deletes every walk-in entry and restarts walk-in numbering.
func (l *Ledger) ResetWalkins(ctx context.Context, actor models.Actor) (deleted int, err error) {
	ctx, span := l.tracer.Start(ctx, "queue.ResetWalkins")
	defer func() { endSpan(span, err) }()

	if !actor.IsAdmin() {
		return 0, store.ErrAdminOnly
	}
	deleted, err = l.store.ResetWalkins(ctx)
	if err != nil {
		return 0, err
	}
	l.metrics.IncrementWalkinReset()
	l.audit(ctx, actor, fmt.Sprintf("Reset walk-in queues. Deleted %d queue entries.", deleted))
	l.publish(ctx, events.Event{Type: events.TypeWalkinReset, Count: deleted})
	return deleted, nil
}

// Stats summarises a queue date. A zero date means today.
func (l *Ledger) Stats(ctx context.Context, actor models.Actor, queueDate time.Time) (models.DailyStats, error) {
	if !actor.IsAdmin() {
		return models.DailyStats{}, store.ErrAdminOnly
	}
	if queueDate.IsZero() {
		queueDate = l.Today()
	}
	return l.store.DailyStats(ctx, queueDate)
}

func (l *Ledger) Completions(ctx context.Context, actor models.Actor, serviceID string, limit int) ([]models.Completion, error) {
	if !actor.IsAdmin() {
		return nil, store.ErrAdminOnly
	}
	return l.store.ListCompletions(ctx, serviceID, limit)
}

// VerifyCompletions walks every service's completion chain and returns the
// number of records checked and the services whose chain is broken.
func (l *Ledger) VerifyCompletions(ctx context.Context) (int, []string, error) {
	services, err := l.store.ListServices(ctx, false)
	if err != nil {
		return 0, nil, err
	}
	checked := 0
	var broken []string
	for _, service := range services {
		records, err := l.store.ListCompletions(ctx, service.ServiceID, 0)
		if err != nil {
			return checked, broken, err
		}
		checked += len(records)
		if idx := store.VerifyCompletionChain(records); idx >= 0 {
			l.logger.WithFields(logrus.Fields{
				"service_id":    service.ServiceID,
				"completion_id": records[idx].CompletionID,
			}).Error("completion chain broken")
			broken = append(broken, service.ServiceID)
		}
	}
	return checked, broken, nil
}

func (l *Ledger) audit(ctx context.Context, actor models.Actor, description string) {
	log := l.logger.WithFields(logrus.Fields{"admin_id": actor.ID, "audit": true})
	log.Info(description)
	err := l.store.InsertAdminLog(ctx, store.AdminLog{
		AdminID:     actor.ID,
		Description: description,
		CreatedAt:   l.now().UTC(),
	})
	if err != nil {
		l.metrics.IncrementAuditFailure()
		log.WithError(err).Warn("admin log write failed")
	}
}

func (l *Ledger) publish(ctx context.Context, event events.Event) {
	event.OccurredAt = l.now().UTC()
	if err := l.publisher.Publish(ctx, event); err != nil {
		l.metrics.IncrementPublishFailure()
		l.logger.WithError(err).WithField("event", event.Type).Warn("queue event not published")
	}
}

func describeTransition(action string, entry models.Entry) string {
	switch action {
	case store.ActionServe:
		return fmt.Sprintf("Queue %s marked as serving.", entry.QueueNumber)
	case store.ActionComplete:
		return fmt.Sprintf("Queue %s completed.", entry.QueueNumber)
	default:
		return fmt.Sprintf("Queue %s cancelled.", entry.QueueNumber)
	}
}

func eventTypeFor(action string) string {
	switch action {
	case store.ActionServe:
		return events.TypeServing
	case store.ActionComplete:
		return events.TypeCompleted
	default:
		return events.TypeCancelled
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, store.ErrValidation):
		return "invalid"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrConflict):
		return "conflict"
	case errors.Is(err, store.ErrState):
		return "invalid_state"
	case errors.Is(err, store.ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
