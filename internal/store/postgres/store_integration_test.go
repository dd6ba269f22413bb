//go:build integration

package postgres

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/suite"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/lucyheather39-png/que-management/internal/models"
	"github.com/lucyheather39-png/que-management/internal/queue"
	"github.com/lucyheather39-png/que-management/internal/store"
)

type LedgerSuite struct {
	suite.Suite
	ctx       context.Context
	baseDSN   string
	container *tcpostgres.PostgresContainer
	schema    string
	pool      *pgxpool.Pool
	store     *Store
	today     time.Time
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerSuite))
}

func (s *LedgerSuite) SetupSuite() {
	s.ctx = context.Background()
	s.today = time.Date(2025, time.March, 7, 0, 0, 0, 0, time.UTC)

	s.baseDSN = os.Getenv("TEST_DB_DSN")
	if s.baseDSN != "" {
		return
	}
	container, err := tcpostgres.Run(s.ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("queue"),
		tcpostgres.WithUsername("queue"),
		tcpostgres.WithPassword("queue"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		s.T().Skipf("postgres container unavailable and TEST_DB_DSN unset: %v", err)
	}
	s.container = container
	s.baseDSN, err = container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)
}

func (s *LedgerSuite) TearDownSuite() {
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *LedgerSuite) SetupTest() {
	s.schema = "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	conn, err := pgx.Connect(s.ctx, s.baseDSN)
	s.Require().NoError(err)
	_, err = conn.Exec(s.ctx, "CREATE SCHEMA "+s.schema)
	s.Require().NoError(err)
	s.Require().NoError(conn.Close(s.ctx))

	dsn := withSearchPath(s.T(), s.baseDSN, s.schema)
	s.Require().NoError(MigrateUp(dsn))

	s.pool, err = pgxpool.New(s.ctx, dsn)
	s.Require().NoError(err)
	s.store = NewStore(s.pool)
}

func (s *LedgerSuite) TearDownTest() {
	s.pool.Close()
	conn, err := pgx.Connect(s.ctx, s.baseDSN)
	if err != nil {
		return
	}
	defer conn.Close(s.ctx)
	_, _ = conn.Exec(s.ctx, "DROP SCHEMA "+s.schema+" CASCADE")
}

func withSearchPath(t *testing.T, dsn, schema string) string {
	t.Helper()
	u, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *LedgerSuite) createService(code string, capacity int) models.Service {
	svc, err := s.store.CreateService(s.ctx, store.ServiceInput{
		Code:             code,
		Name:             code + " service",
		EstimatedMinutes: 20,
		MaxDailyQueue:    capacity,
	})
	s.Require().NoError(err)
	return svc
}

func (s *LedgerSuite) admit(input store.AdmitInput) (models.Entry, error) {
	if input.CreatedAt.IsZero() {
		input.CreatedAt = time.Now().UTC()
	}
	return s.store.Admit(s.ctx, input)
}

func (s *LedgerSuite) citizen(serviceID, citizenID string, tier models.Tier) store.AdmitInput {
	return store.AdmitInput{
		Namespace:  models.NamespaceOnline,
		ServiceID:  serviceID,
		HolderKind: models.HolderCitizen,
		CitizenID:  citizenID,
		Tier:       tier,
		QueueDate:  s.today,
	}
}

func (s *LedgerSuite) walkin(serviceID string) store.AdmitInput {
	return store.AdmitInput{
		Namespace:  models.NamespaceWalkin,
		ServiceID:  serviceID,
		HolderKind: models.HolderWalkin,
		Tier:       models.TierRegular,
		QueueDate:  s.today,
	}
}

func (s *LedgerSuite) TestAdmitIssuesSequentialNumbers() {
	svc := s.createService("BIRTH", 50)

	first, err := s.admit(s.citizen(svc.ServiceID, "c1", models.TierRegular))
	s.Require().NoError(err)
	second, err := s.admit(s.citizen(svc.ServiceID, "c2", models.TierSenior))
	s.Require().NoError(err)

	s.Equal("BIRTH-070325-0001", first.QueueNumber)
	s.Equal("BIRTH-070325-0002", second.QueueNumber)
	s.Equal(1, second.Position)
	s.Equal(models.StatusWaiting, second.Status)
	s.Greater(second.Seq, first.Seq)
}

func (s *LedgerSuite) TestPriorityOrdering() {
	svc := s.createService("DEATH", 50)
	tiers := []models.Tier{models.TierSenior, models.TierRegular, models.TierSenior, models.TierPWD}
	for i, tier := range tiers {
		_, err := s.admit(s.citizen(svc.ServiceID, fmt.Sprintf("c%d", i), tier))
		s.Require().NoError(err)
	}

	entries, err := s.store.ListEntries(s.ctx, store.ListFilter{ServiceID: svc.ServiceID, ActiveOnly: true})
	s.Require().NoError(err)
	s.Require().Len(entries, 4)
	s.Equal([]string{"c0", "c2", "c3", "c1"}, []string{entries[0].CitizenID, entries[1].CitizenID, entries[2].CitizenID, entries[3].CitizenID})

	late, err := s.admit(s.citizen(svc.ServiceID, "late", models.TierRegular))
	s.Require().NoError(err)
	s.Equal(5, late.Position)

	rank, err := s.store.LivePosition(s.ctx, late.EntryID)
	s.Require().NoError(err)
	s.Equal(5, rank)
}

// ledger wires the real admission path with its production retry budget.
func (s *LedgerSuite) ledger() *queue.Ledger {
	logger, _ := logtest.NewNullLogger()
	return queue.New(s.store, queue.WithLogger(logger))
}

// burst runs admit from workers goroutines at once and collects the results.
func burst(workers int, admit func(i int) (models.Entry, error)) ([]models.Entry, []error) {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		entries []models.Entry
		errs    []error
	)
	ready := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-ready
			entry, err := admit(i)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			entries = append(entries, entry)
		}(i)
	}
	close(ready)
	wg.Wait()
	return entries, errs
}

func (s *LedgerSuite) TestConcurrentAdmissionsNeverDuplicate() {
	svc := s.createService("BPERM", 100)
	ledger := s.ledger()

	const workers = 20
	entries, errs := burst(workers, func(i int) (models.Entry, error) {
		actor := models.Actor{ID: fmt.Sprintf("citizen-%d", i), Role: models.RoleCitizen}
		return ledger.Admit(s.ctx, actor, svc.ServiceID)
	})

	s.Empty(errs)
	seen := make(map[string]bool)
	for _, entry := range entries {
		s.False(seen[entry.QueueNumber], "duplicate %s", entry.QueueNumber)
		seen[entry.QueueNumber] = true
	}
	s.Len(seen, workers)
}

func (s *LedgerSuite) TestConcurrentWalkinsAcrossServices() {
	services := []models.Service{s.createService("W1", 50), s.createService("W2", 50)}
	ledger := s.ledger()

	const workers = 16
	entries, errs := burst(workers, func(i int) (models.Entry, error) {
		return ledger.AdmitWalkin(s.ctx, services[i%len(services)].ServiceID)
	})

	s.Empty(errs)
	seen := make(map[string]bool)
	for _, entry := range entries {
		s.False(seen[entry.QueueNumber], "duplicate %s", entry.QueueNumber)
		seen[entry.QueueNumber] = true
	}
	s.Len(seen, workers)
	s.True(seen["W-001"])
	s.True(seen[fmt.Sprintf("W-%03d", workers)])
}

func (s *LedgerSuite) TestOneActiveEntryUnderConcurrency() {
	services := []models.Service{s.createService("A1", 50), s.createService("A2", 50), s.createService("A3", 50)}
	ledger := s.ledger()
	actor := models.Actor{ID: "same-citizen", Role: models.RoleCitizen}

	entries, errs := burst(len(services), func(i int) (models.Entry, error) {
		return ledger.Admit(s.ctx, actor, services[i].ServiceID)
	})

	s.Len(entries, 1)
	for _, err := range errs {
		s.ErrorIs(err, store.ErrActiveEntry)
	}
}

func (s *LedgerSuite) TestCapacity() {
	svc := s.createService("INQ", 1)
	_, err := s.admit(s.citizen(svc.ServiceID, "c1", models.TierRegular))
	s.Require().NoError(err)
	_, err = s.admit(s.citizen(svc.ServiceID, "c2", models.TierRegular))
	s.ErrorIs(err, store.ErrCapacityExceeded)
}

func (s *LedgerSuite) TestCounterReconcilesWithLedger() {
	svc := s.createService("ASSESS", 50)
	for i := 0; i < 3; i++ {
		_, err := s.admit(s.citizen(svc.ServiceID, fmt.Sprintf("c%d", i), models.TierRegular))
		s.Require().NoError(err)
	}
	_, err := s.pool.Exec(s.ctx, `DELETE FROM queue_sequences`)
	s.Require().NoError(err)

	next, err := s.admit(s.citizen(svc.ServiceID, "c9", models.TierRegular))
	s.Require().NoError(err)
	s.Equal("ASSESS-070325-0004", next.QueueNumber)
}

func (s *LedgerSuite) TestTransitionsAndCompletionChain() {
	svc := s.createService("MARRIAGE", 50)
	admin := models.Actor{ID: "admin-1", Role: models.RoleAdmin}
	owner := models.Actor{ID: "c1", Role: models.RoleCitizen}

	entry, err := s.admit(s.citizen(svc.ServiceID, "c1", models.TierRegular))
	s.Require().NoError(err)

	serving, err := s.store.Transition(s.ctx, store.TransitionInput{EntryID: entry.EntryID, Action: store.ActionServe, Actor: admin})
	s.Require().NoError(err)
	s.Equal(models.StatusServing, serving.Status)
	s.NotNil(serving.ServedAt)

	_, err = s.store.Transition(s.ctx, store.TransitionInput{EntryID: entry.EntryID, Action: store.ActionCancel, Actor: owner})
	s.ErrorIs(err, store.ErrInvalidState)

	done, err := s.store.Transition(s.ctx, store.TransitionInput{EntryID: entry.EntryID, Action: store.ActionComplete, Actor: admin})
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, done.Status)

	_, err = s.store.GetEntry(s.ctx, entry.EntryID)
	s.ErrorIs(err, store.ErrEntryNotFound)

	second, err := s.admit(s.citizen(svc.ServiceID, "c2", models.TierRegular))
	s.Require().NoError(err)
	_, err = s.store.Transition(s.ctx, store.TransitionInput{EntryID: second.EntryID, Action: store.ActionServe, Actor: admin})
	s.Require().NoError(err)
	_, err = s.store.Transition(s.ctx, store.TransitionInput{EntryID: second.EntryID, Action: store.ActionComplete, Actor: admin})
	s.Require().NoError(err)

	records, err := s.store.ListCompletions(s.ctx, svc.ServiceID, 0)
	s.Require().NoError(err)
	s.Require().Len(records, 2)
	s.Equal(-1, store.VerifyCompletionChain(records))

	stats, err := s.store.DailyStats(s.ctx, s.today)
	s.Require().NoError(err)
	s.Equal(2, stats.Completed)
	s.Equal(2, stats.Issued)
}

func (s *LedgerSuite) TestResetWalkins() {
	svc := s.createService("WALK", 50)
	for i := 0; i < 2; i++ {
		_, err := s.admit(s.walkin(svc.ServiceID))
		s.Require().NoError(err)
	}

	deleted, err := s.store.ResetWalkins(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, deleted)

	entry, err := s.admit(s.walkin(svc.ServiceID))
	s.Require().NoError(err)
	s.Equal("W-001", entry.QueueNumber)
	s.Empty(entry.CitizenID)
}

func (s *LedgerSuite) TestDeleteServiceRejectsUnlessCascade() {
	svc := s.createService("GONE", 50)
	_, err := s.admit(s.citizen(svc.ServiceID, "c1", models.TierRegular))
	s.Require().NoError(err)

	_, err = s.store.DeleteService(s.ctx, svc.ServiceID, false)
	s.ErrorIs(err, store.ErrServiceInUse)

	deleted, err := s.store.DeleteService(s.ctx, svc.ServiceID, true)
	s.Require().NoError(err)
	s.Equal(1, deleted)

	_, err = s.store.GetService(s.ctx, svc.ServiceID)
	s.ErrorIs(err, store.ErrServiceNotFound)
}

func (s *LedgerSuite) TestDuplicateServiceCode() {
	s.createService("DUP", 5)
	_, err := s.store.CreateService(s.ctx, store.ServiceInput{Code: "DUP", Name: "Again", EstimatedMinutes: 5, MaxDailyQueue: 5})
	s.ErrorIs(err, store.ErrDuplicateCode)
}

func (s *LedgerSuite) TestAdminLog() {
	err := s.store.InsertAdminLog(s.ctx, store.AdminLog{AdminID: "admin-1", Description: "Reset walk-in queues. Deleted 0 queue entries.", CreatedAt: time.Now().UTC()})
	s.Require().NoError(err)

	var count int
	s.Require().NoError(s.pool.QueryRow(s.ctx, `SELECT COUNT(*) FROM admin_logs`).Scan(&count))
	s.Equal(1, count)
}
