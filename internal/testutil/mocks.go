package testutil

import (
	"context"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/esusu/internal/domain/errors"
	"github.com/cassiomorais/esusu/internal/domain/group"
	"github.com/cassiomorais/esusu/internal/domain/joblog"
	"github.com/cassiomorais/esusu/internal/domain/payment"
	"github.com/cassiomorais/esusu/internal/domain/payout"
	"github.com/cassiomorais/esusu/internal/domain/webhook"
	"github.com/cassiomorais/esusu/internal/jobs"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MockTxManager runs the callback without a real transaction. Repositories
// backed by in-memory maps do not need rollback.
type MockTxManager struct {
	WithTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func (m *MockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}

// MockGroupRepository is an in-memory group.Repository. Individual methods
// can be overridden per test through the Func fields.
type MockGroupRepository struct {
	mu      sync.Mutex
	Groups  map[uuid.UUID]*group.Group
	Members map[uuid.UUID]*group.Membership

	GetByIDFunc func(ctx context.Context, id uuid.UUID) (*group.Group, error)
	LockFunc    func(ctx context.Context, id uuid.UUID) (*group.Group, error)
	UpdateFunc  func(ctx context.Context, g *group.Group) error
}

func NewMockGroupRepository() *MockGroupRepository {
	return &MockGroupRepository{
		Groups:  make(map[uuid.UUID]*group.Group),
		Members: make(map[uuid.UUID]*group.Membership),
	}
}

func (m *MockGroupRepository) GetByID(ctx context.Context, id uuid.UUID) (*group.Group, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.Groups[id]
	if !ok {
		return nil, domainErrors.ErrGroupNotFound
	}
	return g, nil
}

func (m *MockGroupRepository) ListActiveIDs(ctx context.Context) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for id, g := range m.Groups {
		if g.Status == group.StatusActive && g.NextCycleDate != nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *MockGroupRepository) Lock(ctx context.Context, id uuid.UUID) (*group.Group, error) {
	if m.LockFunc != nil {
		return m.LockFunc(ctx, id)
	}
	return m.GetByID(ctx, id)
}

func (m *MockGroupRepository) Update(ctx context.Context, g *group.Group) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, g)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Groups[g.ID]; !ok {
		return domainErrors.ErrGroupNotFound
	}
	m.Groups[g.ID] = g
	return nil
}

func (m *MockGroupRepository) UpdateSchedule(ctx context.Context, g *group.Group) error {
	return m.Update(ctx, g)
}

func (m *MockGroupRepository) UpdateAggregates(ctx context.Context, id uuid.UUID, debited, pending, success decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.Groups[id]
	if !ok {
		return domainErrors.ErrGroupNotFound
	}
	g.TotalDebited = debited
	g.TotalPending = pending
	g.TotalSuccess = success
	return nil
}

func (m *MockGroupRepository) ListActiveMemberships(ctx context.Context, groupID uuid.UUID) ([]*group.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*group.Membership
	for _, mem := range m.Members {
		if mem.GroupID == groupID && mem.Status == group.MemberActive {
			out = append(out, mem)
		}
	}
	// Stable order for assertions.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].PayoutOrder < out[i].PayoutOrder {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (m *MockGroupRepository) GetMembership(ctx context.Context, id uuid.UUID) (*group.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.Members[id]
	if !ok {
		return nil, domainErrors.ErrMembershipNotFound
	}
	return mem, nil
}

func (m *MockGroupRepository) GetMembershipByMandate(ctx context.Context, mandateID string) (*group.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mem := range m.Members {
		if mem.MandateID != nil && *mem.MandateID == mandateID {
			return mem, nil
		}
	}
	return nil, domainErrors.ErrMembershipNotFound
}

func (m *MockGroupRepository) SetMembershipPaid(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.Members[id]
	if !ok {
		return domainErrors.ErrMembershipNotFound
	}
	mem.HasBeenPaid = true
	return nil
}

func (m *MockGroupRepository) UpdateMembershipMandate(ctx context.Context, mem *group.Membership) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Members[mem.ID]; !ok {
		return domainErrors.ErrMembershipNotFound
	}
	m.Members[mem.ID] = mem
	return nil
}

// MockPaymentRepository is an in-memory payment.Repository enforcing the
// (group, cycle, member) uniqueness the real table carries.
type MockPaymentRepository struct {
	mu       sync.Mutex
	Payments map[uuid.UUID]*payment.Payment

	CreateIfAbsentFunc func(ctx context.Context, p *payment.Payment) (bool, error)
	UpdateFunc         func(ctx context.Context, p *payment.Payment) error
}

func NewMockPaymentRepository() *MockPaymentRepository {
	return &MockPaymentRepository{Payments: make(map[uuid.UUID]*payment.Payment)}
}

func (m *MockPaymentRepository) CreateIfAbsent(ctx context.Context, p *payment.Payment) (bool, error) {
	if m.CreateIfAbsentFunc != nil {
		return m.CreateIfAbsentFunc(ctx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.Payments {
		if existing.GroupID == p.GroupID && existing.CycleNumber == p.CycleNumber && existing.MemberID == p.MemberID {
			return false, nil
		}
	}
	m.Payments[p.ID] = p
	return true, nil
}

func (m *MockPaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Payments[id]
	if !ok {
		return nil, domainErrors.ErrPaymentNotFound
	}
	return p, nil
}

func (m *MockPaymentRepository) GetByIntentID(ctx context.Context, intentID string) (*payment.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.Payments {
		if p.GatewayIntentID != nil && *p.GatewayIntentID == intentID {
			return p, nil
		}
	}
	return nil, domainErrors.ErrPaymentNotFound
}

func (m *MockPaymentRepository) ListByCycle(ctx context.Context, groupID uuid.UUID, cycleNumber int) ([]*payment.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*payment.Payment
	for _, p := range m.Payments {
		if p.GroupID == groupID && p.CycleNumber == cycleNumber {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MockPaymentRepository) Update(ctx context.Context, p *payment.Payment) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Payments[p.ID]; !ok {
		return domainErrors.ErrPaymentNotFound
	}
	m.Payments[p.ID] = p
	return nil
}

func (m *MockPaymentRepository) SumByStatus(ctx context.Context, groupID uuid.UUID) (payment.StatusTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	totals := payment.StatusTotals{Debited: decimal.Zero, Pending: decimal.Zero, Success: decimal.Zero}
	for _, p := range m.Payments {
		if p.GroupID != groupID {
			continue
		}
		switch p.Status {
		case payment.StatusPending:
			totals.Pending = totals.Pending.Add(p.Amount)
			totals.Debited = totals.Debited.Add(p.Amount)
		case payment.StatusSuccessful:
			totals.Success = totals.Success.Add(p.Amount)
			totals.Debited = totals.Debited.Add(p.Amount)
		}
	}
	return totals, nil
}

// MockPayoutRepository is an in-memory payout.Repository enforcing the
// one-payout-per-cycle rule.
type MockPayoutRepository struct {
	mu      sync.Mutex
	Payouts map[uuid.UUID]*payout.Payout

	CreateIfAbsentFunc func(ctx context.Context, p *payout.Payout) (bool, error)
}

func NewMockPayoutRepository() *MockPayoutRepository {
	return &MockPayoutRepository{Payouts: make(map[uuid.UUID]*payout.Payout)}
}

func (m *MockPayoutRepository) CreateIfAbsent(ctx context.Context, p *payout.Payout) (bool, error) {
	if m.CreateIfAbsentFunc != nil {
		return m.CreateIfAbsentFunc(ctx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.Payouts {
		if existing.GroupID == p.GroupID && existing.CycleNumber == p.CycleNumber {
			return false, nil
		}
	}
	m.Payouts[p.ID] = p
	return true, nil
}

func (m *MockPayoutRepository) GetByCycle(ctx context.Context, groupID uuid.UUID, cycleNumber int) (*payout.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.Payouts {
		if p.GroupID == groupID && p.CycleNumber == cycleNumber {
			return p, nil
		}
	}
	return nil, domainErrors.ErrPayoutNotFound
}

func (m *MockPayoutRepository) GetByTransferID(ctx context.Context, transferID string) (*payout.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.Payouts {
		if p.GatewayTransferID != nil && *p.GatewayTransferID == transferID {
			return p, nil
		}
	}
	return nil, domainErrors.ErrPayoutNotFound
}

func (m *MockPayoutRepository) LastCycleNumber(ctx context.Context, groupID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	last := 0
	for _, p := range m.Payouts {
		if p.GroupID == groupID && p.CycleNumber > last {
			last = p.CycleNumber
		}
	}
	return last, nil
}

func (m *MockPayoutRepository) Update(ctx context.Context, p *payout.Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Payouts[p.ID]; !ok {
		return domainErrors.ErrPayoutNotFound
	}
	m.Payouts[p.ID] = p
	return nil
}

func (m *MockPayoutRepository) ListByGroup(ctx context.Context, groupID uuid.UUID) ([]*payout.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*payout.Payout
	for _, p := range m.Payouts {
		if p.GroupID == groupID {
			out = append(out, p)
		}
	}
	return out, nil
}

// MockJobLogRepository records entries in memory.
type MockJobLogRepository struct {
	mu      sync.Mutex
	Entries []*joblog.Entry
}

func NewMockJobLogRepository() *MockJobLogRepository {
	return &MockJobLogRepository{}
}

func (m *MockJobLogRepository) Record(ctx context.Context, e *joblog.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, e)
	return nil
}

func (m *MockJobLogRepository) MarkCompleted(ctx context.Context, jobID string) error {
	return m.mark(jobID, joblog.StatusCompleted, nil)
}

func (m *MockJobLogRepository) MarkFailed(ctx context.Context, jobID string, reason string) error {
	return m.mark(jobID, joblog.StatusFailed, &reason)
}

func (m *MockJobLogRepository) mark(jobID string, status joblog.Status, reason *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for _, e := range m.Entries {
		if e.JobID == jobID {
			e.Status = status
			e.LastError = reason
			e.ResolvedAt = &now
		}
	}
	return nil
}

func (m *MockJobLogRepository) ListByGroup(ctx context.Context, groupID uuid.UUID, limit int) ([]*joblog.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*joblog.Entry
	for _, e := range m.Entries {
		if e.GroupID == groupID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockJobLogRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

// MockWebhookEventRepository stores events in memory.
type MockWebhookEventRepository struct {
	mu     sync.Mutex
	Events map[uuid.UUID]*webhook.Event
}

func NewMockWebhookEventRepository() *MockWebhookEventRepository {
	return &MockWebhookEventRepository{Events: make(map[uuid.UUID]*webhook.Event)}
}

func (m *MockWebhookEventRepository) Save(ctx context.Context, e *webhook.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events[e.ID] = e
	return nil
}

func (m *MockWebhookEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*webhook.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.Events[id]
	if !ok {
		return nil, domainErrors.ErrEventNotFound
	}
	return e, nil
}

func (m *MockWebhookEventRepository) Update(ctx context.Context, e *webhook.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events[e.ID] = e
	return nil
}

func (m *MockWebhookEventRepository) ListFailed(ctx context.Context, limit int) ([]*webhook.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*webhook.Event
	for _, e := range m.Events {
		if e.Status == webhook.StatusFailed {
			out = append(out, e)
		}
	}
	return out, nil
}

// MockEnqueuer captures enqueued jobs.
type MockEnqueuer struct {
	mu   sync.Mutex
	Jobs []EnqueuedJob

	EnqueueFunc func(ctx context.Context, j jobs.Job, delay time.Duration) error
}

// EnqueuedJob is one captured enqueue call.
type EnqueuedJob struct {
	Job   jobs.Job
	Delay time.Duration
}

func NewMockEnqueuer() *MockEnqueuer {
	return &MockEnqueuer{}
}

func (m *MockEnqueuer) Enqueue(ctx context.Context, j jobs.Job, delay time.Duration) error {
	if m.EnqueueFunc != nil {
		return m.EnqueueFunc(ctx, j, delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Jobs = append(m.Jobs, EnqueuedJob{Job: j, Delay: delay})
	return nil
}

// ByKind returns captured jobs of one kind.
func (m *MockEnqueuer) ByKind(kind jobs.Kind) []EnqueuedJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []EnqueuedJob
	for _, j := range m.Jobs {
		if j.Job.Kind == kind {
			out = append(out, j)
		}
	}
	return out
}

// NoopNotifier satisfies notifier.Notifier and records nothing.
type NoopNotifier struct{}

func (NoopNotifier) DebitInitiated(context.Context, uuid.UUID, uuid.UUID, int, decimal.Decimal) {}
func (NoopNotifier) DebitFailed(context.Context, uuid.UUID, uuid.UUID, int, string)             {}
func (NoopNotifier) PayoutSent(context.Context, uuid.UUID, uuid.UUID, int, decimal.Decimal)     {}
func (NoopNotifier) GroupPaused(context.Context, uuid.UUID, string)                             {}
func (NoopNotifier) GroupCompleted(context.Context, uuid.UUID)                                  {}
