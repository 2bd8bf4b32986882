package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/learnly/platform/internal/domain"
	"github.com/learnly/platform/internal/provider"
	"github.com/learnly/platform/internal/repository"
)

// store is an in-memory stand-in for the database. Rows are held by value so
// callers never share state with it.
type store struct {
	mu          sync.Mutex
	courses     map[uuid.UUID]domain.Course
	coupons     map[uuid.UUID]domain.Coupon
	payments    map[uuid.UUID]domain.Payment
	events      []domain.PaymentEvent
	enrollments map[uuid.UUID]domain.Enrollment
	commissions map[uuid.UUID]domain.Commission
	counters    map[string]int64
	billing     map[uuid.UUID]domain.BillingProfile
	writes      int
	failures    map[string]error
}

func newStore() *store {
	return &store{
		courses:     make(map[uuid.UUID]domain.Course),
		coupons:     make(map[uuid.UUID]domain.Coupon),
		payments:    make(map[uuid.UUID]domain.Payment),
		enrollments: make(map[uuid.UUID]domain.Enrollment),
		commissions: make(map[uuid.UUID]domain.Commission),
		counters:    make(map[string]int64),
		billing:     make(map[uuid.UUID]domain.BillingProfile),
		failures:    make(map[string]error),
	}
}

// failOn makes every later call to op return err.
func (s *store) failOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

func (s *store) failure(op string) error { return s.failures[op] }

func (s *store) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *store) payment(id uuid.UUID) domain.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payments[id]
}

func (s *store) eventMessages(paymentID uuid.UUID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		if e.PaymentID == paymentID && e.Message != nil {
			out = append(out, *e.Message)
		}
	}
	return out
}

func (s *store) enrollmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.enrollments)
}

func (s *store) commissionList() []domain.Commission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return collect(s.commissions)
}

func (s *store) coupon(id uuid.UUID) domain.Coupon {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coupons[id]
}

type snapshot struct {
	coupons     map[uuid.UUID]domain.Coupon
	payments    map[uuid.UUID]domain.Payment
	enrollments map[uuid.UUID]domain.Enrollment
	commissions map[uuid.UUID]domain.Commission
	counters    map[string]int64
}

func (s *store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot{
		coupons:     maps.Clone(s.coupons),
		payments:    maps.Clone(s.payments),
		enrollments: maps.Clone(s.enrollments),
		commissions: maps.Clone(s.commissions),
		counters:    maps.Clone(s.counters),
	}
}

func (s *store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coupons = snap.coupons
	s.payments = snap.payments
	s.enrollments = snap.enrollments
	s.commissions = snap.commissions
	s.counters = snap.counters
}

func collect[K comparable, V any](m map[K]V) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func (s *store) repositories() repository.Repositories {
	return repository.Repositories{
		Courses:         &fakeCourses{s},
		Coupons:         &fakeCoupons{s},
		Payments:        &fakePayments{s},
		Enrollments:     &fakeEnrollments{s},
		Commissions:     &fakeCommissions{s},
		InvoiceCounters: &fakeCounters{s},
		Billing:         &fakeBilling{s},
	}
}

// memTransactor runs one transaction at a time, which is what the row lock
// on the payment gives the real thing, and rolls back on error.
type memTransactor struct {
	mu    sync.Mutex
	store *store
	calls int
}

func (t *memTransactor) WithinTx(ctx context.Context, fn repository.TxFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if err := ctx.Err(); err != nil {
		return err
	}

	snap := t.store.snapshot()
	if err := fn(ctx, nil); err != nil {
		t.store.restore(snap)
		return err
	}
	return nil
}

type fakeCourses struct{ s *store }

func (r *fakeCourses) FindByID(_ context.Context, _ repository.DBTX, id uuid.UUID) (*domain.Course, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("courses.FindByID"); err != nil {
		return nil, err
	}
	c, ok := r.s.courses[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

type fakeCoupons struct{ s *store }

func (r *fakeCoupons) FindByCodes(_ context.Context, _ repository.DBTX, codes []string) ([]domain.Coupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	want := make(map[string]bool, len(codes))
	for _, c := range codes {
		want[c] = true
	}
	var out []domain.Coupon
	for _, c := range r.s.coupons {
		if want[c.Code] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeCoupons) IncrementUsage(_ context.Context, _ repository.DBTX, ids []uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("coupons.IncrementUsage"); err != nil {
		return err
	}
	for _, id := range ids {
		c, ok := r.s.coupons[id]
		if !ok {
			return fmt.Errorf("coupon %s not found", id)
		}
		c.UsedCount++
		r.s.coupons[id] = c
		r.s.writes++
	}
	return nil
}

type fakePayments struct{ s *store }

func (r *fakePayments) Create(_ context.Context, _ repository.DBTX, p *domain.Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("payments.Create"); err != nil {
		return err
	}
	for _, existing := range r.s.payments {
		if existing.InvoiceNumber == p.InvoiceNumber {
			return fmt.Errorf("insert payment %s: %w", p.InvoiceNumber, repository.ErrDuplicate)
		}
	}
	r.s.payments[p.ID] = *p
	r.s.writes++
	return nil
}

func (r *fakePayments) find(match func(domain.Payment) bool) *domain.Payment {
	for _, p := range r.s.payments {
		if match(p) {
			return &p
		}
	}
	return nil
}

func (r *fakePayments) FindByID(_ context.Context, _ repository.DBTX, id uuid.UUID) (*domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("payments.FindByID"); err != nil {
		return nil, err
	}
	return r.find(func(p domain.Payment) bool { return p.ID == id }), nil
}

func (r *fakePayments) FindByGatewayOrderID(_ context.Context, _ repository.DBTX, orderID string) (*domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.find(func(p domain.Payment) bool { return p.GatewayOrderID != nil && *p.GatewayOrderID == orderID }), nil
}

func (r *fakePayments) LockForUpdate(_ context.Context, _ repository.DBTX, id uuid.UUID) (*domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("payments.LockForUpdate"); err != nil {
		return nil, err
	}
	return r.find(func(p domain.Payment) bool { return p.ID == id }), nil
}

func (r *fakePayments) SetGatewayOrder(_ context.Context, _ repository.DBTX, id uuid.UUID, orderID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("payments.SetGatewayOrder"); err != nil {
		return err
	}
	p, ok := r.s.payments[id]
	if !ok || p.Status != domain.PaymentStatusPending || p.GatewayOrderID != nil {
		return fmt.Errorf("set gateway order: payment %s is not awaiting an order", id)
	}
	p.GatewayOrderID = &orderID
	r.s.payments[id] = p
	r.s.writes++
	return nil
}

func (r *fakePayments) MarkCompleted(_ context.Context, _ repository.DBTX, id uuid.UUID, gatewayPaymentID, signature string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok || p.Status != domain.PaymentStatusPending {
		return false, nil
	}
	p.Status = domain.PaymentStatusCompleted
	p.GatewayPaymentID = &gatewayPaymentID
	p.GatewaySignature = &signature
	p.CompletedAt = &at
	r.s.payments[id] = p
	r.s.writes++
	return true, nil
}

func (r *fakePayments) LinkEnrollment(_ context.Context, _ repository.DBTX, id, enrollmentID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok || p.EnrollmentID != nil {
		return fmt.Errorf("link enrollment: payment %s already linked", id)
	}
	p.EnrollmentID = &enrollmentID
	r.s.payments[id] = p
	r.s.writes++
	return nil
}

func (r *fakePayments) MarkFailed(_ context.Context, _ repository.DBTX, id uuid.UUID, reason string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("payments.MarkFailed"); err != nil {
		return false, err
	}
	p, ok := r.s.payments[id]
	if !ok || p.Status != domain.PaymentStatusPending {
		return false, nil
	}
	p.Status = domain.PaymentStatusFailed
	p.FailureReason = &reason
	r.s.payments[id] = p
	r.s.writes++
	return true, nil
}

func (r *fakePayments) ExpirePending(_ context.Context, _ repository.DBTX, cutoff time.Time, reason string) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []uuid.UUID
	for id, p := range r.s.payments {
		if p.Status == domain.PaymentStatusPending && p.CreatedAt.Before(cutoff) {
			p.Status = domain.PaymentStatusFailed
			p.FailureReason = &reason
			r.s.payments[id] = p
			r.s.writes++
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *fakePayments) InsertEvent(_ context.Context, _ repository.DBTX, event *domain.PaymentEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.events = append(r.s.events, *event)
	r.s.writes++
	return nil
}

type fakeEnrollments struct{ s *store }

func (r *fakeEnrollments) Create(_ context.Context, _ repository.DBTX, e *domain.Enrollment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, dup := r.s.enrollments[e.PaymentID]; dup {
		return fmt.Errorf("enrollment for payment %s: %w", e.PaymentID, repository.ErrDuplicate)
	}
	r.s.enrollments[e.PaymentID] = *e
	r.s.writes++
	return nil
}

func (r *fakeEnrollments) FindByPaymentID(_ context.Context, _ repository.DBTX, paymentID uuid.UUID) (*domain.Enrollment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.enrollments[paymentID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

type fakeCommissions struct{ s *store }

func (r *fakeCommissions) Create(_ context.Context, _ repository.DBTX, c *domain.Commission) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("commissions.Create"); err != nil {
		return err
	}
	for _, existing := range r.s.commissions {
		if existing.PaymentID == c.PaymentID {
			return fmt.Errorf("commission for payment %s: %w", c.PaymentID, repository.ErrDuplicate)
		}
	}
	r.s.commissions[c.ID] = *c
	r.s.writes++
	return nil
}

func (r *fakeCommissions) FindByID(_ context.Context, _ repository.DBTX, id uuid.UUID) (*domain.Commission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.commissions[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *fakeCommissions) FindByPaymentID(_ context.Context, _ repository.DBTX, paymentID uuid.UUID) (*domain.Commission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.commissions {
		if c.PaymentID == paymentID {
			return &c, nil
		}
	}
	return nil, nil
}

func (r *fakeCommissions) list(match func(domain.Commission) bool, newestFirst bool) []domain.Commission {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Commission
	for _, c := range r.s.commissions {
		if match(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *fakeCommissions) ListByAffiliate(_ context.Context, _ repository.DBTX, affiliateID uuid.UUID, _ int) ([]domain.Commission, error) {
	return r.list(func(c domain.Commission) bool { return c.AffiliateID == affiliateID }, true), nil
}

func (r *fakeCommissions) ListByStatus(_ context.Context, _ repository.DBTX, status domain.CommissionStatus, _ int) ([]domain.Commission, error) {
	return r.list(func(c domain.Commission) bool { return c.Status == status }, false), nil
}

func (r *fakeCommissions) MarkPaid(_ context.Context, _ repository.DBTX, id uuid.UUID, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.commissions[id]
	if !ok || c.Status != domain.CommissionPending {
		return false, nil
	}
	c.Status = domain.CommissionPaid
	c.PaidAt = &at
	r.s.commissions[id] = c
	r.s.writes++
	return true, nil
}

type fakeCounters struct{ s *store }

func (r *fakeCounters) Next(_ context.Context, _ repository.DBTX, fiscalYear string, channel domain.Channel) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := fiscalYear + "/" + string(channel)
	r.s.counters[key]++
	r.s.writes++
	return r.s.counters[key], nil
}

func (r *fakeCounters) Last(_ context.Context, _ repository.DBTX, fiscalYear string, channel domain.Channel) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.counters[fiscalYear+"/"+string(channel)], nil
}

type fakeBilling struct{ s *store }

func (r *fakeBilling) Upsert(_ context.Context, _ repository.DBTX, profile *domain.BillingProfile) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("billing.Upsert"); err != nil {
		return err
	}
	r.s.billing[profile.StudentID] = *profile
	r.s.writes++
	return nil
}

// fakeGateway hands out sequential order ids. With block set it waits for
// the caller's deadline instead of answering.
type fakeGateway struct {
	mu       sync.Mutex
	err      error
	block    bool
	requests []provider.OrderRequest
}

func (g *fakeGateway) CreateOrder(ctx context.Context, req provider.OrderRequest) (*provider.Order, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	n := len(g.requests)
	err, block := g.err, g.block
	g.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &provider.Order{
		ID:       fmt.Sprintf("order_%03d", n),
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Status:   "created",
	}, nil
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

type fakeNotifier struct {
	mu    sync.Mutex
	items []domain.Notification
}

func (n *fakeNotifier) Enqueue(item domain.Notification) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, item)
	return true
}

func (n *fakeNotifier) sent() []domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Notification(nil), n.items...)
}

var errBoom = errors.New("boom")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
