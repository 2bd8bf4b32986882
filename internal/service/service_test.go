package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/learnly/platform/internal/domain"
	"github.com/learnly/platform/internal/guard"
	"github.com/learnly/platform/internal/invoice"
	"github.com/learnly/platform/internal/pricing"
	"github.com/learnly/platform/internal/provider"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookSecret = "test-webhook-secret"

type harness struct {
	store       *store
	tx          *memTransactor
	gateway     *fakeGateway
	notifier    *fakeNotifier
	signer      *provider.SignatureVerifier
	checkout    *CheckoutService
	confirm     *ConfirmationService
	commissions *CommissionService
	reconcile   *ReconcileService
	now         time.Time
}

type harnessOption func(*CheckoutOptions)

func withGatewayTimeout(d time.Duration) harnessOption {
	return func(o *CheckoutOptions) { o.GatewayTimeout = d }
}

func withBreaker(b *guard.CircuitBreaker) harnessOption {
	return func(o *CheckoutOptions) { o.Breaker = b }
}

func withLimiter(l *guard.RateLimiter) harnessOption {
	return func(o *CheckoutOptions) { o.Limiter = l }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		store:    newStore(),
		gateway:  &fakeGateway{},
		notifier: &fakeNotifier{},
		signer:   provider.NewSignatureVerifier(webhookSecret),
		now:      time.Date(2024, time.June, 15, 10, 0, 0, 0, time.UTC),
	}
	h.tx = &memTransactor{store: h.store}
	clock := func() time.Time { return h.now }
	repos := h.store.repositories()
	deps := Deps{
		Tx:       h.tx,
		Repos:    repos,
		Notifier: h.notifier,
		Logger:   discardLogger(),
		Now:      clock,
	}

	co := CheckoutOptions{
		Engine:         pricing.NewEngine(decimal.RequireFromString("0.18")),
		Sequencer:      invoice.NewSequencer(repos.InvoiceCounters, "FT", time.April, clock),
		Gateway:        h.gateway,
		Breaker:        guard.NewCircuitBreaker(5, time.Minute),
		GatewayTimeout: time.Second,
	}
	for _, opt := range opts {
		opt(&co)
	}

	h.checkout = NewCheckoutService(deps, co)
	h.confirm = NewConfirmationService(deps, h.signer)
	h.commissions = NewCommissionService(deps)
	h.reconcile = NewReconcileService(deps)
	return h
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "%s: want %s, got %s", field, want, got.String())
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var appErr *domain.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, code, appErr.Code, err.Error())
}

func (h *harness) addCourse(domestic, crossBorder, rate string) domain.Course {
	c := domain.Course{
		ID:               uuid.New(),
		Title:            "Distributed Systems",
		PriceDomestic:    dec(domestic),
		PriceCrossBorder: dec(crossBorder),
		CommissionRate:   dec(rate),
		Active:           true,
	}
	h.store.mu.Lock()
	h.store.courses[c.ID] = c
	h.store.mu.Unlock()
	return c
}

func (h *harness) addCoupon(code string, kind domain.DiscountKind, value string, affiliateID *uuid.UUID) domain.Coupon {
	role := domain.RolePlatform
	if affiliateID != nil {
		role = domain.RoleAffiliate
	}
	c := domain.Coupon{
		ID:          uuid.New(),
		Code:        code,
		Kind:        kind,
		Value:       dec(value),
		Role:        role,
		AffiliateID: affiliateID,
		ValidFrom:   h.now.Add(-24 * time.Hour),
		Active:      true,
	}
	h.putCoupon(c)
	return c
}

func (h *harness) putCoupon(c domain.Coupon) {
	h.store.mu.Lock()
	h.store.coupons[c.ID] = c
	h.store.mu.Unlock()
}

func (h *harness) paymentCount() int {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	return len(h.store.payments)
}

func (h *harness) signed(res *CheckoutResult, studentID uuid.UUID) ConfirmInput {
	gatewayPaymentID := "pay_" + res.InvoiceNumber
	return ConfirmInput{
		PaymentID:        res.PaymentID,
		StudentID:        studentID,
		GatewayOrderID:   res.GatewayOrderID,
		GatewayPaymentID: gatewayPaymentID,
		Signature:        h.signer.Sign(res.GatewayOrderID, gatewayPaymentID),
	}
}

// scenarioA checks out a 10,000 INR course with a 10% platform coupon and a
// 5% affiliate coupon.
func (h *harness) scenarioA(t *testing.T) (uuid.UUID, uuid.UUID, *CheckoutResult) {
	t.Helper()
	affiliateID := uuid.New()
	course := h.addCourse("10000", "149.99", "20")
	h.addCoupon("SAVE10", domain.DiscountPercentage, "10", nil)
	h.addCoupon("AFF5", domain.DiscountPercentage, "5", &affiliateID)

	studentID := uuid.New()
	res, err := h.checkout.Initiate(context.Background(), studentID, CheckoutInput{
		CourseID:    course.ID,
		Channel:     "domestic",
		CouponCodes: " aff5, save10 ",
	})
	require.NoError(t, err)
	return studentID, affiliateID, res
}

func TestInitiate_ScenarioA_PersistsPendingAndOpensGatewayOrder(t *testing.T) {
	h := newHarness(t)
	studentID, affiliateID, res := h.scenarioA(t)

	assert.Equal(t, "FT2425G00001", res.InvoiceNumber)
	assert.Equal(t, domain.PaymentStatusPending, res.Status)
	assert.Equal(t, "order_001", res.GatewayOrderID)
	assert.Equal(t, int64(1008900), res.AmountMinor)
	assertDec(t, "10089", res.Quote.FinalAmount, "final")
	assert.Nil(t, res.EnrollmentID)

	require.Equal(t, 1, h.gateway.calls())
	req := h.gateway.requests[0]
	assert.Equal(t, int64(1008900), req.Amount)
	assert.Equal(t, "INR", req.Currency)
	assert.Equal(t, "FT2425G00001", req.Receipt)
	assert.Equal(t, res.PaymentID.String(), req.Notes["payment_id"])

	p := h.store.payment(res.PaymentID)
	assert.Equal(t, studentID, p.StudentID)
	assert.Equal(t, domain.PaymentStatusPending, p.Status)
	assertDec(t, "1000", p.PlatformDiscount, "platform discount")
	assertDec(t, "450", p.AffiliateDiscount, "affiliate discount")
	assertDec(t, "1539", p.TaxAmount, "tax")
	require.NotNil(t, p.AffiliateID)
	assert.Equal(t, affiliateID, *p.AffiliateID)
	require.NotNil(t, p.CommissionAmount)
	assertDec(t, "1800", *p.CommissionAmount, "commission snapshot")
	require.NotNil(t, p.GatewayOrderID)
	assert.Equal(t, "order_001", *p.GatewayOrderID)
	require.Len(t, p.Coupons, 2)
	assert.Equal(t, "SAVE10", p.Coupons[0].Code)

	assert.Equal(t, []string{"checkout initiated", "gateway order created"}, h.store.eventMessages(res.PaymentID))
}

func TestConfirm_ScenarioA_CompletesEnrollsAndRecordsCommission(t *testing.T) {
	h := newHarness(t)
	studentID, affiliateID, res := h.scenarioA(t)

	out, err := h.confirm.Confirm(context.Background(), h.signed(res, studentID))
	require.NoError(t, err)
	assert.False(t, out.Replayed)
	assert.Equal(t, domain.PaymentStatusCompleted, out.Status)
	assert.Equal(t, "FT2425G00001", out.InvoiceNumber)
	assertDec(t, "10089", out.FinalAmount, "final")

	p := h.store.payment(res.PaymentID)
	assert.Equal(t, domain.PaymentStatusCompleted, p.Status)
	require.NotNil(t, p.EnrollmentID)
	assert.Equal(t, out.EnrollmentID, *p.EnrollmentID)
	require.NotNil(t, p.GatewayPaymentID)
	assert.Equal(t, "pay_FT2425G00001", *p.GatewayPaymentID)
	assert.Equal(t, 1, h.store.enrollmentCount())

	commissions := h.store.commissionList()
	require.Len(t, commissions, 1)
	assert.Equal(t, affiliateID, commissions[0].AffiliateID)
	assert.Equal(t, domain.CommissionPending, commissions[0].Status)
	assertDec(t, "9000", commissions[0].SaleAmount, "sale amount")
	assertDec(t, "20", commissions[0].Rate, "rate")
	assertDec(t, "1800", commissions[0].Amount, "commission")

	for _, line := range p.Coupons {
		assert.Equal(t, 1, h.store.coupon(line.CouponID).UsedCount, line.Code)
	}

	sent := h.notifier.sent()
	require.Len(t, sent, 3)
	kinds := []domain.NotificationKind{sent[0].Kind, sent[1].Kind, sent[2].Kind}
	assert.ElementsMatch(t, []domain.NotificationKind{domain.NotifyCourseDetails, domain.NotifySchedule, domain.NotifyInvoice}, kinds)
	assert.Equal(t, out.EnrollmentID, sent[0].EnrollmentID)
	assert.Contains(t, h.store.eventMessages(res.PaymentID), "payment completed")
}

func TestConfirm_CommissionUsesCheckoutSnapshot(t *testing.T) {
	h := newHarness(t)
	studentID, _, res := h.scenarioA(t)

	h.store.mu.Lock()
	for id, c := range h.store.courses {
		c.CommissionRate = dec("50")
		h.store.courses[id] = c
	}
	h.store.mu.Unlock()

	_, err := h.confirm.Confirm(context.Background(), h.signed(res, studentID))
	require.NoError(t, err)

	commissions := h.store.commissionList()
	require.Len(t, commissions, 1)
	assertDec(t, "20", commissions[0].Rate, "rate")
	assertDec(t, "1800", commissions[0].Amount, "commission")
}

func TestConfirm_ScenarioD_SecondCallIsReplayWithoutWrites(t *testing.T) {
	h := newHarness(t)
	studentID, _, res := h.scenarioA(t)
	in := h.signed(res, studentID)

	first, err := h.confirm.Confirm(context.Background(), in)
	require.NoError(t, err)
	writes := h.store.writeCount()
	txCalls := h.tx.calls

	second, err := h.confirm.Confirm(context.Background(), in)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.EnrollmentID, second.EnrollmentID)
	assert.Equal(t, first.InvoiceNumber, second.InvoiceNumber)
	assert.Equal(t, writes, h.store.writeCount())
	assert.Equal(t, txCalls, h.tx.calls)
	assert.Equal(t, 1, h.store.enrollmentCount())
	assert.Len(t, h.store.commissionList(), 1)
	assert.Len(t, h.notifier.sent(), 3)
}

func TestConfirm_ConcurrentCallsCompleteOnce(t *testing.T) {
	h := newHarness(t)
	studentID, _, res := h.scenarioA(t)
	in := h.signed(res, studentID)

	const callers = 10
	results := make([]*ConfirmResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.confirm.Confirm(context.Background(), in)
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].EnrollmentID, results[i].EnrollmentID)
		if !results[i].Replayed {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
	assert.Equal(t, 1, h.store.enrollmentCount())
	assert.Len(t, h.store.commissionList(), 1)
	assert.Len(t, h.notifier.sent(), 3)
}

func TestConfirm_WebhookLooksUpByGatewayOrder(t *testing.T) {
	h := newHarness(t)
	_, _, res := h.scenarioA(t)

	in := h.signed(res, uuid.Nil)
	in.PaymentID = uuid.Nil
	out, err := h.confirm.Confirm(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, res.PaymentID, out.PaymentID)
	assert.Equal(t, domain.PaymentStatusCompleted, out.Status)
}

func TestConfirm_SecurityMismatchFailsPayment(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(h *harness, in *ConfirmInput)
	}{
		{"bad signature", func(_ *harness, in *ConfirmInput) { in.Signature = "deadbeef" }},
		{"signature for other payment id", func(h *harness, in *ConfirmInput) {
			in.Signature = h.signer.Sign(in.GatewayOrderID, "pay_other")
		}},
		{"other gateway order", func(h *harness, in *ConfirmInput) {
			in.GatewayOrderID = "order_999"
			in.Signature = h.signer.Sign("order_999", in.GatewayPaymentID)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			studentID, _, res := h.scenarioA(t)
			in := h.signed(res, studentID)
			tt.mutate(h, &in)

			_, err := h.confirm.Confirm(context.Background(), in)
			assertCode(t, err, domain.CodeSecurity)
			assert.Equal(t, "payment could not be verified", err.(*domain.AppError).Message)

			p := h.store.payment(res.PaymentID)
			assert.Equal(t, domain.PaymentStatusFailed, p.Status)
			require.NotNil(t, p.FailureReason)
			assert.Contains(t, *p.FailureReason, "signature verification failed")
			assert.Equal(t, 0, h.store.enrollmentCount())
			assert.Empty(t, h.notifier.sent())

			_, err = h.confirm.Confirm(context.Background(), h.signed(res, studentID))
			assertCode(t, err, domain.CodePaymentFailed)
		})
	}
}

func TestConfirm_Rejects(t *testing.T) {
	h := newHarness(t)
	studentID, _, res := h.scenarioA(t)

	t.Run("missing fields", func(t *testing.T) {
		in := h.signed(res, studentID)
		in.Signature = ""
		_, err := h.confirm.Confirm(context.Background(), in)
		assertCode(t, err, domain.CodeValidation)
	})

	t.Run("other student", func(t *testing.T) {
		_, err := h.confirm.Confirm(context.Background(), h.signed(res, uuid.New()))
		assertCode(t, err, domain.CodeNotFound)
	})

	t.Run("unknown payment", func(t *testing.T) {
		in := h.signed(res, studentID)
		in.PaymentID = uuid.New()
		_, err := h.confirm.Confirm(context.Background(), in)
		assertCode(t, err, domain.CodeNotFound)
	})

	assert.Equal(t, domain.PaymentStatusPending, h.store.payment(res.PaymentID).Status)
}

func TestConfirm_CompletionFailureRollsBackAndFailsPayment(t *testing.T) {
	h := newHarness(t)
	studentID, _, res := h.scenarioA(t)
	h.store.failOn("commissions.Create", errBoom)

	_, err := h.confirm.Confirm(context.Background(), h.signed(res, studentID))
	assertCode(t, err, domain.CodeInternal)
	assert.Equal(t, "payment could not be verified", err.(*domain.AppError).Message)

	p := h.store.payment(res.PaymentID)
	assert.Equal(t, domain.PaymentStatusFailed, p.Status)
	assert.Nil(t, p.EnrollmentID)
	require.NotNil(t, p.FailureReason)
	assert.Contains(t, *p.FailureReason, "boom")
	assert.Equal(t, 0, h.store.enrollmentCount())
	for _, line := range p.Coupons {
		assert.Equal(t, 0, h.store.coupon(line.CouponID).UsedCount, line.Code)
	}
	assert.Empty(t, h.notifier.sent())
}

func TestConfirm_RetryLaterWhenFailureCannotBeRecorded(t *testing.T) {
	h := newHarness(t)
	studentID, _, res := h.scenarioA(t)
	h.store.failOn("payments.LockForUpdate", errBoom)
	h.store.failOn("payments.MarkFailed", errBoom)

	_, err := h.confirm.Confirm(context.Background(), h.signed(res, studentID))
	assertCode(t, err, domain.CodeRetryLater)
	assert.Equal(t, domain.PaymentStatusPending, h.store.payment(res.PaymentID).Status)
}

func TestConfirm_InterruptedCompletionStaysRetryable(t *testing.T) {
	h := newHarness(t)
	studentID, _, res := h.scenarioA(t)
	h.store.failOn("payments.LockForUpdate", context.Canceled)

	_, err := h.confirm.Confirm(context.Background(), h.signed(res, studentID))
	assertCode(t, err, domain.CodeRetryLater)
	assert.Equal(t, domain.PaymentStatusPending, h.store.payment(res.PaymentID).Status)
	assert.Equal(t, 0, h.store.enrollmentCount())

	h.store.failOn("payments.LockForUpdate", nil)
	in := h.signed(res, uuid.Nil)
	in.PaymentID = uuid.Nil
	out, err := h.confirm.Confirm(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, out.Status)
	assert.False(t, out.Replayed)
	assert.Equal(t, 1, h.store.enrollmentCount())
}

func TestConfirm_CompletesAfterCallerCancels(t *testing.T) {
	h := newHarness(t)
	studentID, _, res := h.scenarioA(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := h.confirm.Confirm(ctx, h.signed(res, studentID))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, out.Status)
	assert.Equal(t, domain.PaymentStatusCompleted, h.store.payment(res.PaymentID).Status)
	assert.Equal(t, 1, h.store.enrollmentCount())
}

func TestInitiate_ScenarioB_ZeroAmountCompletesWithoutGateway(t *testing.T) {
	h := newHarness(t)
	course := h.addCourse("500", "10", "20")
	h.addCoupon("BIG600", domain.DiscountFixed, "600", nil)
	studentID := uuid.New()

	res, err := h.checkout.Initiate(context.Background(), studentID, CheckoutInput{
		CourseID:    course.ID,
		Channel:     "domestic",
		CouponCodes: "big600",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusCompleted, res.Status)
	assert.Equal(t, int64(0), res.AmountMinor)
	assert.Empty(t, res.GatewayOrderID)
	require.NotNil(t, res.EnrollmentID)
	assert.True(t, res.Quote.Clamped)
	assert.Equal(t, 0, h.gateway.calls())

	p := h.store.payment(res.PaymentID)
	assert.Equal(t, domain.PaymentStatusCompleted, p.Status)
	require.NotNil(t, p.GatewayPaymentID)
	assert.Equal(t, "free_FT2425G00001", *p.GatewayPaymentID)
	assert.Empty(t, h.store.commissionList())
	assert.Len(t, h.notifier.sent(), 3)
}

func TestInitiate_ScenarioC_CrossBorderUntaxedWithoutCommission(t *testing.T) {
	h := newHarness(t)
	course := h.addCourse("10000", "149.99", "20")
	studentID := uuid.New()

	res, err := h.checkout.Initiate(context.Background(), studentID, CheckoutInput{CourseID: course.ID, Channel: "cross_border"})
	require.NoError(t, err)
	assert.Equal(t, "FT2425E00001", res.InvoiceNumber)
	assert.Equal(t, int64(14999), res.AmountMinor)
	assert.Equal(t, "USD", res.Quote.Currency)
	assertDec(t, "0", res.Quote.Tax, "tax")

	_, err = h.confirm.Confirm(context.Background(), h.signed(res, studentID))
	require.NoError(t, err)
	assert.Empty(t, h.store.commissionList())
}

func TestInitiate_InvoiceNumbersIncreasePerChannel(t *testing.T) {
	h := newHarness(t)
	course := h.addCourse("100", "10", "0")

	var got []string
	for _, ch := range []string{"domestic", "domestic", "cross_border", "domestic"} {
		res, err := h.checkout.Initiate(context.Background(), uuid.New(), CheckoutInput{CourseID: course.ID, Channel: ch})
		require.NoError(t, err)
		got = append(got, res.InvoiceNumber)
	}
	assert.Equal(t, []string{"FT2425G00001", "FT2425G00002", "FT2425E00001", "FT2425G00003"}, got)
}

func TestInitiate_RejectsBeforePersisting(t *testing.T) {
	affiliateA, affiliateB := uuid.New(), uuid.New()
	badGSTIN := "27AAAAA0000A1Z"

	tests := []struct {
		name  string
		setup func(h *harness, course domain.Course) CheckoutInput
		code  string
	}{
		{"unknown course", func(_ *harness, _ domain.Course) CheckoutInput {
			return CheckoutInput{CourseID: uuid.New(), Channel: "domestic"}
		}, domain.CodeNotFound},
		{"inactive course", func(h *harness, c domain.Course) CheckoutInput {
			h.store.mu.Lock()
			c.Active = false
			h.store.courses[c.ID] = c
			h.store.mu.Unlock()
			return CheckoutInput{CourseID: c.ID, Channel: "domestic"}
		}, domain.CodeNotFound},
		{"missing course", func(_ *harness, _ domain.Course) CheckoutInput {
			return CheckoutInput{Channel: "domestic"}
		}, domain.CodeValidation},
		{"unknown channel", func(_ *harness, c domain.Course) CheckoutInput {
			return CheckoutInput{CourseID: c.ID, Channel: "moon"}
		}, domain.CodeValidation},
		{"unknown coupon", func(_ *harness, c domain.Course) CheckoutInput {
			return CheckoutInput{CourseID: c.ID, Channel: "domestic", CouponCodes: "NOPE"}
		}, domain.CodeValidation},
		{"duplicate coupon", func(h *harness, c domain.Course) CheckoutInput {
			h.addCoupon("SAVE10", domain.DiscountPercentage, "10", nil)
			return CheckoutInput{CourseID: c.ID, Channel: "domestic", CouponCodes: "SAVE10,save10"}
		}, domain.CodeValidation},
		{"expired coupon", func(h *harness, c domain.Course) CheckoutInput {
			cp := h.addCoupon("OLD", domain.DiscountPercentage, "10", nil)
			until := h.now
			cp.ValidUntil = &until
			h.putCoupon(cp)
			return CheckoutInput{CourseID: c.ID, Channel: "domestic", CouponCodes: "OLD"}
		}, domain.CodeValidation},
		{"exhausted coupon", func(h *harness, c domain.Course) CheckoutInput {
			cp := h.addCoupon("ONCE", domain.DiscountFixed, "10", nil)
			limit := 1
			cp.MaxUses, cp.UsedCount = &limit, 1
			h.putCoupon(cp)
			return CheckoutInput{CourseID: c.ID, Channel: "domestic", CouponCodes: "ONCE"}
		}, domain.CodeValidation},
		{"coupon for other course", func(h *harness, c domain.Course) CheckoutInput {
			cp := h.addCoupon("OTHER", domain.DiscountFixed, "10", nil)
			other := uuid.New()
			cp.CourseID = &other
			h.putCoupon(cp)
			return CheckoutInput{CourseID: c.ID, Channel: "domestic", CouponCodes: "OTHER"}
		}, domain.CodeValidation},
		{"fixed coupon cross border", func(h *harness, c domain.Course) CheckoutInput {
			h.addCoupon("FLAT500", domain.DiscountFixed, "500", nil)
			return CheckoutInput{CourseID: c.ID, Channel: "cross_border", CouponCodes: "FLAT500"}
		}, domain.CodeValidation},
		{"affiliates combined", func(h *harness, c domain.Course) CheckoutInput {
			h.addCoupon("AFFA", domain.DiscountPercentage, "5", &affiliateA)
			h.addCoupon("AFFB", domain.DiscountPercentage, "5", &affiliateB)
			return CheckoutInput{CourseID: c.ID, Channel: "domestic", CouponCodes: "AFFA,AFFB"}
		}, domain.CodeValidation},
		{"invalid billing", func(_ *harness, c domain.Course) CheckoutInput {
			return CheckoutInput{CourseID: c.ID, Channel: "domestic", Billing: &domain.BillingProfile{
				Name: "Asha", Line1: "1 MG Road", City: "Pune", State: "MH", PostalCode: "411001", Country: "IN", GSTIN: &badGSTIN,
			}}
		}, domain.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			course := h.addCourse("1000", "20", "10")
			in := tt.setup(h, course)

			_, err := h.checkout.Initiate(context.Background(), uuid.New(), in)
			assertCode(t, err, tt.code)
			assert.Equal(t, 0, h.paymentCount())
			assert.Equal(t, 0, h.gateway.calls())
		})
	}
}

func TestInitiate_SameAffiliateCouponsCombine(t *testing.T) {
	h := newHarness(t)
	affiliateID := uuid.New()
	course := h.addCourse("1000", "20", "10")
	h.addCoupon("AFFA", domain.DiscountPercentage, "5", &affiliateID)
	h.addCoupon("AFFB", domain.DiscountFixed, "50", &affiliateID)

	res, err := h.checkout.Initiate(context.Background(), uuid.New(), CheckoutInput{CourseID: course.ID, Channel: "domestic", CouponCodes: "AFFA,AFFB"})
	require.NoError(t, err)
	assertDec(t, "100", res.Quote.AffiliateDiscount, "affiliate discount")
	require.NotNil(t, res.Quote.AffiliateID)
	assert.Equal(t, affiliateID, *res.Quote.AffiliateID)
}

func TestInitiate_GatewayErrorFailsPayment(t *testing.T) {
	h := newHarness(t)
	h.gateway.err = errors.New("gateway error (status 500): upstream")
	course := h.addCourse("1000", "20", "10")

	_, err := h.checkout.Initiate(context.Background(), uuid.New(), CheckoutInput{CourseID: course.ID, Channel: "domestic"})
	assertCode(t, err, domain.CodeGateway)

	require.Equal(t, 1, h.paymentCount())
	var p domain.Payment
	for _, v := range h.store.payments {
		p = v
	}
	assert.Equal(t, domain.PaymentStatusFailed, p.Status)
	require.NotNil(t, p.FailureReason)
	assert.Contains(t, *p.FailureReason, "gateway order failed")
	assert.Equal(t, "FT2425G00001", p.InvoiceNumber)
}

func TestInitiate_GatewayTimeoutFailsPayment(t *testing.T) {
	h := newHarness(t, withGatewayTimeout(20*time.Millisecond))
	h.gateway.block = true
	course := h.addCourse("1000", "20", "10")

	start := time.Now()
	res, err := h.checkout.Initiate(context.Background(), uuid.New(), CheckoutInput{CourseID: course.ID, Channel: "domestic"})
	assertCode(t, err, domain.CodeGateway)
	assert.Nil(t, res)
	assert.Less(t, time.Since(start), time.Second)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	for _, p := range h.store.payments {
		assert.Equal(t, domain.PaymentStatusFailed, p.Status)
	}
}

func TestInitiate_OpenCircuitSkipsGateway(t *testing.T) {
	h := newHarness(t, withBreaker(guard.NewCircuitBreaker(1, time.Minute)))
	h.gateway.err = errors.New("connection refused")
	course := h.addCourse("1000", "20", "10")

	_, err := h.checkout.Initiate(context.Background(), uuid.New(), CheckoutInput{CourseID: course.ID, Channel: "domestic"})
	assertCode(t, err, domain.CodeGateway)

	_, err = h.checkout.Initiate(context.Background(), uuid.New(), CheckoutInput{CourseID: course.ID, Channel: "domestic"})
	assertCode(t, err, domain.CodeGateway)
	assert.ErrorIs(t, err, guard.ErrCircuitOpen)
	assert.Equal(t, 1, h.gateway.calls())
	assert.Equal(t, 2, h.paymentCount())
}

func TestInitiate_RateLimitedPerStudent(t *testing.T) {
	h := newHarness(t, withLimiter(guard.NewRateLimiter(2, time.Minute)))
	course := h.addCourse("1000", "20", "10")
	studentID := uuid.New()
	in := CheckoutInput{CourseID: course.ID, Channel: "domestic"}

	for i := 0; i < 2; i++ {
		_, err := h.checkout.Initiate(context.Background(), studentID, in)
		require.NoError(t, err)
	}
	_, err := h.checkout.Initiate(context.Background(), studentID, in)
	assertCode(t, err, domain.CodeRateLimited)

	_, err = h.checkout.Initiate(context.Background(), uuid.New(), in)
	assert.NoError(t, err)
}

func TestInitiate_SavesBillingBestEffort(t *testing.T) {
	gstin := "27AAPFU0939F1ZV"
	billing := &domain.BillingProfile{
		Name: "Asha Rao", Line1: "1 MG Road", City: "Pune", State: "MH", PostalCode: "411001", Country: "IN", GSTIN: &gstin,
	}

	t.Run("saved", func(t *testing.T) {
		h := newHarness(t)
		course := h.addCourse("1000", "20", "10")
		studentID := uuid.New()
		_, err := h.checkout.Initiate(context.Background(), studentID, CheckoutInput{CourseID: course.ID, Channel: "domestic", Billing: billing})
		require.NoError(t, err)

		saved, ok := h.store.billing[studentID]
		require.True(t, ok)
		assert.Equal(t, studentID, saved.StudentID)
		assert.Equal(t, "Asha Rao", saved.Name)
	})

	t.Run("failure ignored", func(t *testing.T) {
		h := newHarness(t)
		h.store.failOn("billing.Upsert", errBoom)
		course := h.addCourse("1000", "20", "10")
		res, err := h.checkout.Initiate(context.Background(), uuid.New(), CheckoutInput{CourseID: course.ID, Channel: "domestic", Billing: billing})
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusPending, res.Status)
	})
}

func TestGetPayment_OnlyOwnPayments(t *testing.T) {
	h := newHarness(t)
	studentID, _, res := h.scenarioA(t)

	p, err := h.checkout.GetPayment(context.Background(), studentID, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, res.InvoiceNumber, p.InvoiceNumber)

	_, err = h.checkout.GetPayment(context.Background(), uuid.New(), res.PaymentID)
	assertCode(t, err, domain.CodeNotFound)
}

func TestExpireStale(t *testing.T) {
	h := newHarness(t)
	course := h.addCourse("1000", "20", "10")

	old, err := h.checkout.Initiate(context.Background(), uuid.New(), CheckoutInput{CourseID: course.ID, Channel: "domestic"})
	require.NoError(t, err)
	h.now = h.now.Add(90 * time.Minute)
	recent, err := h.checkout.Initiate(context.Background(), uuid.New(), CheckoutInput{CourseID: course.ID, Channel: "domestic"})
	require.NoError(t, err)
	h.now = h.now.Add(45 * time.Minute)

	n, err := h.reconcile.ExpireStale(context.Background(), 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	expired := h.store.payment(old.PaymentID)
	assert.Equal(t, domain.PaymentStatusFailed, expired.Status)
	require.NotNil(t, expired.FailureReason)
	assert.Equal(t, ExpiryReason, *expired.FailureReason)
	assert.Contains(t, h.store.eventMessages(old.PaymentID), ExpiryReason)
	assert.Equal(t, domain.PaymentStatusPending, h.store.payment(recent.PaymentID).Status)

	_, err = h.reconcile.ExpireStale(context.Background(), 0)
	assertCode(t, err, domain.CodeValidation)
}

func TestCommissionService(t *testing.T) {
	h := newHarness(t)
	studentID, affiliateID, res := h.scenarioA(t)
	_, err := h.confirm.Confirm(context.Background(), h.signed(res, studentID))
	require.NoError(t, err)
	ctx := context.Background()

	own, err := h.commissions.ListForAffiliate(ctx, affiliateID, 10)
	require.NoError(t, err)
	require.Len(t, own, 1)

	none, err := h.commissions.ListForAffiliate(ctx, uuid.New(), 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	pending, err := h.commissions.ListByStatus(ctx, "pending", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = h.commissions.ListByStatus(ctx, "settled", 10)
	assertCode(t, err, domain.CodeValidation)

	paid, err := h.commissions.MarkPaid(ctx, own[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CommissionPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)

	_, err = h.commissions.MarkPaid(ctx, own[0].ID)
	assertCode(t, err, domain.CodeConflict)

	_, err = h.commissions.MarkPaid(ctx, uuid.New())
	assertCode(t, err, domain.CodeNotFound)

	pending, err = h.commissions.ListByStatus(ctx, "pending", 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
