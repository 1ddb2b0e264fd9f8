package overdue_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/D-C-Comunicaciones/mi-gestor-backend-sub001/lending"
	"github.com/D-C-Comunicaciones/mi-gestor-backend-sub001/lending/store"
	"github.com/D-C-Comunicaciones/mi-gestor-backend-sub001/overdue"
	"github.com/D-C-Comunicaciones/mi-gestor-backend-sub001/schedule"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func money(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// newTestWorker returns a worker with a swappable clock. Tests advance
// *now to simulate the passage of days.
func newTestWorker() (*overdue.Worker, *store.Memory, *schedule.MemoryStore, *time.Time) {
	m := store.NewMemory()
	msgStore := schedule.NewMemoryStore()
	broker := schedule.NewDurableBroker(msgStore)
	worker := overdue.New(m, broker)
	now := time.Date(2026, time.February, 10, 9, 0, 0, 0, time.UTC)
	worker.Now = func() time.Time { return now }
	return worker, m, msgStore, &now
}

func seedLoan(t *testing.T, m *store.Memory, now time.Time) *lending.Loan {
	t.Helper()
	loan := &lending.Loan{
		ID:               "loan-1",
		CustomerID:       "cust-1",
		Type:             lending.LoanTypeFixedFees,
		Principal:        money("1000000"),
		RemainingBalance: money("1000000"),
		InterestRate:     money("0.05"),
		PenaltyRate:      money("0.02"),
		Frequency:        lending.FrequencyMonthly,
		Term:             10,
		Status:           lending.LoanUpToDate,
		StartDate:        now.AddDate(0, -1, 0),
	}
	require.NoError(t, m.CreateLoan(context.Background(), loan))
	return loan
}

func seedInstallment(t *testing.T, m *store.Memory, due time.Time, paid string) *lending.Installment {
	t.Helper()
	inst := &lending.Installment{
		ID:             "inst-1",
		LoanID:         "loan-1",
		Sequence:       1,
		DueDate:        due,
		CapitalAmount:  money("79504.57"),
		InterestAmount: money("50000"),
		TotalAmount:    money("129504.57"),
		PaidAmount:     money(paid),
		Status:         lending.InstallmentPending,
	}
	require.NoError(t, m.CreateInstallment(context.Background(), inst))
	return inst
}

// =============================================================================
// ACCRUAL
// =============================================================================

func TestRun_FirstDayOfLateness(t *testing.T) {
	worker, m, _, now := newTestWorker()
	ctx := context.Background()

	seedLoan(t, m, *now)
	seedInstallment(t, m, now.AddDate(0, 0, -1), "0")

	active, err := worker.Run(ctx, "loan-1")
	require.NoError(t, err)
	assert.True(t, active)

	// Daily moratory = 1,000,000 x 0.02 / 30 = 666.66
	mor, err := m.MoratoryByInstallment(ctx, "inst-1")
	require.NoError(t, err)
	require.NotNil(t, mor)
	assert.True(t, mor.Amount.Equal(money("666.66")), "amount = %s", mor.Amount)
	assert.Equal(t, 1, mor.DaysLate)
	assert.Equal(t, lending.MoratoryUnpaid, mor.Status)
	assert.Equal(t, lending.DateOnly(*now), mor.LastAccruedDate)

	insts, err := m.InstallmentsByLoan(ctx, "loan-1")
	require.NoError(t, err)
	assert.Equal(t, lending.InstallmentOverdue, insts[0].Status)

	loan, err := m.GetLoan(ctx, "loan-1")
	require.NoError(t, err)
	assert.Equal(t, lending.LoanOverdue, loan.Status)
}

func TestRun_IdempotentWithinOneCalendarDay(t *testing.T) {
	worker, m, _, now := newTestWorker()
	ctx := context.Background()

	seedLoan(t, m, *now)
	seedInstallment(t, m, now.AddDate(0, 0, -1), "0")

	// The 60-second cadence fires many times per day.
	for i := 0; i < 5; i++ {
		_, err := worker.Run(ctx, "loan-1")
		require.NoError(t, err)
		*now = now.Add(60 * time.Second)
	}

	mor, err := m.MoratoryByInstallment(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, 1, mor.DaysLate, "same-day re-runs must not double-count")
	assert.True(t, mor.Amount.Equal(money("666.66")))
}

func TestRun_AccruesOncePerDay(t *testing.T) {
	worker, m, _, now := newTestWorker()
	ctx := context.Background()

	seedLoan(t, m, *now)
	seedInstallment(t, m, now.AddDate(0, 0, -1), "0")

	for day := 0; day < 3; day++ {
		_, err := worker.Run(ctx, "loan-1")
		require.NoError(t, err)
		*now = now.AddDate(0, 0, 1)
	}

	mor, err := m.MoratoryByInstallment(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, 3, mor.DaysLate)
	assert.True(t, mor.Amount.Equal(money("1999.98")), "amount = %s", mor.Amount)
}

func TestRun_NewAccrualReopensSettledMoratory(t *testing.T) {
	worker, m, _, now := newTestWorker()
	ctx := context.Background()

	seedLoan(t, m, *now)
	seedInstallment(t, m, now.AddDate(0, 0, -2), "0")

	_, err := worker.Run(ctx, "loan-1")
	require.NoError(t, err)

	// The collector settles the accrued moratory mid-stream.
	mor, err := m.MoratoryByInstallment(ctx, "inst-1")
	require.NoError(t, err)
	mor.PaidAmount = mor.Amount
	mor.IsPaid = true
	mor.Status = lending.MoratoryPaid
	require.NoError(t, m.UpdateMoratory(ctx, mor))

	// The installment stays unpaid, so the next day accrues again.
	*now = now.AddDate(0, 0, 1)
	_, err = worker.Run(ctx, "loan-1")
	require.NoError(t, err)

	mor, err = m.MoratoryByInstallment(ctx, "inst-1")
	require.NoError(t, err)
	assert.False(t, mor.IsPaid)
	assert.Equal(t, lending.MoratoryPartiallyPaid, mor.Status)
	assert.Equal(t, 2, mor.DaysLate)
}

func TestRun_DiscountedMoratoryStopsAccruing(t *testing.T) {
	worker, m, _, now := newTestWorker()
	ctx := context.Background()

	seedLoan(t, m, *now)
	seedInstallment(t, m, now.AddDate(0, 0, -2), "0")

	_, err := worker.Run(ctx, "loan-1")
	require.NoError(t, err)

	mor, err := m.MoratoryByInstallment(ctx, "inst-1")
	require.NoError(t, err)
	mor.IsDiscounted = true
	mor.DiscountedAmount = mor.Amount
	mor.Status = lending.MoratoryDiscounted
	require.NoError(t, m.UpdateMoratory(ctx, mor))

	*now = now.AddDate(0, 0, 1)
	_, err = worker.Run(ctx, "loan-1")
	require.NoError(t, err)

	mor, err = m.MoratoryByInstallment(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, 1, mor.DaysLate, "discounted moratory must not grow")
}

func TestRun_DateOnlyComparison(t *testing.T) {
	worker, m, _, now := newTestWorker()
	ctx := context.Background()

	seedLoan(t, m, *now)
	// Due earlier today by clock time: not yet late, dates are compared.
	seedInstallment(t, m, now.Add(-2*time.Hour), "0")

	_, err := worker.Run(ctx, "loan-1")
	require.NoError(t, err)

	mor, err := m.MoratoryByInstallment(ctx, "inst-1")
	require.NoError(t, err)
	assert.Nil(t, mor)

	loan, err := m.GetLoan(ctx, "loan-1")
	require.NoError(t, err)
	assert.Equal(t, lending.LoanUpToDate, loan.Status)
}

// =============================================================================
// LOAN STATUS DERIVATION
// =============================================================================

func TestRun_PartialPaymentMeansOutstandingBalance(t *testing.T) {
	worker, m, _, now := newTestWorker()
	ctx := context.Background()

	seedLoan(t, m, *now)
	// Partially paid, not yet due.
	seedInstallment(t, m, now.AddDate(0, 0, 5), "10000")

	_, err := worker.Run(ctx, "loan-1")
	require.NoError(t, err)

	loan, err := m.GetLoan(ctx, "loan-1")
	require.NoError(t, err)
	assert.Equal(t, lending.LoanOutstandingBalance, loan.Status)
}

func TestRun_OverdueOutranksOutstandingBalance(t *testing.T) {
	worker, m, _, now := newTestWorker()
	ctx := context.Background()

	seedLoan(t, m, *now)
	// Partially paid AND late: Overdue wins.
	seedInstallment(t, m, now.AddDate(0, 0, -1), "10000")

	_, err := worker.Run(ctx, "loan-1")
	require.NoError(t, err)

	loan, err := m.GetLoan(ctx, "loan-1")
	require.NoError(t, err)
	assert.Equal(t, lending.LoanOverdue, loan.Status)
}

func TestRun_RecoversToUpToDate(t *testing.T) {
	worker, m, _, now := newTestWorker()
	ctx := context.Background()

	loan := seedLoan(t, m, *now)
	loan.Status = lending.LoanOverdue
	require.NoError(t, m.UpdateLoan(ctx, loan))

	inst := seedInstallment(t, m, now.AddDate(0, 0, -1), "0")
	inst.PaidAmount = inst.TotalAmount
	inst.MarkPaidIfSettled(*now)
	require.NoError(t, m.UpdateInstallment(ctx, inst))

	_, err := worker.Run(ctx, "loan-1")
	require.NoError(t, err)

	got, err := m.GetLoan(ctx, "loan-1")
	require.NoError(t, err)
	assert.Equal(t, lending.LoanUpToDate, got.Status)
}

// =============================================================================
// QUEUE CONSUMER
// =============================================================================

func TestHandleOverdue_RepublishesWhileActive(t *testing.T) {
	worker, m, msgStore, now := newTestWorker()
	ctx := context.Background()

	seedLoan(t, m, *now)
	seedInstallment(t, m, now.AddDate(0, 0, -1), "0")

	msg := schedule.NewMessage(schedule.QueueOverdue, "loan-1", nil)
	require.NoError(t, worker.HandleOverdue(ctx, msg))

	// The follow-up check is queued 60s out.
	assert.Equal(t, 1, msgStore.Pending())
	due, err := msgStore.Due(ctx, now.Add(60*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, schedule.QueueOverdue, due[0].Queue)
}

func TestHandleOverdue_StopsWhenLoanResolved(t *testing.T) {
	worker, m, msgStore, now := newTestWorker()
	ctx := context.Background()

	loan := seedLoan(t, m, *now)
	loan.Status = lending.LoanPaid
	require.NoError(t, m.UpdateLoan(ctx, loan))

	msg := schedule.NewMessage(schedule.QueueOverdue, "loan-1", nil)
	require.NoError(t, worker.HandleOverdue(ctx, msg))
	assert.Equal(t, 0, msgStore.Pending(), "resolved loans leave the polling loop")
}

func TestHandleOverdue_StopsWhenLoanMissing(t *testing.T) {
	worker, _, msgStore, _ := newTestWorker()

	msg := schedule.NewMessage(schedule.QueueOverdue, "missing", nil)
	require.NoError(t, worker.HandleOverdue(context.Background(), msg))
	assert.Equal(t, 0, msgStore.Pending())
}
