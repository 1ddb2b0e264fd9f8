package generator_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/D-C-Comunicaciones/mi-gestor-backend-sub001/generator"
	"github.com/D-C-Comunicaciones/mi-gestor-backend-sub001/lending"
	"github.com/D-C-Comunicaciones/mi-gestor-backend-sub001/lending/store"
	"github.com/D-C-Comunicaciones/mi-gestor-backend-sub001/schedule"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2026, time.January, 1, 12, 0, 0, 0, time.UTC)

func money(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// newTestGenerator wires the generator to an in-memory store and an
// unstarted broker: published triggers queue up in msgStore without a
// polling loop, so tests drive delivery by hand.
func newTestGenerator() (*generator.Generator, *store.Memory, *schedule.MemoryStore) {
	m := store.NewMemory()
	msgStore := schedule.NewMemoryStore()
	broker := schedule.NewDurableBroker(msgStore)
	gen := generator.New(m, broker)
	gen.Now = func() time.Time { return testNow }
	return gen, m, msgStore
}

func seedFixedLoan(t *testing.T, m *store.Memory, term int) *lending.Loan {
	t.Helper()
	loan := &lending.Loan{
		ID:               "loan-1",
		CustomerID:       "cust-1",
		Type:             lending.LoanTypeFixedFees,
		Principal:        money("300000"),
		RemainingBalance: money("300000"),
		InterestRate:     money("0"),
		PenaltyRate:      money("0.02"),
		Frequency:        lending.FrequencyMonthly,
		Term:             term,
		Status:           lending.LoanUpToDate,
		StartDate:        testNow,
	}
	require.NoError(t, m.CreateLoan(context.Background(), loan))
	return loan
}

func seedOnlyInterestsLoan(t *testing.T, m *store.Memory, graceDays int) *lending.Loan {
	t.Helper()
	loan := &lending.Loan{
		ID:               "loan-1",
		CustomerID:       "cust-1",
		Type:             lending.LoanTypeOnlyInterests,
		Principal:        money("1000000"),
		RemainingBalance: money("1000000"),
		InterestRate:     money("0.03"),
		PenaltyRate:      money("0.02"),
		Frequency:        lending.FrequencyMonthly,
		GracePeriodDays:  graceDays,
		Status:           lending.LoanUpToDate,
		StartDate:        testNow,
	}
	require.NoError(t, m.CreateLoan(context.Background(), loan))
	return loan
}

// =============================================================================
// CREATE FIRST
// =============================================================================

func TestCreateFirst_FixedFees(t *testing.T) {
	gen, m, msgStore := newTestGenerator()
	ctx := context.Background()
	loan := seedFixedLoan(t, m, 3)

	inst, err := gen.CreateFirst(ctx, loan.ID)
	require.NoError(t, err)

	// Zero-rate 300,000 over 3: flat 100,000 per installment.
	assert.Equal(t, 1, inst.Sequence)
	assert.True(t, inst.CapitalAmount.Equal(money("100000")), "capital = %s", inst.CapitalAmount)
	assert.True(t, inst.InterestAmount.IsZero())
	assert.Equal(t, loan.Frequency.Next(loan.StartDate), inst.DueDate)

	got, err := m.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, inst.DueDate, got.NextDueDate)

	// One generation trigger plus one overdue-check trigger queued.
	assert.Equal(t, 2, msgStore.Pending())
}

func TestCreateFirst_SchedulesOverdueCheckAfterOneDay(t *testing.T) {
	gen, m, msgStore := newTestGenerator()
	ctx := context.Background()
	loan := seedFixedLoan(t, m, 3)

	_, err := gen.CreateFirst(ctx, loan.ID)
	require.NoError(t, err)

	due, err := msgStore.Due(ctx, testNow.Add(24*time.Hour), 10)
	require.NoError(t, err)

	var overdueMsgs []schedule.Message
	for _, msg := range due {
		if msg.Queue == schedule.QueueOverdue {
			overdueMsgs = append(overdueMsgs, msg)
		}
	}
	require.Len(t, overdueMsgs, 1)
	assert.Equal(t, string(loan.ID), overdueMsgs[0].LoanID)
}

func TestCreateFirst_AppliesStandingPositiveBalance(t *testing.T) {
	gen, m, _ := newTestGenerator()
	ctx := context.Background()
	loan := seedFixedLoan(t, m, 3)

	// A surplus exists before the first installment (e.g. carried over
	// from a refinanced loan).
	require.NoError(t, m.CreatePositiveBalance(ctx, &lending.PositiveBalance{
		ID: "pb-1", LoanID: loan.ID, CustomerID: loan.CustomerID,
		Amount: money("100000"),
		Source: lending.PositiveBalanceSourceOverpayment,
	}))

	_, err := gen.CreateFirst(ctx, loan.ID)
	require.NoError(t, err)

	insts, err := m.InstallmentsByLoan(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, insts, 1)
	assert.True(t, insts[0].IsPaid, "balance should settle the installment on creation")

	balances, err := m.OpenPositiveBalances(ctx, loan.ID)
	require.NoError(t, err)
	assert.Empty(t, balances)
}

func TestCreateFirst_UnknownLoan(t *testing.T) {
	gen, _, _ := newTestGenerator()

	_, err := gen.CreateFirst(context.Background(), "missing")
	assert.ErrorIs(t, err, lending.ErrLoanNotFound)
}

func TestCreateFirst_MisconfiguredLoan(t *testing.T) {
	gen, m, msgStore := newTestGenerator()
	ctx := context.Background()
	loan := seedFixedLoan(t, m, 3)
	loan.Term = 0
	require.NoError(t, m.UpdateLoan(ctx, loan))

	_, err := gen.CreateFirst(ctx, loan.ID)
	assert.ErrorIs(t, err, lending.ErrMissingTerm)

	// Nothing persisted, nothing scheduled.
	insts, err := m.InstallmentsByLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Empty(t, insts)
	assert.Equal(t, 0, msgStore.Pending())
}

// =============================================================================
// CREATE NEXT
// =============================================================================

func TestCreateNext_SequencesAreContiguous(t *testing.T) {
	gen, m, _ := newTestGenerator()
	ctx := context.Background()
	loan := seedFixedLoan(t, m, 3)

	first, err := gen.CreateFirst(ctx, loan.ID)
	require.NoError(t, err)

	second, err := gen.CreateNext(ctx, loan.ID)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, 2, second.Sequence)
	assert.Equal(t, loan.Frequency.Next(first.DueDate), second.DueDate)

	third, err := gen.CreateNext(ctx, loan.ID)
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, 3, third.Sequence)

	insts, err := m.InstallmentsByLoan(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, insts, 3)
	for i, inst := range insts {
		assert.Equal(t, i+1, inst.Sequence)
	}
}

func TestCreateNext_StopsAtTerm(t *testing.T) {
	gen, m, _ := newTestGenerator()
	ctx := context.Background()
	loan := seedFixedLoan(t, m, 2)

	_, err := gen.CreateFirst(ctx, loan.ID)
	require.NoError(t, err)
	_, err = gen.CreateNext(ctx, loan.ID)
	require.NoError(t, err)

	// A duplicate trigger past the term is a no-op, not an error.
	inst, err := gen.CreateNext(ctx, loan.ID)
	require.NoError(t, err)
	assert.Nil(t, inst)

	insts, err := m.InstallmentsByLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Len(t, insts, 2)
}

func TestCreateNext_LastInstallmentClosesSchedule(t *testing.T) {
	gen, m, _ := newTestGenerator()
	ctx := context.Background()
	loan := seedFixedLoan(t, m, 3)
	loan.InterestRate = money("0.05")
	require.NoError(t, m.UpdateLoan(ctx, loan))

	_, err := gen.CreateFirst(ctx, loan.ID)
	require.NoError(t, err)
	_, err = gen.CreateNext(ctx, loan.ID)
	require.NoError(t, err)
	_, err = gen.CreateNext(ctx, loan.ID)
	require.NoError(t, err)

	insts, err := m.InstallmentsByLoan(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, insts, 3)

	// The capital column sums to the principal exactly; the final
	// installment absorbed the flooring residue.
	total := decimal.Zero
	for _, inst := range insts {
		total = total.Add(inst.CapitalAmount)
	}
	assert.True(t, total.Equal(loan.Principal), "capital sums to %s", total)
}

func TestCreateNext_InactiveLoanStops(t *testing.T) {
	gen, m, _ := newTestGenerator()
	ctx := context.Background()
	loan := seedFixedLoan(t, m, 3)

	_, err := gen.CreateFirst(ctx, loan.ID)
	require.NoError(t, err)

	loan.Status = lending.LoanRefinanced
	require.NoError(t, m.UpdateLoan(ctx, loan))

	inst, err := gen.CreateNext(ctx, loan.ID)
	require.NoError(t, err)
	assert.Nil(t, inst)
}

func TestCreateNext_OnlyInterestsStopsAtZeroBalance(t *testing.T) {
	gen, m, _ := newTestGenerator()
	ctx := context.Background()
	loan := seedOnlyInterestsLoan(t, m, 60)

	_, err := gen.CreateFirst(ctx, loan.ID)
	require.NoError(t, err)

	// Principal fully repaid out of band.
	loan.RemainingBalance = decimal.Zero
	require.NoError(t, m.UpdateLoan(ctx, loan))

	inst, err := gen.CreateNext(ctx, loan.ID)
	require.NoError(t, err)
	assert.Nil(t, inst)
}

func TestCreateNext_OnlyInterestsFlipsCapitalRequirement(t *testing.T) {
	gen, m, _ := newTestGenerator()
	ctx := context.Background()
	loan := seedOnlyInterestsLoan(t, m, 45)

	first, err := gen.CreateFirst(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, first.CapitalAmount.IsZero())
	assert.True(t, first.InterestAmount.Equal(money("30000")))

	// Second installment due ~1 month after the first: still inside the
	// 45-day grace window.
	_, err = gen.CreateNext(ctx, loan.ID)
	require.NoError(t, err)
	got, err := m.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.False(t, got.RequiresCapitalPayment)

	// Third installment due ~2 months after the first: past the window.
	_, err = gen.CreateNext(ctx, loan.ID)
	require.NoError(t, err)
	got, err = m.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, got.RequiresCapitalPayment)
}

// =============================================================================
// QUEUE CONSUMER
// =============================================================================

func TestHandleGenerate_DropsConfigErrors(t *testing.T) {
	gen, m, _ := newTestGenerator()
	ctx := context.Background()
	loan := seedFixedLoan(t, m, 3)

	_, err := gen.CreateFirst(ctx, loan.ID)
	require.NoError(t, err)

	// Corrupt the stored type: retrying can never fix this, so the
	// consumer swallows it instead of feeding the retry loop.
	loan.Type = "balloon"
	require.NoError(t, m.UpdateLoan(ctx, loan))

	msg := schedule.NewMessage(schedule.QueueGenerate, string(loan.ID), nil)
	assert.NoError(t, gen.HandleGenerate(ctx, msg))
}

func TestHandleGenerate_PropagatesRetryableErrors(t *testing.T) {
	gen, _, _ := newTestGenerator()

	msg := schedule.NewMessage(schedule.QueueGenerate, "missing", nil)
	assert.Error(t, gen.HandleGenerate(context.Background(), msg))
}

func TestCreateNext_SchedulesNextTrigger(t *testing.T) {
	gen, m, msgStore := newTestGenerator()
	ctx := context.Background()
	loan := seedFixedLoan(t, m, 3)

	_, err := gen.CreateFirst(ctx, loan.ID)
	require.NoError(t, err)
	pendingAfterFirst := msgStore.Pending()

	second, err := gen.CreateNext(ctx, loan.ID)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, pendingAfterFirst+1, msgStore.Pending())

	// The trigger for the final installment carries the remaining count.
	due, err := msgStore.Due(ctx, testNow.AddDate(1, 0, 0), 50)
	require.NoError(t, err)
	var hints []int
	for _, msg := range due {
		if msg.Queue == schedule.QueueGenerate && msg.RemainingInstallments != nil {
			hints = append(hints, *msg.RemainingInstallments)
		}
	}
	assert.Contains(t, hints, 1)
}
