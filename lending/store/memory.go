// Package store provides an in-memory lending.TxStore for tests and
// development. The production implementation lives in store/sqlite.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/D-C-Comunicaciones/mi-gestor-backend-sub001/lending"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	loans         map[lending.LoanID]*lending.Loan
	installments  map[lending.LoanID][]*lending.Installment
	moratory      map[lending.InstallmentID]*lending.MoratoryInterest
	payments      map[lending.LoanID][]*lending.Payment
	allocations   map[string][]*lending.PaymentAllocation
	balances      map[lending.LoanID][]*lending.PositiveBalance
	balanceAllocs []*lending.PositiveBalanceAllocation
}

func NewMemory() *Memory {
	return &Memory{
		loans:        make(map[lending.LoanID]*lending.Loan),
		installments: make(map[lending.LoanID][]*lending.Installment),
		moratory:     make(map[lending.InstallmentID]*lending.MoratoryInterest),
		payments:     make(map[lending.LoanID][]*lending.Payment),
		allocations:  make(map[string][]*lending.PaymentAllocation),
		balances:     make(map[lending.LoanID][]*lending.PositiveBalance),
	}
}

// -----------------------------------------------------------------------------
// Loans
// -----------------------------------------------------------------------------

func (m *Memory) CreateLoan(_ context.Context, loan *lending.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLoanLocked(loan)
}

func (m *Memory) createLoanLocked(loan *lending.Loan) error {
	cp := *loan
	m.loans[loan.ID] = &cp
	return nil
}

func (m *Memory) GetLoan(_ context.Context, id lending.LoanID) (*lending.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLoanLocked(id)
}

func (m *Memory) getLoanLocked(id lending.LoanID) (*lending.Loan, error) {
	loan, ok := m.loans[id]
	if !ok {
		return nil, lending.ErrLoanNotFound
	}
	cp := *loan
	return &cp, nil
}

func (m *Memory) UpdateLoan(_ context.Context, loan *lending.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLoanLocked(loan)
}

func (m *Memory) updateLoanLocked(loan *lending.Loan) error {
	if _, ok := m.loans[loan.ID]; !ok {
		return lending.ErrLoanNotFound
	}
	cp := *loan
	m.loans[loan.ID] = &cp
	return nil
}

func (m *Memory) DeleteLoan(_ context.Context, id lending.LoanID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLoanLocked(id)
}

func (m *Memory) deleteLoanLocked(id lending.LoanID) error {
	if _, ok := m.loans[id]; !ok {
		return lending.ErrLoanNotFound
	}
	delete(m.loans, id)
	delete(m.installments, id)
	return nil
}

func (m *Memory) ListActiveLoans(_ context.Context) ([]*lending.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*lending.Loan
	for _, loan := range m.loans {
		if loan.IsActive() {
			cp := *loan
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// -----------------------------------------------------------------------------
// Installments
// -----------------------------------------------------------------------------

func (m *Memory) CreateInstallment(_ context.Context, inst *lending.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createInstallmentLocked(inst)
}

func (m *Memory) createInstallmentLocked(inst *lending.Installment) error {
	for _, existing := range m.installments[inst.LoanID] {
		if existing.Sequence == inst.Sequence {
			return lending.ErrDuplicateSequence
		}
	}
	cp := *inst
	insts := append(m.installments[inst.LoanID], &cp)
	sort.Slice(insts, func(i, j int) bool { return insts[i].Sequence < insts[j].Sequence })
	m.installments[inst.LoanID] = insts
	return nil
}

func (m *Memory) UpdateInstallment(_ context.Context, inst *lending.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateInstallmentLocked(inst)
}

func (m *Memory) updateInstallmentLocked(inst *lending.Installment) error {
	for i, existing := range m.installments[inst.LoanID] {
		if existing.ID == inst.ID {
			cp := *inst
			m.installments[inst.LoanID][i] = &cp
			return nil
		}
	}
	return lending.ErrLoanNotFound
}

func (m *Memory) LastInstallment(_ context.Context, loanID lending.LoanID) (*lending.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastInstallmentLocked(loanID)
}

func (m *Memory) lastInstallmentLocked(loanID lending.LoanID) (*lending.Installment, error) {
	insts := m.installments[loanID]
	if len(insts) == 0 {
		return nil, nil
	}
	cp := *insts[len(insts)-1]
	return &cp, nil
}

func (m *Memory) InstallmentsByLoan(_ context.Context, loanID lending.LoanID) ([]*lending.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.installmentsByLoanLocked(loanID)
}

func (m *Memory) installmentsByLoanLocked(loanID lending.LoanID) ([]*lending.Installment, error) {
	insts := m.installments[loanID]
	out := make([]*lending.Installment, len(insts))
	for i, inst := range insts {
		cp := *inst
		out[i] = &cp
	}
	return out, nil
}

func (m *Memory) PaidCapital(_ context.Context, loanID lending.LoanID) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paidCapitalLocked(loanID)
}

// paidCapitalLocked sums the capital portion actually covered by payments
// on each installment. Paid money covers interest before capital.
func (m *Memory) paidCapitalLocked(loanID lending.LoanID) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, inst := range m.installments[loanID] {
		paidCapital := inst.PaidAmount.Sub(inst.InterestAmount)
		if paidCapital.IsPositive() {
			total = total.Add(lending.MinMoney(paidCapital, inst.CapitalAmount))
		}
	}
	return total, nil
}

// -----------------------------------------------------------------------------
// Moratory interest
// -----------------------------------------------------------------------------

func (m *Memory) MoratoryByInstallment(_ context.Context, instID lending.InstallmentID) (*lending.MoratoryInterest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.moratoryByInstallmentLocked(instID)
}

func (m *Memory) moratoryByInstallmentLocked(instID lending.InstallmentID) (*lending.MoratoryInterest, error) {
	mor, ok := m.moratory[instID]
	if !ok {
		return nil, nil
	}
	cp := *mor
	return &cp, nil
}

func (m *Memory) CreateMoratory(_ context.Context, mor *lending.MoratoryInterest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createMoratoryLocked(mor)
}

func (m *Memory) createMoratoryLocked(mor *lending.MoratoryInterest) error {
	cp := *mor
	m.moratory[mor.InstallmentID] = &cp
	return nil
}

func (m *Memory) UpdateMoratory(_ context.Context, mor *lending.MoratoryInterest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createMoratoryLocked(mor)
}

// -----------------------------------------------------------------------------
// Payments
// -----------------------------------------------------------------------------

func (m *Memory) CreatePayment(_ context.Context, p *lending.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createPaymentLocked(p)
}

func (m *Memory) createPaymentLocked(p *lending.Payment) error {
	cp := *p
	m.payments[p.LoanID] = append(m.payments[p.LoanID], &cp)
	return nil
}

func (m *Memory) PaymentsByLoan(_ context.Context, loanID lending.LoanID) ([]*lending.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	payments := m.payments[loanID]
	out := make([]*lending.Payment, len(payments))
	for i, p := range payments {
		cp := *p
		out[i] = &cp
	}
	return out, nil
}

func (m *Memory) CreatePaymentAllocation(_ context.Context, a *lending.PaymentAllocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createPaymentAllocationLocked(a)
}

func (m *Memory) createPaymentAllocationLocked(a *lending.PaymentAllocation) error {
	cp := *a
	m.allocations[a.PaymentID] = append(m.allocations[a.PaymentID], &cp)
	return nil
}

func (m *Memory) AllocationsByPayment(_ context.Context, paymentID string) ([]*lending.PaymentAllocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	allocs := m.allocations[paymentID]
	out := make([]*lending.PaymentAllocation, len(allocs))
	for i, a := range allocs {
		cp := *a
		out[i] = &cp
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Positive balances
// -----------------------------------------------------------------------------

func (m *Memory) CreatePositiveBalance(_ context.Context, b *lending.PositiveBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createPositiveBalanceLocked(b)
}

func (m *Memory) createPositiveBalanceLocked(b *lending.PositiveBalance) error {
	cp := *b
	m.balances[b.LoanID] = append(m.balances[b.LoanID], &cp)
	return nil
}

func (m *Memory) UpdatePositiveBalance(_ context.Context, b *lending.PositiveBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updatePositiveBalanceLocked(b)
}

func (m *Memory) updatePositiveBalanceLocked(b *lending.PositiveBalance) error {
	for i, existing := range m.balances[b.LoanID] {
		if existing.ID == b.ID {
			cp := *b
			m.balances[b.LoanID][i] = &cp
			return nil
		}
	}
	return lending.ErrLoanNotFound
}

func (m *Memory) OpenPositiveBalances(_ context.Context, loanID lending.LoanID) ([]*lending.PositiveBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.openPositiveBalancesLocked(loanID)
}

// openPositiveBalancesLocked returns unused balances oldest first.
func (m *Memory) openPositiveBalancesLocked(loanID lending.LoanID) ([]*lending.PositiveBalance, error) {
	var out []*lending.PositiveBalance
	for _, b := range m.balances[loanID] {
		if !b.IsUsed && b.Available().IsPositive() {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) PositiveBalancesByLoan(_ context.Context, loanID lending.LoanID) ([]*lending.PositiveBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	balances := m.balances[loanID]
	out := make([]*lending.PositiveBalance, len(balances))
	for i, b := range balances {
		cp := *b
		out[i] = &cp
	}
	return out, nil
}

func (m *Memory) CreatePositiveBalanceAllocation(_ context.Context, a *lending.PositiveBalanceAllocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createPositiveBalanceAllocationLocked(a)
}

func (m *Memory) createPositiveBalanceAllocationLocked(a *lending.PositiveBalanceAllocation) error {
	cp := *a
	m.balanceAllocs = append(m.balanceAllocs, &cp)
	return nil
}

// =============================================================================
// TRANSACTIONS - snapshot + rollback on error
// =============================================================================

// WithTx executes fn against a transactional view while holding the write
// lock, which also serializes concurrent work on the same loan the way
// row locks do in the relational store.
func (m *Memory) WithTx(_ context.Context, fn func(lending.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()

	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	loans         map[lending.LoanID]*lending.Loan
	installments  map[lending.LoanID][]*lending.Installment
	moratory      map[lending.InstallmentID]*lending.MoratoryInterest
	payments      map[lending.LoanID][]*lending.Payment
	allocations   map[string][]*lending.PaymentAllocation
	balances      map[lending.LoanID][]*lending.PositiveBalance
	balanceAllocs []*lending.PositiveBalanceAllocation
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		loans:        make(map[lending.LoanID]*lending.Loan, len(m.loans)),
		installments: make(map[lending.LoanID][]*lending.Installment, len(m.installments)),
		moratory:     make(map[lending.InstallmentID]*lending.MoratoryInterest, len(m.moratory)),
		payments:     make(map[lending.LoanID][]*lending.Payment, len(m.payments)),
		allocations:  make(map[string][]*lending.PaymentAllocation, len(m.allocations)),
		balances:     make(map[lending.LoanID][]*lending.PositiveBalance, len(m.balances)),
	}
	for k, v := range m.loans {
		s.loans[k] = v
	}
	for k, v := range m.installments {
		s.installments[k] = append([]*lending.Installment{}, v...)
	}
	for k, v := range m.moratory {
		s.moratory[k] = v
	}
	for k, v := range m.payments {
		s.payments[k] = append([]*lending.Payment{}, v...)
	}
	for k, v := range m.allocations {
		s.allocations[k] = append([]*lending.PaymentAllocation{}, v...)
	}
	for k, v := range m.balances {
		s.balances[k] = append([]*lending.PositiveBalance{}, v...)
	}
	s.balanceAllocs = append([]*lending.PositiveBalanceAllocation{}, m.balanceAllocs...)
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.loans = s.loans
	m.installments = s.installments
	m.moratory = s.moratory
	m.payments = s.payments
	m.allocations = s.allocations
	m.balances = s.balances
	m.balanceAllocs = s.balanceAllocs
}

// txView forwards to the parent's locked methods; the parent holds the
// write lock for the duration of the transaction.
type txView struct {
	parent *Memory
}

func (tv *txView) CreateLoan(_ context.Context, loan *lending.Loan) error {
	return tv.parent.createLoanLocked(loan)
}

func (tv *txView) GetLoan(_ context.Context, id lending.LoanID) (*lending.Loan, error) {
	return tv.parent.getLoanLocked(id)
}

func (tv *txView) UpdateLoan(_ context.Context, loan *lending.Loan) error {
	return tv.parent.updateLoanLocked(loan)
}

func (tv *txView) DeleteLoan(_ context.Context, id lending.LoanID) error {
	return tv.parent.deleteLoanLocked(id)
}

func (tv *txView) ListActiveLoans(ctx context.Context) ([]*lending.Loan, error) {
	var out []*lending.Loan
	for _, loan := range tv.parent.loans {
		if loan.IsActive() {
			cp := *loan
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tv *txView) CreateInstallment(_ context.Context, inst *lending.Installment) error {
	return tv.parent.createInstallmentLocked(inst)
}

func (tv *txView) UpdateInstallment(_ context.Context, inst *lending.Installment) error {
	return tv.parent.updateInstallmentLocked(inst)
}

func (tv *txView) LastInstallment(_ context.Context, loanID lending.LoanID) (*lending.Installment, error) {
	return tv.parent.lastInstallmentLocked(loanID)
}

func (tv *txView) InstallmentsByLoan(_ context.Context, loanID lending.LoanID) ([]*lending.Installment, error) {
	return tv.parent.installmentsByLoanLocked(loanID)
}

func (tv *txView) PaidCapital(_ context.Context, loanID lending.LoanID) (decimal.Decimal, error) {
	return tv.parent.paidCapitalLocked(loanID)
}

func (tv *txView) MoratoryByInstallment(_ context.Context, instID lending.InstallmentID) (*lending.MoratoryInterest, error) {
	return tv.parent.moratoryByInstallmentLocked(instID)
}

func (tv *txView) CreateMoratory(_ context.Context, mor *lending.MoratoryInterest) error {
	return tv.parent.createMoratoryLocked(mor)
}

func (tv *txView) UpdateMoratory(_ context.Context, mor *lending.MoratoryInterest) error {
	return tv.parent.createMoratoryLocked(mor)
}

func (tv *txView) CreatePayment(_ context.Context, p *lending.Payment) error {
	return tv.parent.createPaymentLocked(p)
}

func (tv *txView) PaymentsByLoan(_ context.Context, loanID lending.LoanID) ([]*lending.Payment, error) {
	payments := tv.parent.payments[loanID]
	out := make([]*lending.Payment, len(payments))
	for i, p := range payments {
		cp := *p
		out[i] = &cp
	}
	return out, nil
}

func (tv *txView) CreatePaymentAllocation(_ context.Context, a *lending.PaymentAllocation) error {
	return tv.parent.createPaymentAllocationLocked(a)
}

func (tv *txView) AllocationsByPayment(_ context.Context, paymentID string) ([]*lending.PaymentAllocation, error) {
	allocs := tv.parent.allocations[paymentID]
	out := make([]*lending.PaymentAllocation, len(allocs))
	for i, a := range allocs {
		cp := *a
		out[i] = &cp
	}
	return out, nil
}

func (tv *txView) CreatePositiveBalance(_ context.Context, b *lending.PositiveBalance) error {
	return tv.parent.createPositiveBalanceLocked(b)
}

func (tv *txView) UpdatePositiveBalance(_ context.Context, b *lending.PositiveBalance) error {
	return tv.parent.updatePositiveBalanceLocked(b)
}

func (tv *txView) OpenPositiveBalances(_ context.Context, loanID lending.LoanID) ([]*lending.PositiveBalance, error) {
	return tv.parent.openPositiveBalancesLocked(loanID)
}

func (tv *txView) PositiveBalancesByLoan(_ context.Context, loanID lending.LoanID) ([]*lending.PositiveBalance, error) {
	balances := tv.parent.balances[loanID]
	out := make([]*lending.PositiveBalance, len(balances))
	for i, b := range balances {
		cp := *b
		out[i] = &cp
	}
	return out, nil
}

func (tv *txView) CreatePositiveBalanceAllocation(_ context.Context, a *lending.PositiveBalanceAllocation) error {
	return tv.parent.createPositiveBalanceAllocationLocked(a)
}
