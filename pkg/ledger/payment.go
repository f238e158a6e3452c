package ledger

import (
	"errors"
	"fmt"

	"github.com/duedate/emitracker/pkg/models"
	"github.com/duedate/emitracker/pkg/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var hundred = decimal.NewFromInt(100)

// PaymentRequest is one payment/fine action against a single installment.
// FinePercent is charged on the installment's remaining due before this payment.
type PaymentRequest struct {
	Payment     decimal.Decimal
	FlatFine    decimal.Decimal
	FinePercent decimal.Decimal
}

func (r PaymentRequest) validate() error {
	switch {
	case r.Payment.IsNegative():
		return &ValidationError{Field: "payment", Reason: "must not be negative"}
	case r.FlatFine.IsNegative():
		return &ValidationError{Field: "flat_fine", Reason: "must not be negative"}
	case r.FinePercent.IsNegative() || r.FinePercent.GreaterThan(hundred):
		return &ValidationError{Field: "fine_percent", Reason: "must be between 0 and 100"}
	}
	return nil
}

// ApplyPayment records a payment and/or fine against an installment.
//
// The new fine is the flat fine plus finePercent of the remaining due (amount + fine - paid,
// unclamped). A payment larger than remaining due plus the new fine is rejected with a
// ValidationError and nothing is written. When the payment settles the installment, the
// schedule is extended by one installment if the customer still has unpaid tenure left.
// Once the payment is stored it is reported as applied: a failed extension is only logged,
// and the next SyncSchedule fills the gap.
func (l *Ledger) ApplyPayment(installmentID uuid.UUID, req PaymentRequest) (*models.Installment, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	inst, err := l.storage.GetInstallment(installmentID)
	if err != nil {
		return nil, err
	}

	remainingDue := inst.Amount.Add(inst.Fine).Sub(inst.Paid)
	newFine := req.FlatFine.Add(remainingDue.Mul(req.FinePercent).Div(hundred)).Round(2)
	limit := remainingDue.Add(newFine)
	if req.Payment.GreaterThan(limit) {
		return nil, &ValidationError{
			Field:  "payment",
			Reason: fmt.Sprintf("%s exceeds total due %s including new fine", req.Payment.StringFixed(2), limit.StringFixed(2)),
		}
	}

	wasSettled := inst.IsSettled()
	today := l.Today()
	inst.Paid = inst.Paid.Add(req.Payment)
	inst.Fine = inst.Fine.Add(newFine)
	inst.LastPaymentDate = today
	inst.PaymentHistory = append(inst.PaymentHistory, models.PaymentRecord{
		Date:     today,
		Amount:   req.Payment,
		FinePaid: newFine,
		Type:     models.PaymentTypeRegular,
	})

	if err := l.storage.UpdateInstallment(inst); err != nil {
		return nil, fmt.Errorf("failed to update installment: %w", err)
	}

	l.log.WithFields(logrus.Fields{
		"installment_id": inst.ID,
		"customer_id":    inst.CustomerID,
		"payment":        req.Payment.StringFixed(2),
		"fine":           newFine.StringFixed(2),
	}).Info("Payment applied")

	if !wasSettled && inst.IsSettled() {
		if _, err := l.extendSchedule(inst.CustomerID); err != nil {
			l.log.WithError(err).WithFields(logrus.Fields{
				"installment_id": inst.ID,
				"customer_id":    inst.CustomerID,
			}).Error("Payment recorded but schedule not extended")
		}
	}
	return inst, nil
}

// extendSchedule creates the next scheduled installment after the latest existing one,
// as long as fewer than tenure installments are settled and the next due date is still
// within the tenure. It returns nil when nothing needed creating.
func (l *Ledger) extendSchedule(customerID uuid.UUID) (*models.Installment, error) {
	customer, err := l.storage.GetCustomer(customerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			l.log.WithField("customer_id", customerID).Warn("Settled installment has no customer; schedule not extended")
			return nil, nil
		}
		return nil, err
	}

	installments, err := l.storage.GetInstallmentsForCustomer(customerID)
	if err != nil {
		return nil, err
	}

	settled := 0
	latest := customer.StartDate
	taken := make(map[string]bool, len(installments))
	for _, inst := range installments {
		if inst.IsSettled() {
			settled++
		}
		if inst.DueDate.After(latest) {
			latest = inst.DueDate
		}
		taken[inst.DueDate.String()] = true
	}
	if settled >= customer.EMITenure {
		return nil, nil
	}

	for n := 1; n <= customer.EMITenure; n++ {
		due := DueDate(customer.StartDate, n)
		if !due.After(latest) {
			continue
		}
		if taken[due.String()] {
			return nil, nil
		}
		next := newInstallment(customer, n)
		if err := l.storage.CreateInstallment(next); err != nil {
			return nil, fmt.Errorf("failed to create next installment: %w", err)
		}
		l.log.WithFields(logrus.Fields{
			"customer_id":    customerID,
			"installment_id": next.ID,
			"due_date":       next.DueDate.String(),
		}).Info("Next installment created")
		return next, nil
	}
	return nil, nil
}

// MarkFullyPaid settles an installment in one step: the outstanding due is added to
// paid and the fine is cleared to zero. Unlike ApplyPayment, the fine does not stay on
// the installment afterwards.
func (l *Ledger) MarkFullyPaid(installmentID uuid.UUID) (*models.Installment, error) {
	inst, err := l.storage.GetInstallment(installmentID)
	if err != nil {
		return nil, err
	}

	remainingDue := inst.Amount.Add(inst.Fine).Sub(inst.Paid)
	if remainingDue.IsNegative() {
		remainingDue = decimal.Zero
	}
	existingFine := inst.Fine
	today := l.Today()

	inst.Paid = inst.Paid.Add(remainingDue)
	inst.Fine = decimal.Zero
	inst.LastPaymentDate = today
	inst.PaymentHistory = append(inst.PaymentHistory, models.PaymentRecord{
		Date:     today,
		Amount:   remainingDue,
		FinePaid: existingFine,
		Type:     models.PaymentTypeFullPayment,
	})

	if err := l.storage.UpdateInstallment(inst); err != nil {
		return nil, fmt.Errorf("failed to update installment: %w", err)
	}
	l.log.WithFields(logrus.Fields{
		"installment_id": inst.ID,
		"customer_id":    inst.CustomerID,
		"amount":         remainingDue.StringFixed(2),
	}).Info("Installment marked fully paid")
	return inst, nil
}

// UndoSettlement zeroes paid and fine. Only a trailing full_payment history entry is
// removed; regular payment entries stay in the history.
func (l *Ledger) UndoSettlement(installmentID uuid.UUID) (*models.Installment, error) {
	inst, err := l.storage.GetInstallment(installmentID)
	if err != nil {
		return nil, err
	}

	if n := len(inst.PaymentHistory); n > 0 && inst.PaymentHistory[n-1].Type == models.PaymentTypeFullPayment {
		inst.PaymentHistory = inst.PaymentHistory[:n-1]
	}
	inst.Paid = decimal.Zero
	inst.Fine = decimal.Zero

	if err := l.storage.UpdateInstallment(inst); err != nil {
		return nil, fmt.Errorf("failed to update installment: %w", err)
	}
	l.log.WithFields(logrus.Fields{
		"installment_id": inst.ID,
		"customer_id":    inst.CustomerID,
	}).Info("Installment settlement undone")
	return inst, nil
}

// DoubleFine doubles the fine currently attached to an installment.
func (l *Ledger) DoubleFine(installmentID uuid.UUID) (*models.Installment, error) {
	inst, err := l.storage.GetInstallment(installmentID)
	if err != nil {
		return nil, err
	}
	inst.Fine = inst.Fine.Mul(decimal.NewFromInt(2))
	if err := l.storage.UpdateInstallment(inst); err != nil {
		return nil, fmt.Errorf("failed to update installment: %w", err)
	}
	return inst, nil
}
