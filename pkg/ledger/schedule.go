package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/duedate/emitracker/pkg/models"
	"github.com/duedate/emitracker/pkg/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// InstallmentShare is the principal share of installment n (1-based) out of tenure.
// Every share is floored to cents and the last installment absorbs the remainder,
// so a schedule always sums to exactly loanAmount.
func InstallmentShare(loanAmount decimal.Decimal, tenure, n int) decimal.Decimal {
	if tenure <= 0 {
		return decimal.Zero
	}
	share := loanAmount.Div(decimal.NewFromInt(int64(tenure))).RoundFloor(2)
	if n == tenure {
		return loanAmount.Sub(share.Mul(decimal.NewFromInt(int64(tenure - 1))))
	}
	return share
}

// DueDate is the due date of installment n: n months after the start date, never the start date itself.
func DueDate(start models.Date, n int) models.Date {
	return start.AddMonths(n)
}

func newInstallment(customer *models.Customer, n int) *models.Installment {
	return &models.Installment{
		CustomerID:     customer.ID,
		DueDate:        DueDate(customer.StartDate, n),
		Amount:         InstallmentShare(customer.LoanAmount, customer.EMITenure, n),
		Paid:           decimal.Zero,
		Fine:           decimal.Zero,
		PaymentHistory: []models.PaymentRecord{},
	}
}

// missingInstallments lists the scheduled installments with no existing installment on the same due date.
func missingInstallments(customer *models.Customer, existing []*models.Installment) []*models.Installment {
	have := make(map[string]bool, len(existing))
	for _, inst := range existing {
		if inst.CustomerID == customer.ID {
			have[inst.DueDate.String()] = true
		}
	}

	var missing []*models.Installment
	for n := 1; n <= customer.EMITenure; n++ {
		due := DueDate(customer.StartDate, n).String()
		if have[due] {
			continue
		}
		have[due] = true
		missing = append(missing, newInstallment(customer, n))
	}
	return missing
}

// GenerateSchedule creates the installments the customer's terms call for that do not
// exist yet, and returns only those it created. Existing installments are left untouched,
// so calling it repeatedly never produces duplicates. A tenure of zero creates nothing.
func (l *Ledger) GenerateSchedule(customer *models.Customer, existing []*models.Installment) ([]*models.Installment, error) {
	created := []*models.Installment{}
	for _, inst := range missingInstallments(customer, existing) {
		if err := l.storage.CreateInstallment(inst); err != nil {
			return created, fmt.Errorf("failed to create installment due %s for customer %s: %w", inst.DueDate, customer.ID, err)
		}
		created = append(created, inst)
	}
	if len(created) > 0 {
		l.log.WithFields(logrus.Fields{
			"customer_id": customer.ID,
			"created":     len(created),
		}).Debug("Generated missing installments")
	}
	return created, nil
}

// SyncSchedule loads a customer, fills in any missing installments and returns the full schedule.
func (l *Ledger) SyncSchedule(customerID uuid.UUID) ([]*models.Installment, error) {
	customer, err := l.storage.GetCustomer(customerID)
	if err != nil {
		return nil, err
	}
	existing, err := l.storage.GetInstallmentsForCustomer(customerID)
	if err != nil {
		return nil, err
	}
	created, err := l.GenerateSchedule(customer, existing)
	if err != nil {
		return nil, err
	}
	if len(created) == 0 {
		return existing, nil
	}
	return l.storage.GetInstallmentsForCustomer(customerID)
}

// RescheduleCustomer applies new loan terms and rebuilds the schedule from scratch.
// This is destructive: every installment, with its payments and fines, is discarded,
// including those whose due date did not change. Notifications raised for the old
// installments are deleted too.
func (l *Ledger) RescheduleCustomer(customerID uuid.UUID, terms models.LoanTerms) ([]*models.Installment, error) {
	customer, err := l.storage.GetCustomer(customerID)
	if err != nil {
		return nil, err
	}
	customer.LoanAmount = terms.LoanAmount
	customer.EMITenure = terms.EMITenure
	customer.StartDate = terms.StartDate
	customer.UpdatedAt = l.now()
	if err := l.storage.UpdateCustomer(customer); err != nil {
		return nil, fmt.Errorf("failed to update customer terms: %w", err)
	}
	return l.rebuildSchedule(customer)
}

func (l *Ledger) rebuildSchedule(customer *models.Customer) ([]*models.Installment, error) {
	logger := l.log.WithField("customer_id", customer.ID)

	if rb, ok := l.storage.(store.Rebuilder); ok {
		fresh := missingInstallments(customer, nil)
		if err := rb.ReplaceInstallments(customer.ID, fresh); err != nil {
			return nil, fmt.Errorf("failed to rebuild schedule: %w", err)
		}
		if _, err := l.dropNotifications(customer.ID); err != nil {
			return nil, err
		}
		logger.WithField("installments", len(fresh)).Info("Schedule rebuilt")
		return fresh, nil
	}

	existing, err := l.storage.GetInstallmentsForCustomer(customer.ID)
	if err != nil {
		return nil, err
	}
	for _, inst := range existing {
		if err := l.storage.DeleteInstallment(inst.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("failed to delete installment %s: %w", inst.ID, err)
		}
	}
	dropped, err := l.dropNotifications(customer.ID)
	if err != nil {
		return nil, err
	}
	if dropped > 0 {
		logger.WithField("notifications", dropped).Debug("Dropped notifications of the old schedule")
	}

	remaining, err := l.awaitDeletion(customer.ID)
	if err != nil {
		return nil, err
	}
	if len(remaining) > 0 {
		logger.WithField("remaining", len(remaining)).Warn("Installments still visible after delete; regenerating anyway")
	}

	created, err := l.GenerateSchedule(customer, remaining)
	if err != nil {
		return nil, err
	}
	logger.WithField("installments", len(created)).Info("Schedule rebuilt")
	return created, nil
}

// awaitDeletion polls until the customer has no installments or the retry budget runs out,
// returning whatever was still visible on the last poll.
func (l *Ledger) awaitDeletion(customerID uuid.UUID) ([]*models.Installment, error) {
	var remaining []*models.Installment
	for attempt := 1; attempt <= l.deleteRetries; attempt++ {
		var err error
		remaining, err = l.storage.GetInstallmentsForCustomer(customerID)
		if err != nil {
			return nil, err
		}
		if len(remaining) == 0 {
			return nil, nil
		}
		l.log.WithFields(logrus.Fields{
			"customer_id": customerID,
			"attempt":     attempt,
			"remaining":   len(remaining),
		}).Debug("Waiting for installment deletes to settle")
		time.Sleep(l.deleteRetryDelay)
	}
	return remaining, nil
}
