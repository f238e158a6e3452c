package ledger

import (
	"time"

	"github.com/duedate/emitracker/pkg/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IsSettled reports whether paid covers amount plus the attached fine.
func IsSettled(inst *models.Installment) bool {
	return inst.IsSettled()
}

// InstallmentDue is max(0, amount + fine - paid).
func InstallmentDue(inst *models.Installment) decimal.Decimal {
	return inst.Due()
}

// Balance is a customer's outstanding position. Principal and fines are tracked
// independently: a payment reduces principal by at most its installment's share, and
// overpaying one installment never reduces another's due.
type Balance struct {
	PrincipalRemaining decimal.Decimal `json:"principal_remaining"`
	FinesOutstanding   decimal.Decimal `json:"fines_outstanding"`
	TotalDue           decimal.Decimal `json:"total_due"`
}

// CustomerBalance aggregates the customer's installments into a due balance.
func CustomerBalance(customer *models.Customer, installments []*models.Installment) Balance {
	principalPaid := decimal.Zero
	fines := decimal.Zero
	for _, inst := range installments {
		if inst.CustomerID != customer.ID {
			continue
		}
		principalPaid = principalPaid.Add(decimal.Min(inst.Paid, inst.Amount))
		fines = fines.Add(inst.Fine)
	}

	principal := customer.LoanAmount.Sub(principalPaid)
	if principal.IsNegative() {
		principal = decimal.Zero
	}
	return Balance{
		PrincipalRemaining: principal,
		FinesOutstanding:   fines,
		TotalDue:           principal.Add(fines),
	}
}

// PortfolioStats are the dashboard counters over all customers and installments.
type PortfolioStats struct {
	TotalCustomers      int             `json:"total_customers"`
	ActiveCustomers     int             `json:"active_customers"`
	InactiveCustomers   int             `json:"inactive_customers"`
	NewCustomers        int             `json:"new_customers"`
	TotalInstallments   int             `json:"total_installments"`
	PendingInstallments int             `json:"pending_installments"`
	OverdueInstallments int             `json:"overdue_installments"`
	SettledInstallments int             `json:"settled_installments"`
	TotalCollected      decimal.Decimal `json:"total_collected"`
	AsOf                models.Date     `json:"as_of"`
	GeneratedAt         time.Time       `json:"generated_at"`
}

// ComputePortfolioStats partitions customers by status and start month, and installments by
// settlement and due date relative to today. TotalCollected sums the principal shares of
// settled installments.
func ComputePortfolioStats(customers []*models.Customer, installments []*models.Installment, today models.Date) PortfolioStats {
	stats := PortfolioStats{
		TotalCustomers:    len(customers),
		TotalInstallments: len(installments),
		TotalCollected:    decimal.Zero,
		AsOf:              today,
	}

	for _, c := range customers {
		switch c.Status {
		case models.CustomerStatusActive:
			stats.ActiveCustomers++
		case models.CustomerStatusInactive:
			stats.InactiveCustomers++
		}
		if !c.StartDate.IsZero() && c.StartDate.SameMonth(today) {
			stats.NewCustomers++
		}
	}

	for _, inst := range installments {
		if inst.IsSettled() {
			stats.SettledInstallments++
			stats.TotalCollected = stats.TotalCollected.Add(inst.Amount)
			continue
		}
		if inst.DueDate.Before(today) {
			stats.OverdueInstallments++
		} else {
			stats.PendingInstallments++
		}
	}
	return stats
}

// UpcomingInstallments are unsettled installments due between today and today+days, inclusive.
func UpcomingInstallments(installments []*models.Installment, today models.Date, days int) []*models.Installment {
	until := today.AddDays(days)
	upcoming := []*models.Installment{}
	for _, inst := range installments {
		if inst.IsSettled() || inst.DueDate.Before(today) || inst.DueDate.After(until) {
			continue
		}
		upcoming = append(upcoming, inst)
	}
	return upcoming
}

// FinedInstallments are unsettled installments carrying a fine.
func FinedInstallments(installments []*models.Installment) []*models.Installment {
	fined := []*models.Installment{}
	for _, inst := range installments {
		if !inst.IsSettled() && inst.Fine.IsPositive() {
			fined = append(fined, inst)
		}
	}
	return fined
}

// CustomerDue loads a customer's installments and returns its balance.
func (l *Ledger) CustomerDue(customerID uuid.UUID) (Balance, error) {
	customer, err := l.storage.GetCustomer(customerID)
	if err != nil {
		return Balance{}, err
	}
	installments, err := l.storage.GetInstallmentsForCustomer(customerID)
	if err != nil {
		return Balance{}, err
	}
	return CustomerBalance(customer, installments), nil
}

// PortfolioStats computes dashboard stats from the current store contents.
func (l *Ledger) PortfolioStats() (PortfolioStats, error) {
	customers, err := l.storage.GetAllCustomers()
	if err != nil {
		return PortfolioStats{}, err
	}
	installments, err := l.storage.GetAllInstallments()
	if err != nil {
		return PortfolioStats{}, err
	}
	stats := ComputePortfolioStats(customers, installments, l.Today())
	stats.GeneratedAt = l.now()
	return stats, nil
}

// UpcomingInstallments loads all installments and returns those due within the next days.
func (l *Ledger) UpcomingInstallments(days int) ([]*models.Installment, error) {
	installments, err := l.storage.GetAllInstallments()
	if err != nil {
		return nil, err
	}
	return UpcomingInstallments(installments, l.Today(), days), nil
}

// FinedInstallments loads all installments and returns the unsettled ones carrying a fine.
func (l *Ledger) FinedInstallments() ([]*models.Installment, error) {
	installments, err := l.storage.GetAllInstallments()
	if err != nil {
		return nil, err
	}
	return FinedInstallments(installments), nil
}
