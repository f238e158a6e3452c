package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CustomerStatus string

const (
	CustomerStatusActive    CustomerStatus = "Active"
	CustomerStatusInactive  CustomerStatus = "Inactive"
	CustomerStatusCompleted CustomerStatus = "Completed"
	CustomerStatusOverdue   CustomerStatus = "Overdue"
)

type Customer struct {
	ID                   uuid.UUID       `json:"id"`
	Name                 string          `json:"name"`
	PrimaryContact       string          `json:"primary_contact"`
	AlternateContact     string          `json:"alternate_contact"`
	PrimaryMobileModel   string          `json:"primary_mobile_model"`
	PrimaryMobileIMEI    string          `json:"primary_mobile_imei"`
	SecondaryMobileModel string          `json:"secondary_mobile_model"`
	SecondaryMobileIMEI  string          `json:"secondary_mobile_imei"`
	AccountNumber        string          `json:"account_number"`
	IFSCCode             string          `json:"ifsc_code"`
	OriginalDevicePrice  decimal.Decimal `json:"original_device_price"`
	Downpayment          decimal.Decimal `json:"downpayment"`
	LoanAmount           decimal.Decimal `json:"loan_amount"` // Principal financed
	EMITenure            int             `json:"emi_tenure"`  // Months
	StartDate            Date            `json:"start_date"`
	Status               CustomerStatus  `json:"status"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// LoanTerms are the customer fields an installment schedule is derived from.
type LoanTerms struct {
	LoanAmount decimal.Decimal `json:"loan_amount"`
	EMITenure  int             `json:"emi_tenure"`
	StartDate  Date            `json:"start_date"`
}

func (c *Customer) Terms() LoanTerms {
	return LoanTerms{LoanAmount: c.LoanAmount, EMITenure: c.EMITenure, StartDate: c.StartDate}
}

func (t LoanTerms) Equal(o LoanTerms) bool {
	return t.LoanAmount.Equal(o.LoanAmount) && t.EMITenure == o.EMITenure && t.StartDate.Equal(o.StartDate)
}

type PaymentType string

const (
	PaymentTypeRegular     PaymentType = "regular"
	PaymentTypeFullPayment PaymentType = "full_payment"
)

type PaymentRecord struct {
	Date     Date            `json:"date"`
	Amount   decimal.Decimal `json:"amount"`
	FinePaid decimal.Decimal `json:"fine_paid"`
	Type     PaymentType     `json:"type"`
}

type Installment struct {
	ID              uuid.UUID       `json:"id"`
	CustomerID      uuid.UUID       `json:"customer_id"`
	DueDate         Date            `json:"due_date"`
	Amount          decimal.Decimal `json:"amount"` // Fixed principal share
	Paid            decimal.Decimal `json:"paid"`   // Cumulative, principal and fine together
	Fine            decimal.Decimal `json:"fine"`   // Outstanding fine, not cumulative
	LastPaymentDate Date            `json:"last_payment_date"`
	PaymentHistory  []PaymentRecord `json:"payment_history"`
}

// IsSettled reports whether paid covers the principal share plus the attached fine.
func (i *Installment) IsSettled() bool {
	return i.Paid.GreaterThanOrEqual(i.Amount.Add(i.Fine))
}

// Due is the outstanding amount, never negative.
func (i *Installment) Due() decimal.Decimal {
	due := i.Amount.Add(i.Fine).Sub(i.Paid)
	if due.IsNegative() {
		return decimal.Zero
	}
	return due
}

const NotificationTypeEMIDue = "EMI Due"

type Notification struct {
	ID            uuid.UUID `json:"id"`
	Message       string    `json:"message"`
	DueDate       Date      `json:"due_date"`
	Type          string    `json:"type"`
	Read          bool      `json:"read"`
	CustomerID    uuid.UUID `json:"customer_id"`
	InstallmentID uuid.UUID `json:"emi_id"`
}
