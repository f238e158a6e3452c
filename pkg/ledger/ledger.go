package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/duedate/emitracker/pkg/models"
	"github.com/duedate/emitracker/pkg/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	defaultDeleteRetries    = 10
	defaultDeleteRetryDelay = 50 * time.Millisecond
)

// Ledger handles the business logic for customers and their installment schedules.
type Ledger struct {
	storage store.Storage
	log     logrus.FieldLogger
	now     func() time.Time

	// Bounded wait for a store whose deletes may not be visible immediately.
	deleteRetries    int
	deleteRetryDelay time.Duration
}

type Option func(*Ledger)

// WithClock replaces the wall clock used to decide "today".
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithDeleteConfirmation sets how many times, and how far apart, the rescheduler polls
// the store for a customer's installments to disappear before regenerating them.
func WithDeleteConfirmation(retries int, delay time.Duration) Option {
	return func(l *Ledger) {
		l.deleteRetries = retries
		l.deleteRetryDelay = delay
	}
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, log logrus.FieldLogger, opts ...Option) *Ledger {
	l := &Ledger{
		storage:          s,
		log:              log,
		now:              time.Now,
		deleteRetries:    defaultDeleteRetries,
		deleteRetryDelay: defaultDeleteRetryDelay,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Today is the local wall-clock date.
func (l *Ledger) Today() models.Date {
	return models.DateOf(l.now())
}

// CreateCustomer stores a new customer and generates its installment schedule.
func (l *Ledger) CreateCustomer(customer *models.Customer) (*models.Customer, error) {
	if customer.Status == "" {
		customer.Status = models.CustomerStatusActive
	}
	now := l.now()
	customer.ID = uuid.Nil
	customer.CreatedAt = now
	customer.UpdatedAt = now

	if err := l.storage.CreateCustomer(customer); err != nil {
		return nil, fmt.Errorf("failed to store customer: %w", err)
	}

	created, err := l.GenerateSchedule(customer, nil)
	if err != nil {
		return nil, err
	}
	l.log.WithFields(logrus.Fields{
		"customer_id":  customer.ID,
		"installments": len(created),
	}).Info("Customer created")
	return customer, nil
}

// GetCustomer retrieves a customer by its ID.
func (l *Ledger) GetCustomer(id uuid.UUID) (*models.Customer, error) {
	return l.storage.GetCustomer(id)
}

// GetAllCustomers retrieves all customers.
func (l *Ledger) GetAllCustomers() ([]*models.Customer, error) {
	return l.storage.GetAllCustomers()
}

// SearchCustomers matches the query, case-insensitively, against name, contact numbers and device IMEIs.
func (l *Ledger) SearchCustomers(query string) ([]*models.Customer, error) {
	customers, err := l.storage.GetAllCustomers()
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return customers, nil
	}

	matches := []*models.Customer{}
	for _, c := range customers {
		for _, field := range []string{c.Name, c.PrimaryContact, c.AlternateContact, c.PrimaryMobileIMEI, c.SecondaryMobileIMEI} {
			if field != "" && strings.Contains(strings.ToLower(field), q) {
				matches = append(matches, c)
				break
			}
		}
	}
	return matches, nil
}

// UpdateCustomer saves an edited customer. When the loan terms changed, the whole
// schedule is rebuilt and all prior payment and fine state is discarded.
func (l *Ledger) UpdateCustomer(customer *models.Customer) (*models.Customer, error) {
	existing, err := l.storage.GetCustomer(customer.ID)
	if err != nil {
		return nil, err
	}

	customer.CreatedAt = existing.CreatedAt
	customer.UpdatedAt = l.now()
	if customer.Status == "" {
		customer.Status = existing.Status
	}
	if err := l.storage.UpdateCustomer(customer); err != nil {
		return nil, fmt.Errorf("failed to update customer: %w", err)
	}

	if !existing.Terms().Equal(customer.Terms()) {
		if _, err := l.rebuildSchedule(customer); err != nil {
			return nil, err
		}
	}
	return customer, nil
}

// DeleteCustomer removes a customer together with its installments and notifications.
func (l *Ledger) DeleteCustomer(id uuid.UUID) error {
	if _, err := l.storage.GetCustomer(id); err != nil {
		return err
	}

	installments, err := l.storage.GetInstallmentsForCustomer(id)
	if err != nil {
		return err
	}
	for _, inst := range installments {
		if err := l.storage.DeleteInstallment(inst.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to delete installment %s: %w", inst.ID, err)
		}
	}

	if _, err := l.dropNotifications(id); err != nil {
		return err
	}

	if err := l.storage.DeleteCustomer(id); err != nil {
		return err
	}
	l.log.WithFields(logrus.Fields{
		"customer_id":  id,
		"installments": len(installments),
	}).Info("Customer deleted")
	return nil
}

// dropNotifications deletes every notification raised for the customer and returns how many went.
func (l *Ledger) dropNotifications(customerID uuid.UUID) (int, error) {
	notifications, err := l.storage.GetAllNotifications()
	if err != nil {
		return 0, err
	}
	dropped := 0
	for _, n := range notifications {
		if n.CustomerID != customerID {
			continue
		}
		if err := l.storage.DeleteNotification(n.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return dropped, fmt.Errorf("failed to delete notification %s: %w", n.ID, err)
		}
		dropped++
	}
	return dropped, nil
}

// GetInstallment retrieves an installment by its ID.
func (l *Ledger) GetInstallment(id uuid.UUID) (*models.Installment, error) {
	return l.storage.GetInstallment(id)
}

// GetAllInstallments retrieves every installment.
func (l *Ledger) GetAllInstallments() ([]*models.Installment, error) {
	return l.storage.GetAllInstallments()
}

// Reset wipes every customer, installment, notification and dismissal marker.
func (l *Ledger) Reset() error {
	return l.storage.Reset()
}
