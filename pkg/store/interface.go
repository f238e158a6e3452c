package store

import (
	"errors"

	"github.com/duedate/emitracker/pkg/models"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a record with the requested id does not exist.
var ErrNotFound = errors.New("record not found")

// Storage defines the CRUD operations for customers, installments and notifications.
// Create methods assign an id when the entity carries uuid.Nil. Update methods upsert by id.
type Storage interface {
	CreateCustomer(customer *models.Customer) error
	GetCustomer(id uuid.UUID) (*models.Customer, error)
	UpdateCustomer(customer *models.Customer) error
	DeleteCustomer(id uuid.UUID) error
	GetAllCustomers() ([]*models.Customer, error)

	CreateInstallment(installment *models.Installment) error
	GetInstallment(id uuid.UUID) (*models.Installment, error)
	UpdateInstallment(installment *models.Installment) error
	DeleteInstallment(id uuid.UUID) error
	GetAllInstallments() ([]*models.Installment, error)
	GetInstallmentsForCustomer(customerID uuid.UUID) ([]*models.Installment, error)

	CreateNotification(notification *models.Notification) error
	UpdateNotification(notification *models.Notification) error
	DeleteNotification(id uuid.UUID) error
	GetAllNotifications() ([]*models.Notification, error)

	// Dismissal markers record the last date a user acted on an installment's notification.
	GetDismissals() (map[uuid.UUID]models.Date, error)
	SetDismissal(installmentID uuid.UUID, date models.Date) error

	// Reset removes every record.
	Reset() error
	Close() error
}

// Rebuilder is implemented by stores that can swap a customer's whole schedule atomically.
type Rebuilder interface {
	ReplaceInstallments(customerID uuid.UUID, installments []*models.Installment) error
}
