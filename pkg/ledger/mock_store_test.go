package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/duedate/emitracker/pkg/models"
	"github.com/duedate/emitracker/pkg/store"
	"github.com/google/uuid"
)

// MockStore is an in-memory implementation of the Storage interface for testing.
// It does not implement store.Rebuilder, so the ledger takes the delete-and-poll path.
type MockStore struct {
	customers     map[uuid.UUID]*models.Customer
	installments  map[uuid.UUID]*models.Installment
	notifications map[uuid.UUID]*models.Notification
	dismissals    map[uuid.UUID]models.Date

	// deleteLag keeps a deleted installment visible to this many list reads.
	deleteLag int
	pending   map[uuid.UUID]int

	listReads int
}

func NewMockStore() *MockStore {
	return &MockStore{
		customers:     make(map[uuid.UUID]*models.Customer),
		installments:  make(map[uuid.UUID]*models.Installment),
		notifications: make(map[uuid.UUID]*models.Notification),
		dismissals:    make(map[uuid.UUID]models.Date),
		pending:       make(map[uuid.UUID]int),
	}
}

func cloneCustomer(c *models.Customer) *models.Customer {
	cp := *c
	return &cp
}

func cloneInstallment(i *models.Installment) *models.Installment {
	cp := *i
	cp.PaymentHistory = append([]models.PaymentRecord{}, i.PaymentHistory...)
	return &cp
}

func (m *MockStore) CreateCustomer(c *models.Customer) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	m.customers[c.ID] = cloneCustomer(c)
	return nil
}

func (m *MockStore) GetCustomer(id uuid.UUID) (*models.Customer, error) {
	c, ok := m.customers[id]
	if !ok {
		return nil, fmt.Errorf("customer %s: %w", id, store.ErrNotFound)
	}
	return cloneCustomer(c), nil
}

func (m *MockStore) UpdateCustomer(c *models.Customer) error {
	m.customers[c.ID] = cloneCustomer(c)
	return nil
}

func (m *MockStore) DeleteCustomer(id uuid.UUID) error {
	if _, ok := m.customers[id]; !ok {
		return fmt.Errorf("customer %s: %w", id, store.ErrNotFound)
	}
	delete(m.customers, id)
	return nil
}

func (m *MockStore) GetAllCustomers() ([]*models.Customer, error) {
	var all []*models.Customer
	for _, c := range m.customers {
		all = append(all, cloneCustomer(c))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all, nil
}

func (m *MockStore) CreateInstallment(inst *models.Installment) error {
	for _, existing := range m.installments {
		if existing.CustomerID == inst.CustomerID && existing.DueDate.Equal(inst.DueDate) {
			return fmt.Errorf("duplicate installment for customer %s due %s", inst.CustomerID, inst.DueDate)
		}
	}
	if inst.ID == uuid.Nil {
		inst.ID = uuid.New()
	}
	m.installments[inst.ID] = cloneInstallment(inst)
	return nil
}

func (m *MockStore) GetInstallment(id uuid.UUID) (*models.Installment, error) {
	inst, ok := m.installments[id]
	if !ok {
		return nil, fmt.Errorf("installment %s: %w", id, store.ErrNotFound)
	}
	return cloneInstallment(inst), nil
}

func (m *MockStore) UpdateInstallment(inst *models.Installment) error {
	m.installments[inst.ID] = cloneInstallment(inst)
	return nil
}

func (m *MockStore) DeleteInstallment(id uuid.UUID) error {
	if _, ok := m.installments[id]; !ok {
		return fmt.Errorf("installment %s: %w", id, store.ErrNotFound)
	}
	if m.deleteLag > 0 {
		m.pending[id] = m.deleteLag
		return nil
	}
	delete(m.installments, id)
	return nil
}

// settle counts down pending deletes, applying the ones whose lag ran out.
func (m *MockStore) settle() {
	for id, left := range m.pending {
		if left <= 1 {
			delete(m.installments, id)
			delete(m.pending, id)
			continue
		}
		m.pending[id] = left - 1
	}
}

func (m *MockStore) list(keep func(*models.Installment) bool) []*models.Installment {
	m.listReads++
	result := []*models.Installment{}
	for _, inst := range m.installments {
		if keep(inst) {
			result = append(result, cloneInstallment(inst))
		}
	}
	m.settle()
	sort.Slice(result, func(i, j int) bool { return result[i].DueDate.Before(result[j].DueDate) })
	return result
}

func (m *MockStore) GetAllInstallments() ([]*models.Installment, error) {
	return m.list(func(*models.Installment) bool { return true }), nil
}

func (m *MockStore) GetInstallmentsForCustomer(customerID uuid.UUID) ([]*models.Installment, error) {
	return m.list(func(inst *models.Installment) bool { return inst.CustomerID == customerID }), nil
}

func (m *MockStore) CreateNotification(n *models.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	cp := *n
	m.notifications[n.ID] = &cp
	return nil
}

func (m *MockStore) UpdateNotification(n *models.Notification) error {
	cp := *n
	m.notifications[n.ID] = &cp
	return nil
}

func (m *MockStore) DeleteNotification(id uuid.UUID) error {
	if _, ok := m.notifications[id]; !ok {
		return fmt.Errorf("notification %s: %w", id, store.ErrNotFound)
	}
	delete(m.notifications, id)
	return nil
}

func (m *MockStore) GetAllNotifications() ([]*models.Notification, error) {
	var all []*models.Notification
	for _, n := range m.notifications {
		cp := *n
		all = append(all, &cp)
	}
	return all, nil
}

func (m *MockStore) GetDismissals() (map[uuid.UUID]models.Date, error) {
	out := make(map[uuid.UUID]models.Date, len(m.dismissals))
	for id, d := range m.dismissals {
		out[id] = d
	}
	return out, nil
}

func (m *MockStore) SetDismissal(installmentID uuid.UUID, date models.Date) error {
	m.dismissals[installmentID] = date
	return nil
}

func (m *MockStore) Reset() error {
	m.customers = make(map[uuid.UUID]*models.Customer)
	m.installments = make(map[uuid.UUID]*models.Installment)
	m.notifications = make(map[uuid.UUID]*models.Notification)
	m.dismissals = make(map[uuid.UUID]models.Date)
	m.pending = make(map[uuid.UUID]int)
	return nil
}

func (m *MockStore) Close() error {
	return nil
}

// rebuildingStore adds the atomic rebuild capability on top of MockStore.
type rebuildingStore struct {
	*MockStore
	replaced int
}

func (r *rebuildingStore) ReplaceInstallments(customerID uuid.UUID, installments []*models.Installment) error {
	r.replaced++
	for id, inst := range r.installments {
		if inst.CustomerID == customerID {
			delete(r.installments, id)
		}
	}
	for _, inst := range installments {
		if err := r.CreateInstallment(inst); err != nil {
			return err
		}
	}
	return nil
}

// failingStore rejects installment creation while failCreate is set.
type failingStore struct {
	*MockStore
	failCreate bool
}

func (f *failingStore) CreateInstallment(inst *models.Installment) error {
	if f.failCreate {
		return errors.New("disk full")
	}
	return f.MockStore.CreateInstallment(inst)
}
