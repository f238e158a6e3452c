package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/duedate/emitracker/pkg/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db  *sql.DB
	log logrus.FieldLogger
}

// NewSQLiteStore opens (or creates) the database file and initializes the schema.
func NewSQLiteStore(dataSourceName string, log logrus.FieldLogger) (*SQLiteStore, error) {
	// Foreign keys are a per-connection setting, so they go in the DSN rather than a one-off PRAGMA.
	dsn := dataSourceName
	if strings.Contains(dsn, "?") {
		dsn += "&_foreign_keys=on"
	} else {
		dsn += "?_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db, log: log}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	log.WithField("path", dataSourceName).Info("Database connection established and schema initialized")
	return s, nil
}

// initSchema creates the tables if they don't already exist.
// Money is stored as TEXT so no decimal precision is lost, and dates as TEXT (YYYY-MM-DD)
// so the driver never turns them into timestamps.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		primary_contact TEXT NOT NULL DEFAULT '',
		alternate_contact TEXT NOT NULL DEFAULT '',
		primary_mobile_model TEXT NOT NULL DEFAULT '',
		primary_mobile_imei TEXT NOT NULL DEFAULT '',
		secondary_mobile_model TEXT NOT NULL DEFAULT '',
		secondary_mobile_imei TEXT NOT NULL DEFAULT '',
		account_number TEXT NOT NULL DEFAULT '',
		ifsc_code TEXT NOT NULL DEFAULT '',
		original_device_price TEXT NOT NULL DEFAULT '0',
		downpayment TEXT NOT NULL DEFAULT '0',
		loan_amount TEXT NOT NULL DEFAULT '0',
		emi_tenure INTEGER NOT NULL DEFAULT 0,
		start_date TEXT,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		due_date TEXT NOT NULL,
		amount TEXT NOT NULL,
		paid TEXT NOT NULL DEFAULT '0',
		fine TEXT NOT NULL DEFAULT '0',
		last_payment_date TEXT,
		UNIQUE(customer_id, due_date),
		FOREIGN KEY(customer_id) REFERENCES customers(id) ON DELETE CASCADE
	);
	CREATE TABLE IF NOT EXISTS payments (
		installment_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		date TEXT NOT NULL,
		amount TEXT NOT NULL,
		fine_paid TEXT NOT NULL,
		type TEXT NOT NULL,
		PRIMARY KEY(installment_id, seq),
		FOREIGN KEY(installment_id) REFERENCES installments(id) ON DELETE CASCADE
	);
	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		message TEXT NOT NULL,
		due_date TEXT NOT NULL,
		type TEXT NOT NULL,
		read INTEGER NOT NULL DEFAULT 0,
		customer_id TEXT NOT NULL,
		installment_id TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS dismissals (
		installment_id TEXT PRIMARY KEY,
		date TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_installments_customer ON installments(customer_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

const customerColumns = `id, name, primary_contact, alternate_contact, primary_mobile_model, primary_mobile_imei, secondary_mobile_model, secondary_mobile_imei, account_number, ifsc_code, original_device_price, downpayment, loan_amount, emi_tenure, start_date, status, created_at, updated_at`

// CreateCustomer inserts a new customer, assigning an id if none is set.
func (s *SQLiteStore) CreateCustomer(c *models.Customer) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := s.db.Exec(
		`INSERT INTO customers (`+customerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.PrimaryContact, c.AlternateContact, c.PrimaryMobileModel, c.PrimaryMobileIMEI, c.SecondaryMobileModel, c.SecondaryMobileIMEI, c.AccountNumber, c.IFSCCode,
		c.OriginalDevicePrice, c.Downpayment, c.LoanAmount, c.EMITenure, c.StartDate, string(c.Status), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create customer: %w", err)
	}
	return nil
}

// GetCustomer retrieves a customer by its ID.
func (s *SQLiteStore) GetCustomer(id uuid.UUID) (*models.Customer, error) {
	row := s.db.QueryRow(`SELECT `+customerColumns+` FROM customers WHERE id = ?`, id)
	c, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("customer %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return c, nil
}

// UpdateCustomer upserts a customer by id.
func (s *SQLiteStore) UpdateCustomer(c *models.Customer) error {
	_, err := s.db.Exec(
		`INSERT INTO customers (`+customerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, primary_contact = excluded.primary_contact, alternate_contact = excluded.alternate_contact,
			primary_mobile_model = excluded.primary_mobile_model, primary_mobile_imei = excluded.primary_mobile_imei,
			secondary_mobile_model = excluded.secondary_mobile_model, secondary_mobile_imei = excluded.secondary_mobile_imei,
			account_number = excluded.account_number, ifsc_code = excluded.ifsc_code, original_device_price = excluded.original_device_price,
			downpayment = excluded.downpayment, loan_amount = excluded.loan_amount, emi_tenure = excluded.emi_tenure,
			start_date = excluded.start_date, status = excluded.status, updated_at = excluded.updated_at`,
		c.ID, c.Name, c.PrimaryContact, c.AlternateContact, c.PrimaryMobileModel, c.PrimaryMobileIMEI, c.SecondaryMobileModel, c.SecondaryMobileIMEI, c.AccountNumber, c.IFSCCode,
		c.OriginalDevicePrice, c.Downpayment, c.LoanAmount, c.EMITenure, c.StartDate, string(c.Status), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update customer: %w", err)
	}
	return nil
}

// DeleteCustomer removes a customer. Installments and their payments go with it through
// ON DELETE CASCADE; notifications and dismissal markers are removed in the same transaction.
func (s *SQLiteStore) DeleteCustomer(id uuid.UUID) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM notifications WHERE customer_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete associated notifications: %w", err)
	}
	if err := deleteNotices(tx, `WHERE customer_id = ?`, id); err != nil {
		return err
	}

	result, err := tx.Exec(`DELETE FROM customers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete customer: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("customer %s: %w", id, ErrNotFound)
	}

	return tx.Commit()
}

// GetAllCustomers retrieves all customers ordered by creation time.
func (s *SQLiteStore) GetAllCustomers() ([]*models.Customer, error) {
	rows, err := s.db.Query(`SELECT ` + customerColumns + ` FROM customers ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all customers: %w", err)
	}
	defer rows.Close()

	var customers []*models.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan customer row: %w", err)
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return customers, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCustomer(row scanner) (*models.Customer, error) {
	var c models.Customer
	var status string
	err := row.Scan(&c.ID, &c.Name, &c.PrimaryContact, &c.AlternateContact, &c.PrimaryMobileModel, &c.PrimaryMobileIMEI, &c.SecondaryMobileModel, &c.SecondaryMobileIMEI, &c.AccountNumber, &c.IFSCCode,
		&c.OriginalDevicePrice, &c.Downpayment, &c.LoanAmount, &c.EMITenure, &c.StartDate, &status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = models.CustomerStatus(status)
	return &c, nil
}

const installmentColumns = `id, customer_id, due_date, amount, paid, fine, last_payment_date`

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
}

// CreateInstallment inserts a new installment and its payment history.
// The (customer_id, due_date) uniqueness constraint rejects duplicates.
func (s *SQLiteStore) CreateInstallment(inst *models.Installment) error {
	if inst.ID == uuid.Nil {
		inst.ID = uuid.New()
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertInstallment(tx, inst); err != nil {
		return err
	}
	return tx.Commit()
}

func insertInstallment(tx execer, inst *models.Installment) error {
	_, err := tx.Exec(
		`INSERT INTO installments (`+installmentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.CustomerID, inst.DueDate, inst.Amount, inst.Paid, inst.Fine, inst.LastPaymentDate,
	)
	if err != nil {
		return fmt.Errorf("failed to create installment: %w", err)
	}
	return writePayments(tx, inst)
}

// writePayments rewrites the full payment history of an installment.
func writePayments(tx execer, inst *models.Installment) error {
	if _, err := tx.Exec(`DELETE FROM payments WHERE installment_id = ?`, inst.ID); err != nil {
		return fmt.Errorf("failed to clear payment history: %w", err)
	}
	for seq, p := range inst.PaymentHistory {
		_, err := tx.Exec(
			`INSERT INTO payments (installment_id, seq, date, amount, fine_paid, type) VALUES (?, ?, ?, ?, ?, ?)`,
			inst.ID, seq, p.Date, p.Amount, p.FinePaid, string(p.Type),
		)
		if err != nil {
			return fmt.Errorf("failed to store payment record: %w", err)
		}
	}
	return nil
}

// GetInstallment retrieves an installment with its payment history.
func (s *SQLiteStore) GetInstallment(id uuid.UUID) (*models.Installment, error) {
	installments, err := s.queryInstallments(`WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(installments) == 0 {
		return nil, fmt.Errorf("installment %s: %w", id, ErrNotFound)
	}
	return installments[0], nil
}

// UpdateInstallment upserts an installment by id and rewrites its payment history.
func (s *SQLiteStore) UpdateInstallment(inst *models.Installment) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO installments (`+installmentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET customer_id = excluded.customer_id, due_date = excluded.due_date, amount = excluded.amount,
			paid = excluded.paid, fine = excluded.fine, last_payment_date = excluded.last_payment_date`,
		inst.ID, inst.CustomerID, inst.DueDate, inst.Amount, inst.Paid, inst.Fine, inst.LastPaymentDate,
	)
	if err != nil {
		return fmt.Errorf("failed to update installment: %w", err)
	}
	if err := writePayments(tx, inst); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteInstallment removes an installment together with its notifications and dismissal
// marker; its payments cascade.
func (s *SQLiteStore) DeleteInstallment(id uuid.UUID) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteNotices(tx, `WHERE id = ?`, id); err != nil {
		return err
	}
	result, err := tx.Exec(`DELETE FROM installments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete installment: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("installment %s: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

// deleteNotices removes the notifications and dismissal markers of the installments matched by where.
func deleteNotices(tx execer, where string, args ...interface{}) error {
	selected := `(SELECT id FROM installments ` + where + `)`
	if _, err := tx.Exec(`DELETE FROM notifications WHERE installment_id IN `+selected, args...); err != nil {
		return fmt.Errorf("failed to delete installment notifications: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM dismissals WHERE installment_id IN `+selected, args...); err != nil {
		return fmt.Errorf("failed to delete installment dismissals: %w", err)
	}
	return nil
}

// GetAllInstallments retrieves every installment ordered by due date.
func (s *SQLiteStore) GetAllInstallments() ([]*models.Installment, error) {
	return s.queryInstallments(``)
}

// GetInstallmentsForCustomer retrieves a customer's installments ordered by due date.
func (s *SQLiteStore) GetInstallmentsForCustomer(customerID uuid.UUID) ([]*models.Installment, error) {
	return s.queryInstallments(`WHERE customer_id = ?`, customerID)
}

// ReplaceInstallments deletes a customer's schedule and inserts the given one in a single transaction.
// Notifications and dismissal markers of the replaced installments are deleted with them.
func (s *SQLiteStore) ReplaceInstallments(customerID uuid.UUID, installments []*models.Installment) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteNotices(tx, `WHERE customer_id = ?`, customerID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM installments WHERE customer_id = ?`, customerID); err != nil {
		return fmt.Errorf("failed to delete installments for customer %s: %w", customerID, err)
	}
	for _, inst := range installments {
		if inst.ID == uuid.Nil {
			inst.ID = uuid.New()
		}
		if err := insertInstallment(tx, inst); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) queryInstallments(where string, args ...interface{}) ([]*models.Installment, error) {
	rows, err := s.db.Query(`SELECT `+installmentColumns+` FROM installments `+where+` ORDER BY due_date ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query installments: %w", err)
	}

	var installments []*models.Installment
	byID := make(map[uuid.UUID]*models.Installment)
	for rows.Next() {
		var inst models.Installment
		if err := rows.Scan(&inst.ID, &inst.CustomerID, &inst.DueDate, &inst.Amount, &inst.Paid, &inst.Fine, &inst.LastPaymentDate); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan installment row: %w", err)
		}
		inst.PaymentHistory = []models.PaymentRecord{}
		installments = append(installments, &inst)
		byID[inst.ID] = &inst
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	rows.Close()

	if len(installments) == 0 {
		return installments, nil
	}
	if err := s.attachPayments(byID, where, args...); err != nil {
		return nil, err
	}
	return installments, nil
}

// attachPayments loads the payment history for the installments matched by the same filter.
func (s *SQLiteStore) attachPayments(byID map[uuid.UUID]*models.Installment, where string, args ...interface{}) error {
	rows, err := s.db.Query(
		`SELECT installment_id, date, amount, fine_paid, type FROM payments
		WHERE installment_id IN (SELECT id FROM installments `+where+`)
		ORDER BY installment_id, seq ASC`, args...)
	if err != nil {
		return fmt.Errorf("failed to query payment history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var installmentID uuid.UUID
		var p models.PaymentRecord
		var paymentType string
		if err := rows.Scan(&installmentID, &p.Date, &p.Amount, &p.FinePaid, &paymentType); err != nil {
			return fmt.Errorf("failed to scan payment row: %w", err)
		}
		p.Type = models.PaymentType(paymentType)
		if inst, ok := byID[installmentID]; ok {
			inst.PaymentHistory = append(inst.PaymentHistory, p)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error during rows iteration for payment history: %w", err)
	}
	return nil
}

// CreateNotification inserts a new notification, assigning an id if none is set.
func (s *SQLiteStore) CreateNotification(n *models.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	_, err := s.db.Exec(
		`INSERT INTO notifications (id, message, due_date, type, read, customer_id, installment_id) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Message, n.DueDate, n.Type, n.Read, n.CustomerID, n.InstallmentID,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// UpdateNotification upserts a notification by id.
func (s *SQLiteStore) UpdateNotification(n *models.Notification) error {
	_, err := s.db.Exec(
		`INSERT INTO notifications (id, message, due_date, type, read, customer_id, installment_id) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET message = excluded.message, due_date = excluded.due_date, type = excluded.type,
			read = excluded.read, customer_id = excluded.customer_id, installment_id = excluded.installment_id`,
		n.ID, n.Message, n.DueDate, n.Type, n.Read, n.CustomerID, n.InstallmentID,
	)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	return nil
}

// DeleteNotification removes a notification.
func (s *SQLiteStore) DeleteNotification(id uuid.UUID) error {
	result, err := s.db.Exec(`DELETE FROM notifications WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetAllNotifications retrieves every notification, most recent due date first.
func (s *SQLiteStore) GetAllNotifications() ([]*models.Notification, error) {
	rows, err := s.db.Query(`SELECT id, message, due_date, type, read, customer_id, installment_id FROM notifications ORDER BY due_date DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.Message, &n.DueDate, &n.Type, &n.Read, &n.CustomerID, &n.InstallmentID); err != nil {
			return nil, fmt.Errorf("failed to scan notification row: %w", err)
		}
		notifications = append(notifications, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return notifications, nil
}

// GetDismissals returns the last dismissal date per installment.
func (s *SQLiteStore) GetDismissals() (map[uuid.UUID]models.Date, error) {
	rows, err := s.db.Query(`SELECT installment_id, date FROM dismissals`)
	if err != nil {
		return nil, fmt.Errorf("failed to get dismissals: %w", err)
	}
	defer rows.Close()

	dismissed := make(map[uuid.UUID]models.Date)
	for rows.Next() {
		var id uuid.UUID
		var date models.Date
		if err := rows.Scan(&id, &date); err != nil {
			return nil, fmt.Errorf("failed to scan dismissal row: %w", err)
		}
		dismissed[id] = date
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return dismissed, nil
}

// SetDismissal records the date an installment's notification was acted on.
func (s *SQLiteStore) SetDismissal(installmentID uuid.UUID, date models.Date) error {
	_, err := s.db.Exec(
		`INSERT INTO dismissals (installment_id, date) VALUES (?, ?) ON CONFLICT(installment_id) DO UPDATE SET date = excluded.date`,
		installmentID, date,
	)
	if err != nil {
		return fmt.Errorf("failed to set dismissal: %w", err)
	}
	return nil
}

// Reset deletes every record in one transaction.
func (s *SQLiteStore) Reset() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"payments", "notifications", "dismissals", "installments", "customers"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.Warn("All records deleted")
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
