package ledger

import (
	"errors"
	"testing"

	"github.com/duedate/emitracker/pkg/models"
	"github.com/google/uuid"
)

func installment(customerID uuid.UUID, due, amount, paid, fine string) *models.Installment {
	return &models.Installment{
		ID:         uuid.New(),
		CustomerID: customerID,
		DueDate:    models.MustParseDate(due),
		Amount:     dec(amount),
		Paid:       dec(paid),
		Fine:       dec(fine),
	}
}

func TestIsSettledAndDue(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name    string
		inst    *models.Installment
		settled bool
		due     string
	}{
		{"fresh", installment(id, "2024-02-15", "1000", "0", "0"), false, "1000"},
		{"partial", installment(id, "2024-02-15", "1000", "400", "0"), false, "600"},
		{"exact", installment(id, "2024-02-15", "1000", "1000", "0"), true, "0"},
		{"fine outstanding", installment(id, "2024-02-15", "1000", "1000", "50"), false, "50"},
		{"overpaid", installment(id, "2024-02-15", "1000", "1200", "155"), true, "0"},
	}
	for _, tt := range tests {
		if got := IsSettled(tt.inst); got != tt.settled {
			t.Errorf("%s: IsSettled = %v, want %v", tt.name, got, tt.settled)
		}
		if got := InstallmentDue(tt.inst); !got.Equal(dec(tt.due)) {
			t.Errorf("%s: InstallmentDue = %s, want %s", tt.name, got, tt.due)
		}
	}
}

func TestCustomerBalance(t *testing.T) {
	customer := newCustomer("Asha", "3000", 3, "2024-01-15")
	customer.ID = uuid.New()
	other := uuid.New()

	insts := []*models.Installment{
		installment(customer.ID, "2024-02-15", "1000", "1200", "155"),
		installment(customer.ID, "2024-03-15", "1000", "400", "0"),
		installment(customer.ID, "2024-04-15", "1000", "0", "20"),
		installment(other, "2024-02-15", "1000", "1000", "999"),
	}

	balance := CustomerBalance(customer, insts)
	// Overpaying the first installment does not spill over into the others.
	if !balance.PrincipalRemaining.Equal(dec("1600")) {
		t.Errorf("Expected principal remaining 1600, got %s", balance.PrincipalRemaining)
	}
	if !balance.FinesOutstanding.Equal(dec("175")) {
		t.Errorf("Expected fines 175, got %s", balance.FinesOutstanding)
	}
	if !balance.TotalDue.Equal(dec("1775")) {
		t.Errorf("Expected total due 1775, got %s", balance.TotalDue)
	}
}

func TestCustomerBalance_NeverNegative(t *testing.T) {
	customer := newCustomer("Asha", "900", 1, "2024-01-15")
	customer.ID = uuid.New()

	balance := CustomerBalance(customer, []*models.Installment{
		installment(customer.ID, "2024-02-15", "1000", "1000", "0"),
	})
	if !balance.PrincipalRemaining.IsZero() {
		t.Errorf("Expected principal remaining clamped to 0, got %s", balance.PrincipalRemaining)
	}
}

func TestComputePortfolioStats(t *testing.T) {
	today := models.MustParseDate("2024-03-15")
	customers := []*models.Customer{
		{ID: uuid.New(), Status: models.CustomerStatusActive, StartDate: models.MustParseDate("2024-03-01")},
		{ID: uuid.New(), Status: models.CustomerStatusActive, StartDate: models.MustParseDate("2024-01-10")},
		{ID: uuid.New(), Status: models.CustomerStatusInactive, StartDate: models.MustParseDate("2023-12-01")},
		{ID: uuid.New(), Status: models.CustomerStatusCompleted, StartDate: models.MustParseDate("2023-03-20")},
	}
	id := customers[0].ID
	insts := []*models.Installment{
		installment(id, "2024-02-15", "1000", "1000", "0"),
		installment(id, "2024-03-01", "500", "600", "100"),
		installment(id, "2024-03-10", "1000", "0", "0"),
		installment(id, "2024-03-15", "1000", "200", "0"),
		installment(id, "2024-04-15", "1000", "0", "0"),
	}

	stats := ComputePortfolioStats(customers, insts, today)

	if stats.TotalCustomers != 4 || stats.ActiveCustomers != 2 || stats.InactiveCustomers != 1 {
		t.Errorf("Unexpected customer counts %+v", stats)
	}
	if stats.NewCustomers != 1 {
		t.Errorf("Expected 1 new customer, got %d", stats.NewCustomers)
	}
	if stats.TotalInstallments != 5 || stats.SettledInstallments != 2 {
		t.Errorf("Unexpected installment counts %+v", stats)
	}
	if stats.OverdueInstallments != 1 {
		t.Errorf("Expected 1 overdue installment, got %d", stats.OverdueInstallments)
	}
	if stats.PendingInstallments != 2 {
		t.Errorf("Expected 2 pending installments, got %d", stats.PendingInstallments)
	}
	if !stats.TotalCollected.Equal(dec("1500")) {
		t.Errorf("Expected total collected 1500, got %s", stats.TotalCollected)
	}
	if !stats.AsOf.Equal(today) {
		t.Errorf("Expected stats as of %s, got %s", today, stats.AsOf)
	}
}

func TestUpcomingInstallments(t *testing.T) {
	today := models.MustParseDate("2024-03-15")
	id := uuid.New()
	insts := []*models.Installment{
		installment(id, "2024-03-14", "1000", "0", "0"),
		installment(id, "2024-03-15", "1000", "0", "0"),
		installment(id, "2024-03-16", "1000", "1000", "0"),
		installment(id, "2024-03-20", "1000", "0", "0"),
		installment(id, "2024-03-21", "1000", "0", "0"),
	}

	upcoming := UpcomingInstallments(insts, today, 5)
	if len(upcoming) != 2 {
		t.Fatalf("Expected 2 upcoming installments, got %d", len(upcoming))
	}
	if upcoming[0].DueDate.String() != "2024-03-15" || upcoming[1].DueDate.String() != "2024-03-20" {
		t.Errorf("Unexpected upcoming installments %s, %s", upcoming[0].DueDate, upcoming[1].DueDate)
	}
}

func TestFinedInstallments(t *testing.T) {
	id := uuid.New()
	insts := []*models.Installment{
		installment(id, "2024-02-15", "1000", "0", "50"),
		installment(id, "2024-03-15", "1000", "1050", "50"),
		installment(id, "2024-04-15", "1000", "0", "0"),
	}

	fined := FinedInstallments(insts)
	if len(fined) != 1 || fined[0].ID != insts[0].ID {
		t.Errorf("Expected only the unsettled fined installment, got %d", len(fined))
	}
}

func TestLedgerAggregates(t *testing.T) {
	ms := NewMockStore()
	l, _ := newTestLedger(ms)

	// Starts 2024-02-10, so the first installment is due 2024-03-10 (overdue on 2024-03-15)
	// and the second 2024-04-10.
	customer, _ := l.CreateCustomer(newCustomer("Asha", "2000", 2, "2024-02-10"))
	insts := installmentsFor(t, ms, customer.ID)
	if _, err := l.ApplyPayment(insts[0].ID, PaymentRequest{Payment: dec("300"), FlatFine: dec("25")}); err != nil {
		t.Fatalf("ApplyPayment failed: %v", err)
	}

	balance, err := l.CustomerDue(customer.ID)
	if err != nil {
		t.Fatalf("CustomerDue failed: %v", err)
	}
	if !balance.PrincipalRemaining.Equal(dec("1700")) || !balance.FinesOutstanding.Equal(dec("25")) {
		t.Errorf("Unexpected balance %+v", balance)
	}

	stats, err := l.PortfolioStats()
	if err != nil {
		t.Fatalf("PortfolioStats failed: %v", err)
	}
	if stats.OverdueInstallments != 1 || stats.PendingInstallments != 1 {
		t.Errorf("Unexpected installment stats %+v", stats)
	}
	if !stats.GeneratedAt.Equal(testNow) {
		t.Errorf("Expected stats generated at %v, got %v", testNow, stats.GeneratedAt)
	}

	fined, _ := l.FinedInstallments()
	if len(fined) != 1 {
		t.Errorf("Expected 1 fined installment, got %d", len(fined))
	}
	upcoming, _ := l.UpcomingInstallments(30)
	if len(upcoming) != 1 || upcoming[0].DueDate.String() != "2024-04-10" {
		t.Errorf("Expected the April installment to be upcoming, got %d", len(upcoming))
	}

	if _, err := l.CustomerDue(uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
