package main

import (
	"net/http"

	"github.com/duedate/emitracker/pkg/ledger"
	"github.com/duedate/emitracker/pkg/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type customerRequest struct {
	Name                 string                `json:"name" validate:"required"`
	PrimaryContact       string                `json:"primary_contact"`
	AlternateContact     string                `json:"alternate_contact"`
	PrimaryMobileModel   string                `json:"primary_mobile_model"`
	PrimaryMobileIMEI    string                `json:"primary_mobile_imei"`
	SecondaryMobileModel string                `json:"secondary_mobile_model"`
	SecondaryMobileIMEI  string                `json:"secondary_mobile_imei"`
	AccountNumber        string                `json:"account_number"`
	IFSCCode             string                `json:"ifsc_code"`
	OriginalDevicePrice  decimal.Decimal       `json:"original_device_price" validate:"gte=0"`
	Downpayment          decimal.Decimal       `json:"downpayment" validate:"gte=0"`
	LoanAmount           decimal.Decimal       `json:"loan_amount" validate:"gte=0"`
	EMITenure            int                   `json:"emi_tenure" validate:"min=1"`
	StartDate            models.Date           `json:"start_date" validate:"required"`
	Status               models.CustomerStatus `json:"status" validate:"omitempty,oneof=Active Inactive Completed Overdue"`
}

func (req *customerRequest) toCustomer() *models.Customer {
	return &models.Customer{
		Name:                 req.Name,
		PrimaryContact:       req.PrimaryContact,
		AlternateContact:     req.AlternateContact,
		PrimaryMobileModel:   req.PrimaryMobileModel,
		PrimaryMobileIMEI:    req.PrimaryMobileIMEI,
		SecondaryMobileModel: req.SecondaryMobileModel,
		SecondaryMobileIMEI:  req.SecondaryMobileIMEI,
		AccountNumber:        req.AccountNumber,
		IFSCCode:             req.IFSCCode,
		OriginalDevicePrice:  req.OriginalDevicePrice,
		Downpayment:          req.Downpayment,
		LoanAmount:           req.LoanAmount,
		EMITenure:            req.EMITenure,
		StartDate:            req.StartDate,
		Status:               req.Status,
	}
}

type paymentRequest struct {
	Payment     decimal.Decimal `json:"payment" validate:"gte=0"`
	FlatFine    decimal.Decimal `json:"flat_fine" validate:"gte=0"`
	FinePercent decimal.Decimal `json:"fine_percent" validate:"gte=0,lte=100"`
}

// installmentView adds the derived settlement state to an installment.
type installmentView struct {
	*models.Installment
	Due     decimal.Decimal `json:"due"`
	Settled bool            `json:"settled"`
}

func viewOf(inst *models.Installment) installmentView {
	return installmentView{Installment: inst, Due: ledger.InstallmentDue(inst), Settled: ledger.IsSettled(inst)}
}

func viewsOf(insts []*models.Installment) []installmentView {
	views := make([]installmentView, 0, len(insts))
	for _, inst := range insts {
		views = append(views, viewOf(inst))
	}
	return views
}

func (s *Server) createCustomerHandler(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	customer, err := s.ledger.CreateCustomer(req.toCustomer())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, customer)
}

func (s *Server) listCustomersHandler(w http.ResponseWriter, r *http.Request) {
	customers, err := s.ledger.SearchCustomers(r.URL.Query().Get("q"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, customers)
}

func (s *Server) getCustomerHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	customer, err := s.ledger.GetCustomer(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

func (s *Server) updateCustomerHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req customerRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	customer := req.toCustomer()
	customer.ID = id // Ensure ID from URL is used

	updated, err := s.ledger.UpdateCustomer(customer)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteCustomerHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := s.ledger.DeleteCustomer(id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) customerInstallmentsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	installments, err := s.ledger.SyncSchedule(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewsOf(installments))
}

func (s *Server) customerBalanceHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	balance, err := s.ledger.CustomerDue(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (s *Server) listInstallmentsHandler(w http.ResponseWriter, r *http.Request) {
	var (
		installments []*models.Installment
		err          error
	)
	switch filter := r.URL.Query().Get("filter"); filter {
	case "":
		installments, err = s.ledger.GetAllInstallments()
	case "upcoming":
		installments, err = s.ledger.UpcomingInstallments(s.upcomingDays)
	case "fined":
		installments, err = s.ledger.FinedInstallments()
	default:
		http.Error(w, "Unknown filter "+filter, http.StatusBadRequest)
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewsOf(installments))
}

func (s *Server) getInstallmentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	inst, err := s.ledger.GetInstallment(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(inst))
}

func (s *Server) applyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req paymentRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	inst, err := s.ledger.ApplyPayment(id, ledger.PaymentRequest{
		Payment:     req.Payment,
		FlatFine:    req.FlatFine,
		FinePercent: req.FinePercent,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(inst))
}

// installmentAction adapts a single-installment ledger operation to a POST handler.
func (s *Server) installmentAction(action func(id uuid.UUID) (*models.Installment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r)
		if !ok {
			return
		}

		inst, err := action(id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(inst))
	}
}

func (s *Server) markFullyPaidHandler(w http.ResponseWriter, r *http.Request) {
	s.installmentAction(s.ledger.MarkFullyPaid)(w, r)
}

func (s *Server) undoSettlementHandler(w http.ResponseWriter, r *http.Request) {
	s.installmentAction(s.ledger.UndoSettlement)(w, r)
}

func (s *Server) doubleFineHandler(w http.ResponseWriter, r *http.Request) {
	s.installmentAction(s.ledger.DoubleFine)(w, r)
}

func (s *Server) listNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	notifications, err := s.notifier.List()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notifications)
}

func (s *Server) ackNotificationHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	notification, err := s.notifier.Acknowledge(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notification)
}

func (s *Server) deleteNotificationHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := s.notifier.Delete(id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statsHandler serves the stats cached by the refresh job, computing them on first use.
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if stats := s.cachedStats(); stats != nil {
		writeJSON(w, http.StatusOK, stats)
		return
	}
	s.refreshStats()
	stats := s.cachedStats()
	if stats == nil {
		http.Error(w, "Stats unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) resetHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.Reset(); err != nil {
		s.writeError(w, err)
		return
	}
	s.statsMu.Lock()
	s.stats = nil
	s.statsMu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}
