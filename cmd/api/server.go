package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/duedate/emitracker/pkg/ledger"
	"github.com/duedate/emitracker/pkg/models"
	"github.com/duedate/emitracker/pkg/notify"
	"github.com/duedate/emitracker/pkg/store"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Server holds the ledger and notifier behind the HTTP API.
type Server struct {
	ledger       *ledger.Ledger
	notifier     *notify.Notifier
	storage      store.Storage // Keep a reference to the storage to close it
	log          logrus.FieldLogger
	validate     *validator.Validate
	upcomingDays int

	statsMu sync.RWMutex
	stats   *ledger.PortfolioStats
}

func NewServer(s store.Storage, l *ledger.Ledger, n *notify.Notifier, log logrus.FieldLogger, upcomingDays int) *Server {
	return &Server{
		ledger:       l,
		notifier:     n,
		storage:      s,
		log:          log,
		validate:     newValidator(),
		upcomingDays: upcomingDays,
	}
}

// newValidator teaches the validator to compare decimals as numbers and dates as strings.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(models.Date); ok {
			return d.String()
		}
		return nil
	}, models.Date{})
	return v
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.requestLogger)

	router.HandleFunc("/customers", s.listCustomersHandler).Methods("GET")
	router.HandleFunc("/customers", s.createCustomerHandler).Methods("POST")
	router.HandleFunc("/customers/{id}", s.getCustomerHandler).Methods("GET")
	router.HandleFunc("/customers/{id}", s.updateCustomerHandler).Methods("PUT")
	router.HandleFunc("/customers/{id}", s.deleteCustomerHandler).Methods("DELETE")
	router.HandleFunc("/customers/{id}/installments", s.customerInstallmentsHandler).Methods("GET")
	router.HandleFunc("/customers/{id}/balance", s.customerBalanceHandler).Methods("GET")

	router.HandleFunc("/installments", s.listInstallmentsHandler).Methods("GET")
	router.HandleFunc("/installments/{id}", s.getInstallmentHandler).Methods("GET")
	router.HandleFunc("/installments/{id}/payments", s.applyPaymentHandler).Methods("POST")
	router.HandleFunc("/installments/{id}/full-payment", s.markFullyPaidHandler).Methods("POST")
	router.HandleFunc("/installments/{id}/undo", s.undoSettlementHandler).Methods("POST")
	router.HandleFunc("/installments/{id}/double-fine", s.doubleFineHandler).Methods("POST")

	router.HandleFunc("/notifications", s.listNotificationsHandler).Methods("GET")
	router.HandleFunc("/notifications/{id}/ack", s.ackNotificationHandler).Methods("POST")
	router.HandleFunc("/notifications/{id}", s.deleteNotificationHandler).Methods("DELETE")

	router.HandleFunc("/stats", s.statsHandler).Methods("GET")
	router.HandleFunc("/data", s.resetHandler).Methods("DELETE")
	return router
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithFields(logrus.Fields{
			"method":  r.Method,
			"path":    r.URL.Path,
			"latency": time.Since(start).String(),
		}).Debug("Request handled")
	})
}

// pollNotifications is the scheduled due-notification job.
func (s *Server) pollNotifications() {
	raised, err := s.notifier.Poll()
	if err != nil {
		s.log.WithError(err).Error("Due notification poll failed")
		return
	}
	if len(raised) > 0 {
		s.log.WithField("raised", len(raised)).Info("Due notification poll complete")
	}
}

// refreshStats is the scheduled dashboard stats job.
func (s *Server) refreshStats() {
	stats, err := s.ledger.PortfolioStats()
	if err != nil {
		s.log.WithError(err).Error("Stats refresh failed")
		return
	}
	s.statsMu.Lock()
	s.stats = &stats
	s.statsMu.Unlock()
}

func (s *Server) cachedStats() *ledger.PortfolioStats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.stats
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps ledger and store errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr *ledger.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": verr.Error(), "field": verr.Field})
	case errors.Is(err, ledger.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	default:
		s.log.WithError(err).Error("Request failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// decodeAndValidate reads a JSON body into dst and runs the struct validator.
// It writes the 400 response itself and returns false on failure.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "validation failed", "fields": fields})
		return false
	}
	return true
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}
