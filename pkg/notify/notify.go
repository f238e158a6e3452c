// Package notify raises "installment due today" notifications.
package notify

import (
	"errors"
	"fmt"
	"time"

	"github.com/duedate/emitracker/pkg/models"
	"github.com/duedate/emitracker/pkg/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Sink delivers newly raised notifications somewhere outside the store (email, chat, ...).
type Sink interface {
	Deliver(notification *models.Notification, installment *models.Installment) error
}

// PollDueNotifications returns the notifications to raise today: one for every unsettled
// installment due today that has no notification for its due date yet and was not
// dismissed today. It does not write anything.
func PollDueNotifications(installments []*models.Installment, notifications []*models.Notification, dismissed map[uuid.UUID]models.Date, today models.Date) []*models.Notification {
	notified := make(map[string]bool, len(notifications))
	for _, n := range notifications {
		notified[notificationKey(n.InstallmentID, n.DueDate)] = true
	}

	raised := []*models.Notification{}
	for _, inst := range installments {
		if inst.IsSettled() || !inst.DueDate.Equal(today) {
			continue
		}
		key := notificationKey(inst.ID, inst.DueDate)
		if notified[key] {
			continue
		}
		if d, ok := dismissed[inst.ID]; ok && d.Equal(today) {
			continue
		}
		notified[key] = true
		raised = append(raised, &models.Notification{
			Message:       fmt.Sprintf("EMI due today for customer ID %s", inst.CustomerID),
			DueDate:       inst.DueDate,
			Type:          models.NotificationTypeEMIDue,
			CustomerID:    inst.CustomerID,
			InstallmentID: inst.ID,
		})
	}
	return raised
}

func notificationKey(installmentID uuid.UUID, due models.Date) string {
	return installmentID.String() + "|" + due.String()
}

// Notifier runs PollDueNotifications against the store and persists the result.
type Notifier struct {
	storage store.Storage
	log     logrus.FieldLogger
	sink    Sink
	now     func() time.Time
}

func NewNotifier(s store.Storage, log logrus.FieldLogger, sink Sink) *Notifier {
	return &Notifier{storage: s, log: log, sink: sink, now: time.Now}
}

// SetClock replaces the wall clock used to decide "today".
func (n *Notifier) SetClock(now func() time.Time) {
	n.now = now
}

// Poll raises today's due notifications and returns the ones it created.
// Delivery failures are logged; the notification stays stored either way.
func (n *Notifier) Poll() ([]*models.Notification, error) {
	installments, err := n.storage.GetAllInstallments()
	if err != nil {
		return nil, err
	}
	existing, err := n.storage.GetAllNotifications()
	if err != nil {
		return nil, err
	}
	dismissed, err := n.storage.GetDismissals()
	if err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]*models.Installment, len(installments))
	for _, inst := range installments {
		byID[inst.ID] = inst
	}

	today := models.DateOf(n.now())
	raised := PollDueNotifications(installments, existing, dismissed, today)
	for _, notification := range raised {
		if err := n.storage.CreateNotification(notification); err != nil {
			return nil, fmt.Errorf("failed to store notification: %w", err)
		}
		logger := n.log.WithFields(logrus.Fields{
			"notification_id": notification.ID,
			"installment_id":  notification.InstallmentID,
			"customer_id":     notification.CustomerID,
		})
		logger.Info("Due notification raised")

		if n.sink == nil {
			continue
		}
		if err := n.sink.Deliver(notification, byID[notification.InstallmentID]); err != nil {
			logger.WithError(err).Error("Failed to deliver due notification")
		}
	}
	return raised, nil
}

// List returns every stored notification.
func (n *Notifier) List() ([]*models.Notification, error) {
	return n.storage.GetAllNotifications()
}

// Delete removes a notification without dismissing its installment, so a later poll
// on the same day raises it again while the installment is still due.
func (n *Notifier) Delete(notificationID uuid.UUID) error {
	if err := n.storage.DeleteNotification(notificationID); err != nil {
		return err
	}
	n.log.WithField("notification_id", notificationID).Info("Notification deleted")
	return nil
}

// Acknowledge handles a user acting on a notification: the installment is marked
// dismissed for today and the notification is deleted.
func (n *Notifier) Acknowledge(notificationID uuid.UUID) (*models.Notification, error) {
	notifications, err := n.storage.GetAllNotifications()
	if err != nil {
		return nil, err
	}
	var target *models.Notification
	for _, candidate := range notifications {
		if candidate.ID == notificationID {
			target = candidate
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("notification %s: %w", notificationID, store.ErrNotFound)
	}

	target.Read = true
	if err := n.storage.UpdateNotification(target); err != nil {
		return nil, err
	}
	if target.InstallmentID != uuid.Nil {
		if err := n.storage.SetDismissal(target.InstallmentID, models.DateOf(n.now())); err != nil {
			return nil, err
		}
	}
	if err := n.storage.DeleteNotification(target.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return target, nil
}
