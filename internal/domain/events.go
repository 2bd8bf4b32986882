package domain

import (
	"time"

	"github.com/google/uuid"
)

// NewEnrollmentNotifications creates one notification per correspondence kind
// for a completed payment.
func NewEnrollmentNotifications(p *Payment, enrollmentID uuid.UUID, at time.Time) []Notification {
	kinds := []NotificationKind{NotifyCourseDetails, NotifySchedule, NotifyInvoice}
	out := make([]Notification, 0, len(kinds))
	for _, kind := range kinds {
		out = append(out, Notification{
			EventID:       uuid.New(),
			EventType:     EventEnrollmentConfirmed,
			Kind:          kind,
			PaymentID:     p.ID,
			StudentID:     p.StudentID,
			CourseID:      p.CourseID,
			EnrollmentID:  enrollmentID,
			InvoiceNumber: p.InvoiceNumber,
			Amount:        p.FinalAmount,
			Currency:      p.Currency,
			OccurredAt:    at,
		})
	}
	return out
}
