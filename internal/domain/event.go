package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NotificationKind enumerates the correspondence sent after enrollment.
type NotificationKind string

const (
	NotifyCourseDetails NotificationKind = "course_details"
	NotifySchedule      NotificationKind = "schedule"
	NotifyInvoice       NotificationKind = "invoice"
)

// EventType names the message published for downstream mailers.
type EventType string

const EventEnrollmentConfirmed EventType = "learnly.enrollment.confirmed"

// Notification is the message body published per correspondence kind.
type Notification struct {
	EventID       uuid.UUID        `json:"eventId"`
	EventType     EventType        `json:"eventType"`
	Kind          NotificationKind `json:"kind"`
	PaymentID     uuid.UUID        `json:"paymentId"`
	StudentID     uuid.UUID        `json:"studentId"`
	CourseID      uuid.UUID        `json:"courseId"`
	EnrollmentID  uuid.UUID        `json:"enrollmentId"`
	InvoiceNumber string           `json:"invoiceNumber"`
	Amount        decimal.Decimal  `json:"amount"`
	Currency      string           `json:"currency"`
	OccurredAt    time.Time        `json:"occurredAt"`
}

// PartitionKey keeps all messages for one student on the same partition.
func (n Notification) PartitionKey() string { return n.StudentID.String() }
