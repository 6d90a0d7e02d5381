// internal/domain/notification.go
package domain

import "time"

// NotificationKind distinguishes user notices from operator alerts.
type NotificationKind string

const (
	NotificationSettled       NotificationKind = "settlement.completed"
	NotificationProcessing    NotificationKind = "settlement.processing"
	NotificationBillCompleted NotificationKind = "bill.completed"
	NotificationBillRefunded  NotificationKind = "bill.refunded"
	AlertRetryExhausted       NotificationKind = "alert.retry_exhausted"
	AlertRefundFailed         NotificationKind = "alert.refund_failed"
)

// Notification is a fire-and-forget message. UserID is zero for operator alerts.
type Notification struct {
	Kind      NotificationKind  `json:"kind"`
	UserID    int64             `json:"user_id,omitempty"`
	Reference string            `json:"reference"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
