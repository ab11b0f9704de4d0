package models

import (
	"time"

	"github.com/google/uuid"
)

// Order records a settled provider invoice. provider_invoice_id is unique so
// duplicate invoice.paid deliveries cannot double-record a payment.
type Order struct {
	ID                uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	BoxID             uuid.UUID  `gorm:"column:box_id;type:uuid;not null;index"`
	SubscriptionID    *uuid.UUID `gorm:"column:subscription_id;type:uuid"`
	ProviderInvoiceID string     `gorm:"column:provider_invoice_id;not null;unique"`
	AmountCents       int64      `gorm:"column:amount_cents;not null"`
	CurrencyCode      string     `gorm:"column:currency_code;not null;default:'usd'"`
	PaidAt            *time.Time `gorm:"column:paid_at"`
	CreatedAt         time.Time  `gorm:"column:created_at;autoCreateTime"`
}
