// Package storage persists the append-only log of received webhook
// deliveries. Every notification, parent or child, gets one immutable row
// keyed by a fresh delivery id, so duplicate deliveries of the same logical
// payment never collide.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/shopcore/shopcore-payments/internal/domain"
)

// MobbexTransaction is one stored webhook delivery.
type MobbexTransaction struct {
	ID            string          `gorm:"type:char(36);primaryKey"`
	OrderID       string          `gorm:"type:varchar(64);not null;index"`
	PaymentID     string          `gorm:"type:varchar(128);not null;index"`
	StatusCode    int             `gorm:"not null"`
	StatusMessage string          `gorm:"type:varchar(255)"`
	Total         decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	Parent        bool            `gorm:"not null"`
	EntityUID     string          `gorm:"type:varchar(128)"`

	SourceType        string          `gorm:"type:varchar(32)"`
	SourceName        string          `gorm:"type:varchar(128)"`
	SourceNumber      string          `gorm:"type:varchar(64)"`
	InstallmentName   string          `gorm:"type:varchar(128)"`
	InstallmentCount  int
	InstallmentAmount decimal.Decimal `gorm:"type:decimal(14,2)"`

	RiskAnalysis float64
	Payload      datatypes.JSON `gorm:"type:json"`
	ReceivedAt   time.Time      `gorm:"type:datetime(3);not null"`
}

func (MobbexTransaction) TableName() string { return "mobbex_transactions" }

// TransactionLog implements domain.TransactionStore on a relational table.
// It only ever inserts: there is no update or delete path.
type TransactionLog struct {
	db *gorm.DB
}

// NewTransactionLog creates the log over an open GORM connection.
func NewTransactionLog(db *gorm.DB) *TransactionLog {
	return &TransactionLog{db: db}
}

// AutoMigrate creates the transactions table if missing.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&MobbexTransaction{})
}

// Append durably stores the notification and returns the delivery id.
// The write must succeed before the caller proceeds to reconciliation.
func (l *TransactionLog) Append(ctx context.Context, n *domain.Notification) (string, error) {
	row := MobbexTransaction{
		ID:            uuid.NewString(),
		OrderID:       n.OrderID,
		PaymentID:     n.PaymentID,
		StatusCode:    n.StatusCode,
		StatusMessage: n.StatusMessage,
		Total:         n.Total,
		Parent:        n.Parent,
		EntityUID:     n.EntityUID,

		SourceType:        n.Source.Type,
		SourceName:        n.Source.Name,
		SourceNumber:      n.Source.Number,
		InstallmentName:   n.Source.Installment.Description,
		InstallmentCount:  n.Source.Installment.Count,
		InstallmentAmount: n.Source.Installment.Amount,

		RiskAnalysis: n.RiskScore,
		Payload:      datatypes.JSON(n.RawPayload),
		ReceivedAt:   time.Now(),
	}

	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", err
	}
	return row.ID, nil
}
