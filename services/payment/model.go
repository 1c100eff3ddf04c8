package payment

import "time"

type TransactionStatus string

const (
	StatusOpen      TransactionStatus = "OPEN"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusDeleted   TransactionStatus = "DELETED"
)

// DraftTransaction is one staged sale. It completes exactly once, at which
// point exactly one ledger effect (accrual xor redemption) is committed.
type DraftTransaction struct {
	ID             string            `gorm:"column:id;primaryKey;type:char(26)"`
	Code           string            `gorm:"column:code;index"`
	ClientID       string            `gorm:"column:client_id;index;not null"`
	Status         TransactionStatus `gorm:"column:status;type:varchar(10);index;not null;default:'OPEN'"`
	OriginalAmount int64             `gorm:"column:original_amount"`
	BonusUsed      int64             `gorm:"column:bonus_used"`
	AccruedBonus   int64             `gorm:"column:accrued_bonus"`
	ProgramID      string            `gorm:"column:program_id"`
	PaymentMethod  string            `gorm:"column:payment_method;type:varchar(30)"`
	CompletedAt    *time.Time        `gorm:"column:completed_at"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (DraftTransaction) TableName() string { return "draft_transactions" }
