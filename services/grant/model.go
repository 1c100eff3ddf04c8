package grant

import "time"

// Award records one grant issued to one client. PeriodKey is empty for
// one-shot grants (join, first pay) and holds the year for birthday
// grants; the composite unique index is what makes re-runs harmless.
type Award struct {
	ID            string    `gorm:"column:id;primaryKey;type:char(26)"`
	ProgramID     string    `gorm:"column:program_id;uniqueIndex:idx_award_once;not null"`
	ClientID      string    `gorm:"column:client_id;uniqueIndex:idx_award_once;not null"`
	PeriodKey     string    `gorm:"column:period_key;uniqueIndex:idx_award_once;type:varchar(10);not null;default:''"`
	LedgerEntryID string    `gorm:"column:ledger_entry_id"`
	Amount        int64     `gorm:"column:amount;not null"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (Award) TableName() string { return "grant_awards" }
