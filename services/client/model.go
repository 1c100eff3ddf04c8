package client

import "time"

// Client is one end customer of the merchant. FirstPaidAt is set by the
// payment service when the first transaction completes.
type Client struct {
	ID          string     `gorm:"column:id;primaryKey;type:char(26)"`
	Name        string     `gorm:"column:name;type:varchar(255);not null"`
	Phone       string     `gorm:"column:phone;type:varchar(32);index"`
	BirthDate   *time.Time `gorm:"column:birth_date"`
	JoinedAt    time.Time  `gorm:"column:joined_at;not null"`
	FirstPaidAt *time.Time `gorm:"column:first_paid_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Client) TableName() string { return "clients" }
