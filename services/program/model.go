package program

import (
	"fmt"
	"time"
)

type ProgramType string

const (
	TypeWelcome  ProgramType = "WELCOME"
	TypeBirthday ProgramType = "BIRTHDAY"
	TypeReferral ProgramType = "REFERRAL"
	TypeCashback ProgramType = "CASHBACK"
)

func (t ProgramType) Valid() bool {
	switch t {
	case TypeWelcome, TypeBirthday, TypeReferral, TypeCashback:
		return true
	default:
		return false
	}
}

type ProgramStatus string

const (
	StatusDraft     ProgramStatus = "DRAFT"
	StatusScheduled ProgramStatus = "SCHEDULED"
	StatusActive    ProgramStatus = "ACTIVE"
	StatusInactive  ProgramStatus = "INACTIVE"
	StatusArchived  ProgramStatus = "ARCHIVED"
)

type CashbackKind string

const (
	CashbackPercentage  CashbackKind = "PERCENTAGE"
	CashbackBonusPoints CashbackKind = "BONUS_POINTS"
)

type GrantKind string

const (
	GrantPoints     GrantKind = "POINTS"
	GrantFixedMoney GrantKind = "FIXED_MONEY"
)

type GrantTrigger string

const (
	TriggerOnJoin     GrantTrigger = "ON_JOIN"
	TriggerOnFirstPay GrantTrigger = "ON_FIRST_PAY"
	TriggerOnBirthday GrantTrigger = "ON_BIRTHDAY"
)

type FirstPayMode string

const (
	FirstPayWelcomeOnly        FirstPayMode = "WELCOME_ONLY"
	FirstPayWelcomeAndCashback FirstPayMode = "WELCOME_AND_CASHBACK"
)

// EligibilityAll is the only eligibility kind the evaluator enforces.
// Item/category scoping is declared in the data model but intentionally a
// pass-through.
const EligibilityAll = "ALL"

// RewardProgram is the aggregate root for one loyalty program. Status and
// window fields are mutated only through the lifecycle service.
type RewardProgram struct {
	ID          string        `gorm:"column:id;primaryKey;type:char(26)"`
	Code        string        `gorm:"column:code;index"`
	Type        ProgramType   `gorm:"column:type;type:varchar(20);index;not null"`
	Status      ProgramStatus `gorm:"column:status;type:varchar(20);index;not null;default:'DRAFT'"`
	Name        string        `gorm:"column:name;type:varchar(255)"`
	Description string        `gorm:"column:description;type:text"`
	StartDate   *time.Time    `gorm:"column:start_date;index"`
	EndDate     *time.Time    `gorm:"column:end_date"`

	CashbackRule  *CashbackRule         `gorm:"foreignKey:ProgramID"`
	WelcomeRule   *WelcomeRule          `gorm:"foreignKey:ProgramID"`
	CashbackTiers []CashbackTier        `gorm:"foreignKey:ProgramID"`
	Schedule      []WeeklyScheduleEntry `gorm:"foreignKey:ProgramID"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (RewardProgram) TableName() string { return "reward_programs" }

// AlwaysOn reports whether the program has no end date and therefore runs
// until explicitly deactivated.
func (p *RewardProgram) AlwaysOn() bool {
	return p.EndDate == nil
}

// WindowContains reports whether the program's window covers the instant.
// A missing start date (draft) never contains anything.
func (p *RewardProgram) WindowContains(at time.Time) bool {
	if p.StartDate == nil || at.Before(*p.StartDate) {
		return false
	}
	if p.EndDate != nil && at.After(*p.EndDate) {
		return false
	}
	return true
}

// CashbackRule configures how a CASHBACK program earns. Value is the base
// rate: percent for PERCENTAGE, points per threshold for BONUS_POINTS.
type CashbackRule struct {
	ID                   string       `gorm:"column:id;primaryKey;type:char(26)"`
	ProgramID            string       `gorm:"column:program_id;uniqueIndex;not null"`
	Kind                 CashbackKind `gorm:"column:kind;type:varchar(20);not null"`
	Value                int64        `gorm:"column:value;not null"`
	MinSpendAmount       int64        `gorm:"column:min_spend_amount"`
	EligibilityKind      string       `gorm:"column:eligibility_kind;type:varchar(20);default:'ALL'"`
	RedeemLimitPercent   int          `gorm:"column:redeem_limit_percent;default:100"`
	BonusLifespanDays    *int         `gorm:"column:bonus_lifespan_days"`
	PointsSpendThreshold *int64       `gorm:"column:points_spend_threshold"`
}

func (CashbackRule) TableName() string { return "cashback_rules" }

// CashbackTier adds ExtraRate on top of the base rate once a client's
// cumulative period spend falls inside [MinAmount, MaxAmount). A nil
// MaxAmount makes the tier unbounded at the top.
type CashbackTier struct {
	ID        string `gorm:"column:id;primaryKey;type:char(26)"`
	ProgramID string `gorm:"column:program_id;index;not null"`
	Name      string `gorm:"column:name;type:varchar(100)"`
	MinAmount int64  `gorm:"column:min_amount;not null"`
	MaxAmount *int64 `gorm:"column:max_amount"`
	ExtraRate int64  `gorm:"column:extra_rate;not null"`
	SortOrder int    `gorm:"column:sort_order"`
}

func (CashbackTier) TableName() string { return "cashback_tiers" }

// Contains reports whether the cumulative spend falls inside the tier range.
func (t *CashbackTier) Contains(spend int64) bool {
	if spend < t.MinAmount {
		return false
	}
	if t.MaxAmount != nil && spend >= *t.MaxAmount {
		return false
	}
	return true
}

// WeeklyScheduleEntry gates a program to hours of one weekday. Times are
// "HH:MM" wall-clock strings in the merchant's timezone.
type WeeklyScheduleEntry struct {
	ID        string  `gorm:"column:id;primaryKey;type:char(26)"`
	ProgramID string  `gorm:"column:program_id;index;not null"`
	Weekday   int     `gorm:"column:weekday;not null"`
	Enabled   bool    `gorm:"column:enabled;default:false"`
	StartTime *string `gorm:"column:start_time;type:varchar(5)"`
	EndTime   *string `gorm:"column:end_time;type:varchar(5)"`
}

func (WeeklyScheduleEntry) TableName() string { return "weekly_schedule_entries" }

// ScheduleAllows applies the weekly-schedule gate: with no enabled entries
// the program is always within hours, otherwise the instant must fall in an
// enabled window of its weekday.
func ScheduleAllows(entries []WeeklyScheduleEntry, at time.Time) bool {
	anyEnabled := false
	minute := at.Hour()*60 + at.Minute()
	for _, e := range entries {
		if !e.Enabled {
			continue
		}
		anyEnabled = true
		if e.Weekday != int(at.Weekday()) {
			continue
		}
		start, err := parseMinutes(e.StartTime)
		if err != nil {
			continue
		}
		end, err := parseMinutes(e.EndTime)
		if err != nil {
			continue
		}
		if minute >= start && minute < end {
			return true
		}
	}
	return !anyEnabled
}

func parseMinutes(s *string) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("time not set")
	}
	var h, m int
	if _, err := fmt.Sscanf(*s, "%d:%d", &h, &m); err != nil {
		return 0, err
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("time out of range: %s", *s)
	}
	return h*60 + m, nil
}

// WelcomeRule configures the one-shot grant of a WELCOME or BIRTHDAY
// program.
type WelcomeRule struct {
	ID                string        `gorm:"column:id;primaryKey;type:char(26)"`
	ProgramID         string        `gorm:"column:program_id;uniqueIndex;not null"`
	GrantKind         GrantKind     `gorm:"column:grant_kind;type:varchar(20);not null"`
	GrantValue        int64         `gorm:"column:grant_value;not null"`
	GrantTrigger      GrantTrigger  `gorm:"column:grant_trigger;type:varchar(20);not null"`
	FirstPayMode      *FirstPayMode `gorm:"column:first_pay_mode;type:varchar(30)"`
	BonusLifespanDays *int          `gorm:"column:bonus_lifespan_days"`
}

func (WelcomeRule) TableName() string { return "welcome_rules" }
