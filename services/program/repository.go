package program

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// ListParams filters List results.
type ListParams struct {
	Type     ProgramType
	Statuses []ProgramStatus
	Limit    int
}

// Repository describes database operations available for reward programs.
// The aggregate is always loaded with its rule, tiers, and schedule.
type Repository interface {
	WithTrx(tx *gorm.DB) Repository
	Create(ctx context.Context, p *RewardProgram) error
	GetByID(ctx context.Context, id string) (*RewardProgram, error)
	List(ctx context.Context, params ListParams) ([]RewardProgram, error)
	ListByTypeInStatuses(ctx context.Context, typ ProgramType, statuses []ProgramStatus, excludeID string) ([]RewardProgram, error)
	ListActiveByTrigger(ctx context.Context, trigger GrantTrigger) ([]RewardProgram, error)
	UpdateFields(ctx context.Context, id string, fields map[string]any) error
	ReplaceCashbackSpec(ctx context.Context, programID string, rule *CashbackRule, tiers []CashbackTier, schedule []WeeklyScheduleEntry, now time.Time) error
	ReplaceWelcomeRule(ctx context.Context, programID string, rule *WelcomeRule, now time.Time) error
	Delete(ctx context.Context, id string) error
	PromoteDue(ctx context.Context, now time.Time) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository returns a gorm backed Repository implementation.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithTrx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &gormRepository{db: tx}
}

func (r *gormRepository) preloaded(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("CashbackRule").
		Preload("WelcomeRule").
		Preload("CashbackTiers", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC") }).
		Preload("Schedule")
}

func (r *gormRepository) Create(ctx context.Context, p *RewardProgram) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *gormRepository) GetByID(ctx context.Context, id string) (*RewardProgram, error) {
	var p RewardProgram
	err := r.preloaded(ctx).Where("id = ?", id).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) List(ctx context.Context, params ListParams) ([]RewardProgram, error) {
	query := r.preloaded(ctx)
	if params.Type != "" {
		query = query.Where("type = ?", params.Type)
	}
	if len(params.Statuses) > 0 {
		query = query.Where("status IN ?", params.Statuses)
	}
	if params.Limit > 0 {
		query = query.Limit(params.Limit)
	}

	var programs []RewardProgram
	if err := query.Order("created_at DESC").Find(&programs).Error; err != nil {
		return nil, err
	}
	return programs, nil
}

func (r *gormRepository) ListByTypeInStatuses(ctx context.Context, typ ProgramType, statuses []ProgramStatus, excludeID string) ([]RewardProgram, error) {
	query := r.preloaded(ctx).
		Where("type = ?", typ).
		Where("status IN ?", statuses)
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}

	var programs []RewardProgram
	if err := query.Order("start_date ASC").Find(&programs).Error; err != nil {
		return nil, err
	}
	return programs, nil
}

func (r *gormRepository) ListActiveByTrigger(ctx context.Context, trigger GrantTrigger) ([]RewardProgram, error) {
	var programs []RewardProgram
	err := r.preloaded(ctx).
		Joins("JOIN welcome_rules ON welcome_rules.program_id = reward_programs.id").
		Where("reward_programs.status = ?", StatusActive).
		Where("welcome_rules.grant_trigger = ?", trigger).
		Find(&programs).Error
	if err != nil {
		return nil, err
	}
	return programs, nil
}

func (r *gormRepository) UpdateFields(ctx context.Context, id string, fields map[string]any) error {
	res := r.db.WithContext(ctx).
		Model(&RewardProgram{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *gormRepository) ReplaceCashbackSpec(ctx context.Context, programID string, rule *CashbackRule, tiers []CashbackTier, schedule []WeeklyScheduleEntry, now time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("program_id = ?", programID).Delete(&CashbackRule{}).Error; err != nil {
			return err
		}
		if err := tx.Where("program_id = ?", programID).Delete(&CashbackTier{}).Error; err != nil {
			return err
		}
		if err := tx.Where("program_id = ?", programID).Delete(&WeeklyScheduleEntry{}).Error; err != nil {
			return err
		}

		rule.ProgramID = programID
		if err := tx.Create(rule).Error; err != nil {
			return err
		}
		for i := range tiers {
			tiers[i].ProgramID = programID
		}
		if len(tiers) > 0 {
			if err := tx.Create(&tiers).Error; err != nil {
				return err
			}
		}
		for i := range schedule {
			schedule[i].ProgramID = programID
		}
		if len(schedule) > 0 {
			if err := tx.Create(&schedule).Error; err != nil {
				return err
			}
		}

		return tx.Model(&RewardProgram{}).Where("id = ?", programID).UpdateColumn("updated_at", now).Error
	})
}

func (r *gormRepository) ReplaceWelcomeRule(ctx context.Context, programID string, rule *WelcomeRule, now time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("program_id = ?", programID).Delete(&WelcomeRule{}).Error; err != nil {
			return err
		}
		rule.ProgramID = programID
		if err := tx.Create(rule).Error; err != nil {
			return err
		}
		return tx.Model(&RewardProgram{}).Where("id = ?", programID).UpdateColumn("updated_at", now).Error
	})
}

func (r *gormRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, child := range []any{&CashbackRule{}, &CashbackTier{}, &WeeklyScheduleEntry{}, &WelcomeRule{}} {
			if err := tx.Where("program_id = ?", id).Delete(child).Error; err != nil {
				return err
			}
		}
		res := tx.Where("id = ?", id).Delete(&RewardProgram{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// PromoteDue flips SCHEDULED programs whose start time has arrived to
// ACTIVE. The conditional WHERE makes concurrent sweep runs harmless.
func (r *gormRepository) PromoteDue(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&RewardProgram{}).
		Where("status = ?", StatusScheduled).
		Where("start_date <= ?", now).
		Updates(map[string]any{
			"status":     StatusActive,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}
