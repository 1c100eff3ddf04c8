package httpapi

import (
	"time"

	"loyaltyplane/services/client"
	"loyaltyplane/services/ledger"
	"loyaltyplane/services/payment"
	"loyaltyplane/services/program"
)

type createDraftRequest struct {
	Type        string `json:"type" binding:"required"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type cashbackRuleDTO struct {
	Kind                 string `json:"kind"`
	Value                int64  `json:"value"`
	MinSpendAmount       int64  `json:"min_spend_amount"`
	EligibilityKind      string `json:"eligibility_kind"`
	RedeemLimitPercent   int    `json:"redeem_limit_percent"`
	BonusLifespanDays    *int   `json:"bonus_lifespan_days,omitempty"`
	PointsSpendThreshold *int64 `json:"points_spend_threshold,omitempty"`
}

type tierDTO struct {
	Name      string `json:"name"`
	MinAmount int64  `json:"min_amount"`
	MaxAmount *int64 `json:"max_amount,omitempty"`
	ExtraRate int64  `json:"extra_rate"`
}

type scheduleEntryDTO struct {
	Weekday   int     `json:"weekday"`
	Enabled   bool    `json:"enabled"`
	StartTime *string `json:"start_time,omitempty"`
	EndTime   *string `json:"end_time,omitempty"`
}

type updateCashbackRequest struct {
	Rule     cashbackRuleDTO    `json:"rule" binding:"required"`
	Tiers    []tierDTO          `json:"tiers"`
	Schedule []scheduleEntryDTO `json:"schedule"`
}

type welcomeRuleDTO struct {
	GrantKind         string  `json:"grant_kind"`
	GrantValue        int64   `json:"grant_value"`
	GrantTrigger      string  `json:"grant_trigger"`
	FirstPayMode      *string `json:"first_pay_mode,omitempty"`
	BonusLifespanDays *int    `json:"bonus_lifespan_days,omitempty"`
}

type updateWelcomeRequest struct {
	Rule welcomeRuleDTO `json:"rule" binding:"required"`
}

type launchRequest struct {
	Immediate bool       `json:"immediate"`
	StartDate *time.Time `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`
}

type programResponse struct {
	ID          string             `json:"id"`
	Code        string             `json:"code,omitempty"`
	Type        string             `json:"type"`
	Status      string             `json:"status"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	StartDate   *time.Time         `json:"start_date,omitempty"`
	EndDate     *time.Time         `json:"end_date,omitempty"`
	Rule        *cashbackRuleDTO   `json:"cashback_rule,omitempty"`
	WelcomeRule *welcomeRuleDTO    `json:"welcome_rule,omitempty"`
	Tiers       []tierDTO          `json:"tiers,omitempty"`
	Schedule    []scheduleEntryDTO `json:"schedule,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

func toProgramResponse(p *program.RewardProgram) programResponse {
	resp := programResponse{
		ID:          p.ID,
		Code:        p.Code,
		Type:        string(p.Type),
		Status:      string(p.Status),
		Name:        p.Name,
		Description: p.Description,
		StartDate:   p.StartDate,
		EndDate:     p.EndDate,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if p.CashbackRule != nil {
		resp.Rule = &cashbackRuleDTO{
			Kind:                 string(p.CashbackRule.Kind),
			Value:                p.CashbackRule.Value,
			MinSpendAmount:       p.CashbackRule.MinSpendAmount,
			EligibilityKind:      p.CashbackRule.EligibilityKind,
			RedeemLimitPercent:   p.CashbackRule.RedeemLimitPercent,
			BonusLifespanDays:    p.CashbackRule.BonusLifespanDays,
			PointsSpendThreshold: p.CashbackRule.PointsSpendThreshold,
		}
	}
	if p.WelcomeRule != nil {
		var mode *string
		if p.WelcomeRule.FirstPayMode != nil {
			m := string(*p.WelcomeRule.FirstPayMode)
			mode = &m
		}
		resp.WelcomeRule = &welcomeRuleDTO{
			GrantKind:         string(p.WelcomeRule.GrantKind),
			GrantValue:        p.WelcomeRule.GrantValue,
			GrantTrigger:      string(p.WelcomeRule.GrantTrigger),
			FirstPayMode:      mode,
			BonusLifespanDays: p.WelcomeRule.BonusLifespanDays,
		}
	}
	for _, t := range p.CashbackTiers {
		resp.Tiers = append(resp.Tiers, tierDTO{
			Name:      t.Name,
			MinAmount: t.MinAmount,
			MaxAmount: t.MaxAmount,
			ExtraRate: t.ExtraRate,
		})
	}
	for _, e := range p.Schedule {
		resp.Schedule = append(resp.Schedule, scheduleEntryDTO{
			Weekday:   e.Weekday,
			Enabled:   e.Enabled,
			StartTime: e.StartTime,
			EndTime:   e.EndTime,
		})
	}
	return resp
}

type registerClientRequest struct {
	Name      string     `json:"name" binding:"required"`
	Phone     string     `json:"phone"`
	BirthDate *time.Time `json:"birth_date"`
}

type clientResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Phone       string     `json:"phone,omitempty"`
	BirthDate   *time.Time `json:"birth_date,omitempty"`
	JoinedAt    time.Time  `json:"joined_at"`
	FirstPaidAt *time.Time `json:"first_paid_at,omitempty"`
}

func toClientResponse(c *client.Client) clientResponse {
	return clientResponse{
		ID:          c.ID,
		Name:        c.Name,
		Phone:       c.Phone,
		BirthDate:   c.BirthDate,
		JoinedAt:    c.JoinedAt,
		FirstPaidAt: c.FirstPaidAt,
	}
}

type cashbackContextResponse struct {
	Applies            bool     `json:"applies"`
	ProgramID          string   `json:"program_id,omitempty"`
	ProgramName        string   `json:"program_name,omitempty"`
	EffectiveRate      int64    `json:"effective_rate"`
	Tier               *tierDTO `json:"tier,omitempty"`
	MinSpendAmount     int64    `json:"min_spend_amount"`
	RedeemLimitPercent int      `json:"redeem_limit_percent"`
	BonusLifespanDays  *int     `json:"bonus_lifespan_days,omitempty"`
}

type balanceResponse struct {
	ClientID   string    `json:"client_id"`
	Redeemable int64     `json:"redeemable"`
	Total      int64     `json:"total"`
	At         time.Time `json:"at"`
}

type ledgerEntryResponse struct {
	ID            string     `json:"id"`
	Type          string     `json:"type"`
	Kind          string     `json:"kind"`
	Amount        int64      `json:"amount"`
	TransactionID string     `json:"transaction_id"`
	ReferenceID   string     `json:"reference_id"`
	Description   string     `json:"description,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toLedgerEntryResponse(e *ledger.LedgerEntry) ledgerEntryResponse {
	return ledgerEntryResponse{
		ID:            e.ID,
		Type:          string(e.Type),
		Kind:          string(e.Kind),
		Amount:        e.Amount,
		TransactionID: e.TransactionID,
		ReferenceID:   e.ReferenceID,
		Description:   e.Description,
		ExpiresAt:     e.ExpiresAt,
		CreatedAt:     e.CreatedAt,
	}
}

type draftPaymentRequest struct {
	ClientID string `json:"client_id" binding:"required"`
}

type completePaymentRequest struct {
	OriginalAmount int64  `json:"original_amount" binding:"required"`
	BonusUsed      int64  `json:"bonus_amount_used"`
	PaymentMethod  string `json:"payment_method"`
}

type paymentResponse struct {
	TxID           string     `json:"tx_id"`
	Code           string     `json:"code,omitempty"`
	ClientID       string     `json:"client_id"`
	Status         string     `json:"status"`
	OriginalAmount int64      `json:"original_amount"`
	BonusUsed      int64      `json:"bonus_used"`
	AccruedBonus   int64      `json:"accrued_bonus"`
	ProgramID      string     `json:"program_id,omitempty"`
	PaymentMethod  string     `json:"payment_method,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toPaymentResponse(t *payment.DraftTransaction) paymentResponse {
	return paymentResponse{
		TxID:           t.ID,
		Code:           t.Code,
		ClientID:       t.ClientID,
		Status:         string(t.Status),
		OriginalAmount: t.OriginalAmount,
		BonusUsed:      t.BonusUsed,
		AccruedBonus:   t.AccruedBonus,
		ProgramID:      t.ProgramID,
		PaymentMethod:  t.PaymentMethod,
		CompletedAt:    t.CompletedAt,
		CreatedAt:      t.CreatedAt,
	}
}
