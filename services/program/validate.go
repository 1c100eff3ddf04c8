package program

import (
	"fmt"
	"sort"

	"loyaltyplane/pkg/errutil"
)

// ValidateCashbackSpec checks a cashback rule, its tiers, and its weekly
// schedule before anything is persisted. Tiers are normalised in place:
// sorted by MinAmount ascending with SortOrder rewritten.
func ValidateCashbackSpec(rule *CashbackRule, tiers []CashbackTier, schedule []WeeklyScheduleEntry) error {
	if rule == nil {
		return errutil.ValidationFailed("cashback rule is required", nil)
	}

	var details []errutil.Detail

	switch rule.Kind {
	case CashbackPercentage:
		if rule.Value <= 0 || rule.Value > 100 {
			details = append(details, errutil.Detail{Field: "value", Message: "percentage rate must be in (0, 100]"})
		}
	case CashbackBonusPoints:
		if rule.Value <= 0 {
			details = append(details, errutil.Detail{Field: "value", Message: "points rate must be positive"})
		}
		if rule.PointsSpendThreshold == nil || *rule.PointsSpendThreshold <= 0 {
			details = append(details, errutil.Detail{Field: "points_spend_threshold", Message: "required for BONUS_POINTS"})
		}
	default:
		details = append(details, errutil.Detail{Field: "kind", Message: "unknown cashback kind"})
	}

	if rule.MinSpendAmount < 0 {
		details = append(details, errutil.Detail{Field: "min_spend_amount", Message: "must not be negative"})
	}
	if rule.RedeemLimitPercent < 0 || rule.RedeemLimitPercent > 100 {
		details = append(details, errutil.Detail{Field: "redeem_limit_percent", Message: "must be in [0, 100]"})
	}
	if rule.BonusLifespanDays != nil && *rule.BonusLifespanDays <= 0 {
		details = append(details, errutil.Detail{Field: "bonus_lifespan_days", Message: "must be positive when set"})
	}
	if rule.EligibilityKind != "" && rule.EligibilityKind != EligibilityAll {
		details = append(details, errutil.Detail{Field: "eligibility_kind", Message: "only ALL is supported"})
	}

	details = append(details, validateTiers(tiers)...)
	details = append(details, validateSchedule(schedule)...)

	if len(details) > 0 {
		return errutil.ValidationFailed("invalid cashback configuration", nil, errutil.WithDetails(details...))
	}
	return nil
}

func validateTiers(tiers []CashbackTier) []errutil.Detail {
	var details []errutil.Detail

	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].MinAmount < tiers[j].MinAmount })
	for i := range tiers {
		tiers[i].SortOrder = i
	}

	for i, t := range tiers {
		field := fmt.Sprintf("tiers[%d]", i)
		if t.MinAmount < 0 {
			details = append(details, errutil.Detail{Field: field, Message: "min_amount must not be negative"})
		}
		if t.MaxAmount != nil && *t.MaxAmount <= t.MinAmount {
			details = append(details, errutil.Detail{Field: field, Message: "max_amount must be greater than min_amount"})
		}
		if t.ExtraRate < 0 {
			details = append(details, errutil.Detail{Field: field, Message: "extra_rate must not be negative"})
		}
		if i > 0 {
			prev := tiers[i-1]
			if prev.MaxAmount == nil {
				details = append(details, errutil.Detail{Field: field, Message: "only the last tier may be unbounded"})
			} else if t.MinAmount < *prev.MaxAmount {
				details = append(details, errutil.Detail{Field: field, Message: "tier ranges must not overlap"})
			}
		}
	}

	return details
}

func validateSchedule(schedule []WeeklyScheduleEntry) []errutil.Detail {
	var details []errutil.Detail

	seen := map[int]bool{}
	for i, e := range schedule {
		field := fmt.Sprintf("schedule[%d]", i)
		if e.Weekday < 0 || e.Weekday > 6 {
			details = append(details, errutil.Detail{Field: field, Message: "weekday must be in [0, 6]"})
			continue
		}
		if seen[e.Weekday] {
			details = append(details, errutil.Detail{Field: field, Message: "duplicate weekday"})
		}
		seen[e.Weekday] = true

		if !e.Enabled {
			continue
		}
		start, serr := parseMinutes(e.StartTime)
		end, eerr := parseMinutes(e.EndTime)
		if serr != nil || eerr != nil {
			details = append(details, errutil.Detail{Field: field, Message: "enabled entries require HH:MM start and end times"})
			continue
		}
		if start >= end {
			details = append(details, errutil.Detail{Field: field, Message: "start_time must be before end_time"})
		}
	}

	return details
}

// ValidateWelcomeRule checks the grant rule of a WELCOME/BIRTHDAY/REFERRAL
// program.
func ValidateWelcomeRule(typ ProgramType, rule *WelcomeRule) error {
	if rule == nil {
		return errutil.ValidationFailed("welcome rule is required", nil)
	}

	var details []errutil.Detail

	switch rule.GrantKind {
	case GrantPoints, GrantFixedMoney:
	default:
		details = append(details, errutil.Detail{Field: "grant_kind", Message: "unknown grant kind"})
	}
	if rule.GrantValue <= 0 {
		details = append(details, errutil.Detail{Field: "grant_value", Message: "must be positive"})
	}

	switch rule.GrantTrigger {
	case TriggerOnJoin, TriggerOnBirthday:
	case TriggerOnFirstPay:
		if rule.FirstPayMode == nil {
			details = append(details, errutil.Detail{Field: "first_pay_mode", Message: "required for ON_FIRST_PAY"})
		} else if *rule.FirstPayMode != FirstPayWelcomeOnly && *rule.FirstPayMode != FirstPayWelcomeAndCashback {
			details = append(details, errutil.Detail{Field: "first_pay_mode", Message: "unknown first pay mode"})
		}
	default:
		details = append(details, errutil.Detail{Field: "grant_trigger", Message: "unknown grant trigger"})
	}

	if typ == TypeBirthday && rule.GrantTrigger != TriggerOnBirthday {
		details = append(details, errutil.Detail{Field: "grant_trigger", Message: "BIRTHDAY programs must use the ON_BIRTHDAY trigger"})
	}
	if rule.BonusLifespanDays != nil && *rule.BonusLifespanDays <= 0 {
		details = append(details, errutil.Detail{Field: "bonus_lifespan_days", Message: "must be positive when set"})
	}

	if len(details) > 0 {
		return errutil.ValidationFailed("invalid welcome configuration", nil, errutil.WithDetails(details...))
	}
	return nil
}
