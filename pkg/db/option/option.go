package option

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption customises a repository query before it runs.
type QueryOption func(*gorm.DB) *gorm.DB

// Operator is a comparison operator usable in ApplyOperator conditions.
type Operator string

const (
	EQ  Operator = "="
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
	NEQ Operator = "<>"
)

// Condition applies an arbitrary comparison on a single column.
type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

func ApplyOperator(cond Condition) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Where(cond.Field+" "+string(cond.Operator)+" ?", cond.Value)
	}
}

// QuerySortBy orders results by an allow-listed column.
type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

func WithSortBy(sort QuerySortBy) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		if sort.SortBy == "" {
			return tx
		}
		if sort.Allow != nil && !sort.Allow[sort.SortBy] {
			return tx
		}
		order := sort.SortBy
		if sort.OrderBy != "" {
			order += " " + sort.OrderBy
		}
		return tx.Order(order)
	}
}

func WithLimit(limit int) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return tx
		}
		return tx.Limit(limit)
	}
}

// LockingUpdate is a gorm scope enabling SELECT ... FOR UPDATE on every
// query in a transaction. Sqlite serialises writers on its own, so the
// clause is skipped there.
func LockingUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// WithLockingUpdate applies LockingUpdate to a single query.
func WithLockingUpdate() QueryOption {
	return LockingUpdate
}
