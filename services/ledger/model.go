package ledger

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type EntryType string

const (
	EntryCredit EntryType = "CREDIT"
	EntryDebit  EntryType = "DEBIT"
)

// EntryKind records why the entry was written, independent of the
// credit/debit direction.
type EntryKind string

const (
	KindAccrual    EntryKind = "ACCRUAL"
	KindRedemption EntryKind = "REDEMPTION"
	KindGrant      EntryKind = "GRANT"
)

// Balance is the running bonus total per client. The redeemable figure is
// derived from unexpired credit pools instead; this row is the audit total.
type Balance struct {
	ID        string    `gorm:"column:id;primaryKey;type:char(26)"`
	ClientID  string    `gorm:"column:client_id;uniqueIndex;not null"`
	Balance   int64     `gorm:"column:balance;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Balance) TableName() string { return "balances" }

// CreditPool tracks the unconsumed remainder of one credit entry. Debits
// drain pools oldest first; a pool past ExpiresAt no longer counts toward
// the redeemable balance.
type CreditPool struct {
	ID            string     `gorm:"column:id;primaryKey;type:char(26)"`
	LedgerEntryID string     `gorm:"column:ledger_entry_id;index;not null"`
	ClientID      string     `gorm:"column:client_id;index;not null"`
	Remaining     int64      `gorm:"column:remaining;not null"`
	ExpiresAt     *time.Time `gorm:"column:expires_at;index"`
	ConsumedAt    *time.Time `gorm:"column:consumed_at"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
}

func (CreditPool) TableName() string { return "credit_pools" }

// LedgerEntry is one immutable bonus movement. Entries form a per-client
// hash chain: each entry commits to its predecessor through PreviousHash.
type LedgerEntry struct {
	ID            string         `gorm:"column:id;primaryKey;type:char(26)"`
	ClientID      string         `gorm:"column:client_id;index;not null"`
	Type          EntryType      `gorm:"column:type;type:varchar(10);not null"`
	Kind          EntryKind      `gorm:"column:kind;type:varchar(12);index;not null"`
	Amount        int64          `gorm:"column:amount;not null"`
	TransactionID string         `gorm:"column:transaction_id"`
	ReferenceID   string         `gorm:"column:reference_id;uniqueIndex;not null"`
	Description   string         `gorm:"column:description"`
	ExpiresAt     *time.Time     `gorm:"column:expires_at"`
	PreviousHash  string         `gorm:"column:previous_hash"`
	Hash          string         `gorm:"column:hash"`
	Metadata      datatypes.JSON `gorm:"column:metadata"`
	CreatedAt     time.Time      `gorm:"column:created_at"`
	UpdatedAt     time.Time      `gorm:"column:updated_at"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (m *LedgerEntry) HashFields() map[string]string {
	expires := ""
	if m.ExpiresAt != nil {
		expires = m.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	return map[string]string{
		"id":             m.ID,
		"client_id":      m.ClientID,
		"type":           string(m.Type),
		"kind":           string(m.Kind),
		"amount":         fmt.Sprintf("%d", m.Amount),
		"transaction_id": m.TransactionID,
		"reference_id":   m.ReferenceID,
		"description":    m.Description,
		"expires_at":     expires,
		"created_at":     m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash":  m.PreviousHash,
	}
}

func (m *LedgerEntry) GenerateHash() string {
	fields := m.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// RedeemAllocation records how much of one pool a debit consumed.
type RedeemAllocation struct {
	CreditPoolID    string
	SourceID        string
	Amount          int64
	RemainingAmount int64
}

type MetaDebit struct {
	LedgerEntryID string `json:"ledger_entry_id"`
	Amount        int64  `json:"amount"`
}

// GenerateTransactionID mints a date-prefixed random id for grouping the
// entries of one business transaction.
func GenerateTransactionID() (string, error) {
	datePart := time.Now().Format("20060102")

	r := make([]byte, 3)
	if _, err := rand.Read(r); err != nil {
		return "", err
	}
	randomPart := strings.ToUpper(fmt.Sprintf("%x", r))

	return fmt.Sprintf("%s-%s", datePart, randomPart), nil
}
