package lode

import (
	"time"

	"github.com/justapithecus/livewatch/types"
)

// Record kinds.
const (
	RecordKindClaim = "claim"
	RecordKindHalt  = "halt"
)

// OutcomeHalt is the outcome partition value of halt records.
const OutcomeHalt = "halt"

// ClaimRecord is the storage format for one dispatched claim.
type ClaimRecord struct {
	RecordKind      string `json:"record_kind"`
	ContractVersion string `json:"contract_version"`
	SessionID       string `json:"session_id"`

	RecordID string  `json:"record_id"`
	QueryID  string  `json:"query_id"`
	Search   string  `json:"search,omitempty"`
	ItemName string  `json:"item_name,omitempty"`
	TypeLine string  `json:"type_line,omitempty"`
	Amount   float64 `json:"price_amount,omitempty"`
	Currency string  `json:"price_currency,omitempty"`
	Seller   string  `json:"seller,omitempty"`
	Trigger  string  `json:"trigger"`

	ArrivedAt    string `json:"arrived_at"`
	DispatchedAt string `json:"dispatched_at"`

	// Halt records only.
	Reason        string `json:"reason,omitempty"`
	TotalAttempts int    `json:"total_attempts,omitempty"`

	// Partition keys (used by Lode HiveLayout)
	League  string `json:"league"`
	Day     string `json:"day"`
	Outcome string `json:"outcome"`
}

// ContractVersion is the archive record version.
const ContractVersion = "1"

// dayOf returns the UTC day partition value.
func dayOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// NewClaimRecord builds the record for a dispatch of rec.
func NewClaimRecord(sessionID string, rec types.ResultRecord, outcome, trigger string, at time.Time) ClaimRecord {
	return ClaimRecord{
		RecordKind:      RecordKindClaim,
		ContractVersion: ContractVersion,
		SessionID:       sessionID,
		RecordID:        rec.ID,
		QueryID:         rec.Listener.QueryID,
		ItemName:        rec.ItemName,
		TypeLine:        rec.TypeLine,
		Amount:          rec.Price.Amount,
		Currency:        rec.Price.Currency,
		Seller:          rec.Seller,
		Trigger:         trigger,
		ArrivedAt:       rec.ArrivedAt.UTC().Format(time.RFC3339Nano),
		DispatchedAt:    at.UTC().Format(time.RFC3339Nano),
		League:          rec.Listener.League,
		Day:             dayOf(at),
		Outcome:         outcome,
	}
}

// NewHaltRecord builds the record for an emergency halt.
func NewHaltRecord(sessionID, reason string, totalAttempts int, at time.Time) ClaimRecord {
	return ClaimRecord{
		RecordKind:      RecordKindHalt,
		ContractVersion: ContractVersion,
		SessionID:       sessionID,
		DispatchedAt:    at.UTC().Format(time.RFC3339Nano),
		Reason:          reason,
		TotalAttempts:   totalAttempts,
		League:          "_all",
		Day:             dayOf(at),
		Outcome:         OutcomeHalt,
	}
}

// toMap flattens r for the JSONL codec. Lode's Hive layout reads the
// partition keys from map records.
func (r ClaimRecord) toMap() map[string]any {
	m := map[string]any{
		"record_kind":      r.RecordKind,
		"contract_version": r.ContractVersion,
		"session_id":       r.SessionID,
		"record_id":        r.RecordID,
		"query_id":         r.QueryID,
		"trigger":          r.Trigger,
		"arrived_at":       r.ArrivedAt,
		"dispatched_at":    r.DispatchedAt,
		"league":           r.League,
		"day":              r.Day,
		"outcome":          r.Outcome,
	}
	optional := map[string]string{
		"search":         r.Search,
		"item_name":      r.ItemName,
		"type_line":      r.TypeLine,
		"price_currency": r.Currency,
		"seller":         r.Seller,
		"reason":         r.Reason,
	}
	for k, v := range optional {
		if v != "" {
			m[k] = v
		}
	}
	if r.Amount != 0 {
		m["price_amount"] = r.Amount
	}
	if r.TotalAttempts != 0 {
		m["total_attempts"] = r.TotalAttempts
	}
	return m
}

// claimFromMap reverses toMap for records read back from a dataset.
func claimFromMap(m map[string]any) ClaimRecord {
	return ClaimRecord{
		RecordKind:      toString(m["record_kind"]),
		ContractVersion: toString(m["contract_version"]),
		SessionID:       toString(m["session_id"]),
		RecordID:        toString(m["record_id"]),
		QueryID:         toString(m["query_id"]),
		Search:          toString(m["search"]),
		ItemName:        toString(m["item_name"]),
		TypeLine:        toString(m["type_line"]),
		Amount:          toFloat(m["price_amount"]),
		Currency:        toString(m["price_currency"]),
		Seller:          toString(m["seller"]),
		Trigger:         toString(m["trigger"]),
		ArrivedAt:       toString(m["arrived_at"]),
		DispatchedAt:    toString(m["dispatched_at"]),
		Reason:          toString(m["reason"]),
		TotalAttempts:   int(toFloat(m["total_attempts"])),
		League:          toString(m["league"]),
		Day:             toString(m["day"]),
		Outcome:         toString(m["outcome"]),
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
