/**
 * @description
 * This file defines the core domain models for the automation-service: rules and
 * their weighted distributions. These structs are shared by the business logic,
 * the database layer, and the API layer.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (cents), which
 *   avoids floating-point inaccuracies with financial data.
 * - Distribution weights are stored in basis points (10000 = 100%) so that the
 *   exact-sum invariant can be checked with integer arithmetic.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TriggerKind is the condition class that makes a rule eligible to run.
type TriggerKind string

const (
	TriggerWeekly          TriggerKind = "weekly"
	TriggerMonthly         TriggerKind = "monthly"
	TriggerQuarterly       TriggerKind = "quarterly"
	TriggerProfitThreshold TriggerKind = "profit_threshold"
)

// Valid reports whether t is one of the supported trigger kinds.
func (t TriggerKind) Valid() bool {
	switch t {
	case TriggerWeekly, TriggerMonthly, TriggerQuarterly, TriggerProfitThreshold:
		return true
	}
	return false
}

// DistributionKind distinguishes external wallet payouts from reinvestment.
type DistributionKind string

const (
	DistributionWallet   DistributionKind = "wallet"
	DistributionReinvest DistributionKind = "reinvest"
)

// ReinvestRecipient is the sentinel recipient value for reinvestment entries.
const ReinvestRecipient = "reinvest"

// TotalPercentageBps is the exact sum a rule's distribution weights must reach.
const TotalPercentageBps = 10000

// Rule is a user's automation policy for distributing vault profit.
// This struct maps directly to the `rules` table in the database.
type Rule struct {
	ID               uuid.UUID      `json:"id"`
	UserID           uuid.UUID      `json:"user_id"`
	VaultID          uuid.UUID      `json:"vault_id"`
	Name             string         `json:"name"`
	Description      *string        `json:"description,omitempty"`
	Trigger          TriggerKind    `json:"trigger"`
	ProfitThreshold  *int64         `json:"profit_threshold,omitempty"` // in cents; set iff trigger is profit_threshold
	Active           bool           `json:"active"`
	LastExecuted     *time.Time     `json:"last_executed,omitempty"`
	NextExecution    time.Time      `json:"next_execution"`
	Distributions    []Distribution `json:"distributions"`
	Vault            *Vault         `json:"vault,omitempty"`
	ExecutionsCount  int64          `json:"executions_count"`
	TotalDistributed int64          `json:"total_distributed"` // in cents, across all completed executions
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Distribution is one weighted recipient entry within a rule. Distributions are
// owned by their rule and never outlive it.
type Distribution struct {
	ID            uuid.UUID        `json:"id"`
	RuleID        uuid.UUID        `json:"rule_id"`
	Recipient     string           `json:"recipient"`
	PercentageBps int32            `json:"percentage_bps"`
	Label         *string          `json:"label,omitempty"`
	Kind          DistributionKind `json:"kind"`
}

// DistributionInput is the API payload shape for one distribution entry.
type DistributionInput struct {
	Recipient     string           `json:"recipient"`
	PercentageBps int32            `json:"percentage_bps"`
	Label         *string          `json:"label,omitempty"`
	Kind          DistributionKind `json:"kind,omitempty"`
}

// CreateRulePayload is the DTO for incoming rule creation requests.
type CreateRulePayload struct {
	Name            string              `json:"name"`
	Description     *string             `json:"description,omitempty"`
	VaultID         uuid.UUID           `json:"vault_id"`
	Trigger         TriggerKind         `json:"trigger"`
	ProfitThreshold *int64              `json:"profit_threshold,omitempty"` // in cents
	Distributions   []DistributionInput `json:"distributions"`
}

// UpdateRulePayload is the DTO for partial rule updates. A nil field leaves the
// existing value untouched; a non-nil Distributions slice replaces the full set.
type UpdateRulePayload struct {
	Name            *string             `json:"name,omitempty"`
	Description     *string             `json:"description,omitempty"`
	Trigger         *TriggerKind        `json:"trigger,omitempty"`
	ProfitThreshold *int64              `json:"profit_threshold,omitempty"`
	Active          *bool               `json:"active,omitempty"`
	Distributions   []DistributionInput `json:"distributions,omitempty"`
}

// RuleListOptions controls filtering for rule listings.
type RuleListOptions struct {
	VaultID *uuid.UUID
	Trigger *TriggerKind
	Active  *bool
	Search  string
}

// RuleList is the response shape for rule listings, including the active and
// inactive counts surfaced alongside the rules themselves.
type RuleList struct {
	Rules         []Rule `json:"rules"`
	Total         int    `json:"total"`
	ActiveCount   int    `json:"active_count"`
	InactiveCount int    `json:"inactive_count"`
}
