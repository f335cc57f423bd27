/**
 * @description
 * Domain models for rule executions: the append-only audit records produced by
 * the execution engine, and the per-recipient transfer entries inside them.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the overall outcome of one rule run.
type ExecutionStatus string

const (
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionPending   ExecutionStatus = "pending"
)

// TransferStatus tracks settlement of one transfer with the external settlement
// collaborator. Only this field may transition after an execution is recorded.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferConfirmed TransferStatus = "confirmed"
	TransferFailed    TransferStatus = "failed"
)

// Transfer is one per-recipient payout entry within an execution. The
// settlement reference is an opaque handle passed to the settlement
// collaborator; the amount is fixed once the execution is recorded.
type Transfer struct {
	Recipient     string           `json:"recipient"`
	Amount        int64            `json:"amount"` // in cents
	Kind          DistributionKind `json:"kind"`
	SettlementRef string           `json:"settlement_ref"`
	Status        TransferStatus   `json:"status"`
}

// Execution is one historical run of a rule. Financial facts (profit, fee,
// transfer amounts) are immutable once the record is created; only transfer
// settlement statuses may change afterwards.
type Execution struct {
	ID           uuid.UUID       `json:"id"`
	RuleID       uuid.UUID       `json:"rule_id"`
	ExecutedAt   time.Time       `json:"executed_at"`
	ProfitAmount int64           `json:"profit_amount"` // gross, in cents
	PlatformFee  int64           `json:"platform_fee"`  // in cents
	Transfers    []Transfer      `json:"transfers"`
	Status       ExecutionStatus `json:"status"`
	ErrorMessage *string         `json:"error_message,omitempty"`
}

// ExecutionListOptions controls pagination for execution history reads.
type ExecutionListOptions struct {
	Limit  int
	Offset int
}

// ExecuteRuleResult is the non-throwing response envelope for execute calls.
// A failed run still carries its persisted execution record.
type ExecuteRuleResult struct {
	Result    string     `json:"result"` // "success" or "error"
	Execution *Execution `json:"execution"`
	Timestamp time.Time  `json:"timestamp"`
}

// SettlementStatusEvent is the message shape the settlement collaborator
// publishes when a transfer settles or fails.
type SettlementStatusEvent struct {
	ExecutionID   string `json:"execution_id"`
	SettlementRef string `json:"settlement_ref"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
}
