// internal/domain/settlement_failure.go
package domain

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// SettlementStage names the leg that must be re-driven.
type SettlementStage string

const (
	StageLedger        SettlementStage = "LEDGER"
	StageTokenTransfer SettlementStage = "TOKEN_TRANSFER"
	StageRefund        SettlementStage = "REFUND"
)

// SettlementOperation names the operation a failure row belongs to.
type SettlementOperation string

const (
	OperationBuy         SettlementOperation = "BUY"
	OperationSell        SettlementOperation = "SELL"
	OperationSend        SettlementOperation = "SEND"
	OperationBillPayment SettlementOperation = "BILL_PAYMENT"
)

// SettlementFailureStatus is the outbox row lifecycle.
type SettlementFailureStatus string

const (
	FailurePending    SettlementFailureStatus = "pending"
	FailureProcessing SettlementFailureStatus = "processing"
	FailureResolved   SettlementFailureStatus = "resolved"
	FailureExhausted  SettlementFailureStatus = "exhausted"
)

// SettlementFailure is an outbox row for an operation whose external leg went through
// but whose paired leg did not. Payload carries everything the worker needs to resume
// the operation; ExternalRefs carries the tx hashes for manual reconciliation.
type SettlementFailure struct {
	ID            int64                   `db:"id" json:"id"`
	Reference     string                  `db:"reference" json:"reference"`
	Operation     SettlementOperation     `db:"operation" json:"operation"`
	Stage         SettlementStage         `db:"stage" json:"stage"`
	Status        SettlementFailureStatus `db:"status" json:"status"`
	UserID        int64                   `db:"user_id" json:"user_id"`
	Attempts      int                     `db:"attempts" json:"attempts"`
	MaxAttempts   int                     `db:"max_attempts" json:"max_attempts"`
	NextAttemptAt time.Time               `db:"next_attempt_at" json:"next_attempt_at"`
	LastError     string                  `db:"last_error" json:"last_error"`
	Payload       types.JSONText          `db:"payload" json:"payload"`
	ExternalRefs  types.JSONText          `db:"external_refs" json:"external_refs"`
	CreatedAt     time.Time               `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time               `db:"updated_at" json:"updated_at"`
}

// Terminal reports whether the worker will not pick this row again.
func (f *SettlementFailure) Terminal() bool {
	return f.Status == FailureResolved || f.Status == FailureExhausted
}
