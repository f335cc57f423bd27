/**
 * @description
 * Consumer logic for settlement status events. The settlement collaborator
 * publishes an event per transfer once it confirms or fails; this consumer
 * transitions the matching transfer's status inside its execution record.
 * Amounts and recipients are never touched here.
 */
package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yieldhive/automation-service/internal/domain"
	"github.com/yieldhive/automation-service/internal/store"
)

type SettlementStatusConsumer struct {
	repo store.Repository
}

func NewSettlementStatusConsumer(repo store.Repository) *SettlementStatusConsumer {
	return &SettlementStatusConsumer{repo: repo}
}

// HandleMessage processes one settlement event. Returning true acknowledges
// the message; malformed or unmatchable events are acknowledged and dropped,
// transient failures are re-queued.
func (c *SettlementStatusConsumer) HandleMessage(body []byte) bool {
	var event domain.SettlementStatusEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("settlement-consumer: failed to unmarshal payload: %v", err)
		return true
	}

	if event.SettlementRef == "" || event.ExecutionID == "" {
		log.Printf("settlement-consumer: missing identifiers in event %+v", event)
		return true
	}

	executionID, err := uuid.Parse(event.ExecutionID)
	if err != nil {
		log.Printf("settlement-consumer: invalid execution id %q; acknowledging", event.ExecutionID)
		return true
	}

	status, ok := normalizeSettlementStatus(event.Status)
	if !ok {
		log.Printf("settlement-consumer: unknown status %q for ref %s; acknowledging", event.Status, event.SettlementRef)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.repo.UpdateTransferStatus(ctx, executionID, event.SettlementRef, status); err != nil {
		if errors.Is(err, store.ErrExecutionNotFound) || errors.Is(err, store.ErrTransferNotFound) {
			log.Printf("settlement-consumer: no transfer for ref %s in execution %s; acknowledging", event.SettlementRef, executionID)
			return true
		}
		log.Printf("settlement-consumer: processing error for ref %s: %v", event.SettlementRef, err)
		return false
	}

	return true
}

func normalizeSettlementStatus(raw string) (domain.TransferStatus, bool) {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "confirmed", "settled", "successful", "success":
		return domain.TransferConfirmed, true
	case "failed", "failure", "rejected":
		return domain.TransferFailed, true
	default:
		return "", false
	}
}
