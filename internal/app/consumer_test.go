package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/yieldhive/automation-service/internal/domain"
	"github.com/yieldhive/automation-service/internal/store"
)

type consumerRepoStub struct {
	store.Repository

	updateErr    error
	gotExecution uuid.UUID
	gotRef       string
	gotStatus    domain.TransferStatus
	updateCalled bool
}

func (s *consumerRepoStub) UpdateTransferStatus(ctx context.Context, executionID uuid.UUID, settlementRef string, status domain.TransferStatus) error {
	s.updateCalled = true
	s.gotExecution = executionID
	s.gotRef = settlementRef
	s.gotStatus = status
	return s.updateErr
}

func TestSettlementConsumer_ConfirmedEventUpdatesTransfer(t *testing.T) {
	repo := &consumerRepoStub{}
	consumer := NewSettlementStatusConsumer(repo)
	executionID := uuid.New()

	body := []byte(`{"execution_id":"` + executionID.String() + `","settlement_ref":"stl_abc","status":"confirmed"}`)
	if !consumer.HandleMessage(body) {
		t.Fatal("expected message to be acknowledged")
	}
	if !repo.updateCalled {
		t.Fatal("expected transfer status update")
	}
	if repo.gotExecution != executionID || repo.gotRef != "stl_abc" {
		t.Fatalf("unexpected update args: execution=%s ref=%s", repo.gotExecution, repo.gotRef)
	}
	if repo.gotStatus != domain.TransferConfirmed {
		t.Fatalf("expected confirmed status, got %s", repo.gotStatus)
	}
}

func TestSettlementConsumer_FailureStatusNormalized(t *testing.T) {
	repo := &consumerRepoStub{}
	consumer := NewSettlementStatusConsumer(repo)

	body := []byte(`{"execution_id":"` + uuid.NewString() + `","settlement_ref":"stl_abc","status":"REJECTED"}`)
	if !consumer.HandleMessage(body) {
		t.Fatal("expected message to be acknowledged")
	}
	if repo.gotStatus != domain.TransferFailed {
		t.Fatalf("expected failed status, got %s", repo.gotStatus)
	}
}

func TestSettlementConsumer_MalformedPayloadDropped(t *testing.T) {
	repo := &consumerRepoStub{}
	consumer := NewSettlementStatusConsumer(repo)

	if !consumer.HandleMessage([]byte(`{not json`)) {
		t.Fatal("expected malformed payload to be acknowledged and dropped")
	}
	if repo.updateCalled {
		t.Fatal("expected no update for malformed payload")
	}
}

func TestSettlementConsumer_UnknownTransferAcknowledged(t *testing.T) {
	repo := &consumerRepoStub{updateErr: store.ErrTransferNotFound}
	consumer := NewSettlementStatusConsumer(repo)

	body := []byte(`{"execution_id":"` + uuid.NewString() + `","settlement_ref":"stl_gone","status":"confirmed"}`)
	if !consumer.HandleMessage(body) {
		t.Fatal("expected unmatchable event to be acknowledged")
	}
}

func TestSettlementConsumer_TransientErrorRequeued(t *testing.T) {
	repo := &consumerRepoStub{updateErr: errors.New("db unavailable")}
	consumer := NewSettlementStatusConsumer(repo)

	body := []byte(`{"execution_id":"` + uuid.NewString() + `","settlement_ref":"stl_abc","status":"confirmed"}`)
	if consumer.HandleMessage(body) {
		t.Fatal("expected transient failure to be re-queued")
	}
}
