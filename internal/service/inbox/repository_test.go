package inbox

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func canceledTransaction(reasonCodes ...string) error {
	reasons := make([]types.CancellationReason, 0, len(reasonCodes))
	for _, code := range reasonCodes {
		reason := types.CancellationReason{}
		if code != "" {
			reason.Code = aws.String(code)
		}
		reasons = append(reasons, reason)
	}
	return fmt.Errorf("transact write: %w", &types.TransactionCanceledException{
		CancellationReasons: reasons,
	})
}

func TestCommitErrorDistinguishesDedupeFromConversation(t *testing.T) {
	// Transact item order: dedupe guard, message put, conversation update.
	err := commitError(canceledTransaction("ConditionalCheckFailed", "None", "None"), true)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("dedupe condition failure = %v, want ErrDuplicate", err)
	}

	err = commitError(canceledTransaction("None", "None", "ConditionalCheckFailed"), true)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("conversation condition failure = %v, want ErrNotFound", err)
	}
}

func TestCommitErrorWithoutDedupeGuard(t *testing.T) {
	// Agent replies commit two items: message put, conversation update.
	err := commitError(canceledTransaction("None", "ConditionalCheckFailed"), false)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("conversation condition failure = %v, want ErrNotFound", err)
	}
}

func TestCommitErrorPassesThroughOtherFailures(t *testing.T) {
	transient := canceledTransaction("TransactionConflict", "None", "None")
	if err := commitError(transient, true); !errors.Is(err, transient) {
		t.Fatalf("non-conditional cancellation = %v, want the original error", err)
	}

	plain := errors.New("throughput exceeded")
	if err := commitError(plain, true); !errors.Is(err, plain) {
		t.Fatalf("plain error = %v, want passthrough", err)
	}
}
