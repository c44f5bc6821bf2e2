package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestInlineHappyPath(t *testing.T) {
	executor, err := NewInlineExecutor(
		InlineStep{
			Name: "charge_payment",
			Action: func(ctx context.Context, shared map[string]interface{}) (map[string]interface{}, error) {
				return map[string]interface{}{"payment_id": "pay-1"}, nil
			},
		},
		InlineStep{
			Name: "reserve_inventory",
			Action: func(ctx context.Context, shared map[string]interface{}) (map[string]interface{}, error) {
				if shared["payment_id"] != "pay-1" {
					return nil, fmt.Errorf("payment_id not visible to later step")
				}
				return map[string]interface{}{"reservation_id": "res-1"}, nil
			},
		},
	)
	if err != nil {
		t.Fatalf("NewInlineExecutor failed: %v", err)
	}

	result, err := executor.Run(context.Background(), map[string]interface{}{"order_id": "123"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for _, key := range []string{"order_id", "payment_id", "reservation_id"} {
		if _, ok := result[key]; !ok {
			t.Errorf("result missing key %s", key)
		}
	}
}

func TestInlineRollbackCollectsAllCompensationFailures(t *testing.T) {
	var order []string

	executor, err := NewInlineExecutor(
		InlineStep{
			Name: "step0",
			Action: func(ctx context.Context, shared map[string]interface{}) (map[string]interface{}, error) {
				return nil, nil
			},
			Compensation: func(ctx context.Context, actionResult, shared map[string]interface{}) error {
				order = append(order, "undo step0")
				return nil
			},
		},
		InlineStep{
			Name: "step1",
			Action: func(ctx context.Context, shared map[string]interface{}) (map[string]interface{}, error) {
				return nil, nil
			},
			Compensation: func(ctx context.Context, actionResult, shared map[string]interface{}) error {
				order = append(order, "undo step1")
				return fmt.Errorf("undo rejected")
			},
		},
		InlineStep{
			Name: "step2",
			Action: func(ctx context.Context, shared map[string]interface{}) (map[string]interface{}, error) {
				return nil, fmt.Errorf("boom")
			},
		},
	)
	if err != nil {
		t.Fatalf("NewInlineExecutor failed: %v", err)
	}

	_, err = executor.Run(context.Background(), nil)
	if err == nil {
		t.Fatal("expected an error")
	}

	var rollbackErr *RollbackError
	if !errors.As(err, &rollbackErr) {
		t.Fatalf("expected RollbackError, got %T: %v", err, err)
	}
	if !strings.Contains(rollbackErr.Cause.Error(), "step2") {
		t.Errorf("cause must report the failed step: %v", rollbackErr.Cause)
	}
	if len(rollbackErr.CompensationFailures) != 1 {
		t.Fatalf("expected 1 compensation failure, got %d", len(rollbackErr.CompensationFailures))
	}
	if !strings.Contains(rollbackErr.CompensationFailures[0].Error(), "step1") {
		t.Errorf("compensation failure must name step1: %v", rollbackErr.CompensationFailures[0])
	}

	// компенсация step0 выполняется несмотря на ошибку компенсации step1
	if len(order) != 2 || order[0] != "undo step1" || order[1] != "undo step0" {
		t.Errorf("unexpected compensation order: %v", order)
	}
}

func TestInlineCompensationSeesActionResult(t *testing.T) {
	var seen map[string]interface{}

	executor, err := NewInlineExecutor(
		InlineStep{
			Name: "reserve",
			Action: func(ctx context.Context, shared map[string]interface{}) (map[string]interface{}, error) {
				return map[string]interface{}{"reservation_id": "res-1"}, nil
			},
			Compensation: func(ctx context.Context, actionResult, shared map[string]interface{}) error {
				seen = actionResult
				return nil
			},
		},
		InlineStep{
			Name: "ship",
			Action: func(ctx context.Context, shared map[string]interface{}) (map[string]interface{}, error) {
				return nil, fmt.Errorf("no couriers")
			},
		},
	)
	if err != nil {
		t.Fatalf("NewInlineExecutor failed: %v", err)
	}

	_, err = executor.Run(context.Background(), nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	if seen == nil || seen["reservation_id"] != "res-1" {
		t.Errorf("compensation did not receive action result: %v", seen)
	}
}

func TestInlineRetryPolicy(t *testing.T) {
	attempts := 0
	executor, err := NewInlineExecutor(
		InlineStep{
			Name:  "flaky",
			Retry: SimpleRetry(3, time.Millisecond),
			Action: func(ctx context.Context, shared map[string]interface{}) (map[string]interface{}, error) {
				attempts++
				if attempts < 3 {
					return nil, fmt.Errorf("transient")
				}
				return map[string]interface{}{"done": true}, nil
			},
		},
	)
	if err != nil {
		t.Fatalf("NewInlineExecutor failed: %v", err)
	}

	result, err := executor.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if result["done"] != true {
		t.Errorf("unexpected result: %v", result)
	}
}

func TestInlineValidation(t *testing.T) {
	if _, err := NewInlineExecutor(); err == nil {
		t.Error("expected error for empty step list")
	}
	noop := func(ctx context.Context, shared map[string]interface{}) (map[string]interface{}, error) {
		return nil, nil
	}
	if _, err := NewInlineExecutor(
		InlineStep{Name: "a", Action: noop},
		InlineStep{Name: "a", Action: noop},
	); err == nil {
		t.Error("expected error for duplicate step names")
	}
	if _, err := NewInlineExecutor(InlineStep{Name: "a"}); err == nil {
		t.Error("expected error for step without action")
	}
}

func TestRetryPolicyDelays(t *testing.T) {
	policy := ExponentialBackoff(4, 10*time.Millisecond)
	if !policy.ShouldRetry(3) {
		t.Error("attempt 3 of 4 must be retryable")
	}
	if policy.ShouldRetry(4) {
		t.Error("attempt 4 of 4 must not be retryable")
	}
	if got := policy.CalculateDelay(1); got != 10*time.Millisecond {
		t.Errorf("unexpected delay for attempt 1: %v", got)
	}
	if got := policy.CalculateDelay(3); got != 40*time.Millisecond {
		t.Errorf("unexpected delay for attempt 3: %v", got)
	}
}
