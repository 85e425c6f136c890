package payments_test

import (
	"testing"

	"github.com/tahseelhq/tahseel/pkg/payments"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to payments.Status }{
		{payments.StatusPending, payments.StatusAuthorized},
		{payments.StatusPending, payments.StatusCaptured},
		{payments.StatusPending, payments.StatusFailed},
		{payments.StatusAuthorized, payments.StatusCaptured},
		{payments.StatusAuthorized, payments.StatusVoided},
		{payments.StatusAuthorized, payments.StatusFailed},
		{payments.StatusCaptured, payments.StatusRefunded},
	}
	for _, tc := range allowed {
		if !payments.CanTransition(tc.from, tc.to) {
			t.Errorf("Expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to payments.Status }{
		{payments.StatusCaptured, payments.StatusVoided},
		{payments.StatusCaptured, payments.StatusPending},
		{payments.StatusRefunded, payments.StatusCaptured},
		{payments.StatusVoided, payments.StatusCaptured},
		{payments.StatusFailed, payments.StatusCaptured},
		{payments.StatusPending, payments.StatusRefunded},
		{payments.StatusPending, payments.StatusVoided},
	}
	for _, tc := range denied {
		if payments.CanTransition(tc.from, tc.to) {
			t.Errorf("Expected %s -> %s to be denied", tc.from, tc.to)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []payments.Status{payments.StatusFailed, payments.StatusRefunded, payments.StatusVoided} {
		if !payments.IsTerminal(s) {
			t.Errorf("Expected %s to be terminal", s)
		}
	}
	for _, s := range []payments.Status{payments.StatusPending, payments.StatusAuthorized, payments.StatusCaptured} {
		if payments.IsTerminal(s) {
			t.Errorf("Expected %s to be non-terminal", s)
		}
	}
}

func TestSettlementClosesVoidWindow(t *testing.T) {
	if payments.IsSettled(payments.StatusAuthorized) {
		t.Error("Authorized funds are not settled")
	}
	if !payments.IsSettled(payments.StatusCaptured) {
		t.Error("Captured funds are settled")
	}
	// A settled transaction cannot be voided, only refunded.
	if payments.CanTransition(payments.StatusCaptured, payments.StatusVoided) {
		t.Error("Expected void after settlement to be illegal")
	}
}

func TestStatusForEvent(t *testing.T) {
	cases := []struct {
		eventType payments.EventType
		succeeded bool
		want      payments.Status
	}{
		{payments.EventTransaction, true, payments.StatusCaptured},
		{payments.EventTransaction, false, payments.StatusFailed},
		{payments.EventSubscriptionCharge, true, payments.StatusCaptured},
		{payments.EventSubscriptionCharge, false, payments.StatusFailed},
		{payments.EventRefund, true, payments.StatusRefunded},
		{payments.EventVoid, true, payments.StatusVoided},
	}
	for _, tc := range cases {
		if got := payments.StatusForEvent(tc.eventType, tc.succeeded); got != tc.want {
			t.Errorf("StatusForEvent(%s, %v) = %s, want %s", tc.eventType, tc.succeeded, got, tc.want)
		}
	}
}
