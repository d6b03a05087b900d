package data

import (
	"fmt"
	"strings"
)

type PaymentStatus string

const (
	PendingPaymentStatus        PaymentStatus = "pending"
	QueuedPaymentStatus         PaymentStatus = "queued"
	SyncedPaymentStatus         PaymentStatus = "synced"
	RefundedPaymentStatus       PaymentStatus = "refunded"
	SkippedPaymentStatus        PaymentStatus = "skipped"
	SkippedNonSalePaymentStatus PaymentStatus = "skipped_non_sale"
)

// Validate validates the payment processing status
func (status PaymentStatus) Validate() error {
	switch PaymentStatus(strings.ToLower(string(status))) {
	case PendingPaymentStatus, QueuedPaymentStatus, SyncedPaymentStatus,
		RefundedPaymentStatus, SkippedPaymentStatus, SkippedNonSalePaymentStatus:
		return nil
	default:
		return fmt.Errorf("invalid payment status: %s", status)
	}
}

// TransitionTo transitions the payment processing status to the target state
func (status PaymentStatus) TransitionTo(targetState PaymentStatus) error {
	return PaymentStateMachineWithInitialState(status).TransitionTo(targetState.State())
}

// PaymentStateMachineWithInitialState returns a state machine for payments initialized with the given state
func PaymentStateMachineWithInitialState(initialState PaymentStatus) *StateMachine {
	transitions := []StateTransition{
		{From: PendingPaymentStatus.State(), To: QueuedPaymentStatus.State()},         // posting intents enqueued
		{From: PendingPaymentStatus.State(), To: SkippedPaymentStatus.State()},        // cancelled or rejected upstream
		{From: PendingPaymentStatus.State(), To: SkippedNonSalePaymentStatus.State()}, // not a sale, nothing to post
		{From: PendingPaymentStatus.State(), To: RefundedPaymentStatus.State()},       // refund seen before approval processing
		{From: QueuedPaymentStatus.State(), To: SyncedPaymentStatus.State()},          // all jobs in the group completed
		{From: QueuedPaymentStatus.State(), To: RefundedPaymentStatus.State()},        // refund arrived while jobs in flight
		{From: SyncedPaymentStatus.State(), To: RefundedPaymentStatus.State()},        // refund of an already-posted payment
	}

	return NewStateMachine(initialState.State(), transitions)
}

// PaymentStatuses returns a list of all possible payment statuses
func PaymentStatuses() []PaymentStatus {
	return []PaymentStatus{PendingPaymentStatus, QueuedPaymentStatus, SyncedPaymentStatus, RefundedPaymentStatus, SkippedPaymentStatus, SkippedNonSalePaymentStatus}
}

// SourceStatuses returns a list of states that the payment status can transition from given the target state
func (status PaymentStatus) SourceStatuses() []PaymentStatus {
	stateMachine := PaymentStateMachineWithInitialState(PendingPaymentStatus)
	fromStates := []PaymentStatus{}
	for _, fromState := range PaymentStatuses() {
		if stateMachine.Transitions[fromState.State()][status.State()] {
			fromStates = append(fromStates, fromState)
		}
	}
	return fromStates
}

// ToPaymentStatus converts a string to a PaymentStatus
func ToPaymentStatus(s string) (PaymentStatus, error) {
	err := PaymentStatus(s).Validate()
	if err != nil {
		return "", err
	}

	return PaymentStatus(strings.ToLower(s)), nil
}

// IsTerminal reports whether the processor must not emit any further work for this status.
func (status PaymentStatus) IsTerminal() bool {
	switch status {
	case SyncedPaymentStatus, RefundedPaymentStatus, SkippedPaymentStatus, SkippedNonSalePaymentStatus:
		return true
	default:
		return false
	}
}

func (status PaymentStatus) State() State {
	return State(status)
}
