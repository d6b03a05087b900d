package data

import (
	"fmt"
	"strings"
)

type JobStatus string

const (
	PendingJobStatus    JobStatus = "pending"
	ProcessingJobStatus JobStatus = "processing"
	CompletedJobStatus  JobStatus = "completed"
	FailedJobStatus     JobStatus = "failed"
	DeadJobStatus       JobStatus = "dead"
)

// Validate validates the job status
func (status JobStatus) Validate() error {
	switch JobStatus(strings.ToLower(string(status))) {
	case PendingJobStatus, ProcessingJobStatus, CompletedJobStatus, FailedJobStatus, DeadJobStatus:
		return nil
	default:
		return fmt.Errorf("invalid job status: %s", status)
	}
}

// TransitionTo transitions the job status to the target state
func (status JobStatus) TransitionTo(targetState JobStatus) error {
	return JobStateMachineWithInitialState(status).TransitionTo(targetState.State())
}

// JobStateMachineWithInitialState returns a state machine for jobs initialized with the given state
func JobStateMachineWithInitialState(initialState JobStatus) *StateMachine {
	transitions := []StateTransition{
		{From: PendingJobStatus.State(), To: ProcessingJobStatus.State()},   // claimed by a worker
		{From: FailedJobStatus.State(), To: ProcessingJobStatus.State()},    // retried once scheduled_at passes
		{From: ProcessingJobStatus.State(), To: CompletedJobStatus.State()}, // ERP accepted the posting
		{From: ProcessingJobStatus.State(), To: FailedJobStatus.State()},    // retryable outcome
		{From: ProcessingJobStatus.State(), To: DeadJobStatus.State()},      // permanent rejection or attempts exhausted
		{From: DeadJobStatus.State(), To: PendingJobStatus.State()},         // manual requeue
	}

	return NewStateMachine(initialState.State(), transitions)
}

// JobStatuses returns a list of all possible job statuses
func JobStatuses() []JobStatus {
	return []JobStatus{PendingJobStatus, ProcessingJobStatus, CompletedJobStatus, FailedJobStatus, DeadJobStatus}
}

// ClaimableJobStatuses returns the statuses a worker may claim work from.
func ClaimableJobStatuses() []JobStatus {
	return []JobStatus{PendingJobStatus, FailedJobStatus}
}

// SourceStatuses returns a list of states that the job status can transition from given the target state
func (status JobStatus) SourceStatuses() []JobStatus {
	stateMachine := JobStateMachineWithInitialState(PendingJobStatus)
	fromStates := []JobStatus{}
	for _, fromState := range JobStatuses() {
		if stateMachine.Transitions[fromState.State()][status.State()] {
			fromStates = append(fromStates, fromState)
		}
	}
	return fromStates
}

// ToJobStatus converts a string to a JobStatus
func ToJobStatus(s string) (JobStatus, error) {
	err := JobStatus(s).Validate()
	if err != nil {
		return "", err
	}

	return JobStatus(strings.ToLower(s)), nil
}

func (status JobStatus) State() State {
	return State(status)
}
