package sequencer

// StepID identifies one step of the harness pipeline.
type StepID string

const (
	StepFund        StepID = "fund"
	StepDeposit     StepID = "deposit"
	StepTransferAB  StepID = "transfer-a-b"
	StepTransferBC  StepID = "transfer-b-c"
	StepWithdraw    StepID = "withdraw"
	StepExternal    StepID = "external"
	StepCleanup     StepID = "cleanup"
)

// Toggle keys exposed to configuration. A toggle may gate several steps.
const (
	ToggleFunding    = "funding"
	ToggleDeposit    = "deposit"
	ToggleTransferAB = "transfer-a-b"
	ToggleTransferBC = "transfer-b-c"
	ToggleWithdraw   = "withdraw"
	ToggleExternal   = "external"
)

// StepDescriptor is the static definition of a pipeline step.
type StepDescriptor struct {
	ID     StepID
	Label  string
	Toggle string
}

// allSteps is the pipeline in fixed topological order. The relative order of
// withdraw and external is decided at run time by configuration; every other
// position is a hard dependency.
var allSteps = []StepDescriptor{
	{ID: StepFund, Label: "Fund identities", Toggle: ToggleFunding},
	{ID: StepDeposit, Label: "Deposit (A)", Toggle: ToggleDeposit},
	{ID: StepTransferAB, Label: "Internal transfer (A to B)", Toggle: ToggleTransferAB},
	{ID: StepTransferBC, Label: "Internal transfer (B to C)", Toggle: ToggleTransferBC},
	{ID: StepWithdraw, Label: "Withdraw (C)", Toggle: ToggleWithdraw},
	{ID: StepExternal, Label: "External transfer (B)", Toggle: ToggleExternal},
	{ID: StepCleanup, Label: "Cleanup", Toggle: ToggleFunding},
}

// spendSteps are the steps that each consume a share of the spend pool.
var spendSteps = []StepID{StepWithdraw, StepExternal}

// StepStatus is the lifecycle state of a single step within a run.
type StepStatus uint8

const (
	StepStatusIdle StepStatus = iota
	StepStatusRunning
	StepStatusSuccess
	StepStatusError
)

func (s StepStatus) String() string {
	switch s {
	case StepStatusIdle:
		return "idle"
	case StepStatusRunning:
		return "running"
	case StepStatusSuccess:
		return "success"
	case StepStatusError:
		return "error"
	}
	return "unknown"
}

// RunState is the lifecycle state of a whole run.
type RunState uint8

const (
	RunStateIdle RunState = iota
	RunStateRunning
	RunStateCompleted
	RunStateAborted
)

func (s RunState) String() string {
	switch s {
	case RunStateIdle:
		return "idle"
	case RunStateRunning:
		return "running"
	case RunStateCompleted:
		return "completed"
	case RunStateAborted:
		return "aborted"
	}
	return "unknown"
}

// Event is a status notification emitted while a run progresses. Events are
// advisory: the run never blocks on a slow consumer, and events are dropped
// when the stream buffer is full.
type Event struct {
	Step    StepID
	Status  StepStatus
	Message string
}
