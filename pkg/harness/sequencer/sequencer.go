// Package sequencer drives a full harness run: funding three ephemeral
// identities, shielding value, moving it privately A to B to C, unshielding,
// and reclaiming every funded account. It owns the shared protocol state a
// run threads through its steps, the per-step status machine, and the
// failure and cleanup policy.
package sequencer

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/veilpay-labs/veilpay-harness/pkg/amount"
	"github.com/veilpay-labs/veilpay-harness/pkg/common"
	"github.com/veilpay-labs/veilpay-harness/pkg/harness/identity"
	"github.com/veilpay-labs/veilpay-harness/pkg/harness/recorder"
	"github.com/veilpay-labs/veilpay-harness/pkg/ledger"
	"github.com/veilpay-labs/veilpay-harness/pkg/solana"
	"github.com/veilpay-labs/veilpay-harness/pkg/solana/system"
	"github.com/veilpay-labs/veilpay-harness/pkg/solana/token"
	"github.com/veilpay-labs/veilpay-harness/pkg/veilpay"
)

const nativeDecimals = 9

var (
	// ErrRunInProgress indicates a run is already active. Exactly one run
	// may own the flow state at a time.
	ErrRunInProgress = errors.New("a run is already in progress")

	// ErrMissingConfiguration indicates Run was invoked before Configure.
	ErrMissingConfiguration = errors.New("sequencer is not configured")

	// ErrMissingIdentity indicates an operation needs an identity that was
	// never generated or restored.
	ErrMissingIdentity = errors.New("identity is missing")

	// ErrInsufficientBalance indicates a balance-gated step has nothing to
	// work with.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrCleanupFailed indicates the cleanup step could not reclaim all
	// funded accounts. Completed protocol steps are final regardless.
	ErrCleanupFailed = errors.New("cleanup failed")
)

// Sequencer is the harness pipeline. Construct with New, set the run
// parameters with Configure, then invoke Run.
type Sequencer struct {
	log  *logrus.Entry
	conf *conf

	gateway  ledger.Gateway
	flows    veilpay.Flows
	recorder *recorder.Recorder
	manager  *identity.Manager

	operator *common.Account
	mint     *common.Account
	decimals uint8

	events chan Event

	mu           sync.Mutex
	busy         bool
	configured   bool
	runState     RunState
	enabled      map[StepID]bool
	flowUnits    uint64
	fundLamports uint64
	statuses     map[StepID]StepStatus
	flowState    veilpay.FlowState
	identities   map[string]*identity.Identity
	registered   bool
}

// New returns a sequencer driving flows for the provided mint. The operator
// account funds the run and receives everything cleanup reclaims.
func New(
	configProvider ConfigProvider,
	gateway ledger.Gateway,
	flows veilpay.Flows,
	txnRecorder *recorder.Recorder,
	manager *identity.Manager,
	operator, mint *common.Account,
	decimals uint8,
) (*Sequencer, error) {
	if err := operator.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid operator")
	}
	if err := mint.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid mint")
	}

	conf := configProvider()

	s := &Sequencer{
		log:        logrus.StandardLogger().WithField("type", "harness/sequencer"),
		conf:       conf,
		gateway:    gateway,
		flows:      flows,
		recorder:   txnRecorder,
		manager:    manager,
		operator:   operator,
		mint:       mint,
		decimals:   decimals,
		events:     make(chan Event, conf.eventBufferSize.Get(context.Background())),
		runState:   RunStateIdle,
		statuses:   make(map[StepID]StepStatus),
		flowState:  veilpay.InitialFlowState(),
		identities: make(map[string]*identity.Identity),
	}
	for _, step := range allSteps {
		s.statuses[step.ID] = StepStatusIdle
	}

	return s, nil
}

// Configure sets the step selection and amounts for subsequent runs. The
// selection maps toggle keys to enablement; a toggle gates every step
// declared against it. flowAmount is denominated in the flow mint,
// fundAmount in the native token.
func (s *Sequencer) Configure(selection map[string]bool, flowAmount, fundAmount string) error {
	flowUnits, err := amount.ToBaseUnits(flowAmount, s.decimals)
	if err != nil {
		return errors.Wrap(err, "invalid flow amount")
	}
	fundLamports, err := amount.ToBaseUnits(fundAmount, nativeDecimals)
	if err != nil {
		return errors.Wrap(err, "invalid fund amount")
	}

	enabled := make(map[StepID]bool)
	for _, step := range allSteps {
		value, ok := selection[step.Toggle]
		if !ok {
			value = true
		}
		enabled[step.ID] = value
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		return ErrRunInProgress
	}

	s.enabled = enabled
	s.flowUnits = flowUnits
	s.fundLamports = fundLamports
	s.configured = true

	return nil
}

// GenerateIdentities creates (or completes) the participant set. It cannot
// be called while a run is active.
func (s *Sequencer) GenerateIdentities(ctx context.Context) error {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return ErrRunInProgress
	}
	s.mu.Unlock()

	identities, err := s.manager.Generate(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.identities = make(map[string]*identity.Identity)
	for _, id := range identities {
		s.identities[id.Label] = id
	}
	s.registered = false

	return nil
}

// RestoreIdentities loads a previously generated participant set. Partial
// sets are tolerated; a run requires the full set.
func (s *Sequencer) RestoreIdentities(ctx context.Context) error {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return ErrRunInProgress
	}
	s.mu.Unlock()

	identities, err := s.manager.Restore(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.identities = make(map[string]*identity.Identity)
	for _, id := range identities {
		s.identities[id.Label] = id
	}
	s.registered = false

	return nil
}

// ResetIdentities discards the participant set and its stored keys.
func (s *Sequencer) ResetIdentities(ctx context.Context) error {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return ErrRunInProgress
	}
	s.mu.Unlock()

	if err := s.manager.Reset(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.identities = make(map[string]*identity.Identity)
	s.registered = false

	return nil
}

// Statuses returns a snapshot of every step's status.
func (s *Sequencer) Statuses() map[StepID]StepStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[StepID]StepStatus, len(s.statuses))
	for id, status := range s.statuses {
		snapshot[id] = status
	}
	return snapshot
}

// RunState returns the lifecycle state of the most recent run.
func (s *Sequencer) RunState() RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runState
}

// FlowState returns the current shared protocol state.
func (s *Sequencer) FlowState() veilpay.FlowState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flowState
}

// Events returns the run's status event stream.
func (s *Sequencer) Events() <-chan Event {
	return s.events
}

// runContext is the per-run working set. It is owned by the single active
// run, so no synchronization is required on it.
type runContext struct {
	identities map[string]*identity.Identity
	enabled    map[StepID]bool

	flowUnits    uint64
	fundLamports uint64

	// workingUnits is the flow amount after clamping to identity A's live
	// balance.
	workingUnits uint64

	// perSpendUnits is each enabled spend step's share of workingUnits.
	// Resolved once, lazily, before the first step that needs it.
	perSpendUnits  uint64
	spendsResolved bool
}

// Run executes every enabled step in order. It returns the first step
// failure, after sweeping statuses; disabled steps are skipped and left
// idle.
func (s *Sequencer) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return ErrRunInProgress
	}
	if !s.configured {
		s.mu.Unlock()
		return ErrMissingConfiguration
	}

	run := &runContext{
		identities:   s.identities,
		enabled:      make(map[StepID]bool, len(s.enabled)),
		flowUnits:    s.flowUnits,
		fundLamports: s.fundLamports,
		workingUnits: s.flowUnits,
	}
	for id, value := range s.enabled {
		run.enabled[id] = value
	}

	for _, label := range identity.AllLabels {
		if _, ok := run.identities[label]; !ok {
			s.mu.Unlock()
			return errors.Wrapf(ErrMissingIdentity, "identity %s", label)
		}
	}

	s.busy = true
	s.runState = RunStateRunning
	for _, step := range allSteps {
		s.statuses[step.ID] = StepStatusIdle
	}
	s.mu.Unlock()

	err := s.execute(ctx, run)

	s.mu.Lock()
	// Normally only one step is ever running, but funding fans out
	// concurrent calls; sweep anything still marked running.
	for id, status := range s.statuses {
		if status == StepStatusRunning {
			s.statuses[id] = StepStatusError
		}
	}
	if err != nil {
		s.runState = RunStateAborted
	} else {
		s.runState = RunStateCompleted
	}
	s.busy = false
	s.mu.Unlock()

	return err
}

type boundStep struct {
	id StepID
	fn func(context.Context, *runContext) error
}

func (s *Sequencer) execute(ctx context.Context, run *runContext) error {
	steps := []boundStep{
		{StepFund, s.fund},
		{StepDeposit, s.deposit},
		{StepTransferAB, s.transferAToB},
		{StepTransferBC, s.transferBToC},
	}

	if s.conf.withdrawBeforeExternal.Get(ctx) {
		steps = append(steps,
			boundStep{StepWithdraw, s.withdraw},
			boundStep{StepExternal, s.externalTransfer},
		)
	} else {
		steps = append(steps,
			boundStep{StepExternal, s.externalTransfer},
			boundStep{StepWithdraw, s.withdraw},
		)
	}

	steps = append(steps, boundStep{StepCleanup, s.cleanup})

	for _, step := range steps {
		if !run.enabled[step.id] {
			continue
		}

		s.setStatus(step.id, StepStatusRunning, "")
		if err := step.fn(ctx, run); err != nil {
			s.setStatus(step.id, StepStatusError, err.Error())
			return err
		}
		s.setStatus(step.id, StepStatusSuccess, "")
	}

	return nil
}

// fund airdrops native currency to every identity concurrently, registers
// each identity with the protocol, and wraps identity A's deposit amount
// into the flow token.
func (s *Sequencer) fund(ctx context.Context, run *runContext) error {
	var wg sync.WaitGroup
	airdropErrs := make([]error, len(identity.AllLabels))
	for i, label := range identity.AllLabels {
		wg.Add(1)
		go func(i int, id *identity.Identity) {
			defer wg.Done()
			_, airdropErrs[i] = s.gateway.RequestAirdrop(ctx, id.Owner, run.fundLamports)
		}(i, run.identities[label])
	}
	wg.Wait()

	for i, err := range airdropErrs {
		if err != nil {
			return errors.Wrapf(err, "error funding identity %s", identity.AllLabels[i])
		}
	}

	if err := s.registerIdentities(ctx, run); err != nil {
		return err
	}

	return s.wrapDepositAmount(ctx, run)
}

func (s *Sequencer) registerIdentities(ctx context.Context, run *runContext) error {
	s.mu.Lock()
	registered := s.registered
	s.mu.Unlock()

	if registered {
		return nil
	}

	for _, label := range identity.AllLabels {
		id := run.identities[label]
		sig, err := s.flows.RegisterIdentity(ctx, id.Owner, id.ViewKey)
		if err != nil {
			return errors.Wrapf(err, "error registering identity %s", label)
		}
		s.record(ctx, StepFund, sig)
	}

	s.mu.Lock()
	s.registered = true
	s.mu.Unlock()

	return nil
}

// wrapDepositAmount converts part of identity A's native balance into the
// flow token. Only meaningful for the wrapped native mint; other mints are
// assumed to be funded out of band.
func (s *Sequencer) wrapDepositAmount(ctx context.Context, run *runContext) error {
	if string(s.mint.PublicKey().ToBytes()) != string(token.NativeMint) {
		s.log.Debug("mint isn't the native token, skipping wrap")
		return nil
	}

	a := run.identities[identity.LabelA]

	ata, err := s.gateway.EnsureTokenAccount(ctx, a.Owner, a.Owner, s.mint)
	if err != nil {
		return errors.Wrap(err, "error creating token account")
	}

	sig, err := s.gateway.SubmitAndConfirm(
		ctx,
		a.Owner,
		nil,
		system.Transfer(a.Owner.PublicKey().ToBytes(), ata.PublicKey().ToBytes(), run.flowUnits),
		token.SyncNative(ata.PublicKey().ToBytes()),
	)
	if err != nil {
		return errors.Wrap(err, "error wrapping native balance")
	}
	s.record(ctx, StepFund, sig)

	return nil
}

// deposit resolves identity A's live balance, derives the spend allocation,
// and shields the working amount.
func (s *Sequencer) deposit(ctx context.Context, run *runContext) error {
	a := run.identities[identity.LabelA]

	balance, err := s.gateway.GetTokenBalance(ctx, a.Owner, s.mint)
	if err != nil {
		return errors.Wrap(err, "error getting token balance")
	}
	if balance == 0 {
		return errors.Wrap(ErrInsufficientBalance, "identity A has nothing to deposit")
	}

	working, clamped := amount.ClampToBalance(run.flowUnits, balance)
	if clamped {
		s.emit(Event{
			Step:    StepDeposit,
			Status:  StepStatusRunning,
			Message: "flow amount reduced to available balance " + amount.FromBaseUnits(working, s.decimals),
		})
	}
	run.workingUnits = working

	if err := s.resolveSpendAmounts(run); err != nil {
		return err
	}

	result, err := s.flows.Deposit(ctx, a.Owner, a.ViewKey, run.workingUnits, s.FlowState())
	if err != nil {
		s.recordFailure(ctx, StepDeposit, err)
		return err
	}

	s.mergeState(result.NewState)
	s.recordFlow(ctx, StepDeposit, result)

	return nil
}

// resolveSpendAmounts computes each enabled spend step's share of the
// working amount. A zero share with spend steps enabled rejects the run
// before anything is submitted; splitting further would otherwise submit
// zero-amount spends.
func (s *Sequencer) resolveSpendAmounts(run *runContext) error {
	if run.spendsResolved {
		return nil
	}

	var enabledSpends int
	for _, id := range spendSteps {
		if run.enabled[id] {
			enabledSpends++
		}
	}

	per := amount.SplitEvenly(run.workingUnits, enabledSpends)
	if enabledSpends > 0 && per == 0 {
		s.emit(Event{
			Step:    StepDeposit,
			Status:  StepStatusRunning,
			Message: "flow amount is too small to split across the enabled spend steps",
		})
		return errors.Wrapf(amount.ErrInvalidAmount, "%d units cannot be split %d ways", run.workingUnits, enabledSpends)
	}

	run.perSpendUnits = per
	run.spendsResolved = true

	return nil
}

func (s *Sequencer) transferAToB(ctx context.Context, run *runContext) error {
	a := run.identities[identity.LabelA]
	b := run.identities[identity.LabelB]

	result, err := s.flows.InternalTransfer(ctx, a.Owner, a.ViewKey, b.ViewKey, run.workingUnits, s.FlowState())
	if err != nil {
		s.recordFailure(ctx, StepTransferAB, err)
		return err
	}

	s.mergeState(result.NewState)
	s.recordFlow(ctx, StepTransferAB, result)

	return nil
}

func (s *Sequencer) transferBToC(ctx context.Context, run *runContext) error {
	if err := s.resolveSpendAmounts(run); err != nil {
		return err
	}

	b := run.identities[identity.LabelB]
	c := run.identities[identity.LabelC]

	result, err := s.flows.InternalTransfer(ctx, b.Owner, b.ViewKey, c.ViewKey, run.perSpendUnits, s.FlowState())
	if err != nil {
		s.recordFailure(ctx, StepTransferBC, err)
		return err
	}

	s.mergeState(result.NewState)
	s.recordFlow(ctx, StepTransferBC, result)

	return nil
}

// withdraw unshields identity C's share back to its own token account.
func (s *Sequencer) withdraw(ctx context.Context, run *runContext) error {
	if err := s.resolveSpendAmounts(run); err != nil {
		return err
	}

	c := run.identities[identity.LabelC]

	if _, err := s.gateway.EnsureTokenAccount(ctx, c.Owner, c.Owner, s.mint); err != nil {
		return errors.Wrap(err, "error creating token account")
	}

	result, err := s.flows.Withdraw(ctx, c.Owner, c.ViewKey, c.Owner, run.perSpendUnits, s.FlowState())
	if err != nil {
		s.recordFailure(ctx, StepWithdraw, err)
		return err
	}

	s.mergeState(result.NewState)
	s.recordFlow(ctx, StepWithdraw, result)

	return nil
}

// externalTransfer unshields identity B's share directly to the operator.
func (s *Sequencer) externalTransfer(ctx context.Context, run *runContext) error {
	if err := s.resolveSpendAmounts(run); err != nil {
		return err
	}

	b := run.identities[identity.LabelB]

	if _, err := s.gateway.EnsureTokenAccount(ctx, s.operator, s.operator, s.mint); err != nil {
		return errors.Wrap(err, "error creating operator token account")
	}

	result, err := s.flows.ExternalTransfer(ctx, b.Owner, b.ViewKey, s.operator, run.perSpendUnits, s.FlowState())
	if err != nil {
		s.recordFailure(ctx, StepExternal, err)
		return err
	}

	s.mergeState(result.NewState)
	s.recordFlow(ctx, StepExternal, result)

	return nil
}

// cleanup reclaims every identity's funds back to the operator: token
// balances are drained and the accounts closed, then native balances are
// swept minus the estimated fee. Completed protocol steps are never
// reversed.
func (s *Sequencer) cleanup(ctx context.Context, run *runContext) error {
	for _, label := range identity.AllLabels {
		id := run.identities[label]

		if err := s.cleanupTokenAccount(ctx, id); err != nil {
			return errors.Wrapf(ErrCleanupFailed, "identity %s: %s", label, err.Error())
		}
		if err := s.sweepNativeBalance(ctx, id); err != nil {
			return errors.Wrapf(ErrCleanupFailed, "identity %s: %s", label, err.Error())
		}
	}

	return nil
}

func (s *Sequencer) cleanupTokenAccount(ctx context.Context, id *identity.Identity) error {
	exists, err := s.gateway.HasTokenAccount(ctx, id.Owner, s.mint)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	balance, err := s.gateway.GetTokenBalance(ctx, id.Owner, s.mint)
	if err != nil {
		return err
	}

	ata, err := id.Owner.ToAssociatedTokenAccount(s.mint)
	if err != nil {
		return err
	}

	var instructions []solana.Instruction
	if balance > 0 {
		operatorAta, err := s.gateway.EnsureTokenAccount(ctx, s.operator, s.operator, s.mint)
		if err != nil {
			return err
		}

		// Closing a wrapped native account reclaims the balance as
		// lamports, so only unwrapped mints need the drain transfer.
		if string(s.mint.PublicKey().ToBytes()) != string(token.NativeMint) {
			instructions = append(instructions, token.Transfer(
				ata.PublicKey().ToBytes(),
				operatorAta.PublicKey().ToBytes(),
				id.Owner.PublicKey().ToBytes(),
				balance,
			))
		}
	}

	instructions = append(instructions, token.CloseAccount(
		ata.PublicKey().ToBytes(),
		id.Owner.PublicKey().ToBytes(),
		id.Owner.PublicKey().ToBytes(),
	))

	sig, err := s.gateway.SubmitAndConfirm(ctx, id.Owner, nil, instructions...)
	if err != nil {
		return err
	}
	s.record(ctx, StepCleanup, sig)

	return nil
}

func (s *Sequencer) sweepNativeBalance(ctx context.Context, id *identity.Identity) error {
	balance, err := s.gateway.GetNativeBalance(ctx, id.Owner)
	if err != nil {
		return err
	}

	fee := s.gateway.EstimatedFee()
	if balance <= fee {
		return nil
	}

	sig, err := s.gateway.SubmitAndConfirm(
		ctx,
		id.Owner,
		nil,
		system.Transfer(id.Owner.PublicKey().ToBytes(), s.operator.PublicKey().ToBytes(), balance-fee),
	)
	if err != nil {
		return err
	}
	s.record(ctx, StepCleanup, sig)

	return nil
}

func (s *Sequencer) mergeState(state veilpay.FlowState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flowState = state
}

func (s *Sequencer) setStatus(id StepID, status StepStatus, message string) {
	s.mu.Lock()
	s.statuses[id] = status
	s.mu.Unlock()

	s.emit(Event{Step: id, Status: status, Message: message})
}

// emit never blocks the run loop; events are dropped when the buffer is
// full.
func (s *Sequencer) emit(event Event) {
	select {
	case s.events <- event:
	default:
	}
}

func (s *Sequencer) record(ctx context.Context, step StepID, signature string) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordSubmission(ctx, string(step), signature); err != nil {
		s.log.WithError(err).Warn("failed to record submission")
	}
}

func (s *Sequencer) recordFlow(ctx context.Context, step StepID, result *veilpay.FlowResult) {
	if s.recorder == nil {
		return
	}

	var err error
	if result.Relayed {
		err = s.recorder.RecordRelayedSubmission(ctx, string(step), result.Signature)
	} else {
		err = s.recorder.RecordSubmission(ctx, string(step), result.Signature)
	}
	if err != nil {
		s.log.WithError(err).Warn("failed to record submission")
	}
}

func (s *Sequencer) recordFailure(ctx context.Context, step StepID, cause error) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordFailure(ctx, string(step), cause.Error()); err != nil {
		s.log.WithError(err).Warn("failed to record failure")
	}
}
