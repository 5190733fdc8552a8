package veilpay

// ZeroRoot is the root of an empty shielded pool, as initialized on-chain.
var ZeroRoot = [32]byte{
	0x21, 0x34, 0xE7, 0x6A, 0xC5, 0xD2, 0x1A, 0xAB,
	0x18, 0x6C, 0x2B, 0xE1, 0xDD, 0x8F, 0x84, 0xEE,
	0x88, 0x0A, 0x1E, 0x46, 0xEA, 0xF7, 0x12, 0xF9,
	0xD3, 0x71, 0xB6, 0xDF, 0x22, 0x19, 0x1F, 0x3E,
}

// FlowState is the shared protocol state threaded through a run of the
// harness. Every state-mutating flow yields a new value; later flows must
// consume the latest value rather than a snapshot captured at run start.
type FlowState struct {
	// Root is the current shielded pool accumulator root.
	Root [32]byte

	// NextNullifier is the counter used to derive unique spend markers. It
	// never decreases and is never reused within a run.
	NextNullifier uint64
}

// InitialFlowState returns the state of an untouched shielded pool.
func InitialFlowState() FlowState {
	return FlowState{
		Root:          ZeroRoot,
		NextNullifier: 0,
	}
}

// FlowResult is the outcome of a single successful protocol flow.
type FlowResult struct {
	// Signature of the submitted transaction, base58 encoded.
	Signature string

	// Relayed marks a flow whose transaction carried a relayer fee split,
	// paying a third party for submission on the identity's behalf.
	Relayed bool

	// NewState is the protocol state after the flow's confirmed completion.
	NewState FlowState
}
