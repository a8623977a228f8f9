// Package interrogator drives the per-file pipeline: claim the file,
// fetch and validate its envelope header, rewrap the header for the
// central recipient key, write the result to the interrogation bucket
// and report the outcome.
package interrogator

// State tracks how far a file has progressed through the pipeline.
type State int

const (
	StateNotified State = iota
	StateClaimed
	StateHeaderFetched
	StateHeaderValidated
	StateRecipientKeyResolved
	StateHeaderRewrapped
	StateWritten
	StateReported

	// StateRejectedPermanent is terminal: the file can never be
	// accepted and a rejection was reported.
	StateRejectedPermanent
	// StateFailed is terminal for this attempt only: the claim is
	// released and a later notification may retry.
	StateFailed
)

var stateNames = map[State]string{
	StateNotified:             "notified",
	StateClaimed:              "claimed",
	StateHeaderFetched:        "header_fetched",
	StateHeaderValidated:      "header_validated",
	StateRecipientKeyResolved: "recipient_key_resolved",
	StateHeaderRewrapped:      "header_rewrapped",
	StateWritten:              "written",
	StateReported:             "reported",
	StateRejectedPermanent:    "rejected_permanent",
	StateFailed:               "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}
