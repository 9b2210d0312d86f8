package routing

// Decision is the outcome of an admission check for a call request.
//
// Discard is silent: the caller is never told why the call did not ring.
// Reject is reported to the caller (e.g. calling yourself).
type Decision struct {
	Action Action `json:"action"`

	// Reason is for internal logs, metrics and audit only.
	Reason Reason `json:"reason,omitempty"`
}

type Action string

const (
	ActionRing    Action = "ring"
	ActionDiscard Action = "discard"
	ActionReject  Action = "reject"
)

type Reason string

const (
	ReasonAdmitted            Reason = "admitted"
	ReasonProviderUnavailable Reason = "provider_unavailable"
	ReasonCallerBlocked       Reason = "caller_blocked"
	ReasonUnknownCaller       Reason = "unknown_caller"
	ReasonSelfCall            Reason = "self_call"
	ReasonTargetNotFound      Reason = "target_not_found"
	ReasonInvalidParticipants Reason = "invalid_participants"
)

func (d Decision) Rings() bool { return d.Action == ActionRing }

func ring() Decision { return Decision{Action: ActionRing, Reason: ReasonAdmitted} }

func discard(r Reason) Decision { return Decision{Action: ActionDiscard, Reason: r} }

func reject(r Reason) Decision { return Decision{Action: ActionReject, Reason: r} }
