package token

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tiersale/core/events"
	"tiersale/core/types"
)

const (
	// EventTypeTransfer is emitted for every balance movement, mints included.
	EventTypeTransfer = "token.transfer"
	// EventTypeApproval is emitted when an allowance is set.
	EventTypeApproval = "token.approval"
)

type eventEnvelope struct {
	evt *types.Event
}

func (e eventEnvelope) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e eventEnvelope) Event() *types.Event { return e.evt }

// WrapEvent converts a raw event payload into the emitter-friendly envelope.
func WrapEvent(evt *types.Event) events.Event { return eventEnvelope{evt: evt} }

// TransferEvent describes a balance movement.
func TransferEvent(token, from, to common.Address, amount *uint256.Int) *types.Event {
	return &types.Event{
		Type: EventTypeTransfer,
		Attributes: map[string]string{
			"token":  token.Hex(),
			"from":   from.Hex(),
			"to":     to.Hex(),
			"amount": amount.Dec(),
		},
	}
}

// ApprovalEvent describes an allowance change.
func ApprovalEvent(token, owner, spender common.Address, amount *uint256.Int) *types.Event {
	return &types.Event{
		Type: EventTypeApproval,
		Attributes: map[string]string{
			"token":   token.Hex(),
			"owner":   owner.Hex(),
			"spender": spender.Hex(),
			"amount":  amount.Dec(),
		},
	}
}
