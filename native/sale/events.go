package sale

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tiersale/core/events"
	"tiersale/core/types"
)

const (
	// EventTypeSaleStarted is emitted when a new sale is created.
	EventTypeSaleStarted = "sale.started"
	// EventTypeTokensBought is emitted for every accepted purchase.
	EventTypeTokensBought = "sale.purchase"
	// EventTypeVestedClaimed is emitted when vested entries are paid out.
	EventTypeVestedClaimed = "sale.claimed"
	// EventTypeUnsoldWithdrawn is emitted when the owner reclaims unsold inventory.
	EventTypeUnsoldWithdrawn = "sale.withdrawn"
	EventTypeWhitelistAdded   = "sale.whitelist.added"
	EventTypeWhitelistRemoved = "sale.whitelist.removed"
	EventTypeOwnerChanged     = "sale.config.owner"
	EventTypePaused           = "sale.config.paused"
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

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func scopeString(scope Scope) string {
	if id, ok := scope.SaleID(); ok {
		return strconv.FormatUint(uint64(id), 10)
	}
	return "global"
}

// SaleStartedEvent describes a created sale.
func SaleStartedEvent(s *Sale, whitelistSize uint32) *types.Event {
	return &types.Event{
		Type: EventTypeSaleStarted,
		Attributes: map[string]string{
			"saleId":        strconv.FormatUint(uint64(s.ID), 10),
			"owner":         s.Owner.Hex(),
			"token":         s.TokenContract.Hex(),
			"paymentToken":  s.PaymentToken.Hex(),
			"price":         amountString(s.Price),
			"total":         amountString(s.TotalTokensAmount),
			"startTime":     strconv.FormatUint(s.StartTime, 10),
			"endTime":       strconv.FormatUint(s.EndTime, 10),
			"whitelistSize": strconv.FormatUint(uint64(whitelistSize), 10),
		},
	}
}

// TokensBoughtEvent describes an accepted purchase.
func TokensBoughtEvent(saleID uint32, buyer common.Address, tier uint8, amount, payment *uint256.Int, unlock uint64) *types.Event {
	return &types.Event{
		Type: EventTypeTokensBought,
		Attributes: map[string]string{
			"saleId":     strconv.FormatUint(uint64(saleID), 10),
			"buyer":      buyer.Hex(),
			"tier":       strconv.FormatUint(uint64(tier), 10),
			"amount":     amountString(amount),
			"payment":    amountString(payment),
			"unlockTime": strconv.FormatUint(unlock, 10),
		},
	}
}

// VestedClaimedEvent describes a non-empty claim.
func VestedClaimedEvent(saleID uint32, investor common.Address, entries uint32, amount *uint256.Int) *types.Event {
	return &types.Event{
		Type: EventTypeVestedClaimed,
		Attributes: map[string]string{
			"saleId":   strconv.FormatUint(uint64(saleID), 10),
			"investor": investor.Hex(),
			"entries":  strconv.FormatUint(uint64(entries), 10),
			"amount":   amountString(amount),
		},
	}
}

// UnsoldWithdrawnEvent describes an owner withdrawal.
func UnsoldWithdrawnEvent(saleID uint32, owner common.Address, amount *uint256.Int) *types.Event {
	return &types.Event{
		Type: EventTypeUnsoldWithdrawn,
		Attributes: map[string]string{
			"saleId": strconv.FormatUint(uint64(saleID), 10),
			"owner":  owner.Hex(),
			"amount": amountString(amount),
		},
	}
}

// WhitelistChangedEvent describes a whitelist mutation.
func WhitelistChangedEvent(eventType string, scope Scope, requested int, size uint32) *types.Event {
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"scope":     scopeString(scope),
			"requested": strconv.Itoa(requested),
			"size":      strconv.FormatUint(uint64(size), 10),
		},
	}
}

// OwnerChangedEvent describes a platform ownership transfer.
func OwnerChangedEvent(previous, next common.Address) *types.Event {
	return &types.Event{
		Type: EventTypeOwnerChanged,
		Attributes: map[string]string{
			"previous": previous.Hex(),
			"owner":    next.Hex(),
		},
	}
}

// PausedEvent describes a pause switch change.
func PausedEvent(caller common.Address, paused bool) *types.Event {
	return &types.Event{
		Type: EventTypePaused,
		Attributes: map[string]string{
			"caller": caller.Hex(),
			"paused": strconv.FormatBool(paused),
		},
	}
}
