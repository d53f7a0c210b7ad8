package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tiersale/core/types"
	"tiersale/native/sale"
)

const (
	defaultPageLimit uint32 = 50
	maxPageLimit     uint32 = 500
)

type transferJSON struct {
	Kind   string `json:"kind"`
	Token  string `json:"token"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type saleJSON struct {
	ID                uint32 `json:"id"`
	Owner             string `json:"owner"`
	Status            string `json:"status"`
	StartTime         uint64 `json:"startTime"`
	EndTime           uint64 `json:"endTime"`
	TokenContract     string `json:"tokenContract"`
	PaymentToken      string `json:"paymentToken"`
	Price             string `json:"price"`
	TotalTokensAmount string `json:"totalTokensAmount"`
	SoldAmount        string `json:"soldAmount"`
	TotalPayment      string `json:"totalPayment"`
	Participants      uint64 `json:"participants"`
	Withdrawn         bool   `json:"withdrawn"`
}

type purchaseJSON struct {
	TokensAmount string `json:"tokensAmount"`
	Timestamp    uint64 `json:"timestamp"`
	UnlockTime   uint64 `json:"unlockTime"`
}

type userInfoJSON struct {
	TotalPayment        string `json:"totalPayment"`
	TotalTokensBought   string `json:"totalTokensBought"`
	TotalTokensReceived string `json:"totalTokensReceived"`
}

type configJSON struct {
	Owner         string   `json:"owner"`
	TierContract  string   `json:"tierContract"`
	NftContract   string   `json:"nftContract"`
	TokenContract string   `json:"tokenContract"`
	MaxPayments   []string `json:"maxPayments"`
	LockPeriods   []uint64 `json:"lockPeriods"`
	Paused        bool     `json:"paused"`
}

type pageJSON[T any] struct {
	Items []T    `json:"items"`
	Total uint32 `json:"total"`
}

type statusResult struct {
	Status string `json:"status"`
}

var okResult = statusResult{Status: "ok"}

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func formatTransfers(transfers []types.Transfer) []transferJSON {
	out := make([]transferJSON, 0, len(transfers))
	for _, tr := range transfers {
		out = append(out, transferJSON{
			Kind:   tr.Kind.String(),
			Token:  tr.Token.Hex(),
			From:   tr.From.Hex(),
			To:     tr.To.Hex(),
			Amount: amountString(tr.Amount),
		})
	}
	return out
}

func formatSale(s *sale.Sale, now uint64) saleJSON {
	return saleJSON{
		ID:                s.ID,
		Owner:             s.Owner.Hex(),
		Status:            s.StatusAt(now).String(),
		StartTime:         s.StartTime,
		EndTime:           s.EndTime,
		TokenContract:     s.TokenContract.Hex(),
		PaymentToken:      s.PaymentToken.Hex(),
		Price:             amountString(s.Price),
		TotalTokensAmount: amountString(s.TotalTokensAmount),
		SoldAmount:        amountString(s.SoldAmount),
		TotalPayment:      amountString(s.TotalPayment),
		Participants:      s.Participants,
		Withdrawn:         s.Withdrawn,
	}
}

func formatPurchase(p sale.Purchase) purchaseJSON {
	return purchaseJSON{TokensAmount: amountString(p.TokensAmount), Timestamp: p.Timestamp, UnlockTime: p.UnlockTime}
}

func formatUserInfo(info *sale.UserInfo) userInfoJSON {
	return userInfoJSON{
		TotalPayment:        amountString(info.TotalPayment),
		TotalTokensBought:   amountString(info.TotalTokensBought),
		TotalTokensReceived: amountString(info.TotalTokensReceived),
	}
}

func formatConfig(cfg *sale.Config) configJSON {
	caps := make([]string, 0, len(cfg.MaxPayments))
	for _, v := range cfg.MaxPayments {
		caps = append(caps, amountString(v))
	}
	return configJSON{
		Owner:         cfg.Owner.Hex(),
		TierContract:  cfg.TierContract.Hex(),
		NftContract:   cfg.NftContract.Hex(),
		TokenContract: cfg.TokenContract.Hex(),
		MaxPayments:   caps,
		LockPeriods:   append([]uint64{}, cfg.LockPeriods...),
		Paused:        cfg.Paused,
	}
}

func mapPage[S, D any](page *sale.Page[S], conv func(S) D) pageJSON[D] {
	out := pageJSON[D]{Items: make([]D, 0, len(page.Items)), Total: page.Total}
	for _, item := range page.Items {
		out.Items = append(out.Items, conv(item))
	}
	return out
}

func invalidParams(format string, args ...interface{}) *RPCError {
	return &RPCError{status: http.StatusBadRequest, Code: codeInvalidParams, Message: "invalid_params", Data: fmt.Sprintf(format, args...)}
}

// decodeParams expects exactly one parameter object. Unknown fields are
// rejected so that misspelled options do not silently fall back to defaults.
func decodeParams(req *RPCRequest, out interface{}) *RPCError {
	if len(req.Params) != 1 {
		return invalidParams("exactly one parameter object expected")
	}
	dec := json.NewDecoder(bytes.NewReader(req.Params[0]))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return invalidParams("%s", err.Error())
	}
	return nil
}

func parseAddress(field, raw string) (common.Address, *RPCError) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return common.Address{}, invalidParams("%s required", field)
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, invalidParams("%s: %q is not a hex address", field, raw)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAddresses(field string, raw []string) ([]common.Address, *RPCError) {
	out := make([]common.Address, 0, len(raw))
	for i, value := range raw {
		addr, rpcErr := parseAddress(fmt.Sprintf("%s[%d]", field, i), value)
		if rpcErr != nil {
			return nil, rpcErr
		}
		out = append(out, addr)
	}
	return out, nil
}

// parseAmount parses a base-10 amount. Zero is accepted; the engines decide
// whether a zero amount is meaningful.
func parseAmount(field, raw string) (*uint256.Int, *RPCError) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, invalidParams("%s required", field)
	}
	v, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, invalidParams("%s: %v", field, err)
	}
	return v, nil
}

func pageWindow(start, limit *uint32) (uint32, uint32) {
	var s uint32
	if start != nil {
		s = *start
	}
	l := defaultPageLimit
	if limit != nil && *limit > 0 {
		l = *limit
	}
	if l > maxPageLimit {
		l = maxPageLimit
	}
	return s, l
}
