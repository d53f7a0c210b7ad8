package rpc

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"tiersale/native/sale"
	"tiersale/native/token"
)

const (
	codeSaleInvalid    = -32030
	codeSaleForbidden  = -32031
	codeSaleNotFound   = -32032
	codeSaleCapacity   = -32033
	codeSaleConflict   = -32034
	codeSaleArithmetic = -32035
	codeSaleExternal   = -32036
)

type saleStartParams struct {
	Caller        string   `json:"caller"`
	StartTime     uint64   `json:"startTime"`
	EndTime       uint64   `json:"endTime"`
	TokenContract string   `json:"tokenContract"`
	PaymentToken  string   `json:"paymentToken,omitempty"`
	Price         string   `json:"price"`
	TotalAmount   string   `json:"totalAmount"`
	Whitelist     []string `json:"whitelist,omitempty"`
}

type nftTokenParams struct {
	TokenID    string `json:"tokenId"`
	ViewingKey string `json:"viewingKey"`
}

type saleBuyParams struct {
	Caller string          `json:"caller"`
	SaleID uint32          `json:"saleId"`
	Amount string          `json:"amount"`
	Token  *nftTokenParams `json:"token,omitempty"`
}

type saleClaimParams struct {
	Caller  string   `json:"caller"`
	SaleID  uint32   `json:"saleId"`
	Start   *uint32  `json:"start,omitempty"`
	Limit   *uint32  `json:"limit,omitempty"`
	Indices []uint32 `json:"indices,omitempty"`
}

type saleActorParams struct {
	Caller string `json:"caller"`
	SaleID uint32 `json:"saleId"`
}

type whitelistChangeParams struct {
	Caller    string   `json:"caller"`
	Addresses []string `json:"addresses"`
	// SaleID selects a sale whitelist; omitted means the global one.
	SaleID *uint32 `json:"saleId,omitempty"`
}

type changeOwnerParams struct {
	Caller   string `json:"caller"`
	NewOwner string `json:"newOwner"`
}

type setPausedParams struct {
	Caller string `json:"caller"`
	Paused bool   `json:"paused"`
}

type saleIDParams struct {
	SaleID uint32 `json:"saleId"`
}

type pageParams struct {
	Start *uint32 `json:"start,omitempty"`
	Limit *uint32 `json:"limit,omitempty"`
}

type inWhitelistParams struct {
	Address string `json:"address"`
	SaleID  uint32 `json:"saleId"`
}

type whitelistPageParams struct {
	SaleID *uint32 `json:"saleId,omitempty"`
	Start  *uint32 `json:"start,omitempty"`
	Limit  *uint32 `json:"limit,omitempty"`
}

type ownedByParams struct {
	Owner string  `json:"owner"`
	Start *uint32 `json:"start,omitempty"`
	Limit *uint32 `json:"limit,omitempty"`
}

type investorParams struct {
	Investor string `json:"investor"`
	// SaleID selects per-sale totals; omitted means totals across sales.
	SaleID *uint32 `json:"saleId,omitempty"`
}

type investorPageParams struct {
	Investor string  `json:"investor"`
	SaleID   uint32  `json:"saleId"`
	Start    *uint32 `json:"start,omitempty"`
	Limit    *uint32 `json:"limit,omitempty"`
}

type activeSalesParams struct {
	Investor string  `json:"investor"`
	Start    *uint32 `json:"start,omitempty"`
	Limit    *uint32 `json:"limit,omitempty"`
}

type saleStartResult struct {
	SaleID        uint32         `json:"saleId"`
	WhitelistSize uint32         `json:"whitelistSize"`
	Transfers     []transferJSON `json:"transfers"`
}

type saleBuyResult struct {
	Tier       uint8          `json:"tier"`
	Payment    string         `json:"payment"`
	UnlockTime uint64         `json:"unlockTime"`
	Index      uint32         `json:"index"`
	Transfers  []transferJSON `json:"transfers"`
}

type saleClaimResult struct {
	Amount    string         `json:"amount"`
	Claimed   uint32         `json:"claimed"`
	Transfers []transferJSON `json:"transfers"`
}

type saleWithdrawResult struct {
	Amount    string         `json:"amount"`
	Transfers []transferJSON `json:"transfers"`
}

type whitelistChangeResult struct {
	Size uint32 `json:"size"`
}

type saleCountResult struct {
	Count uint32 `json:"count"`
}

type inWhitelistResult struct {
	Whitelisted bool `json:"whitelisted"`
}

// saleError maps engine and ledger failures onto JSON-RPC errors.
func saleError(err error) *RPCError {
	status := http.StatusInternalServerError
	code := codeServerError
	message := "internal_error"
	var data interface{} = err.Error()
	var ceiling *sale.CeilingError
	switch {
	case errors.As(err, &ceiling):
		status = http.StatusConflict
		code = codeSaleCapacity
		message = "capacity_exceeded"
		data = map[string]string{"error": err.Error(), "ceiling": amountString(ceiling.Ceiling)}
	case errors.Is(err, sale.ErrValidation), errors.Is(err, token.ErrInvalidTransfer):
		status = http.StatusBadRequest
		code = codeSaleInvalid
		message = "invalid_request"
	case errors.Is(err, sale.ErrUnauthorized):
		status = http.StatusForbidden
		code = codeSaleForbidden
		message = "forbidden"
	case errors.Is(err, sale.ErrNotFound):
		status = http.StatusNotFound
		code = codeSaleNotFound
		message = "not_found"
	case errors.Is(err, sale.ErrCapacity):
		status = http.StatusConflict
		code = codeSaleCapacity
		message = "capacity_exceeded"
	case errors.Is(err, sale.ErrExternal):
		status = http.StatusBadGateway
		code = codeSaleExternal
		message = "external_failure"
	case errors.Is(err, sale.ErrState),
		errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientAllowance):
		status = http.StatusConflict
		code = codeSaleConflict
		message = "conflict"
	case errors.Is(err, sale.ErrArithmetic), errors.Is(err, token.ErrOverflow):
		status = http.StatusUnprocessableEntity
		code = codeSaleArithmetic
		message = "arithmetic_overflow"
	}
	return &RPCError{status: status, Code: code, Message: message, Data: data}
}

func parseScope(saleID *uint32) sale.Scope {
	if saleID == nil {
		return sale.GlobalScope
	}
	return sale.SaleScope(*saleID)
}

func (s *Server) handleSaleStart(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params saleStartParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress("caller", params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	tokenAddr, rpcErr := parseAddress("tokenContract", params.TokenContract)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var paymentToken common.Address
	if strings.TrimSpace(params.PaymentToken) != "" {
		if paymentToken, rpcErr = parseAddress("paymentToken", params.PaymentToken); rpcErr != nil {
			return nil, rpcErr
		}
	}
	price, rpcErr := parseAmount("price", params.Price)
	if rpcErr != nil {
		return nil, rpcErr
	}
	total, rpcErr := parseAmount("totalAmount", params.TotalAmount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	whitelist, rpcErr := parseAddresses("whitelist", params.Whitelist)
	if rpcErr != nil {
		return nil, rpcErr
	}
	res, err := s.node.SaleStart(r.Context(), caller, sale.StartSaleRequest{
		StartTime:     params.StartTime,
		EndTime:       params.EndTime,
		TokenContract: tokenAddr,
		PaymentToken:  paymentToken,
		Price:         price,
		TotalAmount:   total,
		Whitelist:     whitelist,
	})
	if err != nil {
		return nil, saleError(err)
	}
	return saleStartResult{
		SaleID:        res.SaleID,
		WhitelistSize: res.WhitelistSize,
		Transfers:     formatTransfers(res.Transfers),
	}, nil
}

func (s *Server) handleSaleBuy(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params saleBuyParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress("caller", params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount("amount", params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	buy := sale.BuyRequest{SaleID: params.SaleID, Amount: amount}
	if params.Token != nil {
		buy.Token = &sale.NftToken{TokenID: params.Token.TokenID, ViewingKey: params.Token.ViewingKey}
	}
	res, err := s.node.SaleBuy(r.Context(), caller, buy)
	if err != nil {
		return nil, saleError(err)
	}
	return saleBuyResult{
		Tier:       res.Tier,
		Payment:    amountString(res.Payment),
		UnlockTime: res.UnlockTime,
		Index:      res.Index,
		Transfers:  formatTransfers(res.Transfers),
	}, nil
}

func (s *Server) handleSaleClaim(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params saleClaimParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress("caller", params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	res, err := s.node.SaleClaim(r.Context(), caller, sale.ClaimRequest{
		SaleID:  params.SaleID,
		Start:   params.Start,
		Limit:   params.Limit,
		Indices: params.Indices,
	})
	if err != nil {
		return nil, saleError(err)
	}
	return saleClaimResult{
		Amount:    amountString(res.Amount),
		Claimed:   res.Claimed,
		Transfers: formatTransfers(res.Transfers),
	}, nil
}

func (s *Server) handleSaleWithdraw(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params saleActorParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress("caller", params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	res, err := s.node.SaleWithdraw(r.Context(), caller, params.SaleID)
	if err != nil {
		return nil, saleError(err)
	}
	return saleWithdrawResult{Amount: amountString(res.Amount), Transfers: formatTransfers(res.Transfers)}, nil
}

func (s *Server) whitelistChange(r *http.Request, req *RPCRequest, apply func(ctx context.Context, caller common.Address, addrs []common.Address, scope sale.Scope) (uint32, error)) (interface{}, *RPCError) {
	var params whitelistChangeParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress("caller", params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	addrs, rpcErr := parseAddresses("addresses", params.Addresses)
	if rpcErr != nil {
		return nil, rpcErr
	}
	size, err := apply(r.Context(), caller, addrs, parseScope(params.SaleID))
	if err != nil {
		return nil, saleError(err)
	}
	return whitelistChangeResult{Size: size}, nil
}

func (s *Server) handleSaleWhitelistAdd(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	return s.whitelistChange(r, req, s.node.SaleWhitelistAdd)
}

func (s *Server) handleSaleWhitelistRemove(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	return s.whitelistChange(r, req, s.node.SaleWhitelistRemove)
}

func (s *Server) handleSaleChangeOwner(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params changeOwnerParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress("caller", params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	newOwner, rpcErr := parseAddress("newOwner", params.NewOwner)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.node.SaleChangeOwner(r.Context(), caller, newOwner); err != nil {
		return nil, saleError(err)
	}
	return okResult, nil
}

func (s *Server) handleSaleSetPaused(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params setPausedParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress("caller", params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.node.SaleSetPaused(r.Context(), caller, params.Paused); err != nil {
		return nil, saleError(err)
	}
	return okResult, nil
}

func (s *Server) handleSaleConfig(_ *http.Request, _ *RPCRequest) (interface{}, *RPCError) {
	cfg, err := s.node.SaleConfig()
	if err != nil {
		return nil, saleError(err)
	}
	return formatConfig(cfg), nil
}

func (s *Server) handleSaleCount(_ *http.Request, _ *RPCRequest) (interface{}, *RPCError) {
	count, err := s.node.SaleCount()
	if err != nil {
		return nil, saleError(err)
	}
	return saleCountResult{Count: count}, nil
}

func (s *Server) handleSaleGet(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params saleIDParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	info, err := s.node.SaleInfo(params.SaleID)
	if err != nil {
		return nil, saleError(err)
	}
	return formatSale(info, s.node.Now()), nil
}

func (s *Server) handleSaleList(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params pageParams
	if len(req.Params) > 0 {
		if rpcErr := decodeParams(req, &params); rpcErr != nil {
			return nil, rpcErr
		}
	}
	start, limit := pageWindow(params.Start, params.Limit)
	page, err := s.node.Sales(start, limit)
	if err != nil {
		return nil, saleError(err)
	}
	now := s.node.Now()
	return mapPage(page, func(item sale.Sale) saleJSON { return formatSale(&item, now) }), nil
}

func (s *Server) handleSaleInWhitelist(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params inWhitelistParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseAddress("address", params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	ok, err := s.node.SaleInWhitelist(addr, params.SaleID)
	if err != nil {
		return nil, saleError(err)
	}
	return inWhitelistResult{Whitelisted: ok}, nil
}

func (s *Server) handleSaleWhitelist(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params whitelistPageParams
	if len(req.Params) > 0 {
		if rpcErr := decodeParams(req, &params); rpcErr != nil {
			return nil, rpcErr
		}
	}
	start, limit := pageWindow(params.Start, params.Limit)
	page, err := s.node.SaleWhitelist(parseScope(params.SaleID), start, limit)
	if err != nil {
		return nil, saleError(err)
	}
	return mapPage(page, func(addr common.Address) string { return addr.Hex() }), nil
}

func (s *Server) handleSaleOwnedBy(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params ownedByParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	owner, rpcErr := parseAddress("owner", params.Owner)
	if rpcErr != nil {
		return nil, rpcErr
	}
	start, limit := pageWindow(params.Start, params.Limit)
	page, err := s.node.SalesOwnedBy(owner, start, limit)
	if err != nil {
		return nil, saleError(err)
	}
	return mapPage(page, func(id uint32) uint32 { return id }), nil
}

func (s *Server) handleSaleUserInfo(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params investorParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	investor, rpcErr := parseAddress("investor", params.Investor)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var (
		info *sale.UserInfo
		err  error
	)
	if params.SaleID != nil {
		info, err = s.node.SaleUserInfo(investor, *params.SaleID)
	} else {
		info, err = s.node.SaleInvestorTotals(investor)
	}
	if err != nil {
		return nil, saleError(err)
	}
	return formatUserInfo(info), nil
}

func (s *Server) purchasePage(req *RPCRequest, list func(investor common.Address, id, start, limit uint32) (*sale.Page[sale.Purchase], error)) (interface{}, *RPCError) {
	var params investorPageParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	investor, rpcErr := parseAddress("investor", params.Investor)
	if rpcErr != nil {
		return nil, rpcErr
	}
	start, limit := pageWindow(params.Start, params.Limit)
	page, err := list(investor, params.SaleID, start, limit)
	if err != nil {
		return nil, saleError(err)
	}
	return mapPage(page, formatPurchase), nil
}

func (s *Server) handleSalePurchases(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	return s.purchasePage(req, s.node.SalePurchases)
}

func (s *Server) handleSaleArchivedPurchases(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	return s.purchasePage(req, s.node.SaleArchivedPurchases)
}

func (s *Server) handleSaleActiveSales(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params activeSalesParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	investor, rpcErr := parseAddress("investor", params.Investor)
	if rpcErr != nil {
		return nil, rpcErr
	}
	start, limit := pageWindow(params.Start, params.Limit)
	page, err := s.node.SaleActive(investor, start, limit)
	if err != nil {
		return nil, saleError(err)
	}
	return mapPage(page, func(id uint32) uint32 { return id }), nil
}
