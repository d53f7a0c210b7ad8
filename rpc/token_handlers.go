package rpc

import (
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

type tokenBalanceParams struct {
	Token  string `json:"token"`
	Holder string `json:"holder"`
}

type tokenHoldersParams struct {
	Token string  `json:"token"`
	Start *uint32 `json:"start,omitempty"`
	Limit *uint32 `json:"limit,omitempty"`
}

type tokenApproveParams struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
	// Spender defaults to the custody account.
	Spender string `json:"spender,omitempty"`
	Amount  string `json:"amount"`
}

type tokenTransferParams struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type faucetMintParams struct {
	Token  string `json:"token"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type faucetTierParams struct {
	Address string `json:"address"`
	Tier    uint8  `json:"tier"`
}

type tokenBalanceResult struct {
	Token            string `json:"token"`
	Holder           string `json:"holder"`
	Balance          string `json:"balance"`
	CustodyAllowance string `json:"custodyAllowance"`
}

func (s *Server) handleTokenBalance(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params tokenBalanceParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	tokenAddr, rpcErr := parseAddress("token", params.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	holder, rpcErr := parseAddress("holder", params.Holder)
	if rpcErr != nil {
		return nil, rpcErr
	}
	bal, err := s.node.TokenBalanceOf(tokenAddr, holder)
	if err != nil {
		return nil, saleError(err)
	}
	return tokenBalanceResult{
		Token:            bal.Token.Hex(),
		Holder:           bal.Holder.Hex(),
		Balance:          amountString(bal.Balance),
		CustodyAllowance: amountString(bal.Allowance),
	}, nil
}

func (s *Server) handleTokenHolders(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params tokenHoldersParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	tokenAddr, rpcErr := parseAddress("token", params.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	start, limit := pageWindow(params.Start, params.Limit)
	page, err := s.node.TokenHolders(tokenAddr, start, limit)
	if err != nil {
		return nil, saleError(err)
	}
	return mapPage(page, func(addr common.Address) string { return addr.Hex() }), nil
}

func (s *Server) handleTokenApprove(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params tokenApproveParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	owner, rpcErr := parseAddress("caller", params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	tokenAddr, rpcErr := parseAddress("token", params.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	spender := s.node.Custody()
	if strings.TrimSpace(params.Spender) != "" {
		if spender, rpcErr = parseAddress("spender", params.Spender); rpcErr != nil {
			return nil, rpcErr
		}
	}
	amount, rpcErr := parseAmount("amount", params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.node.TokenApprove(r.Context(), owner, tokenAddr, spender, amount); err != nil {
		return nil, saleError(err)
	}
	return okResult, nil
}

func (s *Server) handleTokenTransfer(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params tokenTransferParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	from, rpcErr := parseAddress("caller", params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	tokenAddr, rpcErr := parseAddress("token", params.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	to, rpcErr := parseAddress("to", params.To)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount("amount", params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.node.TokenTransfer(r.Context(), from, tokenAddr, to, amount); err != nil {
		return nil, saleError(err)
	}
	return okResult, nil
}

func (s *Server) handleFaucetMint(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params faucetMintParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	tokenAddr, rpcErr := parseAddress("token", params.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	to, rpcErr := parseAddress("to", params.To)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount("amount", params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.node.TokenMint(r.Context(), tokenAddr, to, amount); err != nil {
		return nil, saleError(err)
	}
	return okResult, nil
}

func (s *Server) handleFaucetSetTier(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params faucetTierParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseAddress("address", params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.node.TierSet(r.Context(), addr, params.Tier); err != nil {
		return nil, saleError(err)
	}
	return okResult, nil
}
