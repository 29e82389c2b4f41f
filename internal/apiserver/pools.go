package apiserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/perps/backend/internal/perps"
)

type poolListResponse struct {
	Items []perps.PoolView `json:"items"`
}

type poolStateResponse struct {
	perps.PoolView
	LiveAumUSD string `json:"live_aum_usd,omitempty"`
	AumError   string `json:"aum_error,omitempty"`
}

type aumResponse struct {
	Pool   string `json:"pool"`
	AumUSD string `json:"aum_usd"`
}

type addLiquidityRequest struct {
	Custody        solana.PublicKey `json:"custody"`
	Owner          solana.PublicKey `json:"owner"`
	FundingAccount solana.PublicKey `json:"funding_account"`
	LPTokenAccount solana.PublicKey `json:"lp_token_account"`
	Amount         uint64           `json:"amount"`
}

type removeLiquidityRequest struct {
	Custody          solana.PublicKey `json:"custody"`
	Owner            solana.PublicKey `json:"owner"`
	LPTokenAccount   solana.PublicKey `json:"lp_token_account"`
	ReceivingAccount solana.PublicKey `json:"receiving_account"`
	LPAmount         uint64           `json:"lp_amount"`
	MinAmountOut     uint64           `json:"min_amount_out"`
}

type swapRequest struct {
	ReceivingCustody  solana.PublicKey `json:"receiving_custody"`
	DispensingCustody solana.PublicKey `json:"dispensing_custody"`
	Owner             solana.PublicKey `json:"owner"`
	FundingAccount    solana.PublicKey `json:"funding_account"`
	ReceivingAccount  solana.PublicKey `json:"receiving_account"`
	AmountIn          uint64           `json:"amount_in"`
	MinAmountOut      uint64           `json:"min_amount_out"`
}

type quoteLiquidityRequest struct {
	Custody  solana.PublicKey `json:"custody"`
	Amount   uint64           `json:"amount"`
	LPAmount uint64           `json:"lp_amount"`
}

type quoteSwapRequest struct {
	ReceivingCustody  solana.PublicKey `json:"receiving_custody"`
	DispensingCustody solana.PublicKey `json:"dispensing_custody"`
	AmountIn          uint64           `json:"amount_in"`
}

func (s *Service) handlePoolsRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	s.respondJSON(w, http.StatusOK, poolListResponse{Items: s.engine.Pools()})
}

func (s *Service) handlePoolsSubroutes(w http.ResponseWriter, r *http.Request) {
	name, action := splitPoolSubroute(r.URL.Path)
	if name == "" {
		s.respondError(w, http.StatusNotFound, "pool name is required")
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			s.respondMethodNotAllowed(w)
			return
		}
		ctx, cancel := s.requestContext(r)
		defer cancel()
		state, err := s.poolState(ctx, name)
		if err != nil {
			s.respondEngineError(w, "get pool", err)
			return
		}
		s.respondJSON(w, http.StatusOK, state)
	case "aum":
		if r.Method != http.MethodGet {
			s.respondMethodNotAllowed(w)
			return
		}
		ctx, cancel := s.requestContext(r)
		defer cancel()
		aum, err := s.engine.AssetsUnderManagement(ctx, name)
		if err != nil {
			s.respondEngineError(w, "compute aum", err)
			return
		}
		s.respondJSON(w, http.StatusOK, aumResponse{Pool: name, AumUSD: aum.String()})
	case "add-liquidity":
		s.handleAddLiquidity(w, r, name)
	case "remove-liquidity":
		s.handleRemoveLiquidity(w, r, name)
	case "swap":
		s.handleSwap(w, r, name)
	case "quote/add-liquidity", "quote/remove-liquidity", "quote/swap":
		s.handleQuote(w, r, name, strings.TrimPrefix(action, "quote/"))
	default:
		s.respondError(w, http.StatusNotFound, "unknown pool route")
	}
}

func (s *Service) poolState(ctx context.Context, name string) (poolStateResponse, error) {
	view, err := s.engine.Pool(name)
	if err != nil {
		return poolStateResponse{}, err
	}
	state := poolStateResponse{PoolView: view}
	aum, err := s.engine.AssetsUnderManagement(ctx, name)
	if err != nil {
		state.AumError = err.Error()
		return state, nil
	}
	state.LiveAumUSD = aum.String()
	return state, nil
}

func (s *Service) handleAddLiquidity(w http.ResponseWriter, r *http.Request, poolName string) {
	if r.Method != http.MethodPost {
		s.respondMethodNotAllowed(w)
		return
	}
	var req addLiquidityRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	receipt, err := s.engine.AddLiquidity(ctx, perps.AddLiquidityParams{
		Pool:           poolName,
		Custody:        req.Custody,
		Owner:          req.Owner,
		FundingAccount: req.FundingAccount,
		LPTokenAccount: req.LPTokenAccount,
		Amount:         req.Amount,
	})
	if err != nil {
		s.respondEngineError(w, "add liquidity", err)
		return
	}
	s.respondJSON(w, http.StatusOK, receipt)
}

func (s *Service) handleRemoveLiquidity(w http.ResponseWriter, r *http.Request, poolName string) {
	if r.Method != http.MethodPost {
		s.respondMethodNotAllowed(w)
		return
	}
	var req removeLiquidityRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	receipt, err := s.engine.RemoveLiquidity(ctx, perps.RemoveLiquidityParams{
		Pool:             poolName,
		Custody:          req.Custody,
		Owner:            req.Owner,
		LPTokenAccount:   req.LPTokenAccount,
		ReceivingAccount: req.ReceivingAccount,
		LPAmount:         req.LPAmount,
		MinAmountOut:     req.MinAmountOut,
	})
	if err != nil {
		s.respondEngineError(w, "remove liquidity", err)
		return
	}
	s.respondJSON(w, http.StatusOK, receipt)
}

func (s *Service) handleSwap(w http.ResponseWriter, r *http.Request, poolName string) {
	if r.Method != http.MethodPost {
		s.respondMethodNotAllowed(w)
		return
	}
	var req swapRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	receipt, err := s.engine.Swap(ctx, perps.SwapParams{
		Pool:              poolName,
		ReceivingCustody:  req.ReceivingCustody,
		DispensingCustody: req.DispensingCustody,
		Owner:             req.Owner,
		FundingAccount:    req.FundingAccount,
		ReceivingAccount:  req.ReceivingAccount,
		AmountIn:          req.AmountIn,
		MinAmountOut:      req.MinAmountOut,
	})
	if err != nil {
		s.respondEngineError(w, "swap", err)
		return
	}
	s.respondJSON(w, http.StatusOK, receipt)
}

func (s *Service) handleQuote(w http.ResponseWriter, r *http.Request, poolName, kind string) {
	if r.Method != http.MethodPost {
		s.respondMethodNotAllowed(w)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	var (
		result any
		err    error
	)
	switch kind {
	case "swap":
		var req quoteSwapRequest
		if err := decodeJSONBody(r, &req); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		result, err = s.engine.QuoteSwap(ctx, poolName, req.ReceivingCustody, req.DispensingCustody, req.AmountIn)
	case "add-liquidity":
		var req quoteLiquidityRequest
		if err := decodeJSONBody(r, &req); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		result, err = s.engine.QuoteAddLiquidity(ctx, poolName, req.Custody, req.Amount)
	case "remove-liquidity":
		var req quoteLiquidityRequest
		if err := decodeJSONBody(r, &req); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		result, err = s.engine.QuoteRemoveLiquidity(ctx, poolName, req.Custody, req.LPAmount)
	}
	if err != nil {
		s.respondEngineError(w, "quote "+kind, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func splitPoolSubroute(path string) (string, string) {
	trimmed := strings.Trim(strings.TrimPrefix(path, "/v1/pools/"), "/")
	if trimmed == "" {
		return "", ""
	}
	segments := strings.Split(trimmed, "/")
	name := strings.TrimSpace(segments[0])
	if len(segments) == 1 {
		return name, ""
	}
	return name, strings.Join(segments[1:], "/")
}
