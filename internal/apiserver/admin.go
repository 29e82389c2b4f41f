package apiserver

import (
	"net/http"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/perps/backend/internal/perps"
)

type setTestOraclePriceRequest struct {
	Pool        string           `json:"pool"`
	Custody     solana.PublicKey `json:"custody"`
	Price       uint64           `json:"price"`
	Expo        int32            `json:"expo"`
	Conf        uint64           `json:"conf"`
	PublishTime int64            `json:"publish_time"`
}

type fundRequest struct {
	Pool   string           `json:"pool"`
	Owner  solana.PublicKey `json:"owner"`
	Mint   solana.PublicKey `json:"mint"`
	Amount uint64           `json:"amount"`
}

type fundResponse struct {
	TokenAccount   solana.PublicKey `json:"token_account"`
	LPTokenAccount solana.PublicKey `json:"lp_token_account"`
	Amount         uint64           `json:"amount"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

// handleSetTestOraclePrice writes a test oracle as the perpetuals admin. The
// oracle account is derived from the pool and custody mint.
func (s *Service) handleSetTestOraclePrice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondMethodNotAllowed(w)
		return
	}
	if status, err := s.requireAdmin(r); err != nil {
		s.respondError(w, status, err.Error())
		return
	}
	var req setTestOraclePriceRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	perpetuals, err := s.engine.Perpetuals()
	if err != nil {
		s.respondEngineError(w, "set test oracle price", err)
		return
	}
	view, err := s.engine.Pool(req.Pool)
	if err != nil {
		s.respondEngineError(w, "set test oracle price", err)
		return
	}
	var mint solana.PublicKey
	for _, c := range view.Custodies {
		if c.Key.Equals(req.Custody) {
			mint = c.Mint
		}
	}
	if mint.IsZero() {
		s.respondError(w, http.StatusNotFound, "custody not in pool")
		return
	}
	oracleAccount, err := s.engine.OracleAccountFor(req.Pool, mint)
	if err != nil {
		s.respondEngineError(w, "set test oracle price", err)
		return
	}

	publishTime := req.PublishTime
	if publishTime == 0 {
		publishTime = nowUnix()
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	err = s.engine.SetTestOraclePrice(ctx, perpetuals.Admin, perps.SetTestOraclePriceParams{
		Pool:          req.Pool,
		Custody:       req.Custody,
		OracleAccount: oracleAccount,
		Price:         req.Price,
		Expo:          req.Expo,
		Conf:          req.Conf,
		PublishTime:   publishTime,
	})
	if err != nil {
		s.respondEngineError(w, "set test oracle price", err)
		return
	}
	s.respondJSON(w, http.StatusOK, okResponse{OK: true})
}

// handleFund credits owner's token account for mint, creating it and the pool LP
// account as needed. Only in-memory ledgers support it.
func (s *Service) handleFund(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondMethodNotAllowed(w)
		return
	}
	if status, err := s.requireAdmin(r); err != nil {
		s.respondError(w, status, err.Error())
		return
	}
	if s.funder == nil {
		s.respondError(w, http.StatusNotImplemented, "ledger does not support funding")
		return
	}
	var req fundRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Owner.IsZero() || req.Mint.IsZero() {
		s.respondError(w, http.StatusBadRequest, "owner and mint are required")
		return
	}

	view, err := s.engine.Pool(req.Pool)
	if err != nil {
		s.respondEngineError(w, "fund", err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	tokenAccount, lpAccount, err := perps.EnsureUserAccounts(ctx, s.funder, req.Owner, req.Mint, view.Pool.LPTokenMint)
	if err != nil {
		s.respondEngineError(w, "fund", err)
		return
	}
	if req.Amount > 0 {
		if err := s.funder.Fund(ctx, tokenAccount, req.Amount); err != nil {
			s.respondEngineError(w, "fund", err)
			return
		}
	}
	s.logger.Info("account funded", "owner", req.Owner, "mint", req.Mint, "amount", req.Amount)
	s.respondJSON(w, http.StatusOK, fundResponse{TokenAccount: tokenAccount, LPTokenAccount: lpAccount, Amount: req.Amount})
}
