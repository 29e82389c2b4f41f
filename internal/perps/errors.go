package perps

import (
	"errors"

	"github.com/coldbell/perps/backend/internal/fixedpoint"
	"github.com/coldbell/perps/backend/internal/ledger"
	"github.com/coldbell/perps/backend/internal/oracle"
	"github.com/coldbell/perps/backend/internal/pool"
)

var (
	ErrInvalidAccountData = errors.New("invalid account data")
	ErrUnauthorized       = errors.New("signer is not the perpetuals admin")
	ErrNotInitialized     = errors.New("perpetuals not initialized")
	ErrAlreadyInitialized = errors.New("perpetuals already initialized")
	ErrPoolNotFound       = errors.New("pool not found")
	ErrPoolExists         = errors.New("pool already exists")
	ErrCustodyNotFound    = errors.New("custody not found")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{fixedpoint.ErrMathOverflow, "MathOverflow"},
	{oracle.ErrUnsupportedOracle, "UnsupportedOracle"},
	{oracle.ErrInvalidOracleAccount, "InvalidOracleAccount"},
	{oracle.ErrInvalidOracleState, "InvalidOracleState"},
	{oracle.ErrStaleOraclePrice, "StaleOraclePrice"},
	{oracle.ErrInvalidOraclePrice, "InvalidOraclePrice"},
	{pool.ErrInvalidTokenConfig, "InvalidTokenConfig"},
	{pool.ErrInsufficientAmountReturned, "InsufficientAmountReturned"},
	{pool.ErrMaxLeverage, "MaxLeverage"},
	{pool.ErrUnsupportedToken, "UnsupportedToken"},
	{pool.ErrInsufficientFunds, "InsufficientFunds"},
	{pool.ErrNotEnoughAccountKeys, "NotEnoughAccountKeys"},
	{pool.ErrCustodyKeyMismatch, "ConstraintKeysEq"},
	{pool.ErrSameCustody, "ConstraintKeysNeq"},
	{pool.ErrInvalidArgument, "InvalidArgument"},
	{ErrInvalidAccountData, "InvalidAccountData"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrNotInitialized, "AccountNotInitialized"},
	{ErrAlreadyInitialized, "AccountAlreadyInitialized"},
	{ErrPoolNotFound, "PoolNotFound"},
	{ErrPoolExists, "AccountAlreadyInUse"},
	{ErrCustodyNotFound, "CustodyNotFound"},
	{ledger.ErrInsufficientBalance, "InsufficientFunds"},
	{ledger.ErrOwnerMismatch, "OwnerMismatch"},
	{ledger.ErrMintMismatch, "MintMismatch"},
	{ledger.ErrAccountNotFound, "AccountNotFound"},
	{ledger.ErrMintNotFound, "AccountNotFound"},
	{ledger.ErrAccountExists, "AccountAlreadyInUse"},
}

// ErrorCode names the error kind carried by err for API callers. Wrapping never
// changes the kind; unknown errors map to "Internal".
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return "Internal"
}
