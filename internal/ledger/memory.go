package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/perps/backend/internal/fixedpoint"
)

var (
	ErrAccountNotFound     = errors.New("token account not found")
	ErrMintNotFound        = errors.New("mint not found")
	ErrAccountExists       = errors.New("account already exists")
	ErrOwnerMismatch       = errors.New("authority does not own the account")
	ErrMintMismatch        = errors.New("account belongs to a different mint")
	ErrInsufficientBalance = errors.New("insufficient token balance")
)

type TokenAccount struct {
	Key    solana.PublicKey `json:"key"`
	Mint   solana.PublicKey `json:"mint"`
	Owner  solana.PublicKey `json:"owner"`
	Amount uint64           `json:"amount"`
}

type Mint struct {
	Key       solana.PublicKey `json:"key"`
	Authority solana.PublicKey `json:"authority"`
	Decimals  uint8            `json:"decimals"`
	Supply    uint64           `json:"supply"`
}

// Memory is an in-process SPL-style token ledger. Every operation is atomic.
type Memory struct {
	mu       sync.Mutex
	mints    map[solana.PublicKey]*Mint
	accounts map[solana.PublicKey]*TokenAccount
}

func NewMemory() *Memory {
	return &Memory{
		mints:    make(map[solana.PublicKey]*Mint),
		accounts: make(map[solana.PublicKey]*TokenAccount),
	}
}

func (m *Memory) CreateMint(ctx context.Context, key, authority solana.PublicKey, decimals uint8) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.mints[key]; ok {
		return fmt.Errorf("%w: mint %s", ErrAccountExists, key)
	}
	m.mints[key] = &Mint{Key: key, Authority: authority, Decimals: decimals}
	return nil
}

func (m *Memory) CreateTokenAccount(ctx context.Context, key, mint, owner solana.PublicKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[key]; ok {
		return fmt.Errorf("%w: token account %s", ErrAccountExists, key)
	}
	if _, ok := m.mints[mint]; !ok {
		// external mints are registered on first use with no authority
		m.mints[mint] = &Mint{Key: mint}
	}
	m.accounts[key] = &TokenAccount{Key: key, Mint: mint, Owner: owner}
	return nil
}

// Fund credits an account out of thin air, growing the mint supply. Test and bootstrap use only.
func (m *Memory) Fund(ctx context.Context, key solana.PublicKey, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	account, err := m.account(key)
	if err != nil {
		return err
	}
	mint, err := m.mint(account.Mint)
	if err != nil {
		return err
	}
	return m.mintTo(mint, account, amount)
}

func (m *Memory) Balance(ctx context.Context, key solana.PublicKey) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	account, err := m.account(key)
	if err != nil {
		return 0, err
	}
	return account.Amount, nil
}

func (m *Memory) Supply(ctx context.Context, mintKey solana.PublicKey) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	mint, err := m.mint(mintKey)
	if err != nil {
		return 0, err
	}
	return mint.Supply, nil
}

// Deposit moves user tokens into a pool account; authority is the user.
func (m *Memory) Deposit(ctx context.Context, from, to, authority solana.PublicKey, amount uint64) error {
	return m.transfer(ctx, from, to, authority, amount)
}

// Withdraw moves pool tokens out; authority is the pool's transfer authority.
func (m *Memory) Withdraw(ctx context.Context, from, to, authority solana.PublicKey, amount uint64) error {
	return m.transfer(ctx, from, to, authority, amount)
}

func (m *Memory) Mint(ctx context.Context, mintKey, to, authority solana.PublicKey, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	mint, err := m.mint(mintKey)
	if err != nil {
		return err
	}
	if !mint.Authority.Equals(authority) {
		return fmt.Errorf("%w: mint %s authority is %s", ErrOwnerMismatch, mintKey, mint.Authority)
	}
	account, err := m.account(to)
	if err != nil {
		return err
	}
	if !account.Mint.Equals(mintKey) {
		return fmt.Errorf("%w: %s holds %s", ErrMintMismatch, to, account.Mint)
	}
	return m.mintTo(mint, account, amount)
}

func (m *Memory) Burn(ctx context.Context, mintKey, from, authority solana.PublicKey, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	mint, err := m.mint(mintKey)
	if err != nil {
		return err
	}
	account, err := m.account(from)
	if err != nil {
		return err
	}
	if !account.Mint.Equals(mintKey) {
		return fmt.Errorf("%w: %s holds %s", ErrMintMismatch, from, account.Mint)
	}
	if !account.Owner.Equals(authority) {
		return fmt.Errorf("%w: %s", ErrOwnerMismatch, from)
	}
	if account.Amount < amount {
		return fmt.Errorf("%w: %s has %d, burning %d", ErrInsufficientBalance, from, account.Amount, amount)
	}
	supply, err := fixedpoint.CheckedSub(mint.Supply, amount)
	if err != nil {
		return err
	}
	account.Amount -= amount
	mint.Supply = supply
	return nil
}

// Accounts lists every token account sorted by key.
func (m *Memory) Accounts() []TokenAccount {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]TokenAccount, 0, len(m.accounts))
	for _, account := range m.accounts {
		out = append(out, *account)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

func (m *Memory) transfer(ctx context.Context, fromKey, toKey, authority solana.PublicKey, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	from, err := m.account(fromKey)
	if err != nil {
		return err
	}
	to, err := m.account(toKey)
	if err != nil {
		return err
	}
	if !from.Owner.Equals(authority) {
		return fmt.Errorf("%w: %s", ErrOwnerMismatch, fromKey)
	}
	if !from.Mint.Equals(to.Mint) {
		return fmt.Errorf("%w: %s -> %s", ErrMintMismatch, fromKey, toKey)
	}
	if from.Amount < amount {
		return fmt.Errorf("%w: %s has %d, moving %d", ErrInsufficientBalance, fromKey, from.Amount, amount)
	}
	if fromKey.Equals(toKey) {
		return nil
	}
	credited, err := fixedpoint.CheckedAdd(to.Amount, amount)
	if err != nil {
		return err
	}
	from.Amount -= amount
	to.Amount = credited
	return nil
}

func (m *Memory) mintTo(mint *Mint, account *TokenAccount, amount uint64) error {
	supply, err := fixedpoint.CheckedAdd(mint.Supply, amount)
	if err != nil {
		return err
	}
	balance, err := fixedpoint.CheckedAdd(account.Amount, amount)
	if err != nil {
		return err
	}
	mint.Supply = supply
	account.Amount = balance
	return nil
}

func (m *Memory) account(key solana.PublicKey) (*TokenAccount, error) {
	account, ok := m.accounts[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, key)
	}
	return account, nil
}

func (m *Memory) mint(key solana.PublicKey) (*Mint, error) {
	mint, ok := m.mints[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMintNotFound, key)
	}
	return mint, nil
}
