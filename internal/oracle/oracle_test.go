package oracle

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldbell/perps/backend/internal/fixedpoint"
)

const testNow = int64(1_700_000_000)

var testProgramID = solana.MustPublicKeyFromBase58("FAXYuthnTA4m7bSivEoxFeNUCMACD5RTxKN99WNUNjAg")

func testOracleAccount(t *testing.T, state TestOracle) *Account {
	t.Helper()
	data, err := EncodeTestOracle(state)
	require.NoError(t, err)
	return &Account{Key: solana.NewWallet().PublicKey(), Owner: testProgramID, Data: data}
}

func pythAccount(t *testing.T, update PriceUpdateV2) *Account {
	t.Helper()
	data, err := EncodePriceUpdateV2(update)
	require.NoError(t, err)
	return &Account{Key: solana.NewWallet().PublicKey(), Owner: PythPushOracleProgramID, Data: data}
}

func TestTestOracleRoundTrip(t *testing.T) {
	state := TestOracle{Price: 1230, Expo: -3, Conf: 5, PublishTime: testNow}
	account := testOracleAccount(t, state)

	decoded, err := DecodeTestOracle(account.Data)
	require.NoError(t, err)
	assert.Equal(t, state, decoded)
	assert.Equal(t, TypeTest, DetectType(account))

	_, err = DecodeTestOracle(append(account.Data, 0))
	assert.ErrorIs(t, err, ErrInvalidOracleAccount)
}

func TestNewFromOracleTest(t *testing.T) {
	account := testOracleAccount(t, TestOracle{Price: 1230, Expo: -3, PublishTime: testNow - 10})

	price, err := NewFromOracle(TypeTest, account, testProgramID, 10_000, 60, testNow)
	require.NoError(t, err)
	assert.Equal(t, Price{Price: 1230, Exponent: -3, PublishTime: testNow - 10}, price)
}

func TestNewFromOracleTestRequiresProgramOwner(t *testing.T) {
	account := testOracleAccount(t, TestOracle{Price: 1230, Expo: -3, PublishTime: testNow})

	foreign := *account
	foreign.Owner = solana.NewWallet().PublicKey()
	_, err := NewFromOracle(TypeTest, &foreign, testProgramID, 10_000, 60, testNow)
	assert.ErrorIs(t, err, ErrInvalidOracleAccount)

	unowned := *account
	unowned.Owner = solana.PublicKey{}
	_, err = NewFromOracle(TypeTest, &unowned, testProgramID, 10_000, 60, testNow)
	assert.ErrorIs(t, err, ErrInvalidOracleAccount)

	_, err = NewFromOracle(TypeTest, account, solana.NewWallet().PublicKey(), 10_000, 60, testNow)
	assert.ErrorIs(t, err, ErrInvalidOracleAccount, "accounts of another program are rejected")
}

func TestNewFromOracleStalenessBoundary(t *testing.T) {
	account := testOracleAccount(t, TestOracle{Price: 2000, Expo: -3, PublishTime: testNow - 60})

	_, err := NewFromOracle(TypeTest, account, testProgramID, 0, 60, testNow)
	require.NoError(t, err)

	_, err = NewFromOracle(TypeTest, account, testProgramID, 0, 60, testNow+1)
	assert.ErrorIs(t, err, ErrStaleOraclePrice)

	future := testOracleAccount(t, TestOracle{Price: 2000, Expo: -3, PublishTime: testNow + 30})
	_, err = NewFromOracle(TypeTest, future, testProgramID, 0, 60, testNow)
	assert.NoError(t, err)
}

func TestNewFromOracleValidationOrder(t *testing.T) {
	// stale, too wide and zero at once: staleness is reported first
	account := testOracleAccount(t, TestOracle{Price: 0, Expo: -3, Conf: 50, PublishTime: testNow - 100})
	_, err := NewFromOracle(TypeTest, account, testProgramID, 10, 60, testNow)
	assert.ErrorIs(t, err, ErrStaleOraclePrice)

	// fresh but too wide and zero: confidence wins over sign
	account = testOracleAccount(t, TestOracle{Price: 0, Expo: -3, Conf: 50, PublishTime: testNow})
	_, err = NewFromOracle(TypeTest, account, testProgramID, 10, 60, testNow)
	require.ErrorIs(t, err, ErrInvalidOraclePrice)
	assert.Contains(t, err.Error(), "confidence")

	account = testOracleAccount(t, TestOracle{Price: 0, Expo: -3, PublishTime: testNow})
	_, err = NewFromOracle(TypeTest, account, testProgramID, 10, 60, testNow)
	require.ErrorIs(t, err, ErrInvalidOraclePrice)
	assert.Contains(t, err.Error(), "non-positive")
}

func TestNewFromOracleTypeMismatch(t *testing.T) {
	account := testOracleAccount(t, TestOracle{Price: 1, PublishTime: testNow})

	_, err := NewFromOracle(TypeNone, account, testProgramID, 0, 60, testNow)
	assert.ErrorIs(t, err, ErrUnsupportedOracle)

	_, err = NewFromOracle(TypePyth, account, testProgramID, 0, 60, testNow)
	assert.ErrorIs(t, err, ErrUnsupportedOracle)

	_, err = NewFromOracle(Type(9), account, testProgramID, 0, 60, testNow)
	assert.ErrorIs(t, err, ErrUnsupportedOracle)

	garbage := &Account{Data: []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}}
	_, err = NewFromOracle(TypeTest, garbage, testProgramID, 0, 60, testNow)
	assert.ErrorIs(t, err, ErrInvalidOracleAccount)

	_, err = NewFromOracle(TypeTest, nil, testProgramID, 0, 60, testNow)
	assert.ErrorIs(t, err, ErrInvalidOracleAccount)
}

func TestNewFromOraclePyth(t *testing.T) {
	update := PriceUpdateV2{
		WriteAuthority: solana.NewWallet().PublicKey(),
		Verified:       true,
		Price:          6_512_345_678,
		Conf:           1_000_000,
		Exponent:       -8,
		PublishTime:    testNow - 5,
		PostedSlot:     42,
	}
	account := pythAccount(t, update)
	assert.Equal(t, TypePyth, DetectType(account))

	decoded, err := DecodePriceUpdateV2(account.Data)
	require.NoError(t, err)
	assert.Equal(t, update, *decoded)

	price, err := NewFromOracle(TypePyth, account, testProgramID, 2_000_000, 30, testNow)
	require.NoError(t, err)
	assert.Equal(t, Price{Price: 6_512_345_678, Exponent: -8, Confidence: 1_000_000, PublishTime: testNow - 5}, price)

	wrongOwner := *account
	wrongOwner.Owner = solana.NewWallet().PublicKey()
	_, err = NewFromOracle(TypePyth, &wrongOwner, testProgramID, 2_000_000, 30, testNow)
	assert.ErrorIs(t, err, ErrInvalidOracleAccount)

	update.Verified = false
	update.NumSignatures = 3
	partial := pythAccount(t, update)
	_, err = NewFromOracle(TypePyth, partial, testProgramID, 2_000_000, 30, testNow)
	assert.ErrorIs(t, err, ErrInvalidOracleState)

	update.Verified = true
	update.Price = -5
	negative := pythAccount(t, update)
	_, err = NewFromOracle(TypePyth, negative, testProgramID, 2_000_000, 30, testNow)
	assert.ErrorIs(t, err, ErrInvalidOraclePrice)
}

func TestNewFromOracleNormalizesPositiveExponent(t *testing.T) {
	account := testOracleAccount(t, TestOracle{Price: 12, Expo: 3, Conf: 1, PublishTime: testNow})

	price, err := NewFromOracle(TypeTest, account, testProgramID, 1, 60, testNow)
	require.NoError(t, err)
	assert.Equal(t, uint64(12_000), price.Price)
	assert.Equal(t, int32(0), price.Exponent)
	assert.Equal(t, uint64(1_000), price.Confidence)

	huge := testOracleAccount(t, TestOracle{Price: 12, Expo: 30, PublishTime: testNow})
	_, err = NewFromOracle(TypeTest, huge, testProgramID, 0, 60, testNow)
	assert.ErrorIs(t, err, fixedpoint.ErrMathOverflow)
}

func TestPriceConversions(t *testing.T) {
	tokenA := Price{Price: 1230, Exponent: -3, PublishTime: testNow - 3}
	tokenB := Price{Price: 2000, Exponent: -3, PublishTime: testNow}

	usd, err := tokenA.GetAssetAmountUSD(10_000_000_000, 9)
	require.NoError(t, err)
	assert.Equal(t, uint64(12_300_000), usd)

	tokens, err := tokenA.GetTokenAmount(10_000_000, 9)
	require.NoError(t, err)
	assert.Equal(t, uint64(8_130_081_300), tokens)

	ratio, err := tokenA.CheckedDiv(tokenB)
	require.NoError(t, err)
	assert.Equal(t, Price{Price: 615_000, Exponent: -6, PublishTime: testNow - 3}, ratio)

	_, err = tokenA.CheckedDiv(Price{})
	assert.ErrorIs(t, err, fixedpoint.ErrMathOverflow)
}

func TestMemoryAccountsAndLayers(t *testing.T) {
	ctx := context.Background()
	first := NewMemoryAccounts()
	second := NewMemoryAccounts()

	keyA := solana.NewWallet().PublicKey()
	keyB := solana.NewWallet().PublicKey()
	missing := solana.NewWallet().PublicKey()

	require.NoError(t, first.PutTestOracle(keyA, solana.PublicKey{}, TestOracle{Price: 1, PublishTime: testNow}))
	require.NoError(t, second.PutTestOracle(keyB, solana.PublicKey{}, TestOracle{Price: 2, PublishTime: testNow}))
	require.NoError(t, second.PutTestOracle(keyA, solana.PublicKey{}, TestOracle{Price: 99, PublishTime: testNow}))

	accounts, err := LayeredSources{first, second}.GetAccounts(ctx, []solana.PublicKey{keyA, missing, keyB})
	require.NoError(t, err)
	require.Len(t, accounts, 3)
	assert.Nil(t, accounts[1])

	stateA, err := DecodeTestOracle(accounts[0].Data)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stateA.Price)

	stateB, err := DecodeTestOracle(accounts[2].Data)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stateB.Price)
}

func TestParseType(t *testing.T) {
	parsed, err := ParseType("Pyth")
	require.NoError(t, err)
	assert.Equal(t, TypePyth, parsed)

	_, err = ParseType("chainlink")
	assert.Error(t, err)
}
