package oracle

import (
	"bytes"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/perps/backend/internal/fixedpoint"
)

// Price is a validated quote: Price x 10^Exponent USD per whole token.
// Exponent is never positive once built by NewFromOracle.
type Price struct {
	Price       uint64 `json:"price"`
	Exponent    int32  `json:"exponent"`
	Confidence  uint64 `json:"confidence"`
	PublishTime int64  `json:"publishTime"`
}

// Reader extracts the raw feed carried by an oracle account.
type Reader interface {
	ReadFeed(account *Account) (Feed, error)
}

type noneReader struct{}

func (noneReader) ReadFeed(*Account) (Feed, error) {
	return Feed{}, fmt.Errorf("%w: oracle disabled", ErrUnsupportedOracle)
}

// ReaderFor returns the reader of oracleType. Test oracle accounts must be owned
// by programID.
func ReaderFor(oracleType Type, programID solana.PublicKey) (Reader, error) {
	switch oracleType {
	case TypeTest:
		return testReader{programID: programID}, nil
	case TypePyth:
		return pythReader{}, nil
	case TypeNone:
		return noneReader{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOracle, oracleType)
	}
}

// DetectType reports the feed type advertised by the account's discriminator.
// Unrecognised data yields TypeNone.
func DetectType(account *Account) Type {
	if account == nil || len(account.Data) < 8 {
		return TypeNone
	}
	switch {
	case bytes.Equal(account.Data[:8], testOracleDiscriminator[:]):
		return TypeTest
	case bytes.Equal(account.Data[:8], priceUpdateV2Discriminator[:]):
		return TypePyth
	default:
		return TypeNone
	}
}

// NewFromOracle reads and validates a quote. Checks run in a fixed order and the
// first failure wins: feed type, decoding, feed state, age, confidence, sign.
func NewFromOracle(oracleType Type, account *Account, programID solana.PublicKey, maxPriceError uint64, maxPriceAgeSec uint32, now int64) (Price, error) {
	if oracleType == TypeNone {
		return Price{}, fmt.Errorf("%w: oracle type none", ErrUnsupportedOracle)
	}
	advertised := DetectType(account)
	if advertised != TypeNone && advertised != oracleType {
		return Price{}, fmt.Errorf("%w: account holds a %s feed, custody expects %s", ErrUnsupportedOracle, advertised, oracleType)
	}
	reader, err := ReaderFor(oracleType, programID)
	if err != nil {
		return Price{}, err
	}

	feed, err := reader.ReadFeed(account)
	if err != nil {
		return Price{}, err
	}
	if feed.Halted {
		return Price{}, fmt.Errorf("%w: %s feed is not tradable", ErrInvalidOracleState, oracleType)
	}

	age, err := fixedpoint.CheckedSub(now, feed.PublishTime)
	if err != nil {
		return Price{}, fmt.Errorf("%w: %v", ErrStaleOraclePrice, err)
	}
	if age > int64(maxPriceAgeSec) {
		return Price{}, fmt.Errorf("%w: age %ds exceeds %ds", ErrStaleOraclePrice, age, maxPriceAgeSec)
	}
	if feed.Confidence > maxPriceError {
		return Price{}, fmt.Errorf("%w: confidence %d exceeds %d", ErrInvalidOraclePrice, feed.Confidence, maxPriceError)
	}
	if feed.Price <= 0 {
		return Price{}, fmt.Errorf("%w: non-positive price %d", ErrInvalidOraclePrice, feed.Price)
	}

	return normalize(Price{
		Price:       uint64(feed.Price),
		Exponent:    feed.Exponent,
		Confidence:  feed.Confidence,
		PublishTime: feed.PublishTime,
	})
}

// normalize folds a positive exponent into the coefficients.
func normalize(p Price) (Price, error) {
	if p.Exponent <= 0 {
		return p, nil
	}
	scale, err := fixedpoint.CheckedPow(uint64(10), uint32(p.Exponent))
	if err != nil {
		return Price{}, err
	}
	if p.Price, err = fixedpoint.CheckedMul(p.Price, scale); err != nil {
		return Price{}, err
	}
	if p.Confidence, err = fixedpoint.CheckedMul(p.Confidence, scale); err != nil {
		return Price{}, err
	}
	p.Exponent = 0
	return p, nil
}

// CheckedDiv returns the exchange ratio p / other at -PriceDecimals.
// The ratio carries no confidence and is as old as the older quote.
func (p Price) CheckedDiv(other Price) (Price, error) {
	ratio, err := fixedpoint.DecimalDiv(p.Price, p.Exponent, other.Price, other.Exponent, -PriceDecimals)
	if err != nil {
		return Price{}, err
	}
	return Price{
		Price:       ratio,
		Exponent:    -PriceDecimals,
		PublishTime: min(p.PublishTime, other.PublishTime),
	}, nil
}

// GetAssetAmountUSD values amount base units of a token with the given decimals.
func (p Price) GetAssetAmountUSD(amount uint64, decimals uint8) (uint64, error) {
	return fixedpoint.DecimalMul(p.Price, p.Exponent, amount, -int32(decimals), -USDDecimals)
}

// GetTokenAmount converts a USD amount into base units of a token with the given decimals.
func (p Price) GetTokenAmount(usd uint64, decimals uint8) (uint64, error) {
	return fixedpoint.DecimalDiv(usd, -USDDecimals, p.Price, p.Exponent, -int32(decimals))
}

func (p Price) String() string {
	return fmt.Sprintf("%de%d", p.Price, p.Exponent)
}
