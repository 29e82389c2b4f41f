package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

const (
	PriceDecimals = 6
	USDDecimals   = 6
)

var (
	ErrUnsupportedOracle    = errors.New("unsupported price oracle")
	ErrInvalidOracleAccount = errors.New("invalid oracle account")
	ErrInvalidOracleState   = errors.New("invalid oracle state")
	ErrStaleOraclePrice     = errors.New("stale oracle price")
	ErrInvalidOraclePrice   = errors.New("invalid oracle price")
)

// Type selects the price source a custody reads from.
type Type uint8

const (
	TypeNone Type = iota
	TypeTest
	TypePyth
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeTest:
		return "test"
	case TypePyth:
		return "pyth"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

func ParseType(raw string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "none":
		return TypeNone, nil
	case "test":
		return TypeTest, nil
	case "pyth":
		return TypePyth, nil
	default:
		return TypeNone, fmt.Errorf("invalid oracle type %q (expected none|test|pyth)", raw)
	}
}

func (t Type) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Type) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode oracle type: %w", err)
	}
	parsed, err := ParseType(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Account is the raw on-chain state holding a price feed.
type Account struct {
	Key   solana.PublicKey
	Owner solana.PublicKey
	Data  []byte
}

// Feed is an unvalidated reading in the source's native units.
type Feed struct {
	Type        Type
	Price       int64
	Exponent    int32
	Confidence  uint64
	PublishTime int64
	Halted      bool
}
