package oracle

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

var testOracleDiscriminator = anchorAccountDiscriminator("TestOracle")

// TestOracle is the admin-written price account used in place of a live feed.
type TestOracle struct {
	Price       uint64
	Expo        int32
	Conf        uint64
	PublishTime int64
}

func EncodeTestOracle(state TestOracle) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteBytes(testOracleDiscriminator[:], false); err != nil {
		return nil, fmt.Errorf("write test oracle discriminator: %w", err)
	}
	if err := enc.Encode(state); err != nil {
		return nil, fmt.Errorf("encode test oracle: %w", err)
	}
	return buf.Bytes(), nil
}

func DecodeTestOracle(data []byte) (TestOracle, error) {
	if len(data) < len(testOracleDiscriminator) {
		return TestOracle{}, fmt.Errorf("%w: payload too short", ErrInvalidOracleAccount)
	}
	if !bytes.Equal(data[:8], testOracleDiscriminator[:]) {
		return TestOracle{}, fmt.Errorf("%w: discriminator mismatch", ErrInvalidOracleAccount)
	}

	var state TestOracle
	dec := bin.NewBorshDecoder(data[8:])
	if err := dec.Decode(&state); err != nil {
		return TestOracle{}, fmt.Errorf("%w: %v", ErrInvalidOracleAccount, err)
	}
	if dec.Remaining() != 0 {
		return TestOracle{}, fmt.Errorf("%w: trailing bytes in payload", ErrInvalidOracleAccount)
	}
	return state, nil
}

type testReader struct {
	programID solana.PublicKey
}

func (r testReader) ReadFeed(account *Account) (Feed, error) {
	if account == nil {
		return Feed{}, fmt.Errorf("%w: missing account", ErrInvalidOracleAccount)
	}
	if !account.Owner.Equals(r.programID) {
		return Feed{}, fmt.Errorf("%w: owner mismatch (%s)", ErrInvalidOracleAccount, account.Owner)
	}
	state, err := DecodeTestOracle(account.Data)
	if err != nil {
		return Feed{}, err
	}
	price, err := testPriceAsSigned(state.Price)
	if err != nil {
		return Feed{}, err
	}
	return Feed{
		Type:        TypeTest,
		Price:       price,
		Exponent:    state.Expo,
		Confidence:  state.Conf,
		PublishTime: state.PublishTime,
	}, nil
}

func testPriceAsSigned(price uint64) (int64, error) {
	if price > 1<<63-1 {
		return 0, fmt.Errorf("%w: price %d exceeds i64", ErrInvalidOraclePrice, price)
	}
	return int64(price), nil
}

func anchorAccountDiscriminator(name string) [8]byte {
	hash := sha256.Sum256([]byte("account:" + name))
	var out [8]byte
	copy(out[:], hash[:8])
	return out
}
