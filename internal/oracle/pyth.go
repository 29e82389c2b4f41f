package oracle

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

var (
	PythPushOracleProgramID    = solana.MustPublicKeyFromBase58("pythWSnswVUd12oZpeFP8e9CVaEqJg25g1Vtc2biRsT")
	priceUpdateV2Discriminator = [8]byte{34, 241, 35, 99, 157, 126, 244, 205}
)

const (
	verificationPartial uint8 = 0
	verificationFull    uint8 = 1
)

// PriceUpdateV2 mirrors the Pyth pull oracle price update account.
type PriceUpdateV2 struct {
	WriteAuthority  solana.PublicKey
	Verified        bool
	NumSignatures   uint8
	FeedID          [32]byte
	Price           int64
	Conf            uint64
	Exponent        int32
	PublishTime     int64
	PrevPublishTime int64
	EmaPrice        int64
	EmaConf         uint64
	PostedSlot      uint64
}

func DecodePriceUpdateV2(data []byte) (*PriceUpdateV2, error) {
	if len(data) < len(priceUpdateV2Discriminator) {
		return nil, fmt.Errorf("%w: payload too short", ErrInvalidOracleAccount)
	}
	if !bytes.Equal(data[:8], priceUpdateV2Discriminator[:]) {
		return nil, fmt.Errorf("%w: discriminator mismatch", ErrInvalidOracleAccount)
	}

	dec := bin.NewBorshDecoder(data[8:])
	out := &PriceUpdateV2{}

	authority, err := dec.ReadNBytes(32)
	if err != nil {
		return nil, fmt.Errorf("%w: missing write authority", ErrInvalidOracleAccount)
	}
	out.WriteAuthority = solana.PublicKeyFromBytes(authority)

	variant, err := dec.ReadUint8()
	if err != nil {
		return nil, fmt.Errorf("%w: missing verification level", ErrInvalidOracleAccount)
	}
	switch variant {
	case verificationFull:
		out.Verified = true
	case verificationPartial:
		if out.NumSignatures, err = dec.ReadUint8(); err != nil {
			return nil, fmt.Errorf("%w: missing partial signature count", ErrInvalidOracleAccount)
		}
	default:
		return nil, fmt.Errorf("%w: unknown verification level %d", ErrInvalidOracleAccount, variant)
	}

	feedID, err := dec.ReadNBytes(32)
	if err != nil {
		return nil, fmt.Errorf("%w: truncated feed id", ErrInvalidOracleAccount)
	}
	copy(out.FeedID[:], feedID)

	if out.Price, err = dec.ReadInt64(bin.LE); err != nil {
		return nil, fmt.Errorf("%w: truncated price", ErrInvalidOracleAccount)
	}
	if out.Conf, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, fmt.Errorf("%w: truncated conf", ErrInvalidOracleAccount)
	}
	if out.Exponent, err = dec.ReadInt32(bin.LE); err != nil {
		return nil, fmt.Errorf("%w: truncated exponent", ErrInvalidOracleAccount)
	}
	if out.PublishTime, err = dec.ReadInt64(bin.LE); err != nil {
		return nil, fmt.Errorf("%w: truncated publish time", ErrInvalidOracleAccount)
	}
	if out.PrevPublishTime, err = dec.ReadInt64(bin.LE); err != nil {
		return nil, fmt.Errorf("%w: truncated prev publish time", ErrInvalidOracleAccount)
	}
	if out.EmaPrice, err = dec.ReadInt64(bin.LE); err != nil {
		return nil, fmt.Errorf("%w: truncated ema price", ErrInvalidOracleAccount)
	}
	if out.EmaConf, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, fmt.Errorf("%w: truncated ema conf", ErrInvalidOracleAccount)
	}
	if out.PostedSlot, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, fmt.Errorf("%w: truncated posted slot", ErrInvalidOracleAccount)
	}
	if dec.Remaining() != 0 {
		return nil, fmt.Errorf("%w: trailing bytes in payload", ErrInvalidOracleAccount)
	}
	return out, nil
}

// EncodePriceUpdateV2 produces account data in the on-chain layout. Used for fixtures and replay.
func EncodePriceUpdateV2(update PriceUpdateV2) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)

	steps := []struct {
		label string
		fn    func() error
	}{
		{"discriminator", func() error { return enc.WriteBytes(priceUpdateV2Discriminator[:], false) }},
		{"write authority", func() error { return enc.WriteBytes(update.WriteAuthority[:], false) }},
		{"verification level", func() error {
			if update.Verified {
				return enc.WriteUint8(verificationFull)
			}
			if err := enc.WriteUint8(verificationPartial); err != nil {
				return err
			}
			return enc.WriteUint8(update.NumSignatures)
		}},
		{"feed id", func() error { return enc.WriteBytes(update.FeedID[:], false) }},
		{"price", func() error { return enc.WriteInt64(update.Price, bin.LE) }},
		{"conf", func() error { return enc.WriteUint64(update.Conf, bin.LE) }},
		{"exponent", func() error { return enc.WriteInt32(update.Exponent, bin.LE) }},
		{"publish time", func() error { return enc.WriteInt64(update.PublishTime, bin.LE) }},
		{"prev publish time", func() error { return enc.WriteInt64(update.PrevPublishTime, bin.LE) }},
		{"ema price", func() error { return enc.WriteInt64(update.EmaPrice, bin.LE) }},
		{"ema conf", func() error { return enc.WriteUint64(update.EmaConf, bin.LE) }},
		{"posted slot", func() error { return enc.WriteUint64(update.PostedSlot, bin.LE) }},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			return nil, fmt.Errorf("write %s: %w", step.label, err)
		}
	}
	return buf.Bytes(), nil
}

type pythReader struct{}

func (pythReader) ReadFeed(account *Account) (Feed, error) {
	if account == nil {
		return Feed{}, fmt.Errorf("%w: missing account", ErrInvalidOracleAccount)
	}
	if !account.Owner.Equals(PythPushOracleProgramID) {
		return Feed{}, fmt.Errorf("%w: owner mismatch (%s)", ErrInvalidOracleAccount, account.Owner)
	}
	update, err := DecodePriceUpdateV2(account.Data)
	if err != nil {
		return Feed{}, err
	}
	return Feed{
		Type:        TypePyth,
		Price:       update.Price,
		Exponent:    update.Exponent,
		Confidence:  update.Conf,
		PublishTime: update.PublishTime,
		// partially verified updates are not safe to price against
		Halted: !update.Verified,
	}, nil
}
