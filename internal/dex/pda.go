package dex

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var DefaultPerpetualsProgramID = solana.MustPublicKeyFromBase58("FAXYuthnTA4m7bSivEoxFeNUCMACD5RTxKN99WNUNjAg")

func DeriveTransferAuthorityPDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("transfer_authority")}, programID)
}

func DerivePerpetualsPDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("perpetuals")}, programID)
}

func DerivePoolPDA(programID solana.PublicKey, name string) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("pool"), []byte(name)}, programID)
}

func DeriveLPTokenMintPDA(programID, pool solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("lp_token_mint"), pool.Bytes()}, programID)
}

func DeriveCustodyPDA(programID, pool, mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("custody"), pool.Bytes(), mint.Bytes()}, programID)
}

func DeriveCustodyTokenAccountPDA(programID, pool, mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("custody_token_account"), pool.Bytes(), mint.Bytes()}, programID)
}

func DeriveOracleAccountPDA(programID, pool, mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("oracle_account"), pool.Bytes(), mint.Bytes()}, programID)
}

// ValidatePoolName enforces the 32 byte seed limit so the pool PDA is derivable.
func ValidatePoolName(name string) error {
	if name == "" {
		return fmt.Errorf("pool name is empty")
	}
	if len(name) > solana.MaxSeedLength {
		return fmt.Errorf("pool name %q exceeds %d bytes", name, solana.MaxSeedLength)
	}
	return nil
}

func MustDeriveOracleAccountPDA(programID, pool, mint solana.PublicKey) solana.PublicKey {
	pk, _, err := DeriveOracleAccountPDA(programID, pool, mint)
	if err != nil {
		panic(fmt.Errorf("derive oracle account PDA: %w", err))
	}
	return pk
}
