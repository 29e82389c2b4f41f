// Package pool holds custody bookkeeping and the pool-level pricing of liquidity
// and swaps. Everything here is pure: quotes arrive already validated and no call
// blocks. Liquidity and swap methods mutate the records they are handed, so callers
// that need all-or-nothing semantics work on copies and discard them on error.
package pool
