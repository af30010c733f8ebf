package ledger

import (
	"fmt"
	"math/big"

	"golang.org/x/crypto/sha3"
)

var selectorMask = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 250), big.NewInt(1))

// Selector returns the Starknet entry point selector for name: keccak-256 of the name
// truncated to 250 bits.
func Selector(name string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(name))
	v := new(big.Int).SetBytes(h.Sum(nil))
	v.And(v, selectorMask)
	return fmt.Sprintf("0x%x", v)
}
