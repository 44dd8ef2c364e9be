package codegen

import (
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/stackgen-lang/stackgen/internal/ir"
)

// Signature is the canonical "name(uint256,...)" form; every argument is
// one word.
func Signature(fn *ir.Function) string {
	types := make([]string, len(fn.Params))
	for i := range types {
		types[i] = "uint256"
	}
	return fn.Name + "(" + strings.Join(types, ",") + ")"
}

// Selector is the first four bytes of the keccak hash of the signature.
func Selector(fn *ir.Function) [4]byte {
	var sel [4]byte
	copy(sel[:], crypto.Keccak256([]byte(Signature(fn))))
	return sel
}
