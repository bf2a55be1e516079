package signatures

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/smartcontractkit/chainlink-automation-registry/pkg/types"
)

// EVMVerifier recovers signer addresses from secp256k1 report signatures.
/// It is a pure check: membership, threshold, and duplicate rules against the
// active committee are enforced by the caller, which owns that state.
type EVMVerifier struct{}

func NewEVMVerifier() *EVMVerifier {
	return &EVMVerifier{}
}

// RecoverSigners recovers one address per (r, s, v) component triple over the
// signed report digest. Component list length mismatches and unrecoverable
// signatures are rejected; ordering of the result matches the input.
func (v *EVMVerifier) RecoverSigners(reportContext [3][32]byte, rawReport []byte, rs [][32]byte, ss [][32]byte, rawVs [32]byte) ([]common.Address, error) {
	if len(ss) != len(rs) {
		return nil, fmt.Errorf("%w: signature component lengths differ", types.ErrInvalidSignature)
	}

	if len(rs) > len(rawVs) {
		return nil, fmt.Errorf("%w: too many signatures", types.ErrInvalidSignature)
	}

	digest := SignedDigest(reportContext, rawReport)
	signers := make([]common.Address, len(rs))

	for i := range rs {
		signature := make([]byte, 65)
		copy(signature[:32], rs[i][:])
		copy(signature[32:64], ss[i][:])
		signature[64] = rawVs[i]

		pubkey, err := crypto.SigToPub(digest[:], signature)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", types.ErrInvalidSignature, err)
		}

		signers[i] = crypto.PubkeyToAddress(*pubkey)
	}

	return signers, nil
}
