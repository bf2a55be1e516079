package signatures

import (
	"crypto/ecdsa"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/secp256k1"
)

var curve = secp256k1.S256()

// SignedDigest returns the digest a signer commits to for a raw report and
// its context triple (config digest, epoch/round, extra).
func SignedDigest(reportContext [3][32]byte, rawReport []byte) [32]byte {
	sigData := crypto.Keccak256(rawReport)
	sigData = append(sigData, reportContext[0][:]...)
	sigData = append(sigData, reportContext[1][:]...)
	sigData = append(sigData, reportContext[2][:]...)

	var digest [32]byte
	copy(digest[:], crypto.Keccak256(sigData))

	return digest
}

// EVMKeyring signs report digests with a secp256k1 key. The signing address
// doubles as the committee signer identity.
type EVMKeyring struct {
	privateKey ecdsa.PrivateKey
}

func NewEVMKeyring(material io.Reader) (*EVMKeyring, error) {
	ecdsaKey, err := ecdsa.GenerateKey(curve, material)
	if err != nil {
		return nil, err
	}

	return &EVMKeyring{privateKey: *ecdsaKey}, nil
}

// Address returns the signing address recovered by report verification.
func (k *EVMKeyring) Address() common.Address {
	return crypto.PubkeyToAddress(*(&k.privateKey).Public().(*ecdsa.PublicKey))
}

// SignReport signs the report digest and returns the signature split into
// the component form used by the transmit path.
func (k *EVMKeyring) SignReport(reportContext [3][32]byte, rawReport []byte) (r [32]byte, s [32]byte, v byte, err error) {
	digest := SignedDigest(reportContext, rawReport)

	signature, err := crypto.Sign(digest[:], &k.privateKey)
	if err != nil {
		return r, s, v, err
	}

	copy(r[:], signature[:32])
	copy(s[:], signature[32:64])
	v = signature[64]

	return r, s, v, nil
}

func (k *EVMKeyring) Marshal() ([]byte, error) {
	return crypto.FromECDSA(&k.privateKey), nil
}

func (k *EVMKeyring) Unmarshal(in []byte) error {
	privateKey, err := crypto.ToECDSA(in)
	if err != nil {
		return err
	}

	k.privateKey = *privateKey

	return nil
}
