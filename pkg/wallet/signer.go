package wallet

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vmihailenco/msgpack/v5"

	"stablevault/pkg/ledger"
)

// PrivateKeySigner signs call digests using a local ECDSA private key.
type PrivateKeySigner struct {
	privateKey *ecdsa.PrivateKey
	address    string
}

// NewPrivateKeySigner constructs a signer from a hex-encoded private key.
func NewPrivateKeySigner(privateKeyHex string) (*PrivateKeySigner, error) {
	keyHex := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if keyHex == "" {
		return nil, errors.New("wallet: empty private key")
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("wallet: decode private key: %w", err)
	}
	return &PrivateKeySigner{
		privateKey: key,
		address:    strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex()),
	}, nil
}

// Sign produces an ECDSA signature for the provided 32-byte digest.
func (s *PrivateKeySigner) Sign(digest []byte) (*ledger.Signature, error) {
	if s == nil || s.privateKey == nil {
		return nil, errors.New("wallet: signer not initialised")
	}
	if len(digest) != 32 {
		return nil, fmt.Errorf("wallet: expected 32-byte digest, got %d bytes", len(digest))
	}
	sigBytes, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("wallet: sign digest: %w", err)
	}
	return &ledger.Signature{
		R: "0x" + hex.EncodeToString(sigBytes[:32]),
		S: "0x" + hex.EncodeToString(sigBytes[32:64]),
		V: int(sigBytes[64]) + 27,
	}, nil
}

// GetAddress returns the signer wallet address.
func (s *PrivateKeySigner) GetAddress() string {
	if s == nil {
		return ""
	}
	return s.address
}

// CallDigest builds the 32-byte digest a signer commits to: the Keccak hash
// of the msgpack-encoded call, the sender address bytes and the big-endian
// nonce. msgpack gives a deterministic byte encoding of the call structure.
func CallDigest(call *ledger.Call, sender string, nonce int64) ([]byte, error) {
	if call == nil {
		return nil, errors.New("wallet: call is required")
	}
	if nonce <= 0 {
		return nil, fmt.Errorf("wallet: nonce must be positive, got %d", nonce)
	}
	encoded, err := msgpack.Marshal(call)
	if err != nil {
		return nil, fmt.Errorf("wallet: msgpack encode call: %w", err)
	}

	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], uint64(nonce))

	payload := make([]byte, 0, len(encoded)+len(sender)+len(nonceBytes))
	payload = append(payload, encoded...)
	payload = append(payload, []byte(strings.ToLower(sender))...)
	payload = append(payload, nonceBytes[:]...)
	return crypto.Keccak256(payload), nil
}

func defaultNonce() int64 { return time.Now().UnixMilli() }
