// Package wallet provides the sign-and-submit capability consumed by the
// transaction orchestrator. The default implementation signs call digests
// with a local secp256k1 key; external wallets plug in through the Signer
// interface.
package wallet

import (
	"context"
	"errors"
	"fmt"

	"stablevault/pkg/ledger"
)

// ErrSignerRejected indicates the signer declined to authorise a call.
var ErrSignerRejected = errors.New("wallet: signer rejected")

// Signer produces signatures over 32-byte call digests.
type Signer interface {
	Sign(digest []byte) (*ledger.Signature, error)
	GetAddress() string
}

// Approver is consulted before signing. Returning an error declines the
// call; this is the hook for interactive confirmation flows.
type Approver func(call *ledger.Call) error

// Wallet combines a signer with a ledger writer to satisfy
// ledger.Submitter.
type Wallet struct {
	signer   Signer
	writer   ledger.Writer
	approver Approver
	nonceFn  func() int64
}

// WalletOption customises a Wallet.
type WalletOption func(*Wallet)

// WithApprover installs a confirmation hook invoked before signing.
func WithApprover(approver Approver) WalletOption {
	return func(w *Wallet) {
		if approver != nil {
			w.approver = approver
		}
	}
}

// WithNonceSource overrides the nonce source (primarily for testing).
func WithNonceSource(fn func() int64) WalletOption {
	return func(w *Wallet) {
		if fn != nil {
			w.nonceFn = fn
		}
	}
}

// New constructs a Wallet from a signer and a ledger writer.
func New(signer Signer, writer ledger.Writer, opts ...WalletOption) (*Wallet, error) {
	if signer == nil {
		return nil, errors.New("wallet: signer is required")
	}
	if writer == nil {
		return nil, errors.New("wallet: ledger writer is required")
	}
	w := &Wallet{signer: signer, writer: writer, nonceFn: defaultNonce}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Address returns the connected identity.
func (w *Wallet) Address() string {
	if w == nil || w.signer == nil {
		return ""
	}
	return w.signer.GetAddress()
}

// SignAndSubmit signs the assembled call and submits it for execution. This
// is the single suspension point that depends on external action; it carries
// no client-side timeout of its own.
func (w *Wallet) SignAndSubmit(ctx context.Context, call *ledger.Call) (*ledger.TxResult, error) {
	if call == nil {
		return nil, errors.New("wallet: call is required")
	}
	if w.approver != nil {
		if err := w.approver(call); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSignerRejected, err)
		}
	}

	nonce := w.nonceFn()
	digest, err := CallDigest(call, w.Address(), nonce)
	if err != nil {
		return nil, err
	}
	sig, err := w.signer.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignerRejected, err)
	}

	return w.writer.Submit(ctx, &ledger.SignedCall{
		Call:      call,
		Sender:    w.Address(),
		Nonce:     nonce,
		Signature: *sig,
	})
}
