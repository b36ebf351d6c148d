// Package ledger defines the remote-ledger capabilities the client layer
// consumes: typed reads of on-chain objects and sign-and-submit writes.
// Implementations live in subpackages; this package carries only the
// contract between them and their consumers.
package ledger

import "context"

// Object is a generic on-chain object snapshot. Fields holds the decoded
// JSON field map of the object's current state.
type Object struct {
	ID      string
	Type    string
	Version uint64
	Owner   string
	Fields  map[string]any
}

// Coin is a fungible asset holding owned by an address.
type Coin struct {
	ID      string
	Type    string
	Balance uint64
}

// Reader exposes read access to remote ledger state.
type Reader interface {
	// GetObject fetches a single object by id.
	GetObject(ctx context.Context, id string) (*Object, error)
	// GetOwnedObjects lists objects owned by an address, filtered by the
	// full struct type tag.
	GetOwnedObjects(ctx context.Context, owner, structType string) ([]Object, error)
	// GetCoins lists fungible holdings of one asset type for an address.
	GetCoins(ctx context.Context, owner, coinType string) ([]Coin, error)
}

// ArgKind discriminates call argument encodings.
type ArgKind string

const (
	ArgObject    ArgKind = "object"
	ArgObjectVec ArgKind = "object_vec"
	ArgU64       ArgKind = "u64"
	ArgAddress   ArgKind = "address"
)

// Arg is one positional argument of a contract call. Argument order must
// match the deployed interface exactly; the ledger rejects any deviation.
type Arg struct {
	Kind    ArgKind  `json:"kind" msgpack:"kind"`
	Object  string   `json:"object,omitempty" msgpack:"object,omitempty"`
	Objects []string `json:"objects,omitempty" msgpack:"objects,omitempty"`
	U64     uint64   `json:"u64,omitempty" msgpack:"u64,omitempty"`
	Address string   `json:"address,omitempty" msgpack:"address,omitempty"`
}

// ObjectArg references an owned or shared object by id.
func ObjectArg(id string) Arg { return Arg{Kind: ArgObject, Object: id} }

// ObjectVecArg references an ordered vector of objects.
func ObjectVecArg(ids ...string) Arg { return Arg{Kind: ArgObjectVec, Objects: ids} }

// U64Arg encodes a base-unit scalar amount.
func U64Arg(v uint64) Arg { return Arg{Kind: ArgU64, U64: v} }

// AddressArg encodes a bare address.
func AddressArg(addr string) Arg { return Arg{Kind: ArgAddress, Address: addr} }

// Call names a target contract function with explicit type arguments and an
// ordered argument list.
type Call struct {
	Package  string   `json:"package" msgpack:"package"`
	Module   string   `json:"module" msgpack:"module"`
	Function string   `json:"function" msgpack:"function"`
	TypeArgs []string `json:"type_args,omitempty" msgpack:"type_args,omitempty"`
	Args     []Arg    `json:"args" msgpack:"args"`
}

// Signature carries the secp256k1 signature components of a signed call.
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

// SignedCall is a call plus the authorisation needed to submit it.
type SignedCall struct {
	Call      *Call     `json:"call"`
	Sender    string    `json:"sender"`
	Nonce     int64     `json:"nonce"`
	Signature Signature `json:"signature"`
}

// TxResult reports the outcome of a submitted call. Error holds the remote
// revert reason verbatim when Status is "failure".
type TxResult struct {
	Digest string `json:"digest"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Succeeded reports whether the ledger executed the call without revert.
func (r *TxResult) Succeeded() bool {
	return r != nil && r.Status == "success"
}

// Writer submits signed calls for execution.
type Writer interface {
	Submit(ctx context.Context, signed *SignedCall) (*TxResult, error)
}

// Submitter is the wallet-facing capability: it signs an assembled call and
// submits it, resolving or rejecting on the signer's say-so. Address returns
// the connected identity, or "" when none is connected.
type Submitter interface {
	SignAndSubmit(ctx context.Context, call *Call) (*TxResult, error)
	Address() string
}
