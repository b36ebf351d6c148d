package jsonrpc

import (
	"fmt"
	"strconv"

	"stablevault/pkg/ledger"
)

// objectDTO mirrors the node's object representation on the wire.
type objectDTO struct {
	ObjectID string         `json:"objectId"`
	Type     string         `json:"type"`
	Version  uint64         `json:"version"`
	Owner    string         `json:"owner"`
	Fields   map[string]any `json:"fields"`
}

func (d objectDTO) toObject() ledger.Object {
	return ledger.Object{
		ID:      d.ObjectID,
		Type:    d.Type,
		Version: d.Version,
		Owner:   d.Owner,
		Fields:  d.Fields,
	}
}

// coinDTO mirrors the node's coin representation. Balances arrive as decimal
// strings to survive JSON number precision limits.
type coinDTO struct {
	CoinObjectID string `json:"coinObjectId"`
	CoinType     string `json:"coinType"`
	Balance      string `json:"balance"`
}

func (d coinDTO) toCoin() (ledger.Coin, error) {
	balance, err := strconv.ParseUint(d.Balance, 10, 64)
	if err != nil {
		return ledger.Coin{}, fmt.Errorf("jsonrpc: invalid coin balance %q: %w", d.Balance, err)
	}
	return ledger.Coin{ID: d.CoinObjectID, Type: d.CoinType, Balance: balance}, nil
}
