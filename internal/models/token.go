package models

import (
	"strings"

	pkgerrors "github.com/honeynil/upi-crypto-offramp/pkg/errors"
)

// PolygonChainID is the EVM chain id orders are settled on.
const PolygonChainID = 137

// Token is a sellable asset on the settlement chain.
type Token struct {
	Symbol  string
	Address string
	Crypto  CryptoType
}

var tokens = map[string]Token{
	"USDT":  {Symbol: "USDT", Address: "0xc2132D05D31c914a87C6611C10748AEb04B58e8F", Crypto: CryptoUSDT},
	"MATIC": {Symbol: "MATIC", Address: "0x0000000000000000000000000000000000001010", Crypto: CryptoMATIC},
}

// LookupToken resolves a token symbol (any case) to its contract address.
// MATIC resolves to the chain's native-token sentinel.
func LookupToken(symbol string) (Token, error) {
	t, ok := tokens[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Token{}, pkgerrors.ErrUnsupportedToken
	}
	return t, nil
}
