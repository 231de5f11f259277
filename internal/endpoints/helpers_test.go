package endpoints

import (
	"github.com/dmitrijs2005/gatewaykit/internal/pki"
	"github.com/dmitrijs2005/gatewaykit/internal/wire"
)

func bundleOf(pda *pki.Certificate, chain [][]byte, sk pki.SessionKeyPair) *wire.AuthorizationBundle {
	return &wire.AuthorizationBundle{PDA: pda.Serialize(), Chain: chain, SessionKey: sk.Public()}
}

func publicParams(addr string, keyDER []byte, sk pki.SessionKeyPair) *wire.PublicEndpointParams {
	return &wire.PublicEndpointParams{Address: addr, IdentityKey: keyDER, SessionKey: sk.Public()}
}
