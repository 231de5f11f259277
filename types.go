package gatewaykit

import (
	"github.com/dmitrijs2005/gatewaykit/internal/common"
	"github.com/dmitrijs2005/gatewaykit/internal/config"
	"github.com/dmitrijs2005/gatewaykit/internal/endpoints"
	"github.com/dmitrijs2005/gatewaykit/internal/gateway"
	"github.com/dmitrijs2005/gatewaykit/internal/messaging"
)

type (
	Config = config.Config

	Endpoint                  = endpoints.Endpoint
	FirstPartyEndpoint        = endpoints.FirstPartyEndpoint
	PrivateThirdPartyEndpoint = endpoints.PrivateThirdPartyEndpoint
	PublicThirdPartyEndpoint  = endpoints.PublicThirdPartyEndpoint

	OutgoingMessage = messaging.OutgoingMessage
	IncomingMessage = messaging.IncomingMessage
	BuildOption     = messaging.BuildOption

	State = gateway.State
)

const (
	StateUnbound = gateway.StateUnbound
	StateBound   = gateway.StateBound
)

var (
	ErrBinding                 = common.ErrBinding
	ErrProtocol                = common.ErrProtocol
	ErrRegistrationFailed      = common.ErrRegistrationFailed
	ErrSendFailed              = common.ErrSendFailed
	ErrRejected                = common.ErrRejected
	ErrUnknownEndpoint         = common.ErrUnknownEndpoint
	ErrUnknownFirstParty       = common.ErrUnknownFirstParty
	ErrInvalidAuthorization    = common.ErrInvalidAuthorization
	ErrInvalidConnectionParams = common.ErrInvalidConnectionParams
	ErrPersistence             = common.ErrPersistence
	ErrInvalidConfig           = config.ErrInvalidConfig
)

var (
	WithExpiry = messaging.WithExpiry
	WithID     = messaging.WithID
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfig reads configuration from the command line and the config file
// it names. It panics when that file cannot be read or parsed.
func LoadConfig() *Config {
	return config.LoadConfig()
}

// LoadConfigFile overlays the defaults with the JSON or TOML file at path.
func LoadConfigFile(path string) (*Config, error) {
	cfg := config.Default()
	if err := config.LoadFile(cfg, path); err != nil {
		return nil, err
	}
	return cfg, nil
}
