// internal/domain/network.go
package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// Network describes how a blockchain settles: either through real on-chain transfers
// from/to the custodial master wallet, or purely on the internal ledger.
type Network struct {
	Blockchain     string `mapstructure:"blockchain" json:"blockchain"`
	NativeCurrency string `mapstructure:"native_currency" json:"native_currency"`
	OnChain        bool   `mapstructure:"on_chain" json:"on_chain"`
	AddressPattern string `mapstructure:"address_pattern" json:"address_pattern"`
	MasterAddress  string `mapstructure:"master_address" json:"master_address"`
	// MasterSecret is the encrypted signing key of the master wallet.
	MasterSecret string `mapstructure:"master_secret" json:"-"`

	address *regexp.Regexp
}

// ValidAddress reports whether addr matches the chain's address format.
func (n *Network) ValidAddress(addr string) bool {
	if n.address == nil {
		return addr != ""
	}
	return n.address.MatchString(addr)
}

// IsNative reports whether currency is the chain's fee-bearing asset.
func (n *Network) IsNative(currency string) bool {
	return strings.EqualFold(n.NativeCurrency, currency)
}

// NetworkRegistry resolves blockchains case-insensitively.
type NetworkRegistry struct {
	networks map[string]*Network
}

// NewNetworkRegistry compiles every address pattern up front.
func NewNetworkRegistry(networks []Network) (*NetworkRegistry, error) {
	reg := &NetworkRegistry{networks: make(map[string]*Network, len(networks))}
	for i := range networks {
		n := networks[i]
		if n.Blockchain == "" {
			return nil, fmt.Errorf("network %d: blockchain is required", i)
		}
		if n.AddressPattern != "" {
			re, err := regexp.Compile(n.AddressPattern)
			if err != nil {
				return nil, fmt.Errorf("network %s: bad address pattern: %w", n.Blockchain, err)
			}
			n.address = re
		}
		reg.networks[strings.ToLower(n.Blockchain)] = &n
	}
	return reg, nil
}

// Get returns the network for a blockchain.
func (r *NetworkRegistry) Get(blockchain string) (*Network, bool) {
	n, ok := r.networks[strings.ToLower(blockchain)]
	return n, ok
}
