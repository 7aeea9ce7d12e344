package chain

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"

	"github.com/stakeladder/backend/internal/models"
)

// ErrUnsupportedNetwork is returned for a network the service has no settings for.
var ErrUnsupportedNetwork = errors.New("unsupported network")

// ErrInvalidAddress is returned when an address does not decode for its network.
var ErrInvalidAddress = errors.New("invalid address")

const (
	tronAddressLen    = 25
	tronAddressPrefix = 0x41
)

// ValidateAddress checks that addr is well-formed for network.
// bep20 takes a 0x-prefixed 20-byte hex address; trc20 takes a base58check T-address.
func ValidateAddress(network models.Network, addr string) error {
	switch network {
	case models.NetworkBEP20:
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%w: %q is not a hex address", ErrInvalidAddress, addr)
		}
		if common.HexToAddress(addr) == (common.Address{}) {
			return fmt.Errorf("%w: zero address", ErrInvalidAddress)
		}
		return nil
	case models.NetworkTRC20:
		return validateTron(addr)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedNetwork, network)
	}
}

func validateTron(addr string) error {
	raw, err := base58.Decode(addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) != tronAddressLen || raw[0] != tronAddressPrefix {
		return fmt.Errorf("%w: %q is not a tron address", ErrInvalidAddress, addr)
	}
	payload, checksum := raw[:21], raw[21:]
	if !bytes.Equal(tronChecksum(payload), checksum) {
		return fmt.Errorf("%w: bad checksum", ErrInvalidAddress)
	}
	return nil
}

func tronChecksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:4]
}
