package config

import (
	"fmt"
	"net"
	"strconv"
)

const (
	EnvPrefix = "CHATRELAY_"
)

// ValidateListenAddress validates a listen address in [host]:port format.
// Unlike ValidateAddress an empty host is accepted and means all interfaces.
func ValidateListenAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}

	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format %q: %w", addr, err)
	}

	return validatePort(portStr, addr)
}

// ValidateAddress validates that an address is in valid host:port format.
// Returns an error if the address is invalid.
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format %q: %w", addr, err)
	}

	if host == "" {
		return fmt.Errorf("host cannot be empty in address %q", addr)
	}

	return validatePort(portStr, addr)
}

func validatePort(portStr, addr string) error {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port in address %q: %w", addr, err)
	}

	// port 0 asks the kernel for a free port, which tests rely on
	if port < 0 || port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d in address %q", port, addr)
	}

	return nil
}
