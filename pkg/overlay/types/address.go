package types

import (
	"fmt"
	"net"
)

// Address identifies a node on the overlay by host and port. Two addresses
// are equal iff both components are equal; the zero value is not a valid
// address.
type Address struct {
	Host string
	Port string
}

// NewAddress builds an Address from a "host:port" string.
func NewAddress(hostport string) (Address, error) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return Address{}, fmt.Errorf("parse address %q: %w", hostport, err)
	}
	return Address{Host: host, Port: port}, nil
}

// String renders the address in its wire text form, host:port.
func (a Address) String() string {
	return net.JoinHostPort(a.Host, a.Port)
}

// Equal reports whether two addresses name the same host and port.
func (a Address) Equal(other Address) bool {
	return a.Host == other.Host && a.Port == other.Port
}
