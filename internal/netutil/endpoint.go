// Package netutil parses the bus's host:port endpoint strings.
//
// Simplified from std/multiport.go's ParseMultiPort: that parser accepts a
// min-max port range for fanning a single listener across many ports; a
// bus endpoint always names exactly one port, so the range handling is
// dropped and the regexp pared down to a single host:port match.
package netutil

import (
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

var endpointMatcher = regexp.MustCompile(`^(.+):([0-9]{1,5})$`)

// Endpoint is a parsed (host, port) pair.
type Endpoint struct {
	Host string
	Port uint16
}

func (e Endpoint) String() string {
	return e.Host + ":" + strconv.Itoa(int(e.Port))
}

// Parse parses a "host:port" string into an Endpoint.
func Parse(addr string) (Endpoint, error) {
	matches := endpointMatcher.FindStringSubmatch(addr)
	if len(matches) != 3 {
		return Endpoint{}, errors.Errorf("malformed endpoint address: %v", addr)
	}

	port, err := strconv.Atoi(matches[2])
	if err != nil {
		return Endpoint{}, errors.Wrapf(err, "invalid port in endpoint address: %v", addr)
	}
	if port == 0 || port > 65535 {
		return Endpoint{}, errors.Errorf("port out of range in endpoint address: %v", addr)
	}

	return Endpoint{Host: matches[1], Port: uint16(port)}, nil
}
