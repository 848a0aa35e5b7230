package fleet

import (
	"fmt"
	"net"
	"strconv"
)

// Endpoint is how a collaborator service describes itself to a dependent
// process. The fleet never inspects collaborator internals, only the address
// they publish here.
type Endpoint interface {
	Host() string
	Port() int
}

// Database is the persistent-storage collaborator used by the worker service.
type Database interface {
	URL() string
}

// Collaborators bundles the external services a spawned process depends on.
// The worker service additionally needs a Database.
type Collaborators struct {
	Coordinator     Endpoint
	TemplateService Endpoint
	ShardManager    Endpoint
}

// StaticEndpoint is an Endpoint with a fixed host and port, for collaborators
// that are simply reachable at a known local address.
type StaticEndpoint struct {
	host string
	port int
}

func NewStaticEndpoint(host string, port int) StaticEndpoint {
	return StaticEndpoint{host: host, port: port}
}

// ParseEndpoint builds a StaticEndpoint from a "host:port" string.
func ParseEndpoint(addr string) (StaticEndpoint, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return StaticEndpoint{}, fmt.Errorf("invalid endpoint address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return StaticEndpoint{}, fmt.Errorf("invalid endpoint port in %q: %w", addr, err)
	}
	return StaticEndpoint{host: host, port: port}, nil
}

func (e StaticEndpoint) Host() string { return e.host }
func (e StaticEndpoint) Port() int    { return e.port }

// Addr returns the endpoint as "host:port".
func (e StaticEndpoint) Addr() string {
	return net.JoinHostPort(e.host, strconv.Itoa(e.port))
}

// StaticDatabase is a Database reachable at a fixed connection URL.
type StaticDatabase string

func (d StaticDatabase) URL() string { return string(d) }
