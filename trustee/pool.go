package trustee

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/thechriswalker/go-decide/voting"
)

// Pool resolves the auths of a voting to trustees: the self auth is the
// Local trustee, anything else a gRPC client, dialled once and reused.
type Pool struct {
	local   *Local
	token   string
	timeout time.Duration

	mu      sync.Mutex
	clients map[string]*Client
}

var _ voting.Trustees = (*Pool)(nil)

// NewPool creates the resolver. token is used for remote calls without a request token.
func NewPool(local *Local, token string, timeout time.Duration) *Pool {
	return &Pool{
		local:   local,
		token:   token,
		timeout: timeout,
		clients: map[string]*Client{},
	}
}

func (p *Pool) KeyHolder(auth voting.Auth) (voting.KeyHolder, error) {
	if auth.IsSelf {
		return p.local, nil
	}
	return p.client(auth.URL)
}

func (p *Pool) Tallier(auth voting.Auth) (voting.Tallier, error) {
	if auth.IsSelf {
		return p.local, nil
	}
	return p.client(auth.URL)
}

func (p *Pool) client(raw string) (*Client, error) {
	addr := dialAddr(raw)
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[addr]; ok {
		return c, nil
	}
	c, err := Dial(addr, p.token, p.timeout)
	if err != nil {
		return nil, err
	}
	p.clients[addr] = c
	return c, nil
}

// Close the remote connections
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, c := range p.clients {
		c.Close()
		delete(p.clients, addr)
	}
	return nil
}

// dialAddr turns an auth url into host:port
func dialAddr(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return u.Host
	}
	return strings.TrimRight(raw, "/")
}
