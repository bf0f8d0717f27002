// Package hostcheck resolves the OctoPrint host named in a dashboard
// document. The CLI uses it to tell "OctoPrint is down" apart from "the
// host name does not resolve", which look the same from the dashboard.
package hostcheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/octodash/dashconf/pkg/dashconfig"
)

var (
	// ErrNoRecords is returned when a query has no A or AAAA answers.
	ErrNoRecords = errors.New("no records found")
	// ErrEmptyHost is returned for an empty host name.
	ErrEmptyHost = errors.New("empty host")
	// ErrNoServers is returned when a Resolver has no name servers to ask.
	ErrNoServers = errors.New("no name servers configured")
)

const (
	_resolvConf     = "/etc/resolv.conf"
	_fallbackServer = "1.1.1.1:53"
	_defaultTimeout = 3 * time.Second
)

// Exchanger sends a DNS query to a server. *dns.Client implements it.
type Exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, a string) (r *dns.Msg, rtt time.Duration, err error)
}

// Result is the outcome of resolving a document's OctoPrint host.
type Result struct {
	Host  string
	Addrs []net.IP
}

// Resolver looks up A and AAAA records concurrently.
type Resolver struct {
	exchanger Exchanger
	servers   []string
	timeout   time.Duration
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithServers sets the name servers to query, as host:port.
func WithServers(servers ...string) Option {
	return func(r *Resolver) { r.servers = servers }
}

// WithTimeout bounds a whole lookup.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

// WithExchanger replaces the DNS client.
func WithExchanger(ex Exchanger) Option {
	return func(r *Resolver) { r.exchanger = ex }
}

// New returns a Resolver using the system's name servers.
func New(opts ...Option) *Resolver {
	r := &Resolver{timeout: _defaultTimeout}
	for _, o := range opts {
		o(r)
	}
	if r.exchanger == nil {
		r.exchanger = &dns.Client{Timeout: r.timeout}
	}
	if len(r.servers) == 0 {
		r.servers = SystemServers()
	}
	return r
}

// SystemServers reads the name servers from /etc/resolv.conf, falling back
// to a public resolver.
func SystemServers() []string {
	cc, err := dns.ClientConfigFromFile(_resolvConf)
	if err != nil || len(cc.Servers) == 0 {
		return []string{_fallbackServer}
	}
	out := make([]string, 0, len(cc.Servers))
	for _, s := range cc.Servers {
		out = append(out, net.JoinHostPort(s, cc.Port))
	}
	return out
}

// CheckDocument resolves the host of cfg's OctoPrint URL.
func (r *Resolver) CheckDocument(ctx context.Context, cfg dashconfig.Config) (Result, error) {
	split, err := dashconfig.SplitOctoprintURL(cfg.Octoprint.URL)
	if err != nil {
		return Result{}, err
	}
	addrs, err := r.Lookup(ctx, split.Host)
	return Result{Host: split.Host, Addrs: addrs}, err
}

// Lookup resolves host. IP literals and localhost are returned without a
// query. Addresses from whichever of A and AAAA succeeded are returned;
// an error is returned only if both fail.
func (r *Resolver) Lookup(ctx context.Context, host string) ([]net.IP, error) {
	host = strings.TrimSuffix(strings.TrimSpace(host), ".")
	if host == "" {
		return nil, ErrEmptyHost
	}
	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		return []net.IP{ip}, nil
	}
	if strings.EqualFold(host, "localhost") {
		return []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		mu   sync.Mutex
		ips  []net.IP
		errs error
	)
	grp, gctx := errgroup.WithContext(ctx)
	for _, qtype := range [...]uint16{dns.TypeA, dns.TypeAAAA} {
		grp.Go(func() error {
			found, err := r.query(gctx, host, qtype)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", dns.TypeToString[qtype], err))
				return nil
			}
			ips = append(ips, found...)
			return nil
		})
	}
	_ = grp.Wait()

	if len(ips) == 0 {
		return nil, fmt.Errorf("resolving %q: %w", host, errs)
	}
	return ips, nil
}

// query asks each server in turn until one answers.
func (r *Resolver) query(ctx context.Context, host string, qtype uint16) ([]net.IP, error) {
	if len(r.servers) == 0 {
		return nil, ErrNoServers
	}
	var lastErr error
	for _, server := range r.servers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req := new(dns.Msg)
		req.SetQuestion(dns.Fqdn(host), qtype)
		resp, _, err := r.exchanger.ExchangeContext(ctx, req, server)
		if err != nil {
			lastErr = err
			continue
		}
		if resp == nil {
			lastErr = ErrNoRecords
			continue
		}
		if resp.Rcode == dns.RcodeNameError {
			return nil, fmt.Errorf("%w (NXDOMAIN)", ErrNoRecords)
		}
		return answers(resp)
	}
	return nil, lastErr
}

func answers(resp *dns.Msg) ([]net.IP, error) {
	var ips []net.IP
	for _, rr := range resp.Answer {
		switch rec := rr.(type) {
		case *dns.A:
			ips = append(ips, rec.A)
		case *dns.AAAA:
			ips = append(ips, rec.AAAA)
		}
	}
	if len(ips) == 0 {
		return nil, ErrNoRecords
	}
	return ips, nil
}
