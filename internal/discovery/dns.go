// Package discovery resolves cluster peers from DNS SRV records, the way a
// headless Kubernetes service publishes its endpoints.
package discovery

import (
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/miekg/dns"

	"concord/pkg/logger"
)

const (
	defaultZone     = "cluster.local"
	defaultInterval = 30 * time.Second
)

// Config names the SRV record to resolve:
// _<PortName>._tcp.<Service>.<Namespace>.svc.<Zone>.
type Config struct {
	Service   string
	Namespace string
	PortName  string
	Zone      string        // defaults to cluster.local
	Resolver  string        // host:port; defaults to the first system nameserver
	Interval  time.Duration // refresh cadence, defaults to 30s
}

// Membership is the peer table the resolver reconciles; the consensus node
// satisfies it.
type Membership interface {
	AddPeer(addr string)
	RemovePeer(addr string)
	Peers() []string
}

type Resolver struct {
	cfg    Config
	client *dns.Client
	server string
}

func New(cfg Config) (*Resolver, error) {
	if cfg.Zone == "" {
		cfg.Zone = defaultZone
	}
	if cfg.Interval == 0 {
		cfg.Interval = defaultInterval
	}
	server := cfg.Resolver
	if server == "" {
		conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil {
			return nil, fmt.Errorf("loading resolver config: %w", err)
		}
		if len(conf.Servers) == 0 {
			return nil, fmt.Errorf("no nameservers configured")
		}
		server = net.JoinHostPort(conf.Servers[0], conf.Port)
	}
	return &Resolver{cfg: cfg, client: new(dns.Client), server: server}, nil
}

// Query returns the SRV name being resolved.
func (r *Resolver) Query() string {
	return fmt.Sprintf("_%s._tcp.%s.%s.svc.%s", r.cfg.PortName, r.cfg.Service, r.cfg.Namespace, r.cfg.Zone)
}

// Lookup resolves the current peer addresses, sorted.
func (r *Resolver) Lookup() ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(r.Query()), dns.TypeSRV)

	resp, _, err := r.client.Exchange(m, r.server)
	if err != nil {
		return nil, err
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("srv lookup %s: %s", r.Query(), dns.RcodeToString[resp.Rcode])
	}

	var addrs []string
	for _, rr := range resp.Answer {
		srv, ok := rr.(*dns.SRV)
		if !ok {
			continue
		}
		host := strings.TrimSuffix(srv.Target, ".")
		addrs = append(addrs, fmt.Sprintf("%s:%d", host, srv.Port))
	}
	sort.Strings(addrs)
	return addrs, nil
}

// Refresh reconciles the membership table with one lookup: resolved addresses
// are added, previously known peers that vanished are removed. The local
// address never becomes its own peer.
func (r *Resolver) Refresh(m Membership, self string) error {
	addrs, err := r.Lookup()
	if err != nil {
		return err
	}
	resolved := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		if a == self {
			continue
		}
		resolved[a] = struct{}{}
		m.AddPeer(a)
	}
	for _, p := range m.Peers() {
		if _, ok := resolved[p]; !ok {
			m.RemovePeer(p)
		}
	}
	return nil
}

// Run refreshes on the configured cadence until stop closes. Lookup failures
// keep the previous membership.
func (r *Resolver) Run(m Membership, self string, stop <-chan struct{}) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := r.Refresh(m, self); err != nil {
				logger.Warn("peer discovery failed", "query", r.Query(), "err", err)
			}
		case <-stop:
			return
		}
	}
}
