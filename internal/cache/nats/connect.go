// Package nats implements a shared cache backend on a NATS JetStream
// key-value bucket.
package nats

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/dnscache"
)

type closeFunc = func()

// Connector opens (or leases) a NATS connection. The returned close func
// releases it.
type Connector func() (nc *natsgo.Conn, close closeFunc, err error)

// ReuseConnection shares a single connection between every caller of the
// returned Connector. The connection is closed when the last lease is released.
func ReuseConnection(connect Connector) Connector {
	var mu sync.Mutex
	var nc *natsgo.Conn
	var closeCon closeFunc
	var leased atomic.Int64
	release := func() {
		mu.Lock()
		defer mu.Unlock()
		if leased.Add(-1) == 0 {
			closeCon()
			nc = nil
		}
	}
	return func() (*natsgo.Conn, closeFunc, error) {
		mu.Lock()
		defer mu.Unlock()
		if nc == nil {
			var err error
			nc, closeCon, err = connect()
			if err != nil {
				return nil, nil, err
			}
		}
		leased.Add(1)
		return nc, release, nil
	}
}

// ConnectURL dials natsURL with the given options.
func ConnectURL(natsURL string, opts ...natsgo.Option) Connector {
	all := append([]natsgo.Option{natsgo.MaxReconnects(3)}, opts...)
	return func() (*natsgo.Conn, closeFunc, error) {
		nc, err := natsgo.Connect(natsURL, all...)
		if err != nil {
			return nil, nil, err
		}
		return nc, func() { nc.Close() }, nil
	}
}

// ConnectDefault dials $NATS_URL, or the library default URL when unset.
func ConnectDefault(opts ...natsgo.Option) Connector {
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		return ConnectURL(natsURL, opts...)
	}
	return ConnectURL(natsgo.DefaultURL, opts...)
}

// WithDNSCache resolves server hostnames through resolver instead of the
// system resolver on every (re)connect.
func WithDNSCache(resolver *dnscache.Resolver, dialTimeout time.Duration) natsgo.Option {
	return natsgo.SetCustomDialer(&dnsDialer{resolver: resolver, timeout: dialTimeout})
}

type dnsDialer struct {
	resolver *dnscache.Resolver
	timeout  time.Duration
}

func (d *dnsDialer) Dial(network, addr string) (net.Conn, error) {
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ips, err := d.resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, errors.New("nats dial: no addresses for " + host)
	}
	var dialer net.Dialer
	return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
}
