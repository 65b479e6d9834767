// Package fetch provides the outbound HTTP client shared by the
// resolver and delivery paths. Every connection is checked against
// private and link-local address ranges at dial time, so DNS tricks
// cannot route a fetch into the internal network.
package fetch

import (
	"context"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/hotaru-sns/hotaru/x/util"
)

var tracer = otel.Tracer("fetch")

const (
	requestTimeout = 10 * time.Second
	maxBodySize    = 1 << 20 // 1MiB
)

type Client struct {
	http    *http.Client
	allowed []*net.IPNet
}

// NewClient builds a guarded client. CIDR blocks listed in
// federation.allowedPrivateNetworks are exempt from blocking.
func NewClient(config util.Config) (*Client, error) {
	var allowed []*net.IPNet
	for _, block := range config.Federation.AllowedPrivateNetworks {
		_, cidr, err := net.ParseCIDR(block)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid allowed network %s", block)
		}
		allowed = append(allowed, cidr)
	}

	c := &Client{allowed: allowed}

	dialer := &net.Dialer{
		Timeout: requestTimeout,
		Control: func(network, address string, conn syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			ip := net.ParseIP(host)
			if ip != nil && c.isBlocked(ip) {
				return errors.Errorf("blocked address: %s", ip)
			}
			return nil
		},
	}

	c.http = &http.Client{
		Timeout: requestTimeout,
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			MaxIdleConnsPerHost: 8,
		},
	}

	return c, nil
}

func (c *Client) isBlocked(ip net.IP) bool {
	for _, cidr := range c.allowed {
		if cidr.Contains(ip) {
			return false
		}
	}
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}

// Do performs the request under the address guard.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.http.Do(req)
}

// FetchActivityJSON dereferences uri with ActivityPub content
// negotiation and returns the raw body.
func (c *Client) FetchActivityJSON(ctx context.Context, uri string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "Fetch.ActivityJSON")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Accept", "application/activity+json")

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrapf(err, "failed to fetch %s", uri)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("unexpected status %d from %s", resp.StatusCode, uri)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "failed to read response body")
	}

	return body, nil
}
