package http

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

// ClientOptions configures an outbound HTTP client for provider calls
// (JWKS fetch, GitHub API, custom auth endpoint). Every provider call
// must run under a bounded timeout; a zero Timeout gets a default.
type ClientOptions struct {
	Timeout     time.Duration
	CAFile      string
	BearerToken string
}

const defaultClientTimeout = 10 * time.Second

// NewClient builds an *http.Client from opts. The CA bundle, when set,
// replaces the system roots for this client only.
func NewClient(opts ClientOptions) (*http.Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}

	transport := &http.Transport{
		Dial:                (&net.Dialer{Timeout: timeout}).Dial,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     30 * time.Second,
	}

	if opts.CAFile != "" {
		data, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read CA bundle %s: %v", opts.CAFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("no certificates found in CA bundle %s", opts.CAFile)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool}
	}

	var rt http.RoundTripper = transport
	if opts.BearerToken != "" {
		rt = &bearerRoundTripper{token: opts.BearerToken, next: rt}
	}

	return &http.Client{Timeout: timeout, Transport: rt}, nil
}

type bearerRoundTripper struct {
	token string
	next  http.RoundTripper
}

func (b *bearerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone before mutating; RoundTrippers must not modify the request.
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", fmt.Sprintf("Bearer %s", b.token))
	return b.next.RoundTrip(r)
}
