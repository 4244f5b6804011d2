package httpclient

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Options configures a RestyRequester.
type Options struct {
	BaseURL        string
	Timeout        time.Duration
	ConnectTimeout time.Duration
	Headers        map[string]string
	// Logger receives resty's internal warnings; nil keeps resty's default.
	Logger resty.Logger
}

// RestyRequester adapts resty.Client to the Requester interface.
type RestyRequester struct {
	client    *resty.Client
	transport *http.Transport
}

// NewRestyRequester creates a requester bound to opts.BaseURL.
func NewRestyRequester(opts Options) (*RestyRequester, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("base url is empty")
	}

	transport := newTransport(opts.ConnectTimeout)
	c := newRestyBaseClient(opts.Timeout)
	c.SetBaseURL(base)
	c.SetTransport(transport)
	c.SetRetryCount(0)
	if len(opts.Headers) > 0 {
		c.SetHeaders(opts.Headers)
	}
	if opts.Logger != nil {
		c.SetLogger(opts.Logger)
	}
	return &RestyRequester{client: c, transport: transport}, nil
}

// NewRestyHTTPClient exposes a configured resty.Client for callers needing custom verbs.
func NewRestyHTTPClient(timeout time.Duration) *resty.Client {
	return newRestyBaseClient(timeout)
}

// newRestyBaseClient creates a new resty.Client with the specified timeout.
func newRestyBaseClient(timeout time.Duration) *resty.Client {
	c := resty.New()
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return c
}

func newTransport(connectTimeout time.Duration) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if connectTimeout > 0 {
		dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}
		transport.DialContext = dialer.DialContext
	}
	return transport
}

// Request performs method against path relative to the base URL. Non-2xx
// responses are returned as responses, only transport failures are errors.
func (r *RestyRequester) Request(ctx context.Context, method, path string) (Response, error) {
	resp, err := r.client.R().SetContext(ctx).Execute(method, path)
	if err != nil {
		return nil, err
	}
	return &restyResponseAdapter{resp: resp}, nil
}

// Close drops the requester's idle keep-alive connections.
func (r *RestyRequester) Close() error {
	if r == nil || r.transport == nil {
		return nil
	}
	r.transport.CloseIdleConnections()
	return nil
}

// restyResponseAdapter adapts resty.Response to the httpclient.Response interface.
type restyResponseAdapter struct {
	resp *resty.Response
}

func (r *restyResponseAdapter) StatusLine() string { return r.resp.Status() }
func (r *restyResponseAdapter) StatusCode() int    { return r.resp.StatusCode() }
