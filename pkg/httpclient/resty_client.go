package httpclient

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// RestyClient adapts resty.Client to the httpclient.Client and httpclient.Streamer interfaces.
type RestyClient struct {
	client *resty.Client
}

// NewRestyClient creates a new RestyClient with the specified timeout.
func NewRestyClient(timeout time.Duration) *RestyClient {
	return &RestyClient{client: newRestyBaseClient(timeout)}
}

// NewRestyHTTPClient exposes a configured resty.Client for callers needing custom verbs.
func NewRestyHTTPClient(timeout time.Duration) *resty.Client {
	return newRestyBaseClient(timeout)
}

func newRestyBaseClient(timeout time.Duration) *resty.Client {
	c := resty.New()
	c.SetTimeout(timeout)
	return c
}

// Get performs an HTTP GET request with the specified context, URL, and headers.
func (r *RestyClient) Get(ctx context.Context, url string, headers map[string]string) (Response, error) {
	req := r.client.R().SetContext(ctx)
	if len(headers) > 0 {
		req.SetHeaders(headers)
	}
	resp, err := req.Get(url)
	if err != nil {
		return nil, err
	}
	return &restyResponseAdapter{resp: resp}, nil
}

// Stream performs a GET without reading the body. The caller owns the returned body.
func (r *RestyClient) Stream(ctx context.Context, url string, headers map[string]string) (StreamResponse, error) {
	req := r.client.R().SetContext(ctx).SetDoNotParseResponse(true)
	if len(headers) > 0 {
		req.SetHeaders(headers)
	}
	resp, err := req.Get(url)
	if err != nil {
		if resp != nil && resp.RawBody() != nil {
			resp.RawBody().Close()
		}
		return nil, err
	}
	return &restyStreamAdapter{resp: resp}, nil
}

type restyResponseAdapter struct {
	resp *resty.Response
}

func (r *restyResponseAdapter) Body() []byte        { return r.resp.Body() }
func (r *restyResponseAdapter) StatusCode() int     { return r.resp.StatusCode() }
func (r *restyResponseAdapter) Header() http.Header { return r.resp.Header() }

type restyStreamAdapter struct {
	resp *resty.Response
}

func (r *restyStreamAdapter) StatusCode() int     { return r.resp.StatusCode() }
func (r *restyStreamAdapter) Header() http.Header { return r.resp.Header() }

func (r *restyStreamAdapter) ContentLength() int64 {
	if r.resp.RawResponse == nil {
		return -1
	}
	return r.resp.RawResponse.ContentLength
}

func (r *restyStreamAdapter) Body() io.ReadCloser {
	if body := r.resp.RawBody(); body != nil {
		return body
	}
	return http.NoBody
}
