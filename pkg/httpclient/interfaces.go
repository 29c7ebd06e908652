package httpclient

import (
	"context"
	"io"
	"net/http"
)

// DefaultUserAgent identifies outbound requests.
const DefaultUserAgent = "samvad-feed-mailer/1.0"

// Response is a minimal HTTP response contract.
type Response interface {
	Body() []byte
	StatusCode() int
	Header() http.Header
}

// StreamResponse exposes the unread body so callers can stop before downloading everything.
type StreamResponse interface {
	StatusCode() int
	Header() http.Header
	ContentLength() int64
	Body() io.ReadCloser
}

// Client abstracts HTTP calls so callers can inject mocks or different transports.
type Client interface {
	Get(ctx context.Context, url string, headers map[string]string) (Response, error)
}

// Streamer issues GET requests whose body is left unparsed. Callers must close Body.
type Streamer interface {
	Stream(ctx context.Context, url string, headers map[string]string) (StreamResponse, error)
}
