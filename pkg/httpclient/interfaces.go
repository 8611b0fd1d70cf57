package httpclient

import "context"

// Response is a minimal HTTP response contract.
type Response interface {
	Body() []byte
	StatusCode() int
}

// Client abstracts HTTP calls so callers can inject mocks or different transports.
type Client interface {
	Get(ctx context.Context, url string, headers map[string]string) (Response, error)
	// PostForm submits an application/x-www-form-urlencoded body.
	PostForm(ctx context.Context, url string, form map[string]string, headers map[string]string) (Response, error)
	// PostJSON submits the given value marshaled as a JSON body.
	PostJSON(ctx context.Context, url string, body any, headers map[string]string) (Response, error)
}
