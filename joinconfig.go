package conference

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
)

// FetchJoinRequest retrieves session credentials from an HTTP token
// service. The endpoint is expected to answer with a JSON body of the
// JoinRequest shape; the returned values are validated before use, so a
// misbehaving service surfaces as a normal validation error.
func FetchJoinRequest(ctx context.Context, endpoint string) (JoinRequest, error) {
	var out JoinRequest

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()

	req.SetRequestURI(endpoint)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	errC := make(chan error, 1)
	go func() {
		errC <- fasthttp.Do(req, resp)
	}()
	select {
	case <-ctx.Done():
		// The in-flight request still owns req and resp; recycling them
		// here would hand live buffers back to the pool.
		return out, ctx.Err()
	case err := <-errC:
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)
		if err != nil {
			return out, fmt.Errorf("performing HTTP request: %w", err)
		}
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return out, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode(), string(resp.Body()))
	}
	if err := sonic.Unmarshal(resp.Body(), &out); err != nil {
		return out, fmt.Errorf("decoding join response: %w", err)
	}
	if _, err := ParseSessionURL(out.URL); err != nil {
		return out, err
	}
	if _, err := ParseSessionToken(out.Token); err != nil {
		return out, err
	}
	return out, nil
}
