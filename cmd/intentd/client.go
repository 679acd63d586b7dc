package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"

	"github.com/greynewell/intentd/errors"
	"github.com/greynewell/intentd/gateway"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// gatewayClient sends documents to a running gateway the way an external
// caller would.
type gatewayClient struct {
	http *resty.Client
	path string
	mode string
}

func newGatewayClient(baseURL, path, mode string, timeout time.Duration) *gatewayClient {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout)
	c.JSONMarshal = json.Marshal
	c.JSONUnmarshal = json.Unmarshal
	if path == "" {
		path = "/"
	}
	return &gatewayClient{http: c, path: path, mode: mode}
}

// Do posts or queries text and returns the response body. Non-2xx
// responses come back as coded errors matching the gateway's status.
func (g *gatewayClient) Do(ctx context.Context, text string) ([]byte, error) {
	req := g.http.R().SetContext(ctx)
	var (
		resp *resty.Response
		err  error
	)
	if g.mode == gateway.ModeQuery {
		resp, err = req.SetQueryParam("doc", text).Get(g.path)
	} else {
		resp, err = req.
			SetHeader("Content-Type", "application/json").
			SetBody(map[string]string{"text": text}).
			Post(g.path)
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Wrap(errors.CodeTimeout, err, "gateway request")
		}
		return nil, errors.Wrap(errors.CodeTransport, err, "gateway request")
	}
	if resp.IsError() {
		return nil, errors.Newf(codeForStatus(resp.StatusCode()), "gateway returned %d: %s",
			resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
	}
	return resp.Body(), nil
}

// Close releases idle connections.
func (g *gatewayClient) Close() {
	g.http.GetClient().CloseIdleConnections()
}

// codeForStatus inverts errors.HTTPStatus.
func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return errors.CodeValidation
	case http.StatusNotFound:
		return errors.CodeNotFound
	case http.StatusGatewayTimeout:
		return errors.CodeTimeout
	case http.StatusServiceUnavailable:
		return errors.CodeUnavailable
	case 499:
		return errors.CodeCancelled
	default:
		return errors.CodeInternal
	}
}
