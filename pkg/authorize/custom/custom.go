// Package custom implements the custom validation strategy: the bearer
// token and request metadata are POSTed to a configured endpoint that
// decides authentication and returns the caller's access attributes.
package custom

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/authgate/authgate/pkg/authorize"
)

const responseBodyLimit = 32 * 1024

// validationRequest is the envelope POSTed to the delegate.
type validationRequest struct {
	APIKey  string         `json:"api_key"`
	Request requestPayload `json:"request"`
}

type requestPayload struct {
	Path    string              `json:"path"`
	Headers map[string]string   `json:"headers"`
	Params  map[string][]string `json:"params"`
}

// validationResponse is what the delegate answers with. Both fields are
// optional; a 2xx with no access_attributes still authenticates the
// caller.
type validationResponse struct {
	AccessAttributes map[string][]string `json:"access_attributes"`
	Message          string              `json:"message"`
}

type validator struct {
	endpoint *url.URL
	client   *http.Client
	logger   log.Logger
}

// NewValidator builds the custom strategy against the given endpoint.
func NewValidator(logger log.Logger, client *http.Client, endpoint *url.URL) authorize.Validator {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &validator{
		endpoint: endpoint,
		client:   client,
		logger:   log.With(logger, "component", "authorize/custom"),
	}
}

func (v *validator) Validate(ctx context.Context, token string, req authorize.RequestMeta) (*authorize.Principal, error) {
	payload, err := json.Marshal(validationRequest{
		APIKey: token,
		Request: requestPayload{
			Path:    req.Path,
			Headers: req.Headers,
			Params:  req.Params,
		},
	})
	if err != nil {
		return nil, authorize.NewUnauthenticated("", errors.Wrap(err, "unable to marshal validation request"))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, authorize.NewUpstreamUnavailable("unable to create validation request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	res, err := v.client.Do(httpReq)
	if err != nil {
		return nil, authorize.NewUpstreamUnavailable("auth endpoint unreachable", err)
	}
	defer func() {
		// read the body to keep the upstream connection open
		if _, err := io.Copy(io.Discard, res.Body); err != nil {
			level.Debug(v.logger).Log("msg", "error draining body", "err", err)
		}
		res.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(res.Body, responseBodyLimit))
	if err != nil {
		return nil, authorize.NewUpstreamUnavailable("unable to read validation response", err)
	}

	if res.StatusCode/100 != 2 {
		// Surface the upstream message in logs only; the caller gets the
		// generic 401.
		response := &validationResponse{}
		_ = json.Unmarshal(body, response)
		level.Warn(v.logger).Log("msg", "auth endpoint rejected token", "status", res.StatusCode, "upstream_msg", response.Message)
		return nil, authorize.NewUnauthenticated("token rejected by auth endpoint", nil)
	}

	// Some delegates answer a bare 2xx with no body at all.
	response := &validationResponse{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, response); err != nil {
			return nil, authorize.NewUpstreamUnavailable("unable to parse validation response", err)
		}
	}

	attributes := response.AccessAttributes
	if len(attributes) == 0 {
		// Legacy delegates return no attributes; the raw token value
		// then acts as the caller's sole namespace.
		attributes = map[string][]string{
			authorize.AttributeNamespaces: {token},
		}
	}

	return &authorize.Principal{
		ID:         token,
		Attributes: attributes,
		Scopes:     make(map[string]struct{}),
	}, nil
}
