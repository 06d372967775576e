// Package backend talks to the platform REST API that owns ads, analytics and balances.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ad-engagement-service/internal/domain"
	"github.com/valyala/fasthttp"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

var errRejected = errors.New("backend rejected request")

// Client implements the ad catalog, tracker and ledger over the backend API.
type Client struct {
	baseURL      string
	serviceToken string
	timeout      time.Duration
	http         *fasthttp.Client
}

func NewClient(baseURL, serviceToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		serviceToken: serviceToken,
		timeout:      timeout,
		http: &fasthttp.Client{
			Name:                "ad-engagement-service",
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxConnsPerHost:     64,
			MaxIdleConnDuration: time.Minute,
		},
	}
}

type adsResponse struct {
	Ads []domain.Ad `json:"ads"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type rewardClaimRequest struct {
	Amount int `json:"amount"`
}

// DisplayAds calls GET /ads/display.
func (c *Client) DisplayAds(ctx context.Context, filter domain.DisplayFilter) ([]domain.Ad, error) {
	query := url.Values{}
	if filter.Format != "" {
		query.Set("format", string(filter.Format))
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/ads/display"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var out adsResponse
	if err := c.do(ctx, fasthttp.MethodGet, path, c.serviceToken, "", nil, &out); err != nil {
		return nil, err
	}
	return out.Ads, nil
}

// PreviewAd calls GET /ads/preview/:id.
func (c *Client) PreviewAd(ctx context.Context, adID string) ([]domain.Ad, error) {
	var out adsResponse
	if err := c.do(ctx, fasthttp.MethodGet, "/ads/preview/"+url.PathEscape(adID), c.serviceToken, "", nil, &out); err != nil {
		return nil, err
	}
	return out.Ads, nil
}

// Track posts view, skip and completion events. Reward claims are recorded
// by the backend when CreditReward succeeds, so they are not posted twice.
func (c *Client) Track(ctx context.Context, event domain.Event) error {
	var action string
	switch event.Kind {
	case domain.EventView:
		action = "view"
	case domain.EventSkip:
		action = "skip"
	case domain.EventCompletion:
		action = "complete"
	case domain.EventRewardClaimed:
		return nil
	default:
		return fmt.Errorf("unknown event kind %q", event.Kind)
	}
	return c.post(ctx, "/ads/"+url.PathEscape(event.AdID)+"/"+action, c.serviceToken, event.ID, nil)
}

// CreditReward calls POST /ads/:id/reward-claim on behalf of the viewer. The
// claim ID goes out as the Idempotency-Key so a retried claim is not paid twice.
func (c *Client) CreditReward(ctx context.Context, claim domain.RewardClaim) error {
	token := claim.Viewer.Token
	if token == "" {
		token = c.serviceToken
	}
	return c.post(ctx, "/ads/"+url.PathEscape(claim.AdID)+"/reward-claim", token, claim.ID, rewardClaimRequest{Amount: claim.Amount})
}

func (c *Client) post(ctx context.Context, path, token, idempotencyKey string, body any) error {
	var out okResponse
	if err := c.do(ctx, fasthttp.MethodPost, path, token, idempotencyKey, body, &out); err != nil {
		return err
	}
	if !out.OK {
		return fmt.Errorf("POST %s: %w", path, errRejected)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, token, idempotencyKey string, body, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")
	if token != "" {
		req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+token)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		req.Header.SetContentType("application/json")
		req.SetBodyRaw(raw)
	}

	deadline := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	code := resp.StatusCode()
	if code < 200 || code >= 300 {
		return &StatusError{Method: method, Path: path, Code: code, Body: string(resp.Body())}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
