// Package sinkclient is the external collaborator for
// the short-video sink platform: OAuth code exchange/refresh, the
// init/upload/finalize publishing protocol for both video and photo
// content, and the permission/unsupported error classifier that drives
// every fallback path in pkg/publish.
package sinkclient

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

const (
	openAPIBase    = "https://open.tiktokapis.com"
	authorizeURL   = "https://www.tiktok.com/v2/auth/authorize/"
	tokenEndpoint  = "/v2/oauth/token/"
	videoInitPath  = "/v2/post/publish/video/init/"
	videoFinalPath = "/v2/post/publish/video/publish/"
	photoInitPath  = "/v2/post/publish/content/init/"
	photoFinalPath = "/v2/post/publish/content/publish/"
)

// AuthorizeURL is exported for pkg/tokenlifecycle's authorize-start step.
const AuthorizeURL = authorizeURL

// APIError carries the HTTP status and raw payload of a failed sink call,
// and implements the permission/unsupported classifier as a
// method rather than ad hoc string matching at each call site.
type APIError struct {
	Message    string
	StatusCode int
	Payload    string
}

func (e *APIError) Error() string {
	return e.Message
}

var unsupportedMarkers = []string{
	"unsupported", "not support", "permission", "scope", "forbidden",
	"insufficient", "not authorized", "not available",
}

// IsUnsupportedOrPermission classifies an error as "permission/unsupported"
// HTTP 403/404, or a marker phrase in the message or raw
// payload (case-insensitive).
func (e *APIError) IsUnsupportedOrPermission() bool {
	if e.StatusCode == 403 || e.StatusCode == 404 {
		return true
	}
	haystack := strings.ToLower(e.Message + " " + e.Payload)
	for _, marker := range unsupportedMarkers {
		if strings.Contains(haystack, marker) {
			return true
		}
	}
	return false
}

// TokenResult is the normalized result of an OAuth exchange or refresh.
type TokenResult struct {
	AccessToken  string
	RefreshToken string
	OpenID       string
	ExpiresIn    int
	GrantedScopes string
}

// InitResult is the normalized result of a video/photo init call.
type InitResult struct {
	PublishID  string
	UploadURL  string
	UploadURLs []string
}

// FinalizeResult is the normalized result of a finalize call.
type FinalizeResult struct {
	PostID string
}

// Client talks to the sink platform's HTTP API.
type Client struct {
	clientKey    string
	clientSecret string
	redirectURI  string
	baseURL      string
	http         *resty.Client
}

// Option configures a Client beyond its required constructor arguments.
type Option func(*Client)

// WithBaseURL overrides the sink platform's API origin, used by tests to
// point a Client at an httptest server instead of the real API.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

// New constructs a Client. timeout is the default for every sink HTTP
// call; UploadBinary overrides it with its own per-call upload timeout.
func New(clientKey, clientSecret, redirectURI string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		clientKey:    clientKey,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		baseURL:      openAPIBase,
		http:         resty.New().SetTimeout(timeout),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BuildAuthorizationURL constructs the provider authorization URL for
// the authorize-start step.
func (c *Client) BuildAuthorizationURL(scope, state string) string {
	q := url.Values{
		"client_key":    {c.clientKey},
		"response_type": {"code"},
		"scope":         {scope},
		"redirect_uri":  {c.redirectURI},
		"state":         {state},
	}
	return authorizeURL + "?" + q.Encode()
}

// ExchangeCode trades an authorization code for credentials.
func (c *Client) ExchangeCode(ctx context.Context, code string) (TokenResult, error) {
	return c.tokenRequest(ctx, map[string]string{
		"client_key":    c.clientKey,
		"client_secret": c.clientSecret,
		"code":          code,
		"grant_type":    "authorization_code",
		"redirect_uri":  c.redirectURI,
	})
}

// Refresh exchanges a refresh credential for a new access credential.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (TokenResult, error) {
	return c.tokenRequest(ctx, map[string]string{
		"client_key":    c.clientKey,
		"client_secret": c.clientSecret,
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	})
}

func (c *Client) tokenRequest(ctx context.Context, form map[string]string) (TokenResult, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetFormData(form).
		Post(c.baseURL + tokenEndpoint)
	if err != nil {
		return TokenResult{}, fmt.Errorf("sinkclient: token request: %w", err)
	}
	body := resp.Body()
	if apiErr := checkAPIError(resp.StatusCode(), body); apiErr != nil {
		return TokenResult{}, apiErr
	}

	data := unwrapData(body)
	scope := data.Get("scope")
	grantedScopes := scope.String()
	if scope.IsArray() {
		var parts []string
		for _, s := range scope.Array() {
			parts = append(parts, s.String())
		}
		grantedScopes = strings.Join(parts, ",")
	}

	return TokenResult{
		AccessToken:   data.Get("access_token").String(),
		RefreshToken:  data.Get("refresh_token").String(),
		OpenID:        data.Get("open_id").String(),
		ExpiresIn:     int(data.Get("expires_in").Int()),
		GrantedScopes: grantedScopes,
	}, nil
}

// InitVideoUpload is step 1 (init) of the video publishing protocol.
func (c *Client) InitVideoUpload(ctx context.Context, accessToken, postMode, caption string, videoSizeBytes int64) (InitResult, error) {
	body := map[string]any{
		"post_mode": postMode,
		"post_info": map[string]any{"title": caption},
		"source_info": map[string]any{
			"source":     "FILE_UPLOAD",
			"video_size": videoSizeBytes,
		},
	}
	return c.init(ctx, videoInitPath, accessToken, body)
}

// FinalizeVideo is step 3 (finalize) of the video publishing protocol.
func (c *Client) FinalizeVideo(ctx context.Context, accessToken, publishID, postMode, caption string) (FinalizeResult, error) {
	return c.finalize(ctx, videoFinalPath, accessToken, publishID, postMode, caption)
}

// InitPhotoUpload is step 1 (init) of the photo/carousel publishing protocol.
func (c *Client) InitPhotoUpload(ctx context.Context, accessToken, postMode, caption string, mediaCount int) (InitResult, error) {
	body := map[string]any{
		"post_mode": postMode,
		"post_info": map[string]any{"title": caption},
		"source_info": map[string]any{
			"source":     "FILE_UPLOAD",
			"media_count": mediaCount,
			"media_type":  "PHOTO",
		},
	}
	return c.init(ctx, photoInitPath, accessToken, body)
}

// FinalizePhotoUpload is step 3 (finalize) of the photo/carousel publishing protocol.
func (c *Client) FinalizePhotoUpload(ctx context.Context, accessToken, publishID, postMode, caption string) (FinalizeResult, error) {
	return c.finalize(ctx, photoFinalPath, accessToken, publishID, postMode, caption)
}

func (c *Client) init(ctx context.Context, path, accessToken string, body map[string]any) (InitResult, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+accessToken).
		SetBody(body).
		Post(c.baseURL + path)
	if err != nil {
		return InitResult{}, fmt.Errorf("sinkclient: init: %w", err)
	}
	respBody := resp.Body()
	if apiErr := checkAPIError(resp.StatusCode(), respBody); apiErr != nil {
		return InitResult{}, apiErr
	}

	data := unwrapData(respBody)
	return InitResult{
		PublishID:  extractPublishID(data),
		UploadURL:  extractUploadURL(data),
		UploadURLs: extractUploadURLs(data),
	}, nil
}

func (c *Client) finalize(ctx context.Context, path, accessToken, publishID, postMode, caption string) (FinalizeResult, error) {
	if publishID == "" {
		return FinalizeResult{}, nil
	}
	body := map[string]any{
		"publish_id": publishID,
		"post_mode":  postMode,
		"post_info":  map[string]any{"title": caption},
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+accessToken).
		SetBody(body).
		Post(c.baseURL + path)
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("sinkclient: finalize: %w", err)
	}
	respBody := resp.Body()
	if apiErr := checkAPIError(resp.StatusCode(), respBody); apiErr != nil {
		return FinalizeResult{}, apiErr
	}

	data := unwrapData(respBody)
	postID := firstNonEmpty(data.Get("post_id").String(), data.Get("item_id").String(), publishID)
	return FinalizeResult{PostID: postID}, nil
}

// UploadBinary is step 2: PUT the raw bytes to the init
// step's upload URL. uploadTimeout is the binary-upload budget.
func (c *Client) UploadBinary(ctx context.Context, uploadURL string, payload []byte, contentType string, uploadTimeout time.Duration) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetBody(payload).
		SetTimeout(uploadTimeout).
		Put(uploadURL)
	if err != nil {
		return fmt.Errorf("sinkclient: upload binary: %w", err)
	}
	if resp.StatusCode() >= 400 {
		return &APIError{
			Message:    fmt.Sprintf("binary upload failed: HTTP %d", resp.StatusCode()),
			StatusCode: resp.StatusCode(),
			Payload:    string(resp.Body()),
		}
	}
	return nil
}

func checkAPIError(status int, body []byte) *APIError {
	if status >= 400 {
		return &APIError{
			Message:    fmt.Sprintf("sink API HTTP %d", status),
			StatusCode: status,
			Payload:    string(body),
		}
	}
	parsed := gjson.ParseBytes(body)
	if errObj := parsed.Get("error"); errObj.Exists() {
		code := errObj.Get("code").String()
		if code != "" && code != "ok" && code != "0" {
			return &APIError{
				Message:    fmt.Sprintf("sink API error: %s", errObj.Raw),
				StatusCode: status,
				Payload:    string(body),
			}
		}
	}
	return nil
}

// unwrapData returns the "data" object when present (the shape every
// successful TikTok Open API response nests its payload under),
// otherwise the raw body.
func unwrapData(body []byte) gjson.Result {
	parsed := gjson.ParseBytes(body)
	if data := parsed.Get("data"); data.Exists() && data.IsObject() {
		return data
	}
	return parsed
}

// extractUploadURL walks the precedence chain: a scalar
// upload_url, else the first non-empty entry of upload_urls, else a
// recursive look inside source_info.
func extractUploadURL(data gjson.Result) string {
	if v := data.Get("upload_url").String(); v != "" {
		return v
	}
	for _, item := range data.Get("upload_urls").Array() {
		if v := item.String(); v != "" {
			return v
		}
	}
	if nested := data.Get("source_info"); nested.Exists() && nested.IsObject() {
		return extractUploadURL(nested)
	}
	return ""
}

// extractUploadURLs collects every upload URL across upload_urls, a
// scalar upload_url, and any nested source_info, for the photo/carousel
// variant where multiple URLs (one per image) are expected.
func extractUploadURLs(data gjson.Result) []string {
	var out []string
	for _, item := range data.Get("upload_urls").Array() {
		if v := item.String(); v != "" {
			out = append(out, v)
		}
	}
	if v := data.Get("upload_url").String(); v != "" {
		out = append(out, v)
	}
	if nested := data.Get("source_info"); nested.Exists() && nested.IsObject() {
		out = append(out, extractUploadURLs(nested)...)
	}
	return out
}

// extractPublishID walks the fallback chain: publish_id,
// then video_id, then creation_id.
func extractPublishID(data gjson.Result) string {
	return firstNonEmpty(
		data.Get("publish_id").String(),
		data.Get("video_id").String(),
		data.Get("creation_id").String(),
	)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

