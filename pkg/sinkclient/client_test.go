package sinkclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New("key", "secret", "https://example.com/callback", 5*time.Second, WithBaseURL(srv.URL))
}

func TestExchangeCodeParsesTokenResponse(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"at","refresh_token":"rt","open_id":"u1","expires_in":3600,"scope":["user.info.basic","video.upload"]}`))
	}))

	result, err := c.ExchangeCode(context.Background(), "code")
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	if result.AccessToken != "at" || result.RefreshToken != "rt" || result.OpenID != "u1" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.ExpiresIn != 3600 {
		t.Errorf("ExpiresIn = %d, want 3600", result.ExpiresIn)
	}
	if result.GrantedScopes != "user.info.basic,video.upload" {
		t.Errorf("GrantedScopes = %q, want comma-joined array", result.GrantedScopes)
	}
}

func TestExchangeCodePropagatesAPIError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"scope not granted"}`))
	}))

	_, err := c.ExchangeCode(context.Background(), "code")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if !apiErr.IsUnsupportedOrPermission() {
		t.Errorf("expected 403 to classify as unsupported/permission")
	}
}

func TestInitVideoUploadExtractsFromNestedSourceInfo(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"publish_id":"p1","source_info":{"upload_url":"https://nested-upload"}}}`))
	}))

	init, err := c.InitVideoUpload(context.Background(), "token", "draft", "caption", 1024)
	if err != nil {
		t.Fatalf("InitVideoUpload: %v", err)
	}
	if init.PublishID != "p1" || init.UploadURL != "https://nested-upload" {
		t.Fatalf("unexpected init result: %+v", init)
	}
}

func TestFinalizeVideoFallsBackToPublishID(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{}}`))
	}))

	final, err := c.FinalizeVideo(context.Background(), "token", "publish-1", "draft", "caption")
	if err != nil {
		t.Fatalf("FinalizeVideo: %v", err)
	}
	if final.PostID != "publish-1" {
		t.Errorf("PostID = %q, want fallback to publish_id", final.PostID)
	}
}

func TestUploadBinaryFailsOn4xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New("key", "secret", "https://example.com/callback", 5*time.Second)
	if err := c.UploadBinary(context.Background(), srv.URL, []byte("bytes"), "video/mp4", time.Second); err == nil {
		t.Fatal("expected error for 4xx upload response")
	}
}

func TestAPIErrorClassifiesByStatus(t *testing.T) {
	for _, status := range []int{403, 404} {
		e := &APIError{Message: "boom", StatusCode: status}
		if !e.IsUnsupportedOrPermission() {
			t.Errorf("status %d should classify as unsupported/permission", status)
		}
	}
}

func TestAPIErrorClassifiesByMarkerPhrase(t *testing.T) {
	cases := []string{
		"this scope is not granted",
		"feature is UNSUPPORTED for this app",
		"insufficient permission",
		"video.publish not available",
	}
	for _, msg := range cases {
		e := &APIError{Message: msg, StatusCode: 400}
		if !e.IsUnsupportedOrPermission() {
			t.Errorf("message %q should classify as unsupported/permission", msg)
		}
	}
}

func TestAPIErrorDoesNotClassifyGenericFailures(t *testing.T) {
	e := &APIError{Message: "internal server error", StatusCode: 500}
	if e.IsUnsupportedOrPermission() {
		t.Error("generic 500 should not classify as unsupported/permission")
	}
}

func TestAPIErrorChecksPayloadToo(t *testing.T) {
	e := &APIError{Message: "request failed", StatusCode: 400, Payload: `{"error":"forbidden"}`}
	if !e.IsUnsupportedOrPermission() {
		t.Error("payload marker should also classify")
	}
}

func TestExtractUploadURLPrecedence(t *testing.T) {
	body := []byte(`{"upload_url":"https://direct"}`)
	if got := extractUploadURL(unwrapData(body)); got != "https://direct" {
		t.Errorf("got %q", got)
	}

	body = []byte(`{"upload_urls":["", "https://first"]}`)
	if got := extractUploadURL(unwrapData(body)); got != "https://first" {
		t.Errorf("got %q", got)
	}

	body = []byte(`{"source_info":{"upload_url":"https://nested"}}`)
	if got := extractUploadURL(unwrapData(body)); got != "https://nested" {
		t.Errorf("got %q", got)
	}

	body = []byte(`{}`)
	if got := extractUploadURL(unwrapData(body)); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}

func TestExtractPublishIDFallbackChain(t *testing.T) {
	if got := extractPublishID(unwrapData([]byte(`{"video_id":"v1"}`))); got != "v1" {
		t.Errorf("got %q", got)
	}
	if got := extractPublishID(unwrapData([]byte(`{"publish_id":"p1","video_id":"v1"}`))); got != "p1" {
		t.Errorf("got %q", got)
	}
	if got := extractPublishID(unwrapData([]byte(`{"creation_id":"c1"}`))); got != "c1" {
		t.Errorf("got %q", got)
	}
}

func TestUnwrapDataPrefersNestedData(t *testing.T) {
	body := []byte(`{"data":{"publish_id":"p1"},"error":{"code":"ok"}}`)
	if got := unwrapData(body).Get("publish_id").String(); got != "p1" {
		t.Errorf("got %q", got)
	}
}
