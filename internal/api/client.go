// Package api is the HTTP client for the account and report endpoints of the
// chat backend. Every call identifies the device by its identity digest,
// passed as the device_id query parameter.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/controlled-anonymity/client-go/internal/errors"
	"github.com/controlled-anonymity/client-go/internal/model"
)

const (
	pathRegister     = "/api/auth/register"
	pathVerifyGender = "/api/auth/verify-gender"
	pathProfile      = "/api/auth/profile"
	pathMe           = "/api/auth/me"
	pathReport       = "/api/reports/submit"
	pathChatComplete = "/api/reports/chat-complete"
	pathKarma        = "/api/reports/karma"

	maxErrorBody = 64 << 10
)

// DigestSource yields the identity digest sent with every request.
type DigestSource interface {
	GetIdentityDigest(ctx context.Context) (string, error)
}

type Client struct {
	base string
	http *http.Client
	ids  DigestSource
}

func NewClient(baseURL string, ids DigestSource, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
		ids:  ids,
	}
}

// WithHTTPClient replaces the underlying http.Client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

func (c *Client) Register(ctx context.Context) (*model.User, error) {
	var out model.User
	if err := c.doJSON(ctx, http.MethodPost, pathRegister, struct{}{}, &out, "Registration failed"); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyGender uploads one selfie. The image is streamed and not retained;
// callers should drop their copy once this returns, whatever the outcome.
func (c *Client) VerifyGender(ctx context.Context, image io.Reader) (*model.VerificationResult, error) {
	if image == nil {
		return nil, apperrors.CameraUnavailable()
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "selfie.jpg")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "Verification failed", err)
	}
	n, err := io.Copy(part, image)
	if err != nil {
		return nil, apperrors.CameraUnavailable().WithCause(err)
	}
	if n == 0 {
		return nil, apperrors.CameraUnavailable()
	}
	if err := mw.Close(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "Verification failed", err)
	}

	var out model.VerificationResult
	err = c.do(ctx, http.MethodPost, pathVerifyGender, &body, mw.FormDataContentType(), &out, "Verification failed")
	body.Reset()
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateProfile(ctx context.Context, params model.UpdateProfileParams) (*model.User, error) {
	params.Nickname = strings.TrimSpace(params.Nickname)
	params.Bio = strings.TrimSpace(params.Bio)
	if params.Nickname == "" {
		return nil, apperrors.MissingRequired("nickname")
	}

	var out model.User
	if err := c.doJSON(ctx, http.MethodPut, pathProfile, params, &out, "Profile update failed"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Me(ctx context.Context) (*model.User, error) {
	var out model.User
	if err := c.doJSON(ctx, http.MethodGet, pathMe, nil, &out, "Could not load your profile"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SubmitReport(ctx context.Context, params model.SubmitReportParams) (*model.ReportAck, error) {
	if params.ReportedDeviceHash == "" {
		return nil, apperrors.MissingRequired("reported_device_hash")
	}
	if strings.TrimSpace(params.Reason) == "" {
		return nil, apperrors.MissingRequired("reason")
	}

	var out model.ReportAck
	if err := c.doJSON(ctx, http.MethodPost, pathReport, params, &out, "Report failed"); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteChat records a finished chat for karma purposes.
func (c *Client) CompleteChat(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, pathChatComplete, nil, nil, "Could not record the chat")
}

func (c *Client) Karma(ctx context.Context) (*model.Karma, error) {
	var out model.Karma
	if err := c.doJSON(ctx, http.MethodGet, pathKarma, nil, &out, "Could not load karma"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any, generic string) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return apperrors.Wrap(apperrors.ErrCodeInternal, generic, err)
		}
		body = buf
		contentType = "application/json"
	}
	return c.do(ctx, method, path, body, contentType, out, generic)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any, generic string) error {
	u, err := c.endpoint(ctx, path)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInternal, generic, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("method", method).Str("path", path).Msg("api request failed")
		return apperrors.Wrap(apperrors.ErrCodeRequest, generic, err)
	}
	defer resp.Body.Close()

	log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("api request")

	if resp.StatusCode/100 != 2 {
		return apperrors.Request(errorDetail(resp.Body, generic)).
			WithDetails(map[string]any{"status": resp.StatusCode})
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeRequest, generic, err)
	}
	return nil
}

func (c *Client) endpoint(ctx context.Context, path string) (string, error) {
	digest, err := c.ids.GetIdentityDigest(ctx)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("device_id", digest)
	return c.base + path + "?" + q.Encode(), nil
}

// errorDetail extracts the server's "detail" message. Validation errors carry
// a list of objects with a "msg" field; the first one is used.
func errorDetail(r io.Reader, generic string) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.NewDecoder(io.LimitReader(r, maxErrorBody)).Decode(&body); err != nil || len(body.Detail) == 0 {
		return generic
	}

	var text string
	if err := json.Unmarshal(body.Detail, &text); err == nil {
		if text = strings.TrimSpace(text); text != "" {
			return text
		}
		return generic
	}

	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(body.Detail, &items); err == nil && len(items) > 0 && items[0].Msg != "" {
		return items[0].Msg
	}
	return generic
}
