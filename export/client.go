// Package export ships enrollments to the companion server: it shapes the
// wire records, performs the HTTP round trips and folds server answers
// into a small outcome type.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"go-face-enroll/models"
)

// Status classifies a server answer for the caller.
type Status int

const (
	StatusSuccess Status = iota
	// StatusSignatureInvalid triggers the client-side recovery flow.
	StatusSignatureInvalid
	StatusEmbeddingMismatch
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusSignatureInvalid:
		return "signature_invalid"
	case StatusEmbeddingMismatch:
		return "embedding_mismatch"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Result is a classified server answer. Code and Message carry the raw
// server fields; Token is set on successful challenge verification.
type Result struct {
	Status  Status
	Code    string
	Message string
	Token   string
}

// Client defines the biometric endpoints of the enrollment server.
type Client interface {
	StartEnrollment(ctx context.Context) (*models.EnrollStartResponse, error)

	Register(ctx context.Context, req models.RegistrationRequest, headers map[string]string) (*Result, error)
	Recover(ctx context.Context, req models.RegistrationRequest, headers map[string]string) (*Result, error)
	VerifyChallenge(ctx context.Context, req models.ChallengeVerificationRequest, headers map[string]string) (*Result, error)

	HealthCheck(ctx context.Context) error
}

// HTTPClient implements Client against a server base URL.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *HTTPClient) StartEnrollment(ctx context.Context) (*models.EnrollStartResponse, error) {
	body, status, err := c.post(ctx, "/api/enroll-start", nil, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("enroll-start failed with status %d: %s", status, string(body))
	}

	var resp models.EnrollStartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode enroll-start response: %w", err)
	}
	return &resp, nil
}

func (c *HTTPClient) Register(ctx context.Context, req models.RegistrationRequest, headers map[string]string) (*Result, error) {
	return c.postClassified(ctx, "/api/register", req, headers)
}

func (c *HTTPClient) Recover(ctx context.Context, req models.RegistrationRequest, headers map[string]string) (*Result, error) {
	return c.postClassified(ctx, "/api/recover", req, headers)
}

func (c *HTTPClient) VerifyChallenge(ctx context.Context, req models.ChallengeVerificationRequest, headers map[string]string) (*Result, error) {
	return c.postClassified(ctx, "/api/verify-challenge", req, headers)
}

func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute health check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("health check failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (c *HTTPClient) postClassified(ctx context.Context, path string, payload any, headers map[string]string) (*Result, error) {
	body, status, err := c.post(ctx, path, payload, headers)
	if err != nil {
		return nil, err
	}
	return classify(status, body), nil
}

// post sends one JSON POST, retrying transport-level failures with backoff.
// HTTP error statuses are returned to the caller, not retried.
func (c *HTTPClient) post(ctx context.Context, path string, payload any, headers map[string]string) ([]byte, int, error) {
	var jsonData []byte
	if payload != nil {
		var err error
		jsonData, err = json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request for %s: %w", path, err)
		}
	}

	var body []byte
	var status int
	backoff := retry.WithMaxRetries(3, retry.NewExponential(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
		if err != nil {
			return fmt.Errorf("failed to create request for %s: %w", path, err)
		}
		applyHeaders(req, headers)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("failed to execute request for %s: %w", path, err))
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("failed to read response for %s: %w", path, err))
		}
		status = resp.StatusCode
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return body, status, nil
}

// applyHeaders sets the JSON defaults, then lets caller-supplied headers
// override them.
func applyHeaders(req *http.Request, headers map[string]string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}

// classify maps a server answer onto a Status. Only 2xx responses are
// inspected for a code; everything else is an upload failure.
func classify(httpStatus int, body []byte) *Result {
	if httpStatus < 200 || httpStatus >= 300 {
		return &Result{
			Status:  StatusError,
			Message: fmt.Sprintf("server returned status %d: %s", httpStatus, string(body)),
		}
	}

	var resp models.ServerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return &Result{
			Status:  StatusError,
			Message: fmt.Sprintf("undecodable server response: %s", string(body)),
		}
	}

	result := &Result{Code: resp.EffectiveCode(), Message: resp.Message, Token: resp.Token}
	switch result.Code {
	case models.CodeSuccess, models.CodeVerified:
		result.Status = StatusSuccess
	case models.CodeSignatureInvalid, models.CodeSignatureNotRegistered:
		result.Status = StatusSignatureInvalid
	case models.CodeEmbeddingMismatch, models.CodeFaceMismatch:
		result.Status = StatusEmbeddingMismatch
	case models.CodeError:
		result.Status = StatusError
	default:
		result.Status = StatusError
	}
	return result
}
