package salesforce

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const maxResponseSize = 8 << 20

// Client issues read-only REST calls with one session
type Client struct {
	session        *Session
	apiVersion     string
	httpClient     *http.Client
	timeout        time.Duration
	onUnauthorized func(*Client)
}

func newClient(session *Session, apiVersion string, httpClient *http.Client, timeout time.Duration, onUnauthorized func(*Client)) *Client {
	return &Client{
		session:        session,
		apiVersion:     apiVersion,
		httpClient:     httpClient,
		timeout:        timeout,
		onUnauthorized: onUnauthorized,
	}
}

// InstanceURL returns the org base URL
func (c *Client) InstanceURL() string {
	return c.session.InstanceURL
}

// ExpiresAt returns the session expiry
func (c *Client) ExpiresAt() time.Time {
	return c.session.ExpiresAt
}

// Strategy returns how the session was obtained
func (c *Client) Strategy() string {
	return c.session.Strategy
}

// ToolingQuery runs a SOQL query against the Tooling API
func (c *Client) ToolingQuery(ctx context.Context, soql string) (*QueryResult, error) {
	path := fmt.Sprintf("/services/data/%s/tooling/query/?q=%s", c.apiVersion, url.QueryEscape(soql))

	var result QueryResult
	if err := c.get(ctx, path, &result); err != nil {
		return nil, fmt.Errorf("tooling query: %w", err)
	}
	if result.Records == nil {
		result.Records = []map[string]interface{}{}
	}
	return &result, nil
}

// Describe returns the full sObject describe for objectName
func (c *Client) Describe(ctx context.Context, objectName string) (map[string]interface{}, error) {
	path := fmt.Sprintf("/services/data/%s/sobjects/%s/describe", c.apiVersion, url.PathEscape(objectName))

	var result map[string]interface{}
	if err := c.get(ctx, path, &result); err != nil {
		return nil, fmt.Errorf("describe %s: %w", objectName, err)
	}
	return result, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.session.InstanceURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.session.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := parseAPIError(resp.StatusCode, body)
		if resp.StatusCode == http.StatusUnauthorized && c.onUnauthorized != nil {
			c.onUnauthorized(c)
		}
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Message: http.StatusText(status)}

	var details []struct {
		Message   string `json:"message"`
		ErrorCode string `json:"errorCode"`
	}
	if err := json.Unmarshal(body, &details); err == nil && len(details) > 0 {
		apiErr.Message = details[0].Message
		apiErr.ErrorCode = details[0].ErrorCode
	}
	return apiErr
}
