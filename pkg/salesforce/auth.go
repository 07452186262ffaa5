package salesforce

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Authenticator performs one login exchange
type Authenticator interface {
	Authenticate(ctx context.Context) (*Session, error)
	Strategy() string
}

// NewAuthenticator selects the strategy from cfg
func NewAuthenticator(cfg Config, httpClient *http.Client) (Authenticator, error) {
	cfg.applyDefaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.AuthTimeout}
	}

	strategy, err := cfg.Strategy()
	if err != nil {
		return nil, err
	}

	switch strategy {
	case StrategyClientCredentials:
		if cfg.TokenURL == "" {
			return nil, fmt.Errorf("token URL is required for %s login", StrategyClientCredentials)
		}
		return &ClientCredentialsAuth{
			config: clientcredentials.Config{
				ClientID:     cfg.ClientID,
				ClientSecret: cfg.ClientSecret,
				TokenURL:     cfg.TokenURL,
				AuthStyle:    oauth2.AuthStyleInParams,
			},
			httpClient: httpClient,
			timeout:    cfg.AuthTimeout,
			now:        time.Now,
		}, nil
	default:
		loginURL := cfg.LoginURL
		if loginURL == "" {
			loginURL = fmt.Sprintf("https://%s.salesforce.com", cfg.Domain)
		}
		return &PasswordAuth{
			loginURL:      strings.TrimRight(loginURL, "/"),
			username:      cfg.Username,
			password:      cfg.Password,
			securityToken: cfg.SecurityToken,
			clientID:      cfg.LoginClientID,
			apiVersion:    strings.TrimPrefix(cfg.APIVersion, "v"),
			httpClient:    httpClient,
			timeout:       cfg.AuthTimeout,
			now:           time.Now,
		}, nil
	}
}

// ClientCredentialsAuth exchanges a client id/secret pair at a token endpoint
type ClientCredentialsAuth struct {
	config     clientcredentials.Config
	httpClient *http.Client
	timeout    time.Duration
	now        func() time.Time
}

// Strategy returns the strategy name
func (a *ClientCredentialsAuth) Strategy() string {
	return StrategyClientCredentials
}

// Authenticate requests a fresh access token
func (a *ClientCredentialsAuth) Authenticate(ctx context.Context) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)

	token, err := a.config.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: token exchange: %v", ErrAuthFailed, err)
	}

	instanceURL, _ := token.Extra("instance_url").(string)
	if instanceURL == "" {
		return nil, fmt.Errorf("%w: token response has no instance_url", ErrAuthFailed)
	}

	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		expiresAt = a.now().Add(DefaultSessionLifetime)
	}

	return &Session{
		AccessToken: token.AccessToken,
		InstanceURL: strings.TrimRight(instanceURL, "/"),
		ExpiresAt:   expiresAt,
		Strategy:    StrategyClientCredentials,
	}, nil
}

// PasswordAuth logs in through the SOAP partner API. The response carries no
// expiry, so sessions get DefaultSessionLifetime.
type PasswordAuth struct {
	loginURL      string
	username      string
	password      string
	securityToken string
	clientID      string
	apiVersion    string
	httpClient    *http.Client
	timeout       time.Duration
	now           func() time.Time
}

// Strategy returns the strategy name
func (a *PasswordAuth) Strategy() string {
	return StrategyPassword
}

type soapLoginEnvelope struct {
	Body struct {
		LoginResponse struct {
			Result struct {
				SessionID string `xml:"sessionId"`
				ServerURL string `xml:"serverUrl"`
			} `xml:"result"`
		} `xml:"loginResponse"`
		Fault *struct {
			Code   string `xml:"faultcode"`
			String string `xml:"faultstring"`
		} `xml:"Fault"`
	} `xml:"Body"`
}

// Authenticate performs the SOAP login call
func (a *PasswordAuth) Authenticate(ctx context.Context) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/services/Soap/u/%s", a.loginURL, a.apiVersion)
	body := a.loginEnvelope()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build login request: %v", ErrAuthFailed, err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=UTF-8")
	req.Header.Set("SOAPAction", "login")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: login request: %v", ErrAuthFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read login response: %v", ErrAuthFailed, err)
	}

	var envelope soapLoginEnvelope
	if err := xml.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: decode login response (status %d): %v", ErrAuthFailed, resp.StatusCode, err)
	}
	if envelope.Body.Fault != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrAuthFailed, envelope.Body.Fault.Code, envelope.Body.Fault.String)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: login returned status %d", ErrAuthFailed, resp.StatusCode)
	}

	result := envelope.Body.LoginResponse.Result
	if result.SessionID == "" || result.ServerURL == "" {
		return nil, fmt.Errorf("%w: login response missing session", ErrAuthFailed)
	}

	serverURL, err := url.Parse(result.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid server URL %q", ErrAuthFailed, result.ServerURL)
	}

	return &Session{
		AccessToken: result.SessionID,
		InstanceURL: serverURL.Scheme + "://" + serverURL.Host,
		ExpiresAt:   a.now().Add(DefaultSessionLifetime),
		Strategy:    StrategyPassword,
	}, nil
}

func (a *PasswordAuth) loginEnvelope() []byte {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="utf-8" ?>`)
	buf.WriteString(`<env:Envelope xmlns:xsd="http://www.w3.org/2001/XMLSchema" `)
	buf.WriteString(`xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" `)
	buf.WriteString(`xmlns:env="http://schemas.xmlsoap.org/soap/envelope/" `)
	buf.WriteString(`xmlns:urn="urn:partner.soap.sforce.com">`)
	buf.WriteString(`<env:Header><urn:CallOptions><urn:client>`)
	writeEscaped(&buf, a.clientID)
	buf.WriteString(`</urn:client></urn:CallOptions></env:Header>`)
	buf.WriteString(`<env:Body><n1:login xmlns:n1="urn:partner.soap.sforce.com"><n1:username>`)
	writeEscaped(&buf, a.username)
	buf.WriteString(`</n1:username><n1:password>`)
	writeEscaped(&buf, a.password+a.securityToken)
	buf.WriteString(`</n1:password></n1:login></env:Body></env:Envelope>`)
	return buf.Bytes()
}

func writeEscaped(buf *bytes.Buffer, s string) {
	_ = xml.EscapeText(buf, []byte(s))
}
