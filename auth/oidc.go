package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Tokens are the credentials returned by the token endpoint. They are kept
// server-side in the session and never sent to the browser.
type Tokens struct {
	AccessToken  string    `json:"accessToken"`
	IDToken      string    `json:"idToken,omitempty"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	TokenType    string    `json:"tokenType,omitempty"`
	Expiry       time.Time `json:"expiry,omitzero"`
}

// UserInfo is the subset of OIDC userinfo claims the app uses.
type UserInfo struct {
	Sub           string   `json:"sub"`
	Email         string   `json:"email"`
	EmailVerified flexBool `json:"email_verified"`
	Name          string   `json:"name,omitempty"`
	Username      string   `json:"username,omitempty"`
	PhoneNumber   string   `json:"phone_number,omitempty"`
}

// flexBool decodes both true and "true", since providers disagree on the
// type of email_verified.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	*b = flexBool(strings.EqualFold(s, "true"))
	return nil
}

// OIDCProvider performs the authorization code flow.
type OIDCProvider interface {
	AuthCodeURL(state, nonce string) string
	Exchange(ctx context.Context, code string) (*Tokens, error)
	UserInfo(ctx context.Context, tokens *Tokens) (*UserInfo, error)
}

// CognitoOIDC talks to the hosted UI OAuth2 endpoints.
type CognitoOIDC struct {
	cfg        Config
	httpClient *http.Client
}

// NewCognitoOIDC returns a provider for cfg. A nil httpClient uses
// http.DefaultClient.
func NewCognitoOIDC(cfg Config, httpClient *http.Client) *CognitoOIDC {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &CognitoOIDC{cfg: cfg, httpClient: httpClient}
}

func (p *CognitoOIDC) oauthConfig(secret string) *oauth2.Config {
	base := p.cfg.HostedUIURL()
	return &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: secret,
		RedirectURL:  p.cfg.RedirectURI,
		Scopes:       p.cfg.scopes(),
		Endpoint: oauth2.Endpoint{
			AuthURL:   base + "/oauth2/authorize",
			TokenURL:  base + "/oauth2/token",
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// AuthCodeURL builds the hosted UI authorize URL.
func (p *CognitoOIDC) AuthCodeURL(state, nonce string) string {
	return p.oauthConfig("").AuthCodeURL(state, oauth2.SetAuthURLParam("nonce", nonce))
}

// Exchange trades an authorization code for tokens.
func (p *CognitoOIDC) Exchange(ctx context.Context, code string) (*Tokens, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.timeout())
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	var tok *oauth2.Token
	exchange := func(secret []byte) error {
		var err error
		tok, err = p.oauthConfig(string(secret)).Exchange(ctx, code)
		return err
	}
	var err error
	if p.cfg.ClientSecret.IsSet() {
		err = p.cfg.ClientSecret.Use(exchange)
	} else {
		cfg := p.oauthConfig("")
		cfg.Endpoint.AuthStyle = oauth2.AuthStyleInParams
		tok, err = cfg.Exchange(ctx, code)
	}
	if err != nil {
		return nil, &TokenExchangeError{Err: err}
	}

	t := &Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
	if id, ok := tok.Extra("id_token").(string); ok {
		t.IDToken = id
	}
	return t, nil
}

// UserInfo fetches the userinfo claims for the access token.
func (p *CognitoOIDC) UserInfo(ctx context.Context, tokens *Tokens) (*UserInfo, error) {
	if tokens == nil || tokens.AccessToken == "" {
		return nil, &UserInfoFetchError{Err: errors.New("no access token")}
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.timeout())
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: tokens.AccessToken,
		TokenType:   "Bearer",
	}))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.HostedUIURL()+"/oauth2/userInfo", nil)
	if err != nil {
		return nil, &UserInfoFetchError{Err: err}
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, &UserInfoFetchError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &UserInfoFetchError{Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &UserInfoFetchError{Status: resp.StatusCode}
	}
	var info UserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, &UserInfoFetchError{Status: resp.StatusCode, Err: fmt.Errorf("decode userinfo: %w", err)}
	}
	if info.Sub == "" {
		return nil, &UserInfoFetchError{Status: resp.StatusCode, Err: errors.New("userinfo has no sub")}
	}
	return &info, nil
}
