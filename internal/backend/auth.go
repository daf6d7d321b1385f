package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"signalcraft-client/internal/session"
)

type loginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// Login exchanges credentials at POST /api/auth/login (an OAuth2 password
// form) and loads the profile from GET /api/auth/me.
func (c *Client) Login(ctx context.Context, username, password string) (session.User, *oauth2.Token, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return session.User{}, nil, errors.New("username and password are required")
	}
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("api", "auth", "login"), strings.NewReader(form.Encode()))
	if err != nil {
		return session.User{}, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var parsed loginResponse
	if err := c.do(c.plain, req, &parsed); err != nil {
		return session.User{}, nil, fmt.Errorf("login: %w", err)
	}
	if parsed.AccessToken == "" {
		return session.User{}, nil, errors.New("login: response missing access_token")
	}
	tok := &oauth2.Token{
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
		TokenType:    parsed.TokenType,
	}
	user, err := c.me(ctx, tok)
	if err != nil {
		return session.User{}, nil, err
	}
	return user, tok, nil
}

// Me returns the profile for the current session token.
func (c *Client) Me(ctx context.Context) (session.User, error) {
	var user session.User
	if err := c.getJSON(ctx, c.endpoint("api", "auth", "me"), &user); err != nil {
		return session.User{}, fmt.Errorf("load profile: %w", err)
	}
	return user, nil
}

func (c *Client) me(ctx context.Context, tok *oauth2.Token) (session.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("api", "auth", "me"), nil)
	if err != nil {
		return session.User{}, err
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")
	var user session.User
	if err := c.do(c.plain, req, &user); err != nil {
		return session.User{}, fmt.Errorf("load profile: %w", err)
	}
	return user, nil
}
