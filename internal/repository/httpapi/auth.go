package httpapi

import (
	"context"
	"errors"

	"github.com/go-resty/resty/v2"
)

// Account is the public part of a user record.
type Account struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// AuthResult is the reply to a successful login or registration.
type AuthResult struct {
	Token string  `json:"token"`
	User  Account `json:"user"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// AuthClient performs the account calls that run before a token exists.
type AuthClient struct {
	r *resty.Client
}

// NewAuth constructs an AuthClient for baseURL.
func NewAuth(baseURL string, opts ...Option) *AuthClient {
	r := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetTimeout(defaultTimeout)
	for _, o := range opts {
		o(r)
	}
	return &AuthClient{r: r}
}

// Login exchanges email and password for an access token.
func (a *AuthClient) Login(ctx context.Context, email, password string) (AuthResult, error) {
	if email == "" || password == "" {
		return AuthResult{}, errors.New("login: email and password are required")
	}
	return a.post(ctx, "/api/auth/login", loginRequest{Email: email, Password: password})
}

// Register creates an account and returns its first access token.
func (a *AuthClient) Register(ctx context.Context, email, password, name string) (AuthResult, error) {
	if email == "" || password == "" {
		return AuthResult{}, errors.New("register: email and password are required")
	}
	return a.post(ctx, "/api/auth/register", registerRequest{Email: email, Password: password, Name: name})
}

func (a *AuthClient) post(ctx context.Context, path string, body any) (AuthResult, error) {
	var res AuthResult
	resp, err := a.r.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&res).
		SetError(&apiError{}).
		Post(path)
	if err := check(resp, err); err != nil {
		return AuthResult{}, err
	}
	if res.Token == "" {
		return AuthResult{}, errors.New("auth: server returned no token")
	}
	return res, nil
}

// Profile returns the account the client's token belongs to.
func (c *Client) Profile(ctx context.Context) (Account, error) {
	var acc Account
	resp, err := c.r.R().
		SetContext(ctx).
		SetResult(&acc).
		SetError(&apiError{}).
		Get("/api/profile")
	if err := check(resp, err); err != nil {
		return Account{}, err
	}
	return acc, nil
}
