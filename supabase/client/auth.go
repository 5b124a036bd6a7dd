package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"
)

// Auth returns a GoTrue client.
func (c *Client) Auth() *AuthClient {
	return &AuthClient{client: c}
}

// AuthClient handles GoTrue operations. Admin methods need the service-role key.
type AuthClient struct {
	client *Client
}

// AuthResponse is the response from token grants.
type AuthResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user"`
}

// User represents a Supabase auth user.
type User struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	Phone            string         `json:"phone"`
	Role             string         `json:"role"`
	EmailConfirmedAt string         `json:"email_confirmed_at"`
	CreatedAt        string         `json:"created_at"`
	UpdatedAt        string         `json:"updated_at"`
	AppMetadata      map[string]any `json:"app_metadata"`
	UserMetadata     map[string]any `json:"user_metadata"`
}

// AdminUserAttributes is the body of admin create and update calls.
type AdminUserAttributes struct {
	Email        string         `json:"email,omitempty"`
	Password     string         `json:"password,omitempty"`
	EmailConfirm bool           `json:"email_confirm,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// SignIn exchanges email and password for a session.
func (a *AuthClient) SignIn(ctx context.Context, email, password string) (*AuthResponse, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}
	var out AuthResponse
	if err := a.call(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", body, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetUser resolves the user behind an access token.
func (a *AuthClient) GetUser(ctx context.Context, accessToken string) (*User, error) {
	var user User
	if err := a.call(ctx, http.MethodGet, "/auth/v1/user", nil, accessToken, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// AdminCreateUser creates a user without the signup flow.
func (a *AuthClient) AdminCreateUser(ctx context.Context, attrs AdminUserAttributes) (*User, error) {
	body, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("marshal attributes: %w", err)
	}
	var user User
	if err := a.call(ctx, http.MethodPost, "/auth/v1/admin/users", body, "", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// AdminUpdateUser updates an existing user by id.
func (a *AuthClient) AdminUpdateUser(ctx context.Context, id string, attrs AdminUserAttributes) (*User, error) {
	body, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("marshal attributes: %w", err)
	}
	var user User
	if err := a.call(ctx, http.MethodPut, "/auth/v1/admin/users/"+url.PathEscape(id), body, "", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// AdminGetUser fetches a user by id.
func (a *AuthClient) AdminGetUser(ctx context.Context, id string) (*User, error) {
	var user User
	if err := a.call(ctx, http.MethodGet, "/auth/v1/admin/users/"+url.PathEscape(id), nil, "", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// AdminListUsers returns one page of users. The second return value reports
// whether the page was full.
func (a *AuthClient) AdminListUsers(ctx context.Context, page, perPage int) ([]User, bool, error) {
	path := fmt.Sprintf("/auth/v1/admin/users?page=%d&per_page=%d", page, perPage)
	req, err := a.client.newRequest(ctx, http.MethodGet, a.client.baseURL+path, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := a.client.do(req)
	if err != nil {
		return nil, false, err
	}
	if err := resp.Err(); err != nil {
		return nil, false, err
	}

	// GoTrue wraps the page as {"users": [...]}; older versions return a bare array.
	raw := gjson.GetBytes(resp.Body, "users")
	if !raw.Exists() {
		raw = gjson.ParseBytes(resp.Body)
	}
	var users []User
	if raw.IsArray() {
		if err := json.Unmarshal([]byte(raw.Raw), &users); err != nil {
			return nil, false, fmt.Errorf("decode users: %w", err)
		}
	}
	return users, len(users) == perPage, nil
}

// AdminListAllUsers pages through every user.
func (a *AuthClient) AdminListAllUsers(ctx context.Context) ([]User, error) {
	const perPage = 200
	var all []User
	for page := 1; ; page++ {
		users, more, err := a.AdminListUsers(ctx, page, perPage)
		if err != nil {
			return nil, err
		}
		all = append(all, users...)
		if !more {
			return all, nil
		}
	}
}

func (a *AuthClient) call(ctx context.Context, method, path string, body []byte, bearer string, out any) error {
	req, err := a.client.newRequest(ctx, method, a.client.baseURL+path, body)
	if err != nil {
		return err
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := a.client.do(req)
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
