package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/advance-ops/backoffice/internal/shared"
)

const gotruePageSize = 200

// GoTrueClient talks to a GoTrue-compatible admin API using the privileged
// service key.
type GoTrueClient struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
}

// NewGoTrueClient constructs a client for baseURL (e.g. https://xyz.supabase.co).
func NewGoTrueClient(baseURL, serviceKey string) *GoTrueClient {
	return &GoTrueClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type gotrueUser struct {
	ID           string   `json:"id"`
	Email        string   `json:"email"`
	UserMetadata Metadata `json:"user_metadata"`
}

func (u gotrueUser) account() Account {
	return Account{ID: u.ID, Email: u.Email, Metadata: u.UserMetadata}
}

// CreateAccount creates a confirmed account.
func (c *GoTrueClient) CreateAccount(ctx context.Context, params CreateParams) (Account, error) {
	body := map[string]any{
		"email":         params.Email,
		"password":      params.Password,
		"email_confirm": true,
		"user_metadata": params.Metadata,
	}
	var user gotrueUser
	if err := c.do(ctx, http.MethodPost, "/auth/v1/admin/users", body, &user); err != nil {
		return Account{}, fmt.Errorf("identity: create account: %w", err)
	}
	if user.ID == "" {
		return Account{}, fmt.Errorf("identity: create account: response without id")
	}
	return user.account(), nil
}

// DeleteAccount removes the account with id.
func (c *GoTrueClient) DeleteAccount(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/auth/v1/admin/users/"+id, nil, nil); err != nil {
		return fmt.Errorf("identity: delete account %s: %w", id, err)
	}
	return nil
}

// ListAccounts pages through every account.
func (c *GoTrueClient) ListAccounts(ctx context.Context) ([]Account, error) {
	var out []Account
	for page := 1; ; page++ {
		var resp struct {
			Users []gotrueUser `json:"users"`
		}
		path := fmt.Sprintf("/auth/v1/admin/users?page=%d&per_page=%d", page, gotruePageSize)
		if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, fmt.Errorf("identity: list accounts: %w", err)
		}
		for _, u := range resp.Users {
			out = append(out, u.account())
		}
		if len(resp.Users) < gotruePageSize {
			return out, nil
		}
	}
}

// UpdatePassword replaces the account password.
func (c *GoTrueClient) UpdatePassword(ctx context.Context, id, password string) error {
	if err := c.do(ctx, http.MethodPut, "/auth/v1/admin/users/"+id, map[string]any{"password": password}, nil); err != nil {
		return fmt.Errorf("identity: update password %s: %w", id, err)
	}
	return nil
}

func (c *GoTrueClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode == http.StatusNotFound {
		return shared.ErrNotFound
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var _ Provider = (*GoTrueClient)(nil)
