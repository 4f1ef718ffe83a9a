package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type githubProvider struct {
	cfg        ClientConfig
	httpClient *http.Client
	tokenURL   string
	userURL    string
	emailsURL  string
}

func NewGitHub(cfg ClientConfig, timeout time.Duration) Provider {
	return &githubProvider{
		cfg:        cfg,
		httpClient: newHTTPClient(timeout),
		tokenURL:   "https://github.com/login/oauth/access_token",
		userURL:    "https://api.github.com/user",
		emailsURL:  "https://api.github.com/user/emails",
	}
}

func (g *githubProvider) Name() string { return "github" }

func (g *githubProvider) Exchange(ctx context.Context, code string) (string, error) {
	form := url.Values{
		"code":          {code},
		"client_id":     {g.cfg.ClientID},
		"client_secret": {g.cfg.ClientSecret},
		"redirect_uri":  {g.cfg.RedirectURL},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("github token exchange: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("github token exchange: status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("github token exchange: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("github token exchange: empty access token")
	}
	return body.AccessToken, nil
}

func (g *githubProvider) Fetch(ctx context.Context, accessToken string) (Identity, error) {
	var profile struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
		Email string `json:"email"`
	}
	if err := g.getJSON(ctx, g.userURL, accessToken, &profile); err != nil {
		return Identity{}, err
	}

	email := profile.Email
	if email == "" {
		// The public profile email is usually hidden; the emails endpoint
		// requires the user:email scope.
		var emails []struct {
			Email    string `json:"email"`
			Primary  bool   `json:"primary"`
			Verified bool   `json:"verified"`
		}
		if err := g.getJSON(ctx, g.emailsURL, accessToken, &emails); err != nil {
			return Identity{}, err
		}
		for _, e := range emails {
			if e.Primary && e.Verified {
				email = e.Email
				break
			}
		}
	}
	if email == "" {
		return Identity{}, ErrMissingEmail
	}

	username := profile.Login
	if username == "" {
		username = strconv.FormatInt(profile.ID, 10)
	}
	return Identity{Email: email, Username: username}, nil
}

func (g *githubProvider) getJSON(ctx context.Context, rawURL, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("github api: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("github api %s: status %d", rawURL, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
