package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func githubForTest(t *testing.T, userBody, emailsBody string) *githubProvider {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(userBody))
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(emailsBody))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	p := NewGitHub(ClientConfig{ClientID: "id", ClientSecret: "secret"}, time.Second).(*githubProvider)
	p.userURL = srv.URL + "/user"
	p.emailsURL = srv.URL + "/user/emails"
	return p
}

func TestGitHubFetchPicksPrimaryVerifiedEmail(t *testing.T) {
	p := githubForTest(t,
		`{"id":7,"login":"octocat","email":""}`,
		`[{"email":"old@example.com","primary":false,"verified":true},
		  {"email":"cat@example.com","primary":true,"verified":true},
		  {"email":"spam@example.com","primary":false,"verified":false}]`)

	id, err := p.Fetch(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if id.Email != "cat@example.com" {
		t.Fatalf("Fetch: expected primary verified email, got %q", id.Email)
	}
	if id.Username != "octocat" {
		t.Fatalf("Fetch: expected login as username, got %q", id.Username)
	}
}

func TestGitHubFetchMissingEmail(t *testing.T) {
	p := githubForTest(t,
		`{"id":7,"login":"octocat","email":""}`,
		`[{"email":"unverified@example.com","primary":true,"verified":false}]`)

	_, err := p.Fetch(context.Background(), "tok")
	if !errors.Is(err, ErrMissingEmail) {
		t.Fatalf("Fetch: expected ErrMissingEmail, got %v", err)
	}
}

func TestGitHubFetchUsesProfileEmailWhenPublic(t *testing.T) {
	p := githubForTest(t,
		`{"id":7,"login":"octocat","email":"public@example.com"}`,
		`[]`)

	id, err := p.Fetch(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if id.Email != "public@example.com" {
		t.Fatalf("Fetch: expected public profile email, got %q", id.Email)
	}
}
