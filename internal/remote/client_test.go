package remote

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoJSONSendsHeadersAndDecodes(t *testing.T) {
	var seen *http.Request
	var seenBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r
		payload, _ := io.ReadAll(r.Body)
		seenBody = string(payload)
		w.Header().Set("x-record-uuid", "rec-1")
		_, _ = w.Write([]byte(`{"name":"Acme"}`))
	}))
	defer server.Close()

	calls := 0
	client, err := NewClient(Options{
		Service: "servicem8",
		BaseURL: server.URL + "/api_1.0/",
		Headers: map[string]string{"X-API-Key": "secret"},
		HeaderFunc: func(_ context.Context, header http.Header) error {
			calls++
			header.Set("Authorization", "Bearer dynamic")
			return nil
		},
	})
	require.NoError(t, err)

	var out struct {
		Name string `json:"name"`
	}
	response, err := client.DoJSON(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/company.json",
		Query:  url.Values{"$filter": {"uuid eq 'abc'"}},
		Body:   map[string]string{"name": "Acme"},
	}, &out)
	require.NoError(t, err)

	assert.Equal(t, "Acme", out.Name)
	assert.Equal(t, "rec-1", response.Header.Get("x-record-uuid"))
	assert.Equal(t, 1, calls)
	assert.Equal(t, "/api_1.0/company.json", seen.URL.Path)
	assert.Equal(t, "uuid eq 'abc'", seen.URL.Query().Get("$filter"))
	assert.Equal(t, "secret", seen.Header.Get("X-API-Key"))
	assert.Equal(t, "Bearer dynamic", seen.Header.Get("Authorization"))
	assert.Equal(t, "application/json", seen.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"name":"Acme"}`, seenBody)
}

func TestDoReturnsAPIErrorForNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"bad email"}`))
	}))
	defer server.Close()

	client, err := NewClient(Options{Service: "ghl", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = client.Do(context.Background(), Request{Path: "contacts/"})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Equal(t, `{"message":"bad email"}`, apiErr.Body)
	assert.Equal(t, http.StatusUnprocessableEntity, StatusOf(err))
	assert.True(t, strings.Contains(err.Error(), "ghl GET contacts/"))
}

func TestHeaderFuncFailureStopsRequest(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer server.Close()

	sentinel := errors.New("no token")
	client, err := NewClient(Options{
		BaseURL: server.URL,
		HeaderFunc: func(context.Context, http.Header) error {
			return sentinel
		},
	})
	require.NoError(t, err)

	_, err = client.Do(context.Background(), Request{Path: "/users/me"})
	require.ErrorIs(t, err, sentinel)
	assert.Zero(t, hits)

	_, err = client.Do(context.Background(), Request{Path: "/public", SkipAuth: true})
	require.NoError(t, err)
	assert.Equal(t, 1, hits)
}

func TestAbsolutePathBypassesBaseURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client, err := NewClient(Options{BaseURL: "https://unused.invalid"})
	require.NoError(t, err)

	response, err := client.Do(context.Background(), Request{Path: server.URL + "/hook"})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(response.Body))
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(Options{})
	require.ErrorIs(t, err, errMissingBaseURL)
}
