package ghl

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bearer(token string) func(context.Context, http.Header) error {
	return func(_ context.Context, header http.Header) error {
		header.Set("Authorization", "Bearer "+token)
		return nil
	}
}

func TestV2ClientSendsVersionBearerAndLocation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/contacts/", r.URL.Path)
		assert.Equal(t, "2021-07-28", r.Header.Get("Version"))
		assert.Equal(t, "Bearer oauth-token", r.Header.Get("Authorization"))
		assert.Equal(t, "jane@example.com", r.URL.Query().Get("query"))
		assert.Equal(t, "loc-1", r.URL.Query().Get("locationId"))
		_, _ = w.Write([]byte(`{"contacts":[{"id":"g-1","email":"Jane@example.com"}]}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{
		Generation:       GenerationV2,
		BaseURL:          server.URL,
		APIVersion:       "2021-07-28",
		Authorizer:       bearer("oauth-token"),
		LocationResolver: func(context.Context) string { return "loc-1" },
	})
	require.NoError(t, err)

	contacts, err := client.SearchContacts(context.Background(), "jane@example.com")
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "g-1", contacts[0].ID)
}

func TestV1ClientUsesAPIKey(t *testing.T) {
	var created map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer location-key", r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("Version"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&created))
		_, _ = w.Write([]byte(`{"contact":{"id":"g-2"}}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{Generation: GenerationV1, BaseURL: server.URL, APIKey: "location-key", LocationID: "loc-1"})
	require.NoError(t, err)

	contact, err := client.CreateContact(context.Background(), NewContact{FirstName: "Jane", Email: "jane@example.com", Source: "ServiceM8 Integration"})
	require.NoError(t, err)
	assert.Equal(t, "g-2", contact.ID)
	assert.Equal(t, "ServiceM8 Integration", created["source"])
	assert.NotContains(t, created, "locationId")
}

func TestNewClientValidatesGeneration(t *testing.T) {
	_, err := NewClient(Config{Generation: "v3", BaseURL: "https://example.com"})
	require.ErrorIs(t, err, errUnknownGeneration)
	_, err = NewClient(Config{Generation: GenerationV1, BaseURL: "https://example.com"})
	require.ErrorIs(t, err, errMissingAPIKey)
	_, err = NewClient(Config{Generation: GenerationV2, BaseURL: "https://example.com"})
	require.ErrorIs(t, err, errMissingAuthorizer)
}

func TestGetContactDecodesCustomFieldShapes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "customFields", r.URL.Query().Get("include"))
		_, _ = w.Write([]byte(`{"contact":{"id":"g-1","firstName":"Jane","customField":[
			{"id":"zNzhT7M36keauEw2TCtf","value":"Leaking tap in kitchen"},
			{"id":"photos","value":{"b-key":{"url":"https://files.example.com/b.png","documentId":"doc-b","meta":{"mimetype":"image/png","originalname":"b.png"}},"a-key":{"url":"https://files.example.com/a.jpg","meta":{"mimetype":"image/jpeg"}}}}
		]}}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{Generation: GenerationV2, BaseURL: server.URL, Authorizer: bearer("t")})
	require.NoError(t, err)

	contact, err := client.GetContact(context.Background(), "g-1")
	require.NoError(t, err)

	message, ok := contact.Fields().Find("message", []string{"zNzhT7M36keauEw2TCtf"})
	require.True(t, ok)
	assert.Equal(t, "Leaking tap in kitchen", message.Text())

	photos, ok := contact.Fields().Find("", []string{"photos"})
	require.True(t, ok)
	files := photos.Files()
	require.Len(t, files, 2)
	assert.Equal(t, "a-key", files[0].Key)
	assert.Equal(t, "image/jpeg", files[0].MimeType)
	assert.Equal(t, "doc-b", files[1].DocumentID)
	assert.Equal(t, "b.png", files[1].OriginalName)
}

func TestCustomFieldListAcceptsKeyedObject(t *testing.T) {
	var contact Contact
	require.NoError(t, json.Unmarshal([]byte(`{"customFields":{"f1":{"name":"Urgency","value":"High"},"f2":"plain"}}`), &contact))

	fields := contact.Fields()
	require.Len(t, fields, 2)
	urgency, ok := fields.Find("urgency", nil)
	require.True(t, ok)
	assert.Equal(t, "f1", urgency.ID)
	assert.Equal(t, "High", urgency.Text())
	assert.Equal(t, "plain", fields[1].Text())
}

func TestDownloadDocumentFallsBackToURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer t", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/documents/download/doc-1":
			w.WriteHeader(http.StatusNotFound)
		case "/direct/photo.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("png-bytes"))
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	defer server.Close()

	client, err := NewClient(Config{Generation: GenerationV2, BaseURL: server.URL, DocumentsBaseURL: server.URL, Authorizer: bearer("t")})
	require.NoError(t, err)

	download, err := client.DownloadDocument(context.Background(), "doc-1", server.URL+"/direct/photo.png", 0)
	require.NoError(t, err)
	assert.Equal(t, "image/png", download.ContentType)
	assert.Equal(t, []byte("png-bytes"), download.Data)

	_, err = client.DownloadDocument(context.Background(), "doc-1", server.URL+"/direct/photo.png", 3)
	require.True(t, errors.Is(err, ErrDownloadTooLarge))
}

func TestPostWebhookSendsEvent(t *testing.T) {
	var event map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/hooks/paid", r.URL.Path)
		assert.Equal(t, "Bearer t", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&event))
	}))
	defer server.Close()

	client, err := NewClient(Config{Generation: GenerationV2, BaseURL: "https://services.leadconnectorhq.com", Authorizer: bearer("t")})
	require.NoError(t, err)

	require.NoError(t, client.PostWebhook(context.Background(), server.URL+"/hooks/paid", WebhookEvent{
		PaymentUUID:  "pay-1",
		JobUUID:      "job-1",
		ClientEmail:  "jane@example.com",
		GHLContactID: "g-1",
		Status:       "Invoice Paid",
	}))
	assert.Equal(t, "Invoice Paid", event["status"])
	assert.Equal(t, "pay-1", event["paymentUuid"])
}
