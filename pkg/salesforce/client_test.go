package salesforce

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *Client {
	session := &Session{AccessToken: "tok", InstanceURL: url, ExpiresAt: time.Now().Add(time.Hour)}
	return newClient(session, DefaultAPIVersion, http.DefaultClient, 5*time.Second, nil)
}

func TestClient_ToolingQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/services/data/v59.0/tooling/query/", r.URL.Path)
		assert.Equal(t, "SELECT Id, Name FROM ApexClass WHERE Name = 'Foo' LIMIT 1", r.URL.Query().Get("q"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"totalSize":1,"done":true,"records":[{"Id":"01p","Name":"Foo"}]}`))
	}))
	defer server.Close()

	res, err := newTestClient(server.URL).ToolingQuery(context.Background(), "SELECT Id, Name FROM ApexClass WHERE Name = 'Foo' LIMIT 1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalSize)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "Foo", res.Records[0]["Name"])
}

func TestClient_ToolingQuery_EmptyRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"totalSize":0,"done":true}`))
	}))
	defer server.Close()

	res, err := newTestClient(server.URL).ToolingQuery(context.Background(), "SELECT Id FROM ApexClass")
	require.NoError(t, err)
	assert.NotNil(t, res.Records)
	assert.Empty(t, res.Records)
}

func TestClient_Describe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/services/data/v59.0/sobjects/Account/describe", r.URL.Path)
		_, _ = w.Write([]byte(`{"name":"Account","fields":[{"name":"Id"}]}`))
	}))
	defer server.Close()

	res, err := newTestClient(server.URL).Describe(context.Background(), "Account")
	require.NoError(t, err)
	assert.Equal(t, "Account", res["name"])
}

func TestClient_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`[{"message":"The requested resource does not exist","errorCode":"NOT_FOUND"}]`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Describe(context.Background(), "Nope__c")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "NOT_FOUND", apiErr.ErrorCode)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	client.timeout = 20 * time.Millisecond

	_, err := client.ToolingQuery(context.Background(), "SELECT Id FROM ApexClass")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
