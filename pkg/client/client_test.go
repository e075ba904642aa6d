package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomehq/tome/pkg/errdefs"
	"github.com/tomehq/tome/pkg/types"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL)
	require.NoError(t, err)
	return c
}

func TestNewRejectsBrokenBaseURLs(t *testing.T) {
	for _, base := range []string{"", "localhost:8080", "not a url"} {
		_, err := New(base)
		assert.ErrorIs(t, err, errdefs.ErrBadRequest, base)
	}

	c, err := New("http://localhost:8080/")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", c.base, "trailing slash is trimmed once, not per request")
}

func TestLoginInstallsTokens(t *testing.T) {
	user := &types.User{ID: uuid.New(), Email: "dev@example.com"}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "dev@example.com", body["email"])
		assert.Equal(t, "sturdy-passphrase", body["password"])
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"expires_in":    900,
			"user":          user,
		})
	})
	mux.HandleFunc("GET /api/v1/users/me", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"),
			"the login token rides every later request")
		json.NewEncoder(w).Encode(Identity{User: user, Role: types.RoleOwner})
	})

	c := newTestClient(t, mux)
	got, err := c.Login(context.Background(), "dev@example.com", "sturdy-passphrase")
	require.NoError(t, err)
	assert.Equal(t, user.Email, got.Email)

	access, refresh := c.Tokens()
	assert.Equal(t, "access-1", access)
	assert.Equal(t, "refresh-1", refresh)

	id, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.RoleOwner, id.Role)
}

func TestRefreshRotatesStoredPair(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "refresh-1", body["refresh_token"])
		json.NewEncoder(w).Encode(types.TokenPair{AccessToken: "access-2", RefreshToken: "refresh-2"})
	})

	c := newTestClient(t, mux)
	c.SetTokens("access-1", "refresh-1")
	require.NoError(t, c.RefreshTokens(context.Background()))

	access, refresh := c.Tokens()
	assert.Equal(t, "access-2", access)
	assert.Equal(t, "refresh-2", refresh)

	c.SetTokens("access-2", "")
	err := c.RefreshTokens(context.Background())
	assert.ErrorIs(t, err, errdefs.ErrUnauthenticated, "no refresh token means no rotation attempt")
}

func TestErrorsUnwrapToTaxonomy(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"detail": "domain gone", "code": "not_found"})
	}))

	_, err := c.GetDomain(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err), "wire codes rebuild the sentinel chain")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "not_found", apiErr.Code)
	assert.Equal(t, "domain gone", apiErr.Detail)
}

func TestErrorsTolerateNonJSONBodies(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "<html>upstream proxy had a bad day</html>")
	}))

	err := c.Ready(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "internal", apiErr.Code, "a proxy error page still yields a structured client error")
	assert.False(t, errdefs.IsNotFound(err))
}

func TestUploadBuildsMultipart(t *testing.T) {
	domainID := uuid.New()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/files/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, domainID.String(), r.FormValue("domain_id"))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "guide.md", header.Filename)
		content, _ := io.ReadAll(file)
		assert.Equal(t, "# Guide\n", string(content))

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(types.Document{ID: uuid.New(), Filename: "guide.md", Status: types.DocumentPending})
	}))
	c.SetTokens("token", "")

	doc, err := c.Upload(context.Background(), domainID, "guide.md", strings.NewReader("# Guide\n"))
	require.NoError(t, err)
	assert.Equal(t, types.DocumentPending, doc.Status)
}

func TestListFilesEncodesQuery(t *testing.T) {
	domainID := uuid.New()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, domainID.String(), q.Get("domain"))
		assert.Equal(t, "ready", q.Get("status"))
		assert.Equal(t, "10", q.Get("limit"))
		assert.Equal(t, "20", q.Get("offset"))
		json.NewEncoder(w).Encode(map[string]any{
			"files": []types.Document{{ID: uuid.New()}},
			"total": 41,
		})
	}))

	files, total, err := c.ListFiles(context.Background(), domainID, types.DocumentReady, 10, 20)
	require.NoError(t, err)
	assert.Len(t, files, 1)
	assert.Equal(t, 41, total)
}

func TestChatBodyShape(t *testing.T) {
	domainID := uuid.New()
	sessionID := uuid.New()
	var bodies []map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)
		json.NewEncoder(w).Encode(map[string]any{"session_id": sessionID, "content": "ok"})
	}))

	_, err := c.Chat(context.Background(), domainID, uuid.Nil, "first")
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), domainID, sessionID, "second")
	require.NoError(t, err)

	require.Len(t, bodies, 2)
	assert.NotContains(t, bodies[0], "session_id", "a Nil session is omitted so the server opens one")
	assert.Equal(t, sessionID.String(), bodies[1]["session_id"])
	assert.Equal(t, domainID.String(), bodies[1]["domain_id"])
}

func TestDeleteTreatsNoContentAsSuccess(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	assert.NoError(t, c.DeleteFile(context.Background(), uuid.New()))
}

func TestCredentialsRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, err := LoadCredentials()
	assert.ErrorIs(t, err, errdefs.ErrUnauthenticated, "missing file reads as logged out")

	saved := &Credentials{
		BaseURL:      "http://localhost:8080",
		Email:        "dev@example.com",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
	}
	require.NoError(t, SaveCredentials(saved))

	loaded, err := LoadCredentials()
	require.NoError(t, err)
	assert.Equal(t, saved, loaded)

	c, creds, err := Connect()
	require.NoError(t, err)
	assert.Equal(t, "dev@example.com", creds.Email)
	access, refresh := c.Tokens()
	assert.Equal(t, "access-1", access)
	assert.Equal(t, "refresh-1", refresh)

	require.NoError(t, ClearCredentials())
	require.NoError(t, ClearCredentials(), "clearing twice is not an error")
	_, err = LoadCredentials()
	assert.ErrorIs(t, err, errdefs.ErrUnauthenticated)
}
