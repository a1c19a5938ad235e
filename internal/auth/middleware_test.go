package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(a *Authenticator) *httptest.Server {
	r := chi.NewRouter()
	r.Use(a.Middleware())

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		userID, err := UserIDFromRequest(r)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(userID))
	})

	return httptest.NewServer(r)
}

func get(t *testing.T, req *http.Request) (int, string) {
	t.Helper()

	resp, err := http.DefaultClient.Do(req)
	require.Nil(t, err)
	defer resp.Body.Close()

	buf := make([]byte, 128)
	n, _ := resp.Body.Read(buf)

	return resp.StatusCode, string(buf[:n])
}

func TestAuthMiddleware(t *testing.T) {
	a := New("jwt-secret", "session-secret-session-secret-32")

	t.Run("without token", func(t *testing.T) {
		ts := newTestServer(a)
		defer ts.Close()

		req, err := http.NewRequest("GET", ts.URL, nil)
		assert.Nil(t, err)

		code, _ := get(t, req)
		assert.Equal(t, http.StatusUnauthorized, code)
	})

	t.Run("with given AuthFailFunc", func(t *testing.T) {
		failing := New("jwt-secret", "")
		failing.AuthFailFunc = func(w http.ResponseWriter, r *http.Request, err error) {
			w.WriteHeader(http.StatusBadRequest)
		}
		ts := newTestServer(failing)
		defer ts.Close()

		req, err := http.NewRequest("GET", ts.URL, nil)
		assert.Nil(t, err)

		code, _ := get(t, req)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("bearer header", func(t *testing.T) {
		ts := newTestServer(a)
		defer ts.Close()

		token, err := a.IssueToken("user-42", time.Minute)
		require.Nil(t, err)

		req, err := http.NewRequest("GET", ts.URL, nil)
		assert.Nil(t, err)
		req.Header.Set("Authorization", "Bearer "+token)

		code, body := get(t, req)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "user-42", body)
	})

	t.Run("query token", func(t *testing.T) {
		ts := newTestServer(a)
		defer ts.Close()

		token, err := a.IssueToken("user-7", time.Minute)
		require.Nil(t, err)

		req, err := http.NewRequest("GET", ts.URL+"/?token="+token, nil)
		assert.Nil(t, err)

		code, body := get(t, req)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "user-7", body)
	})

	t.Run("token signed with another secret", func(t *testing.T) {
		ts := newTestServer(a)
		defer ts.Close()

		token, err := New("other", "").IssueToken("user-42", time.Minute)
		require.Nil(t, err)

		req, err := http.NewRequest("GET", ts.URL, nil)
		assert.Nil(t, err)
		req.Header.Set("Authorization", "Bearer "+token)

		code, _ := get(t, req)
		assert.Equal(t, http.StatusUnauthorized, code)
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := a.IssueToken("user-42", -time.Minute)
		require.Nil(t, err)

		_, err = a.VerifyToken(token)
		assert.NotNil(t, err)
	})

	t.Run("cookie session", func(t *testing.T) {
		ts := newTestServer(a)
		defer ts.Close()

		rec := httptest.NewRecorder()
		require.Nil(t, a.SaveSession(rec, httptest.NewRequest("GET", "/", nil), "user-cookie"))

		req, err := http.NewRequest("GET", ts.URL, nil)
		assert.Nil(t, err)
		for _, c := range rec.Result().Cookies() {
			req.AddCookie(c)
		}

		code, body := get(t, req)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "user-cookie", body)
	})

	t.Run("stub handler", func(t *testing.T) {
		stubbed := New("jwt-secret", "")
		stubbed.StubHandler = func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), "stub")))
			})
		}
		ts := newTestServer(stubbed)
		defer ts.Close()

		req, err := http.NewRequest("GET", ts.URL, nil)
		assert.Nil(t, err)

		code, body := get(t, req)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "stub", body)
	})
}
