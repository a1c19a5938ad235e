package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/sessions"
)

type ctxKey string

const (
	// UserIDContextKey is used for extract user id from request context
	UserIDContextKey ctxKey = "current_user_id"

	// SessionName is the cookie session shared with the web app
	SessionName    = "_ptconnect_session"
	sessionUserKey = "user_id"
	tokenQueryKey  = "token"
	userIDClaim    = "user_id"
)

// AuthFailFunc is function that is called when authentication failed
type AuthFailFunc func(w http.ResponseWriter, r *http.Request, err error)

// AuthHandler is optional handler for mocking in tests
type AuthHandler func(next http.Handler) http.Handler

var (
	ErrEmptyAuthToken = errors.New("empty auth token")
	ErrInvalidToken   = errors.New("invalid auth token")
	errNoUser         = errors.New("can't get user from request context")
)

type Authenticator struct {
	AuthFailFunc AuthFailFunc
	StubHandler  AuthHandler

	secret      []byte
	cookieStore *sessions.CookieStore
}

func New(jwtSecret string, sessionSecret string) *Authenticator {
	a := &Authenticator{
		secret: []byte(jwtSecret),
	}
	if sessionSecret != "" {
		a.cookieStore = sessions.NewCookieStore([]byte(sessionSecret))
		a.cookieStore.Options.HttpOnly = true
		a.cookieStore.Options.SameSite = http.SameSiteLaxMode
	}
	return a
}

// Middleware resolves the user from the cookie session or a bearer token
func (a *Authenticator) Middleware() AuthHandler {
	if a.StubHandler != nil {
		return a.StubHandler
	}

	return a.defaultMiddleware()
}

func (a *Authenticator) defaultMiddleware() AuthHandler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID := a.sessionUserID(r); userID != "" {
				next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
				return
			}

			token := tokenFromRequest(r)
			if token == "" {
				a.authFailed(w, r, ErrEmptyAuthToken)
				return
			}

			userID, err := a.VerifyToken(token)
			if err != nil {
				a.authFailed(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

func (a *Authenticator) sessionUserID(r *http.Request) string {
	if a.cookieStore == nil {
		return ""
	}

	session, err := a.cookieStore.Get(r, SessionName)
	if err != nil {
		return ""
	}

	userID, _ := session.Values[sessionUserKey].(string)
	return userID
}

// SaveSession stores the user id in the cookie session
func (a *Authenticator) SaveSession(w http.ResponseWriter, r *http.Request, userID string) error {
	if a.cookieStore == nil {
		return errors.New("cookie sessions are disabled")
	}

	session, err := a.cookieStore.Get(r, SessionName)
	if err != nil {
		return err
	}
	session.Values[sessionUserKey] = userID

	return session.Save(r, w)
}

// IssueToken signs a HS256 token carrying user_id
func (a *Authenticator) IssueToken(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		userIDClaim: userID,
		"iat":       now.Unix(),
		"exp":       now.Add(ttl).Unix(),
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) VerifyToken(tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}

	userID, ok := claims[userIDClaim].(string)
	if !ok || userID == "" {
		return "", ErrInvalidToken
	}

	return userID, nil
}

func (a *Authenticator) authFailed(w http.ResponseWriter, r *http.Request, err error) {
	if a.AuthFailFunc != nil {
		a.AuthFailFunc(w, r, err)
	} else {
		w.WriteHeader(http.StatusUnauthorized)
	}
}

// browsers can't set headers on websocket upgrades, so the query is accepted too
func tokenFromRequest(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if parts := strings.SplitN(header, " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}

	return r.URL.Query().Get(tokenQueryKey)
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDContextKey, userID)
}

// UserIDFromRequest extracts user id from the request context
func UserIDFromRequest(r *http.Request) (string, error) {
	userID, ok := r.Context().Value(UserIDContextKey).(string)
	if !ok || userID == "" {
		return "", errNoUser
	}

	return userID, nil
}
