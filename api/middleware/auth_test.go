package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/towline/towline-backend/pkg/auth"
	"github.com/towline/towline-backend/pkg/config"
	"github.com/towline/towline-backend/pkg/enums"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60}

func mintTestToken(t *testing.T, cfg config.JWTConfig, role enums.ActorRole, actorID uuid.UUID) string {
	t.Helper()
	issuer, err := auth.NewIssuer(cfg)
	require.NoError(t, err)
	token, err := issuer.Mint(time.Now(), auth.AccessTokenPayload{UserID: uuid.New(), ActorID: actorID, Role: role})
	require.NoError(t, err)
	return token
}

func serveAuth(cfg config.JWTConfig, header string, next http.HandlerFunc) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	Auth(cfg, nil)(next).ServeHTTP(rec, req)
	return rec
}

func TestAuthRejects(t *testing.T) {
	foreign := testJWT
	foreign.Issuer = "someone-else"

	cases := map[string]struct {
		cfg    config.JWTConfig
		header string
		status int
	}{
		"missing header": {cfg: testJWT, status: http.StatusUnauthorized},
		"empty bearer":   {cfg: testJWT, header: "Bearer   ", status: http.StatusUnauthorized},
		"garbage":        {cfg: testJWT, header: "Bearer invalid", status: http.StatusUnauthorized},
		"other issuer":   {cfg: testJWT, header: "Bearer " + mintTestToken(t, foreign, enums.ActorCustomer, uuid.New()), status: http.StatusUnauthorized},
		"no secret":      {cfg: config.JWTConfig{Issuer: "issuer", ExpirationMinutes: 1}, header: "Bearer x", status: http.StatusInternalServerError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := serveAuth(tc.cfg, tc.header, func(http.ResponseWriter, *http.Request) {
				t.Fatal("handler must not run")
			})
			require.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestAuthSeedsIdentity(t *testing.T) {
	providerID := uuid.New()
	for _, header := range []string{"Bearer ", "bearer ", ""} {
		var user string
		var actor uuid.UUID
		var role enums.ActorRole
		rec := serveAuth(testJWT, header+mintTestToken(t, testJWT, enums.ActorProvider, providerID), func(w http.ResponseWriter, r *http.Request) {
			user = UserIDFromContext(r.Context())
			actor = ActorIDFromContext(r.Context())
			role = RoleFromContext(r.Context())
		})
		require.Equal(t, http.StatusOK, rec.Code, "header prefix %q", header)
		require.NotEmpty(t, user)
		require.Equal(t, providerID, actor)
		require.Equal(t, enums.ActorProvider, role)
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(nil, enums.ActorCustomer, enums.ActorAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for role, want := range map[enums.ActorRole]int{
		enums.ActorCustomer: http.StatusOK,
		enums.ActorAdmin:    http.StatusOK,
		enums.ActorProvider: http.StatusForbidden,
		"":                  http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithIdentity(req.Context(), "u", uuid.New(), role))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, want, rec.Code, "role %q", role)
	}
}
