package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/conduit-ecg/annotator/internal/application"
)

type fakeAuthenticator struct {
	principal application.Principal
	err       error
	seen      []application.AuthenticateParams
}

func (f *fakeAuthenticator) Authenticate(_ context.Context, params application.AuthenticateParams) (application.AuthenticateResult, error) {
	f.seen = append(f.seen, params)
	if f.err != nil {
		return application.AuthenticateResult{}, f.err
	}
	return application.AuthenticateResult{Principal: f.principal}, nil
}

func TestRequireBasicAuth(t *testing.T) {
	t.Parallel()

	t.Run("maps authentication failures to responses", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name            string
			err             error
			expectedStatus  int
			expectChallenge bool
		}{
			{
				name:            "invalid credentials",
				err:             application.ErrInvalidCredentials,
				expectedStatus:  http.StatusUnauthorized,
				expectChallenge: true,
			},
			{
				name:           "store unavailable",
				err:            fmt.Errorf("%w: database is locked", application.ErrTransientStore),
				expectedStatus: http.StatusServiceUnavailable,
			},
			{
				name:           "unexpected failure",
				err:            errors.New("boom"),
				expectedStatus: http.StatusInternalServerError,
			},
		}

		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				t.Parallel()

				auth := &fakeAuthenticator{err: tc.err}
				handler := RequireBasicAuth(auth, slog.New(slog.DiscardHandler))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					t.Fatal("next handler should not be called when authentication fails")
				}))

				req := httptest.NewRequest(http.MethodGet, "/protected", nil)
				recorder := httptest.NewRecorder()
				handler.ServeHTTP(recorder, req)

				if recorder.Code != tc.expectedStatus {
					t.Fatalf("expected status %d, got %d", tc.expectedStatus, recorder.Code)
				}
				challenged := recorder.Header().Get("WWW-Authenticate") != ""
				if challenged != tc.expectChallenge {
					t.Fatalf("expected challenge=%v, got header %q", tc.expectChallenge, recorder.Header().Get("WWW-Authenticate"))
				}
			})
		}
	})

	t.Run("attaches authenticated principal to request context", func(t *testing.T) {
		t.Parallel()

		principal := application.Principal{Username: "alice", IsAdmin: true}
		auth := &fakeAuthenticator{principal: principal}

		var captured application.Principal
		handler := RequireBasicAuth(auth, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				t.Fatal("expected principal in request context")
			}
			captured = p
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.RemoteAddr = "198.51.100.7:55123"
		req.SetBasicAuth("alice", "secret")
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, req)

		if recorder.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", recorder.Code)
		}
		if captured != principal {
			t.Fatalf("unexpected principal %+v", captured)
		}
		if len(auth.seen) != 1 {
			t.Fatalf("expected one authentication, got %d", len(auth.seen))
		}
		params := auth.seen[0]
		if params.Origin != "198.51.100.7" || params.Username != "alice" || params.Password != "secret" || !params.HasCredentials {
			t.Fatalf("unexpected authentication params %+v", params)
		}
	})

	t.Run("passes requests without credentials to the authenticator", func(t *testing.T) {
		t.Parallel()

		auth := &fakeAuthenticator{principal: application.Principal{Username: "alice"}}
		handler := RequireBasicAuth(auth, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))

		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.RemoteAddr = "[2001:db8::1]:443"
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if len(auth.seen) != 1 || auth.seen[0].HasCredentials || auth.seen[0].Origin != "2001:db8::1" {
			t.Fatalf("unexpected authentication params %+v", auth.seen)
		}
	})
}

func TestRequestLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if LoggerFromContext(r.Context()) == nil {
			t.Fatal("expected request logger in context")
		}
		w.WriteHeader(http.StatusTeapot)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/segments", nil))

	output := buf.String()
	for _, want := range []string{"request started", "request completed", "request_id=1", "path=/segments", "status=418"} {
		if !strings.Contains(output, want) {
			t.Fatalf("expected %q in log output:\n%s", want, output)
		}
	}
}
