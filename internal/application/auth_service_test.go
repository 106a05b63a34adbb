package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/conduit-ecg/annotator/internal/application"
	"github.com/conduit-ecg/annotator/internal/testfixtures"
)

func TestAuthServiceAuthenticate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	factory := testfixtures.NewServiceFactory()
	h := testfixtures.NewMemoryHarness(t, factory.Clock)
	h.Seed(t, nil,
		testfixtures.NewAnnotatorFixture(testfixtures.WithAnnotatorUsername("bfoo"), testfixtures.WithAnnotatorPasswordHash("fake$secret")).Persistence(),
		testfixtures.NewAnnotatorFixture(testfixtures.WithAnnotatorUsername("root"), testfixtures.WithAnnotatorPasswordHash("fake$toor")).Persistence(),
	)
	svc := factory.NewAuthService(h, time.Minute, "root")

	t.Run("verifies credentials", func(t *testing.T) {
		result, err := svc.Authenticate(ctx, application.AuthenticateParams{Origin: "10.0.0.1", Username: "bfoo", Password: "secret", HasCredentials: true})
		if err != nil {
			t.Fatalf("Authenticate returned error: %v", err)
		}
		if result.Principal.Username != "bfoo" || result.Principal.IsAdmin || result.Bypassed {
			t.Fatalf("unexpected result %#v", result)
		}
	})

	t.Run("rejects bad credentials", func(t *testing.T) {
		cases := []application.AuthenticateParams{
			{Origin: "10.0.0.2", Username: "bfoo", Password: "wrong", HasCredentials: true},
			{Origin: "10.0.0.2", Username: "ghost", Password: "secret", HasCredentials: true},
			{Origin: "10.0.0.2"},
			{Origin: "10.0.0.2", Username: "bfoo", HasCredentials: true},
		}
		for _, params := range cases {
			if _, err := svc.Authenticate(ctx, params); !errors.Is(err, application.ErrInvalidCredentials) {
				t.Fatalf("expected ErrInvalidCredentials for %#v, got %v", params, err)
			}
		}
	})

	t.Run("live origin bypasses the credential check", func(t *testing.T) {
		factory.Clock.Advance(30 * time.Second)
		result, err := svc.Authenticate(ctx, application.AuthenticateParams{Origin: "10.0.0.1"})
		if err != nil {
			t.Fatalf("expected bypass, got %v", err)
		}
		if !result.Bypassed || result.Principal.Username != "bfoo" {
			t.Fatalf("unexpected result %#v", result)
		}

		result, err = svc.Authenticate(ctx, application.AuthenticateParams{Origin: "10.0.0.1", Username: "bfoo", Password: "stale", HasCredentials: true})
		if err != nil || !result.Bypassed {
			t.Fatalf("expected bypass for the cached annotator, got %#v %v", result, err)
		}
	})

	t.Run("different annotator on a cached origin is verified", func(t *testing.T) {
		_, err := svc.Authenticate(ctx, application.AuthenticateParams{Origin: "10.0.0.1", Username: "root", Password: "wrong", HasCredentials: true})
		if !errors.Is(err, application.ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
		result, err := svc.Authenticate(ctx, application.AuthenticateParams{Origin: "10.0.0.1", Username: "root", Password: "toor", HasCredentials: true})
		if err != nil {
			t.Fatalf("Authenticate returned error: %v", err)
		}
		if !result.Principal.IsAdmin || result.Bypassed {
			t.Fatalf("expected verified admin principal, got %#v", result)
		}
	})

	t.Run("expired origin must authenticate again", func(t *testing.T) {
		factory.Clock.Advance(2 * time.Minute)
		if _, err := svc.Authenticate(ctx, application.AuthenticateParams{Origin: "10.0.0.1"}); !errors.Is(err, application.ErrInvalidCredentials) {
			t.Fatalf("expected expired session to require credentials, got %v", err)
		}
	})

	t.Run("forget ends the session", func(t *testing.T) {
		if _, err := svc.Authenticate(ctx, application.AuthenticateParams{Origin: "10.0.0.9", Username: "bfoo", Password: "secret", HasCredentials: true}); err != nil {
			t.Fatalf("Authenticate returned error: %v", err)
		}
		svc.Forget("10.0.0.9")
		if _, err := svc.Authenticate(ctx, application.AuthenticateParams{Origin: "10.0.0.9"}); !errors.Is(err, application.ErrInvalidCredentials) {
			t.Fatalf("expected forgotten origin to require credentials, got %v", err)
		}
	})
}
