package testfixtures

import (
	"context"
	"testing"

	"github.com/conduit-ecg/annotator/internal/application"
)

func TestServiceFactoryNewAnnotatorService(t *testing.T) {
	factory := NewServiceFactory()
	h := NewMemoryHarness(t, factory.Clock)

	svc := factory.NewAnnotatorService(h)
	created, err := svc.Create(context.Background(), application.CreateAnnotatorParams{
		Principal: AdminPrincipal,
		Name:      "Bea Foo",
		Username:  "bfoo",
		Password:  "secret",
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if !created.CreatedAt.Equal(factory.Clock.Now()) {
		t.Fatalf("expected timestamp %v, got %v", factory.Clock.Now(), created.CreatedAt)
	}

	stored, err := h.Annotators.GetAnnotatorByUsername(context.Background(), "bfoo")
	if err != nil {
		t.Fatalf("GetAnnotatorByUsername returned error: %v", err)
	}
	if stored.PasswordHash != "fake$secret" {
		t.Fatalf("expected fake hash, got %q", stored.PasswordHash)
	}
	if got := factory.Audit.Operations(); len(got) != 1 || got[0] != "annotator.create" {
		t.Fatalf("expected one audit entry, got %v", got)
	}
}
