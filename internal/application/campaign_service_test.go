package application_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/conduit-ecg/annotator/internal/application"
	"github.com/conduit-ecg/annotator/internal/persistence"
	"github.com/conduit-ecg/annotator/internal/testfixtures"
)

func TestCampaignServiceAssignArchivesPreviousCampaign(t *testing.T) {
	t.Parallel()

	testfixtures.Backends(t, func(t *testing.T, h *testfixtures.Harness) {
		ctx := context.Background()
		factory := testfixtures.NewServiceFactory()
		s := seedSegments(t, factory, h, 2)
		h.Seed(t, nil, testfixtures.NewAnnotatorFixture(testfixtures.WithAnnotatorUsername("u")).Persistence())
		svc := factory.NewCampaignService(h)

		if _, err := svc.AssignCampaign(ctx, application.AssignCampaignParams{
			Principal: testfixtures.AdminPrincipal, Username: "u", Name: "batch1", SegmentIDs: []string{s[0].String()},
		}); err != nil {
			t.Fatalf("first assignment: %v", err)
		}
		campaign, err := svc.AssignCampaign(ctx, application.AssignCampaignParams{
			Principal: testfixtures.AdminPrincipal, Username: "u", Name: "batch2",
			SegmentIDs: []string{s[0].String(), s[1].String(), s[0].String()},
		})
		if err != nil {
			t.Fatalf("second assignment: %v", err)
		}
		if len(campaign.Segments) != 2 {
			t.Fatalf("expected duplicates removed, got %v", campaign.Segments)
		}

		annotator, err := factory.NewAnnotatorService(h).Get(ctx, "u")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		current := annotator.CurrentCampaign
		if current == nil || current.Name != "batch2" || len(current.Segments) != 2 || current.Segments[0] != s[0] || current.Segments[1] != s[1] {
			t.Fatalf("unexpected current campaign %#v", current)
		}
		if len(annotator.PreviousCampaigns) != 2 {
			t.Fatalf("expected batch1 and the placeholder in history, got %d", len(annotator.PreviousCampaigns))
		}
		if annotator.PreviousCampaigns[0].Name != "batch1" || annotator.PreviousCampaigns[1].Name != "empty" {
			t.Fatalf("unexpected history order %q, %q", annotator.PreviousCampaigns[0].Name, annotator.PreviousCampaigns[1].Name)
		}
	})
}

func TestCampaignServiceAssignErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	factory := testfixtures.NewServiceFactory()
	h := testfixtures.NewMemoryHarness(t, factory.Clock)
	svc := factory.NewCampaignService(h)

	cases := []struct {
		name   string
		params application.AssignCampaignParams
		target error
	}{
		{"unknown annotator", application.AssignCampaignParams{Principal: testfixtures.AdminPrincipal, Username: "ghost", Name: "b"}, application.ErrNotFound},
		{"not an admin", application.AssignCampaignParams{Principal: application.Principal{Username: "u"}, Username: "u", Name: "b"}, application.ErrUnauthorized},
		{"missing name", application.AssignCampaignParams{Principal: testfixtures.AdminPrincipal, Username: "u"}, application.ErrInvalidArgument},
		{"malformed segment", application.AssignCampaignParams{Principal: testfixtures.AdminPrincipal, Username: "u", Name: "b", SegmentIDs: []string{"x"}}, application.ErrInvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.AssignCampaign(ctx, tc.params); !errors.Is(err, tc.target) {
				t.Fatalf("expected %v, got %v", tc.target, err)
			}
		})
	}
}

func TestCampaignServiceConcurrentAssignmentsLoseNothing(t *testing.T) {
	t.Parallel()

	testfixtures.Backends(t, func(t *testing.T, h *testfixtures.Harness) {
		ctx := context.Background()
		factory := testfixtures.NewServiceFactory(testfixtures.WithRetry(application.RetryConfig{MaxRetries: 50, BackoffFactor: 1}))
		h.Seed(t, nil, testfixtures.NewAnnotatorFixture(testfixtures.WithAnnotatorUsername("u")).Persistence())
		svc := factory.NewCampaignService(h)

		const writers = 6
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := svc.AssignCampaign(ctx, application.AssignCampaignParams{
					Principal: testfixtures.AdminPrincipal, Username: "u", Name: fmt.Sprintf("batch-%d", i),
				})
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("assignment failed: %v", err)
			}
		}

		annotator, err := h.Annotators.GetAnnotatorByUsername(ctx, "u")
		if err != nil {
			t.Fatalf("GetAnnotatorByUsername: %v", err)
		}
		names := map[string]bool{annotator.CurrentCampaign.Name: true}
		for _, campaign := range annotator.PreviousCampaigns {
			names[campaign.Name] = true
		}
		if len(names) != writers+1 {
			t.Fatalf("expected every campaign to survive, have %v", names)
		}
	})
}

func TestCampaignServiceAppendToCurrentCampaign(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	factory := testfixtures.NewServiceFactory()
	h := testfixtures.NewMemoryHarness(t, factory.Clock)
	s := seedSegments(t, factory, h, 2)
	h.Seed(t, nil,
		testfixtures.NewAnnotatorFixture(testfixtures.WithAnnotatorUsername("u")).Persistence(),
		testfixtures.NewAnnotatorFixture(testfixtures.WithAnnotatorUsername("idle"), testfixtures.WithoutCampaign()).Persistence(),
	)
	svc := factory.NewCampaignService(h)
	params := application.AppendSegmentParams{Principal: testfixtures.AdminPrincipal, Username: "u", SegmentID: s[0].String()}

	added, err := svc.AppendToCurrentCampaign(ctx, params)
	if err != nil || !added {
		t.Fatalf("expected segment to be added, got %v %v", added, err)
	}
	added, err = svc.AppendToCurrentCampaign(ctx, params)
	if err != nil || added {
		t.Fatalf("expected repeat append to be a no-op, got %v %v", added, err)
	}

	params.Username = "idle"
	if _, err := svc.AppendToCurrentCampaign(ctx, params); !errors.Is(err, application.ErrNotFound) {
		t.Fatalf("expected ErrNotFound without a current campaign, got %v", err)
	}
}

func TestCampaignServiceImport(t *testing.T) {
	t.Parallel()

	testfixtures.Backends(t, func(t *testing.T, h *testfixtures.Harness) {
		ctx := context.Background()
		factory := testfixtures.NewServiceFactory()
		s := seedSegments(t, factory, h, 3)
		h.Seed(t, nil,
			testfixtures.NewAnnotatorFixture(testfixtures.WithAnnotatorUsername("ann")).Persistence(),
			testfixtures.NewAnnotatorFixture(testfixtures.WithAnnotatorUsername("bob")).Persistence(),
		)
		svc := factory.NewCampaignService(h)

		result, err := svc.ImportCampaigns(ctx, application.ImportCampaignsParams{
			Principal: testfixtures.AdminPrincipal,
			Batches: []application.CampaignBatch{
				{Username: "ann", Name: "week1", Segments: []string{s[0].String(), s[1].String()}},
				{Username: "ghost", Name: "week1", Segments: []string{s[0].String()}},
				{Username: "bob", Name: "week1", Segments: []string{s[2].String(), "broken"}},
				{Username: "ann", Name: "week2", Segments: []string{s[2].String()}},
			},
		})
		if err != nil {
			t.Fatalf("ImportCampaigns returned error: %v", err)
		}
		if len(result.Outcomes) != 4 {
			t.Fatalf("expected an outcome per batch, got %d", len(result.Outcomes))
		}
		if !errors.Is(result.Outcomes[1].Err, application.ErrNotFound) {
			t.Fatalf("expected unknown annotator to fail, got %v", result.Outcomes[1].Err)
		}
		if !errors.Is(result.Outcomes[2].Err, application.ErrInvalidArgument) {
			t.Fatalf("expected malformed segment to fail, got %v", result.Outcomes[2].Err)
		}
		if len(result.Failed()) != 2 {
			t.Fatalf("expected two failures, got %d", len(result.Failed()))
		}

		ann, err := h.Annotators.GetAnnotatorByUsername(ctx, "ann")
		if err != nil {
			t.Fatalf("GetAnnotatorByUsername: %v", err)
		}
		if ann.CurrentCampaign.Name != "week2" || ann.PreviousCampaigns[0].Name != "week1" || len(ann.PreviousCampaigns[0].Segments) != 2 {
			t.Fatalf("expected ann's campaigns applied in order, got current %q history %#v", ann.CurrentCampaign.Name, ann.PreviousCampaigns)
		}

		bob, err := h.Annotators.GetAnnotatorByUsername(ctx, "bob")
		if err != nil {
			t.Fatalf("GetAnnotatorByUsername: %v", err)
		}
		if bob.CurrentCampaign.Name != "empty" || len(bob.PreviousCampaigns) != 0 {
			t.Fatalf("expected bob untouched by the rejected batch, got %#v", bob.CurrentCampaign)
		}
	})
}

func TestCampaignServiceImportRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	factory := testfixtures.NewServiceFactory()
	store := newFaultyHarness(t, factory)
	store.harness.Seed(t, nil, testfixtures.NewAnnotatorFixture(testfixtures.WithAnnotatorUsername("ann")).Persistence())
	store.storage.FailNext("SwapCurrentCampaign", persistence.ErrTransient)

	result, err := factory.NewCampaignService(store.harness).ImportCampaigns(ctx, application.ImportCampaignsParams{
		Principal: testfixtures.AdminPrincipal,
		Batches:   []application.CampaignBatch{{Username: "ann", Name: "retry", Segments: []string{factory.IDGenerator.Next().String()}}},
	})
	if err != nil || len(result.Failed()) != 0 {
		t.Fatalf("expected retried import to succeed, got %v %#v", err, result.Failed())
	}
	ann, err := store.harness.Annotators.GetAnnotatorByUsername(ctx, "ann")
	if err != nil {
		t.Fatalf("GetAnnotatorByUsername: %v", err)
	}
	if ann.CurrentCampaign.Name != "retry" || len(ann.PreviousCampaigns) != 1 {
		t.Fatalf("expected exactly one swap to be applied, got %#v", ann)
	}

	if _, err := factory.NewCampaignService(store.harness).ImportCampaigns(ctx, application.ImportCampaignsParams{Principal: testfixtures.AdminPrincipal}); !errors.Is(err, application.ErrInvalidArgument) {
		t.Fatalf("expected empty import to be rejected, got %v", err)
	}
}
