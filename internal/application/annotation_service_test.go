package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/conduit-ecg/annotator/internal/application"
	"github.com/conduit-ecg/annotator/internal/persistence"
	"github.com/conduit-ecg/annotator/internal/testfixtures"
)

func confidence(v float64) *float64 { return &v }

func submit(principal string, segmentID string, label string) application.SubmitAnnotationParams {
	return application.SubmitAnnotationParams{
		Principal: application.Principal{Username: principal},
		SegmentID: segmentID,
		Annotator: principal,
		Input:     application.AnnotationInput{Label: label},
	}
}

func TestAnnotationServiceSubmit(t *testing.T) {
	t.Parallel()

	testfixtures.Backends(t, func(t *testing.T, h *testfixtures.Harness) {
		ctx := context.Background()
		factory := testfixtures.NewServiceFactory()
		s := seedSegments(t, factory, h, 3)
		h.Seed(t, nil,
			testfixtures.NewAnnotatorFixture(
				testfixtures.WithAnnotatorUsername("ann"),
				testfixtures.WithAnnotatorCampaign(testfixtures.NewCampaignFixture(testfixtures.WithCampaignSegments(s[0], s[1]))),
			).Persistence(),
			testfixtures.NewAnnotatorFixture(testfixtures.WithAnnotatorUsername("bfoo"), testfixtures.WithoutCampaign()).Persistence(),
		)
		svc := factory.NewAnnotationService(h)

		t.Run("writes the annotation and moves the pointer", func(t *testing.T) {
			params := submit("ann", s[1].String(), "AFIB")
			params.Input.Confidence = confidence(0.7)
			comments := "  p waves absent "
			params.Input.Comments = &comments
			annotation, err := svc.SubmitAnnotation(ctx, params)
			if err != nil {
				t.Fatalf("SubmitAnnotation returned error: %v", err)
			}
			if annotation.Confidence != 0.7 || *annotation.Comments != "p waves absent" {
				t.Fatalf("unexpected annotation %#v", annotation)
			}

			segment, err := h.Segments.GetSegment(ctx, s[1])
			if err != nil {
				t.Fatalf("GetSegment: %v", err)
			}
			if got := segment.Annotations["ann"]; got.Label != "AFIB" || got.Confidence != 0.7 {
				t.Fatalf("unexpected stored annotation %#v", got)
			}
			annotator, err := h.Annotators.GetAnnotatorByUsername(ctx, "ann")
			if err != nil {
				t.Fatalf("GetAnnotatorByUsername: %v", err)
			}
			if last := annotator.CurrentCampaign.LastAnnotated; last == nil || *last != s[1] {
				t.Fatalf("expected pointer at %s, got %v", s[1], last)
			}
		})

		t.Run("repeat submission overwrites", func(t *testing.T) {
			for _, label := range []string{"SR", "SR"} {
				if _, err := svc.SubmitAnnotation(ctx, submit("ann", s[0].String(), label)); err != nil {
					t.Fatalf("SubmitAnnotation returned error: %v", err)
				}
			}
			segment, err := h.Segments.GetSegment(ctx, s[0])
			if err != nil {
				t.Fatalf("GetSegment: %v", err)
			}
			if len(segment.Annotations) != 1 || segment.Annotations["ann"].Confidence != 1.0 {
				t.Fatalf("expected a single default-confidence entry, got %#v", segment.Annotations)
			}
		})

		t.Run("annotator without a campaign", func(t *testing.T) {
			if _, err := svc.SubmitAnnotation(ctx, submit("bfoo", s[2].String(), "STACH")); err != nil {
				t.Fatalf("SubmitAnnotation returned error: %v", err)
			}
			segment, err := h.Segments.GetSegment(ctx, s[2])
			if err != nil {
				t.Fatalf("GetSegment: %v", err)
			}
			if segment.Annotations["bfoo"].Label != "STACH" {
				t.Fatalf("expected bfoo's annotation, got %#v", segment.Annotations)
			}
			annotator, err := h.Annotators.GetAnnotatorByUsername(ctx, "bfoo")
			if err != nil {
				t.Fatalf("GetAnnotatorByUsername: %v", err)
			}
			if annotator.CurrentCampaign != nil || len(annotator.PreviousCampaigns) != 0 {
				t.Fatalf("expected campaign state untouched, got %#v", annotator.CurrentCampaign)
			}
		})

		t.Run("segment outside the campaign leaves the pointer", func(t *testing.T) {
			if _, err := svc.SubmitAnnotation(ctx, submit("ann", s[2].String(), "SR")); err != nil {
				t.Fatalf("SubmitAnnotation returned error: %v", err)
			}
			annotator, err := h.Annotators.GetAnnotatorByUsername(ctx, "ann")
			if err != nil {
				t.Fatalf("GetAnnotatorByUsername: %v", err)
			}
			if last := annotator.CurrentCampaign.LastAnnotated; last == nil || *last != s[0] {
				t.Fatalf("expected pointer to stay at %s, got %v", s[0], last)
			}
		})

		t.Run("unknown segment", func(t *testing.T) {
			_, err := svc.SubmitAnnotation(ctx, submit("ann", factory.IDGenerator.Next().String(), "SR"))
			if !errors.Is(err, application.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	})
}

func TestAnnotationServiceConcurrentAnnotatorsDoNotInterfere(t *testing.T) {
	t.Parallel()

	testfixtures.Backends(t, func(t *testing.T, h *testfixtures.Harness) {
		ctx := context.Background()
		factory := testfixtures.NewServiceFactory(testfixtures.WithRetry(application.RetryConfig{MaxRetries: 20, BackoffFactor: 1}))
		segment := seedSegments(t, factory, h, 1)[0]
		svc := factory.NewAnnotationService(h)

		users := []string{"ann", "bob", "cat", "dan"}
		var wg sync.WaitGroup
		errs := make(chan error, len(users))
		for _, user := range users {
			wg.Add(1)
			go func(user string) {
				defer wg.Done()
				_, err := svc.SubmitAnnotation(ctx, submit(user, segment.String(), "SR"))
				errs <- err
			}(user)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("SubmitAnnotation failed: %v", err)
			}
		}

		stored, err := h.Segments.GetSegment(ctx, segment)
		if err != nil {
			t.Fatalf("GetSegment: %v", err)
		}
		if len(stored.Annotations) != len(users) {
			t.Fatalf("expected %d annotations, got %#v", len(users), stored.Annotations)
		}
	})
}

func TestAnnotationServiceValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	factory := testfixtures.NewServiceFactory()
	store := newFaultyHarness(t, factory)
	segment := seedSegments(t, factory, store.harness, 1)[0]
	svc := factory.NewAnnotationService(store.harness)

	// Any write reaching storage would consume this fault and fail loudly.
	store.storage.FailNext("SetAnnotation", errors.New("write attempted"))

	cases := []struct {
		name   string
		params application.SubmitAnnotationParams
		target error
	}{
		{"empty annotator", submit("", segment.String(), "SR"), application.ErrInvalidArgument},
		{"blank annotator", application.SubmitAnnotationParams{Principal: testfixtures.AdminPrincipal, SegmentID: segment.String(), Annotator: "  ", Input: application.AnnotationInput{Label: "SR"}}, application.ErrInvalidArgument},
		{"malformed segment", submit("ann", "nope", "SR"), application.ErrInvalidArgument},
		{"unknown label", submit("ann", segment.String(), "VFIB"), application.ErrInvalidArgument},
		{"confidence above one", application.SubmitAnnotationParams{Principal: application.Principal{Username: "ann"}, SegmentID: segment.String(), Annotator: "ann", Input: application.AnnotationInput{Label: "SR", Confidence: confidence(1.5)}}, application.ErrInvalidArgument},
		{"someone else's entry", application.SubmitAnnotationParams{Principal: application.Principal{Username: "bob"}, SegmentID: segment.String(), Annotator: "ann", Input: application.AnnotationInput{Label: "SR"}}, application.ErrUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.SubmitAnnotation(ctx, tc.params); !errors.Is(err, tc.target) {
				t.Fatalf("expected %v, got %v", tc.target, err)
			}
		})
	}

	stored, err := store.harness.Segments.GetSegment(ctx, segment)
	if err != nil {
		t.Fatalf("GetSegment: %v", err)
	}
	if len(stored.Annotations) != 0 {
		t.Fatalf("expected no writes, got %#v", stored.Annotations)
	}
}

func TestAnnotationServiceIsAllOrNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	factory := testfixtures.NewServiceFactory(testfixtures.WithRetry(application.RetryConfig{MaxRetries: 0}))
	store := newFaultyHarness(t, factory)
	segment := seedSegments(t, factory, store.harness, 1)[0]
	store.harness.Seed(t, nil, testfixtures.NewAnnotatorFixture(
		testfixtures.WithAnnotatorUsername("ann"),
		testfixtures.WithAnnotatorCampaign(testfixtures.NewCampaignFixture(testfixtures.WithCampaignSegments(segment))),
	).Persistence())
	svc := factory.NewAnnotationService(store.harness)

	store.storage.FailNext("RecordLastAnnotated", errors.New("disk on fire"))
	if _, err := svc.SubmitAnnotation(ctx, submit("ann", segment.String(), "SR")); err == nil {
		t.Fatalf("expected failure from the pointer write")
	}
	stored, err := store.harness.Segments.GetSegment(ctx, segment)
	if err != nil {
		t.Fatalf("GetSegment: %v", err)
	}
	if len(stored.Annotations) != 0 {
		t.Fatalf("annotation must not survive a failed unit, got %#v", stored.Annotations)
	}
}

func TestAnnotationServiceRetriesWholeUnit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	factory := testfixtures.NewServiceFactory()
	store := newFaultyHarness(t, factory)
	segment := seedSegments(t, factory, store.harness, 1)[0]
	svc := factory.NewAnnotationService(store.harness)

	store.storage.FailNext("RecordLastAnnotated", persistence.ErrTransient)
	if _, err := svc.SubmitAnnotation(ctx, submit("ann", segment.String(), "SR")); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	stored, err := store.harness.Segments.GetSegment(ctx, segment)
	if err != nil {
		t.Fatalf("GetSegment: %v", err)
	}
	if stored.Annotations["ann"].Label != "SR" {
		t.Fatalf("expected annotation after retry, got %#v", stored.Annotations)
	}

	store.storage.FailNext("SetAnnotation", persistence.ErrTransient)
	exhausted := testfixtures.NewServiceFactory(testfixtures.WithRetry(application.RetryConfig{MaxRetries: 0})).NewAnnotationService(store.harness)
	_, err = exhausted.SubmitAnnotation(ctx, submit("ann", segment.String(), "AFIB"))
	if !errors.Is(err, application.ErrTransientStore) {
		t.Fatalf("expected ErrTransientStore, got %v", err)
	}
}
