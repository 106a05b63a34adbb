package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/conduit-ecg/annotator/internal/ids"
	"github.com/conduit-ecg/annotator/internal/persistence"
)

// repo operates on a state snapshot without locking; Storage supplies the
// locking or the transaction copy.
type repo struct {
	st     *state
	now    func() time.Time
	faults *faults
}

func (r *repo) CreateSegment(_ context.Context, segment persistence.Segment) error {
	if err := r.faults.take("CreateSegment"); err != nil {
		return err
	}
	if segment.ID.IsZero() {
		return persistence.ErrConstraintViolation
	}
	if _, ok := r.st.segments[segment.ID]; ok {
		return persistence.ErrDuplicate
	}
	if segment.CreatedAt.IsZero() {
		segment.CreatedAt = r.now()
	}
	r.st.segments[segment.ID] = persistence.CloneSegment(segment)
	return nil
}

func (r *repo) GetSegment(_ context.Context, id ids.ID) (persistence.Segment, error) {
	if err := r.faults.take("GetSegment"); err != nil {
		return persistence.Segment{}, err
	}
	segment, ok := r.st.segments[id]
	if !ok {
		return persistence.Segment{}, persistence.ErrNotFound
	}
	return persistence.CloneSegment(segment), nil
}

func (r *repo) ListSegmentsByIDs(_ context.Context, segmentIDs []ids.ID) ([]persistence.Segment, error) {
	if err := r.faults.take("ListSegmentsByIDs"); err != nil {
		return nil, err
	}
	wanted := ids.Unique(segmentIDs)
	sort.Slice(wanted, func(i, j int) bool { return wanted[i].Less(wanted[j]) })

	out := make([]persistence.Segment, 0, len(wanted))
	for _, id := range wanted {
		if segment, ok := r.st.segments[id]; ok {
			out = append(out, persistence.CloneSegment(segment))
		}
	}
	return out, nil
}

func (r *repo) PageSegments(_ context.Context, query persistence.SegmentPageQuery) ([]persistence.Segment, error) {
	if err := r.faults.take("PageSegments"); err != nil {
		return nil, err
	}
	ordered := sortedSegmentIDs(r.st.segments)

	var window []ids.ID
	switch {
	case query.Before != nil:
		end := sort.Search(len(ordered), func(i int) bool { return !ordered[i].Less(*query.Before) })
		start := max(end-query.Limit, 0)
		window = ordered[start:end]
	case query.After != nil:
		start := sort.Search(len(ordered), func(i int) bool { return query.After.Less(ordered[i]) })
		window = ordered[start:min(start+query.Limit, len(ordered))]
	default:
		window = ordered[:min(query.Limit, len(ordered))]
	}

	out := make([]persistence.Segment, 0, len(window))
	for _, id := range window {
		out = append(out, persistence.CloneSegment(r.st.segments[id]))
	}
	return out, nil
}

func (r *repo) CountSegments(_ context.Context, since *ids.ID) (int, error) {
	if err := r.faults.take("CountSegments"); err != nil {
		return 0, err
	}
	if since == nil {
		return len(r.st.segments), nil
	}
	count := 0
	for id := range r.st.segments {
		if since.Less(id) {
			count++
		}
	}
	return count, nil
}

func (r *repo) SetAnnotation(_ context.Context, segmentID ids.ID, annotator string, annotation persistence.Annotation) error {
	if err := r.faults.take("SetAnnotation"); err != nil {
		return err
	}
	segment, ok := r.st.segments[segmentID]
	if !ok {
		return persistence.ErrNotFound
	}
	if annotation.UpdatedAt.IsZero() {
		annotation.UpdatedAt = r.now()
	}
	if segment.Annotations == nil {
		segment.Annotations = make(map[string]persistence.Annotation)
	}
	segment.Annotations[annotator] = persistence.CloneAnnotation(annotation)
	r.st.segments[segmentID] = segment
	return nil
}

func (r *repo) CreateAnnotator(_ context.Context, annotator persistence.Annotator) error {
	if err := r.faults.take("CreateAnnotator"); err != nil {
		return err
	}
	if annotator.ID.IsZero() || annotator.Username == "" {
		return persistence.ErrConstraintViolation
	}
	if _, ok := r.st.annotators[annotator.Username]; ok {
		return persistence.ErrDuplicate
	}
	for _, existing := range r.st.annotators {
		if existing.ID == annotator.ID {
			return persistence.ErrDuplicate
		}
	}
	now := r.now()
	if annotator.CreatedAt.IsZero() {
		annotator.CreatedAt = now
	}
	annotator.UpdatedAt = annotator.CreatedAt
	r.st.annotators[annotator.Username] = persistence.CloneAnnotator(annotator)
	return nil
}

func (r *repo) GetAnnotatorByUsername(_ context.Context, username string) (persistence.Annotator, error) {
	if err := r.faults.take("GetAnnotatorByUsername"); err != nil {
		return persistence.Annotator{}, err
	}
	annotator, ok := r.st.annotators[username]
	if !ok {
		return persistence.Annotator{}, persistence.ErrNotFound
	}
	return persistence.CloneAnnotator(annotator), nil
}

func (r *repo) ListAnnotators(_ context.Context) ([]persistence.Annotator, error) {
	if err := r.faults.take("ListAnnotators"); err != nil {
		return nil, err
	}
	out := make([]persistence.Annotator, 0, len(r.st.annotators))
	for _, annotator := range r.st.annotators {
		out = append(out, persistence.CloneAnnotator(annotator))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Username < out[j].Username
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *repo) UpdatePasswordHash(_ context.Context, username, passwordHash string) error {
	if err := r.faults.take("UpdatePasswordHash"); err != nil {
		return err
	}
	annotator, ok := r.st.annotators[username]
	if !ok {
		return persistence.ErrNotFound
	}
	annotator.PasswordHash = passwordHash
	annotator.UpdatedAt = r.now()
	r.st.annotators[username] = annotator
	return nil
}

func (r *repo) RecordLastAnnotated(_ context.Context, username string, segmentID ids.ID) (bool, error) {
	if err := r.faults.take("RecordLastAnnotated"); err != nil {
		return false, err
	}
	annotator, ok := r.st.annotators[username]
	if !ok || annotator.CurrentCampaign == nil {
		return false, nil
	}
	if !slices.Contains(annotator.CurrentCampaign.Segments, segmentID) {
		return false, nil
	}
	last := segmentID
	annotator.CurrentCampaign.LastAnnotated = &last
	annotator.UpdatedAt = r.now()
	r.st.annotators[username] = annotator
	return true, nil
}

func (r *repo) SwapCurrentCampaign(_ context.Context, username string, expectedVersion int64, next persistence.Campaign) error {
	if err := r.faults.take("SwapCurrentCampaign"); err != nil {
		return err
	}
	annotator, ok := r.st.annotators[username]
	if !ok {
		return persistence.ErrNotFound
	}
	if annotator.Version != expectedVersion {
		return persistence.ErrConcurrentUpdate
	}

	now := r.now()
	if annotator.CurrentCampaign != nil {
		outgoing := persistence.CloneCampaign(*annotator.CurrentCampaign)
		outgoing.ArchivedAt = &now
		annotator.PreviousCampaigns = append([]persistence.Campaign{outgoing}, annotator.PreviousCampaigns...)
	}
	installed := persistence.CloneCampaign(next)
	installed.Segments = ids.Unique(installed.Segments)
	installed.ArchivedAt = nil
	if installed.CreatedAt.IsZero() {
		installed.CreatedAt = now
	}
	annotator.CurrentCampaign = &installed
	annotator.Version++
	annotator.UpdatedAt = now
	r.st.annotators[username] = annotator
	return nil
}

func (r *repo) AppendToCurrentCampaign(_ context.Context, username string, segmentID ids.ID) (bool, error) {
	if err := r.faults.take("AppendToCurrentCampaign"); err != nil {
		return false, err
	}
	annotator, ok := r.st.annotators[username]
	if !ok {
		return false, persistence.ErrNotFound
	}
	if annotator.CurrentCampaign == nil {
		return false, persistence.ErrNoCurrentCampaign
	}
	if slices.Contains(annotator.CurrentCampaign.Segments, segmentID) {
		return false, nil
	}
	annotator.CurrentCampaign.Segments = append(annotator.CurrentCampaign.Segments, segmentID)
	annotator.Version++
	annotator.UpdatedAt = r.now()
	r.st.annotators[username] = annotator
	return true, nil
}
