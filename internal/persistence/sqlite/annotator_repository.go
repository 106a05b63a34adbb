package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/conduit-ecg/annotator/internal/ids"
	"github.com/conduit-ecg/annotator/internal/persistence"
)

const annotatorColumns = `id, name, username, designation, password_hash, current_campaign_id, version, created_at, updated_at`

// AnnotatorRepository implements persistence.AnnotatorRepository using SQLite.
// Campaign history lives in the campaigns table: the current campaign is the
// one referenced by annotators.current_campaign_id, archived campaigns carry
// an increasing archived_seq.
type AnnotatorRepository struct {
	pool   *ConnectionPool
	tx     *sql.Tx
	q      querier
	mapper *ErrorMapper
	now    func() time.Time
}

// NewAnnotatorRepository creates a new SQLite annotator repository
func NewAnnotatorRepository(pool *ConnectionPool) *AnnotatorRepository {
	return &AnnotatorRepository{pool: pool, q: pool.DB(), mapper: pool.mapper, now: utcNow}
}

func (r *AnnotatorRepository) withTx(tx *sql.Tx) *AnnotatorRepository {
	clone := *r
	clone.tx = tx
	clone.q = tx
	return &clone
}

// atomic runs fn in the caller's transaction when there is one and in a new
// transaction otherwise.
func (r *AnnotatorRepository) atomic(ctx context.Context, fn func(q querier) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error { return fn(tx) })
}

// CreateAnnotator inserts the annotator together with any campaigns it carries.
func (r *AnnotatorRepository) CreateAnnotator(ctx context.Context, annotator persistence.Annotator) error {
	if annotator.ID.IsZero() || annotator.Username == "" {
		return persistence.ErrConstraintViolation
	}
	if annotator.CreatedAt.IsZero() {
		annotator.CreatedAt = r.now()
	}
	annotator.UpdatedAt = annotator.CreatedAt

	return r.atomic(ctx, func(q querier) error {
		const insert = `
			INSERT INTO annotators (id, name, username, designation, password_hash, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`
		if _, err := q.ExecContext(ctx, insert,
			annotator.ID,
			annotator.Name,
			annotator.Username,
			annotator.Designation,
			annotator.PasswordHash,
			annotator.Version,
			formatTime(annotator.CreatedAt),
			formatTime(annotator.UpdatedAt),
		); err != nil {
			return r.mapper.MapError(err)
		}

		history := len(annotator.PreviousCampaigns)
		for i, campaign := range annotator.PreviousCampaigns {
			seq := int64(history - i)
			if campaign.ArchivedAt == nil {
				archivedAt := annotator.CreatedAt
				campaign.ArchivedAt = &archivedAt
			}
			if err := r.insertCampaign(ctx, q, annotator.ID, campaign, &seq); err != nil {
				return err
			}
		}
		if annotator.CurrentCampaign == nil {
			return nil
		}
		current := *annotator.CurrentCampaign
		current.ArchivedAt = nil
		if err := r.insertCampaign(ctx, q, annotator.ID, current, nil); err != nil {
			return err
		}
		_, err := q.ExecContext(ctx, `UPDATE annotators SET current_campaign_id = ? WHERE id = ?`, current.ID, annotator.ID)
		return r.mapper.MapError(err)
	})
}

// GetAnnotatorByUsername retrieves an annotator and its campaign history.
func (r *AnnotatorRepository) GetAnnotatorByUsername(ctx context.Context, username string) (persistence.Annotator, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+annotatorColumns+` FROM annotators WHERE username = ?`, username)
	annotator, currentID, err := scanAnnotator(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.Annotator{}, persistence.ErrNotFound
		}
		return persistence.Annotator{}, r.mapper.MapError(err)
	}
	if err := r.loadCampaigns(ctx, &annotator, currentID); err != nil {
		return persistence.Annotator{}, err
	}
	return annotator, nil
}

// ListAnnotators returns every annotator ordered by creation time.
func (r *AnnotatorRepository) ListAnnotators(ctx context.Context) ([]persistence.Annotator, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+annotatorColumns+` FROM annotators ORDER BY created_at ASC, username ASC`)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}

	var (
		annotators []persistence.Annotator
		currentIDs []sql.NullString
	)
	for rows.Next() {
		annotator, currentID, err := scanAnnotator(rows)
		if err != nil {
			rows.Close()
			return nil, r.mapper.MapError(err)
		}
		annotators = append(annotators, annotator)
		currentIDs = append(currentIDs, currentID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, r.mapper.MapError(err)
	}
	rows.Close()

	for i := range annotators {
		if err := r.loadCampaigns(ctx, &annotators[i], currentIDs[i]); err != nil {
			return nil, err
		}
	}
	return annotators, nil
}

// UpdatePasswordHash replaces the stored credential hash.
func (r *AnnotatorRepository) UpdatePasswordHash(ctx context.Context, username, passwordHash string) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE annotators SET password_hash = ?, updated_at = ? WHERE username = ?`,
		passwordHash, formatTime(r.now()), username)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return requireRow(result, persistence.ErrNotFound)
}

// RecordLastAnnotated moves the current campaign pointer in one statement. The
// update matches only when the annotator has a current campaign that contains
// segmentID.
func (r *AnnotatorRepository) RecordLastAnnotated(ctx context.Context, username string, segmentID ids.ID) (bool, error) {
	const query = `
		UPDATE campaigns SET last_annotated_segment = ?
		WHERE id = (SELECT current_campaign_id FROM annotators WHERE username = ?)
		  AND EXISTS (
			SELECT 1 FROM campaign_segments
			WHERE campaign_segments.campaign_id = campaigns.id AND campaign_segments.segment_id = ?
		  )
	`
	result, err := r.q.ExecContext(ctx, query, segmentID, username, segmentID)
	if err != nil {
		return false, r.mapper.MapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, r.mapper.MapError(err)
	}
	return affected > 0, nil
}

// SwapCurrentCampaign archives the current campaign and installs next. The
// final UPDATE is a compare-and-swap on the annotator version.
func (r *AnnotatorRepository) SwapCurrentCampaign(ctx context.Context, username string, expectedVersion int64, next persistence.Campaign) error {
	return r.atomic(ctx, func(q querier) error {
		var (
			annotatorID ids.ID
			currentID   sql.NullString
			version     int64
		)
		err := q.QueryRowContext(ctx,
			`SELECT id, current_campaign_id, version FROM annotators WHERE username = ?`, username,
		).Scan(&annotatorID, &currentID, &version)
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.ErrNotFound
		}
		if err != nil {
			return r.mapper.MapError(err)
		}
		if version != expectedVersion {
			return persistence.ErrConcurrentUpdate
		}

		now := r.now()
		if currentID.Valid {
			const archive = `
				UPDATE campaigns
				SET archived_seq = (SELECT COALESCE(MAX(archived_seq), 0) + 1 FROM campaigns WHERE annotator_id = ?),
				    archived_at = ?
				WHERE id = ?
			`
			if _, err := q.ExecContext(ctx, archive, annotatorID, formatTime(now), currentID.String); err != nil {
				return r.mapper.MapError(err)
			}
		}

		if next.CreatedAt.IsZero() {
			next.CreatedAt = now
		}
		next.ArchivedAt = nil
		if err := r.insertCampaign(ctx, q, annotatorID, next, nil); err != nil {
			return err
		}

		result, err := q.ExecContext(ctx,
			`UPDATE annotators SET current_campaign_id = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
			next.ID, formatTime(now), annotatorID, expectedVersion)
		if err != nil {
			return r.mapper.MapError(err)
		}
		return requireRow(result, persistence.ErrConcurrentUpdate)
	})
}

// AppendToCurrentCampaign adds segmentID at the end of the current campaign
// unless it is already a member, and bumps the annotator version when it does.
func (r *AnnotatorRepository) AppendToCurrentCampaign(ctx context.Context, username string, segmentID ids.ID) (bool, error) {
	var added bool
	err := r.atomic(ctx, func(q querier) error {
		var (
			annotatorID ids.ID
			currentID   sql.NullString
		)
		err := q.QueryRowContext(ctx,
			`SELECT id, current_campaign_id FROM annotators WHERE username = ?`, username,
		).Scan(&annotatorID, &currentID)
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.ErrNotFound
		}
		if err != nil {
			return r.mapper.MapError(err)
		}
		if !currentID.Valid {
			return persistence.ErrNoCurrentCampaign
		}

		const insert = `
			INSERT INTO campaign_segments (campaign_id, position, segment_id)
			SELECT ?, COALESCE(MAX(position), -1) + 1, ? FROM campaign_segments WHERE campaign_id = ?
			ON CONFLICT (campaign_id, segment_id) DO NOTHING
		`
		result, err := q.ExecContext(ctx, insert, currentID.String, segmentID, currentID.String)
		if err != nil {
			return r.mapper.MapError(err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return r.mapper.MapError(err)
		}
		if affected == 0 {
			return nil
		}
		added = true
		_, err = q.ExecContext(ctx,
			`UPDATE annotators SET version = version + 1, updated_at = ? WHERE id = ?`,
			formatTime(r.now()), annotatorID)
		return r.mapper.MapError(err)
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

func (r *AnnotatorRepository) insertCampaign(ctx context.Context, q querier, annotatorID ids.ID, campaign persistence.Campaign, archivedSeq *int64) error {
	if campaign.ID.IsZero() {
		return persistence.ErrConstraintViolation
	}
	if campaign.CreatedAt.IsZero() {
		campaign.CreatedAt = r.now()
	}
	var last sql.NullString
	if campaign.LastAnnotated != nil {
		last = sql.NullString{String: campaign.LastAnnotated.String(), Valid: true}
	}
	var seq sql.NullInt64
	if archivedSeq != nil {
		seq = sql.NullInt64{Int64: *archivedSeq, Valid: true}
	}

	const insert = `
		INSERT INTO campaigns (id, annotator_id, name, last_annotated_segment, archived_seq, archived_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := q.ExecContext(ctx, insert,
		campaign.ID, annotatorID, campaign.Name, last, seq, nullTime(campaign.ArchivedAt), formatTime(campaign.CreatedAt),
	); err != nil {
		return r.mapper.MapError(err)
	}

	for position, segmentID := range ids.Unique(campaign.Segments) {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO campaign_segments (campaign_id, position, segment_id) VALUES (?, ?, ?)`,
			campaign.ID, position, segmentID,
		); err != nil {
			return r.mapper.MapError(err)
		}
	}
	return nil
}

type campaignRow struct {
	campaign    persistence.Campaign
	archivedSeq sql.NullInt64
}

// loadCampaigns attaches the current campaign and the archived history,
// most recently archived first.
func (r *AnnotatorRepository) loadCampaigns(ctx context.Context, annotator *persistence.Annotator, currentID sql.NullString) error {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, name, last_annotated_segment, archived_seq, archived_at, created_at
		 FROM campaigns WHERE annotator_id = ?`, annotator.ID)
	if err != nil {
		return r.mapper.MapError(err)
	}
	var loaded []campaignRow
	index := make(map[ids.ID]int)
	for rows.Next() {
		row, err := scanCampaign(rows)
		if err != nil {
			rows.Close()
			return r.mapper.MapError(err)
		}
		index[row.campaign.ID] = len(loaded)
		loaded = append(loaded, row)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return r.mapper.MapError(err)
	}
	rows.Close()

	members, err := r.q.QueryContext(ctx,
		`SELECT cs.campaign_id, cs.segment_id
		 FROM campaign_segments cs JOIN campaigns c ON c.id = cs.campaign_id
		 WHERE c.annotator_id = ?
		 ORDER BY cs.campaign_id, cs.position`, annotator.ID)
	if err != nil {
		return r.mapper.MapError(err)
	}
	defer members.Close()
	for members.Next() {
		var campaignID, segmentID ids.ID
		if err := members.Scan(&campaignID, &segmentID); err != nil {
			return r.mapper.MapError(err)
		}
		if i, ok := index[campaignID]; ok {
			loaded[i].campaign.Segments = append(loaded[i].campaign.Segments, segmentID)
		}
	}
	if err := members.Err(); err != nil {
		return r.mapper.MapError(err)
	}

	annotator.CurrentCampaign = nil
	annotator.PreviousCampaigns = []persistence.Campaign{}
	var archived []campaignRow
	for _, row := range loaded {
		if row.campaign.Segments == nil {
			row.campaign.Segments = []ids.ID{}
		}
		switch {
		case currentID.Valid && row.campaign.ID.String() == currentID.String:
			current := row.campaign
			annotator.CurrentCampaign = &current
		case row.archivedSeq.Valid:
			archived = append(archived, row)
		}
	}
	sort.Slice(archived, func(i, j int) bool { return archived[i].archivedSeq.Int64 > archived[j].archivedSeq.Int64 })
	for _, row := range archived {
		annotator.PreviousCampaigns = append(annotator.PreviousCampaigns, row.campaign)
	}
	return nil
}

func scanCampaign(row rowScanner) (campaignRow, error) {
	var (
		out        campaignRow
		last       sql.NullString
		archivedAt sql.NullString
		createdAt  string
	)
	if err := row.Scan(&out.campaign.ID, &out.campaign.Name, &last, &out.archivedSeq, &archivedAt, &createdAt); err != nil {
		return campaignRow{}, err
	}
	if last.Valid {
		id, err := ids.Parse(last.String)
		if err != nil {
			return campaignRow{}, fmt.Errorf("campaign %s: last annotated: %w", out.campaign.ID, err)
		}
		out.campaign.LastAnnotated = &id
	}
	var err error
	if out.campaign.ArchivedAt, err = parseNullTime(archivedAt); err != nil {
		return campaignRow{}, err
	}
	if out.campaign.CreatedAt, err = parseTime(createdAt); err != nil {
		return campaignRow{}, err
	}
	return out, nil
}

func scanAnnotator(row rowScanner) (persistence.Annotator, sql.NullString, error) {
	var (
		annotator persistence.Annotator
		currentID sql.NullString
		createdAt string
		updatedAt string
	)
	if err := row.Scan(
		&annotator.ID,
		&annotator.Name,
		&annotator.Username,
		&annotator.Designation,
		&annotator.PasswordHash,
		&currentID,
		&annotator.Version,
		&createdAt,
		&updatedAt,
	); err != nil {
		return persistence.Annotator{}, sql.NullString{}, err
	}
	var err error
	if annotator.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Annotator{}, sql.NullString{}, err
	}
	if annotator.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Annotator{}, sql.NullString{}, err
	}
	return annotator, currentID, nil
}

func requireRow(result sql.Result, missing error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return missing
	}
	return nil
}
