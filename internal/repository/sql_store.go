package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

// claimBatch is how many candidates one claim round considers before re-querying.
const (
	claimBatch  = 8
	claimRounds = 4
	listLimit   = 100
)

type sqlJobStore struct {
	drv     *entsql.Driver
	dialect string
	logger  *slog.Logger
}

// NewSQLJobStore returns a JobStore over db. Status changes are conditional
// UPDATEs checked through RowsAffected, so any number of processes may share db.
func NewSQLJobStore(db *DB, logger *slog.Logger) JobStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &sqlJobStore{
		drv:     db.Driver,
		dialect: db.Dialect,
		logger:  logger,
	}
}

func (s *sqlJobStore) builder() *entsql.DialectBuilder {
	return entsql.Dialect(s.dialect)
}

func (s *sqlJobStore) Create(ctx context.Context, job *entity.ProcessingJob, content []byte) error {
	vals, err := jobValues(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	cols := append(append([]string(nil), jobColumns...), "content")
	vals = append(vals, content)

	q, args := s.builder().Insert(jobsTable).Columns(cols...).Values(vals...).Query()
	if _, err := s.exec(ctx, q, args); err != nil {
		s.logger.Error("failed to create job", "job_id", job.ID, "file_id", job.FileID, "error", err)
		return err
	}
	return nil
}

func (s *sqlJobStore) Get(ctx context.Context, id uuid.UUID) (*entity.ProcessingJob, error) {
	sel := s.builder().Select(jobColumns...).
		From(entsql.Table(jobsTable)).
		Where(entsql.EQ("id", id.String()))
	jobs, err := s.queryJobs(ctx, sel)
	if err != nil {
		s.logger.Error("failed to get job", "job_id", id, "error", err)
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, ErrNotFound
	}
	return jobs[0], nil
}

func (s *sqlJobStore) Content(ctx context.Context, id uuid.UUID) ([]byte, error) {
	q, args := s.builder().Select("content").
		From(entsql.Table(jobsTable)).
		Where(entsql.EQ("id", id.String())).
		Query()
	rows := &entsql.Rows{}
	if err := s.drv.Query(ctx, q, args, rows); err != nil {
		s.logger.Error("failed to read job content", "job_id", id, "error", err)
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	var content []byte
	if err := rows.Scan(&content); err != nil {
		return nil, err
	}
	return content, nil
}

func (s *sqlJobStore) List(ctx context.Context, filter ListFilter) ([]*entity.ProcessingJob, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = listLimit
	}
	sel := s.builder().Select(jobColumns...).
		From(entsql.Table(jobsTable)).
		OrderBy(entsql.Desc("created_at"), "id").
		Limit(limit)
	if filter.Status != "" {
		sel.Where(entsql.EQ("status", string(filter.Status)))
	}
	return s.queryJobs(ctx, sel)
}

func claimablePredicate(now time.Time) *entsql.Predicate {
	return entsql.And(
		entsql.EQ("status", string(constants.JobStatusPending)),
		entsql.Or(
			entsql.IsNull("next_retry_at"),
			entsql.LTE("next_retry_at", now.UnixMilli()),
		),
	)
}

func (s *sqlJobStore) ClaimNext(ctx context.Context, workerID string, now time.Time) (*entity.ProcessingJob, error) {
	for round := 0; round < claimRounds; round++ {
		ids, err := s.claimCandidates(ctx, now)
		if err != nil {
			s.logger.Error("failed to select claim candidates", "worker_id", workerID, "error", err)
			return nil, err
		}
		if len(ids) == 0 {
			return nil, ErrNoJobAvailable
		}
		for _, id := range ids {
			q, args := s.builder().Update(jobsTable).
				Set("status", string(constants.JobStatusProcessing)).
				Set("started_at", now.UnixMilli()).
				Set("worker_id", workerID).
				Set("progress", 0).
				Set("updated_at", now.UnixMilli()).
				SetNull("completed_at").
				Where(entsql.And(entsql.EQ("id", id), claimablePredicate(now))).
				Query()
			n, err := s.exec(ctx, q, args)
			if err != nil {
				s.logger.Error("failed to claim job", "job_id", id, "worker_id", workerID, "error", err)
				return nil, err
			}
			if n == 1 {
				return s.Get(ctx, uuid.MustParse(id))
			}
			// another worker won this row; try the next candidate
		}
	}
	return nil, ErrNoJobAvailable
}

func (s *sqlJobStore) claimCandidates(ctx context.Context, now time.Time) ([]string, error) {
	q, args := s.builder().Select("id").
		From(entsql.Table(jobsTable)).
		Where(claimablePredicate(now)).
		OrderBy(entsql.Desc("priority_rank"), entsql.Asc("created_at"), entsql.Asc("id")).
		Limit(claimBatch).
		Query()
	rows := &entsql.Rows{}
	if err := s.drv.Query(ctx, q, args, rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// claimPredicate matches rows still held by the attempt that made the claim.
func claimPredicate(c Claim) *entsql.Predicate {
	return entsql.And(
		entsql.EQ("worker_id", c.WorkerID),
		entsql.EQ("started_at", c.StartedAt.UnixMilli()),
	)
}

func (s *sqlJobStore) UpdateProgress(ctx context.Context, id uuid.UUID, claim Claim, percent int, now time.Time) error {
	q, args := s.builder().Update(jobsTable).
		Set("progress", clampPercent(percent)).
		Set("updated_at", now.UnixMilli()).
		Where(entsql.And(
			entsql.EQ("id", id.String()),
			entsql.EQ("status", string(constants.JobStatusProcessing)),
			claimPredicate(claim),
		)).
		Query()
	n, err := s.exec(ctx, q, args)
	if err != nil {
		s.logger.Error("failed to update progress", "job_id", id, "error", err)
		return err
	}
	if n == 0 {
		cur, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status == constants.JobStatusProcessing {
			return ErrLostClaim
		}
		return ErrConditionNotMet
	}
	return nil
}

func (s *sqlJobStore) Complete(ctx context.Context, id uuid.UUID, out Outcome) error {
	resultJSON, text, err := encodeResult(out.Result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	dur := durationSince(ctx, s, id, out.FinishedAt)
	from := []constants.JobStatus{constants.JobStatusProcessing}
	err = s.transition(ctx, id, from, constants.JobStatusCompleted, claimPredicate(out.Claim), func(u *entsql.UpdateBuilder) {
		u.Set("progress", 100).
			Set("detected_format", string(out.DetectedFormat)).
			Set("extracted_text", text).
			Set("result_json", resultJSON).
			SetNull("error_code").
			SetNull("error_message").
			SetNull("error_details").
			Set("error_recoverable", 0).
			SetNull("next_retry_at").
			Set("completed_at", out.FinishedAt.UnixMilli()).
			Set("actual_duration_ms", dur)
	}, out.FinishedAt)
	return claimError(err)
}

func (s *sqlJobStore) Fail(ctx context.Context, id uuid.UUID, out Outcome) error {
	if out.Error == nil {
		return errFailWithoutError
	}
	resultJSON, text, err := encodeResult(out.Result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	details, err := json.Marshal(out.Error.Details)
	if err != nil {
		return fmt.Errorf("encode error details: %w", err)
	}
	dur := durationSince(ctx, s, id, out.FinishedAt)
	from := []constants.JobStatus{constants.JobStatusProcessing}
	err = s.transition(ctx, id, from, constants.JobStatusFailed, claimPredicate(out.Claim), func(u *entsql.UpdateBuilder) {
		u.Set("detected_format", string(out.DetectedFormat)).
			Set("extracted_text", text).
			Set("result_json", resultJSON).
			Set("error_code", string(out.Error.Code)).
			Set("error_message", out.Error.Message).
			Set("error_details", string(details)).
			Set("error_recoverable", boolToInt(out.Error.Recoverable)).
			SetNull("next_retry_at").
			Set("completed_at", out.FinishedAt.UnixMilli()).
			Set("actual_duration_ms", dur)
	}, out.FinishedAt)
	return claimError(err)
}

func (s *sqlJobStore) ScheduleRetry(ctx context.Context, id uuid.UUID, nextRetryAt, now time.Time) error {
	from := []constants.JobStatus{constants.JobStatusFailed}
	guard := entsql.And(
		entsql.EQ("error_recoverable", 1),
		entsql.ColumnsLT("retry_count", "max_retries"),
	)
	return s.transition(ctx, id, from, constants.JobStatusPending, guard, func(u *entsql.UpdateBuilder) {
		u.Add("retry_count", 1).
			Set("last_retry_at", now.UnixMilli()).
			Set("next_retry_at", nextRetryAt.UnixMilli()).
			Set("progress", 0).
			Set("worker_id", "")
	}, now)
}

func (s *sqlJobStore) Cancel(ctx context.Context, id uuid.UUID, now time.Time) error {
	from := []constants.JobStatus{constants.JobStatusPending, constants.JobStatusProcessing}
	return s.transition(ctx, id, from, constants.JobStatusCancelled, nil, func(u *entsql.UpdateBuilder) {
		u.Set("completed_at", now.UnixMilli()).
			SetNull("next_retry_at")
	}, now)
}

func (s *sqlJobStore) RecoverStalled(ctx context.Context, id uuid.UUID, startedBefore time.Time, countAsRetry bool, now time.Time) error {
	from := []constants.JobStatus{constants.JobStatusProcessing}
	guard := entsql.LT("started_at", startedBefore.UnixMilli())
	if countAsRetry {
		guard = entsql.And(guard, entsql.ColumnsLT("retry_count", "max_retries"))
	}
	return s.transition(ctx, id, from, constants.JobStatusPending, guard, func(u *entsql.UpdateBuilder) {
		u.Set("progress", 0).
			SetNull("started_at").
			SetNull("next_retry_at").
			Set("worker_id", "")
		if countAsRetry {
			u.Add("retry_count", 1).Set("last_retry_at", now.UnixMilli())
		}
	}, now)
}

func (s *sqlJobStore) FindStalled(ctx context.Context, startedBefore time.Time) ([]*entity.ProcessingJob, error) {
	sel := s.builder().Select(jobColumns...).
		From(entsql.Table(jobsTable)).
		Where(entsql.And(
			entsql.EQ("status", string(constants.JobStatusProcessing)),
			entsql.LT("started_at", startedBefore.UnixMilli()),
		)).
		OrderBy(entsql.Asc("started_at"))
	jobs, err := s.queryJobs(ctx, sel)
	if err != nil {
		s.logger.Error("failed to find stalled jobs", "error", err)
		return nil, err
	}
	return jobs, nil
}

func permanentFailurePredicate() *entsql.Predicate {
	return entsql.And(
		entsql.EQ("status", string(constants.JobStatusFailed)),
		entsql.Or(
			entsql.EQ("error_recoverable", 0),
			entsql.ColumnsGTE("retry_count", "max_retries"),
		),
	)
}

func (s *sqlJobStore) Aggregates(ctx context.Context) (entity.Aggregates, error) {
	agg := entity.Aggregates{Counts: make(map[constants.JobStatus]int, len(constants.AllStatuses))}
	b := s.builder()

	q, args := b.Select("status", "COUNT(*)").From(entsql.Table(jobsTable)).GroupBy("status").Query()
	rows := &entsql.Rows{}
	if err := s.drv.Query(ctx, q, args, rows); err != nil {
		s.logger.Error("failed to aggregate job counts", "error", err)
		return agg, err
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return agg, err
		}
		agg.Counts[constants.JobStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return agg, err
	}
	rows.Close()

	var retrying sql.NullInt64
	if err := s.scalar(ctx, b.Select("COUNT(*)").From(entsql.Table(jobsTable)).Where(entsql.And(
		entsql.EQ("status", string(constants.JobStatusPending)),
		entsql.GT("retry_count", 0),
	)), &retrying); err != nil {
		return agg, err
	}
	agg.Retrying = int(retrying.Int64)

	var permanent sql.NullInt64
	if err := s.scalar(ctx, b.Select("COUNT(*)").From(entsql.Table(jobsTable)).Where(permanentFailurePredicate()), &permanent); err != nil {
		return agg, err
	}
	agg.PermanentFailures = int(permanent.Int64)

	var avg sql.NullFloat64
	if err := s.scalar(ctx, b.Select("AVG(actual_duration_ms)").From(entsql.Table(jobsTable)).
		Where(entsql.EQ("status", string(constants.JobStatusCompleted))), &avg); err != nil {
		return agg, err
	}
	if avg.Valid {
		agg.AverageDuration = time.Duration(avg.Float64 * float64(time.Millisecond))
	}

	var oldest sql.NullInt64
	if err := s.scalar(ctx, b.Select("MIN(created_at)").From(entsql.Table(jobsTable)).
		Where(entsql.EQ("status", string(constants.JobStatusPending))), &oldest); err != nil {
		return agg, err
	}
	agg.OldestPendingAt = timeFromMillis(oldest)
	return agg, nil
}

func (s *sqlJobStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	q, args := s.builder().Delete(jobsTable).
		Where(entsql.And(
			entsql.NotNull("completed_at"),
			entsql.LT("completed_at", cutoff.UnixMilli()),
			entsql.Or(
				entsql.In("status", string(constants.JobStatusCompleted), string(constants.JobStatusCancelled)),
				permanentFailurePredicate(),
			),
		)).
		Query()
	n, err := s.exec(ctx, q, args)
	if err != nil {
		s.logger.Error("failed to delete terminal jobs", "cutoff", cutoff, "error", err)
		return 0, err
	}
	return n, nil
}

// transition applies a status change only if the row is still in one of from
// and guard holds. A zero-row update is explained by re-reading the row.
func (s *sqlJobStore) transition(ctx context.Context, id uuid.UUID, from []constants.JobStatus, to constants.JobStatus,
	guard *entsql.Predicate, apply func(*entsql.UpdateBuilder), now time.Time) error {
	mustBeLegal(from, to)
	fromArgs := make([]any, len(from))
	for i, f := range from {
		fromArgs[i] = string(f)
	}
	preds := []*entsql.Predicate{
		entsql.EQ("id", id.String()),
		entsql.In("status", fromArgs...),
	}
	if guard != nil {
		preds = append(preds, guard)
	}

	u := s.builder().Update(jobsTable).
		Set("status", string(to)).
		Set("updated_at", now.UnixMilli())
	if apply != nil {
		apply(u)
	}
	q, args := u.Where(entsql.And(preds...)).Query()
	n, err := s.exec(ctx, q, args)
	if err != nil {
		s.logger.Error("failed to update job status", "job_id", id, "to", to, "error", err)
		return err
	}
	if n == 1 {
		return nil
	}

	cur, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if containsStatus(from, cur.Status) {
		return ErrConditionNotMet
	}
	return transitionError(cur.Status, to)
}

func (s *sqlJobStore) exec(ctx context.Context, q string, args []any) (int64, error) {
	var res sql.Result
	if err := s.drv.Exec(ctx, q, args, &res); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqlJobStore) scalar(ctx context.Context, sel *entsql.Selector, dest any) error {
	q, args := sel.Query()
	rows := &entsql.Rows{}
	if err := s.drv.Query(ctx, q, args, rows); err != nil {
		s.logger.Error("failed to run aggregate query", "error", err)
		return err
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(dest); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *sqlJobStore) queryJobs(ctx context.Context, sel *entsql.Selector) ([]*entity.ProcessingJob, error) {
	q, args := sel.Query()
	rows := &entsql.Rows{}
	if err := s.drv.Query(ctx, q, args, rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []*entity.ProcessingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// durationSince reads started_at so actual duration is measured from the claim
// that produced this outcome.
func durationSince(ctx context.Context, s *sqlJobStore, id uuid.UUID, finished time.Time) int64 {
	var started sql.NullInt64
	sel := s.builder().Select("started_at").From(entsql.Table(jobsTable)).Where(entsql.EQ("id", id.String()))
	if err := s.scalar(ctx, sel, &started); err != nil || !started.Valid {
		return 0
	}
	d := finished.UnixMilli() - started.Int64
	if d < 0 {
		return 0
	}
	return d
}

func jobValues(job *entity.ProcessingJob) ([]any, error) {
	resultJSON, text, err := encodeResult(job.Result)
	if err != nil {
		return nil, err
	}
	opts, err := json.Marshal(job.Options)
	if err != nil {
		return nil, err
	}
	var (
		errCode, errMsg, errDetails any
		recoverable                 int
	)
	if job.Error != nil {
		d, err := json.Marshal(job.Error.Details)
		if err != nil {
			return nil, err
		}
		errCode, errMsg, errDetails = string(job.Error.Code), job.Error.Message, string(d)
		recoverable = boolToInt(job.Error.Recoverable)
	}
	return []any{
		job.ID.String(), job.FileID, job.FileName, job.FileSize, job.DeclaredFormat, string(job.DetectedFormat),
		string(job.Status), job.Progress, string(job.Priority), job.Priority.Rank(),
		job.RetryCount, job.MaxRetries, millisOrNil(job.LastRetryAt), millisOrNil(job.NextRetryAt),
		text, resultJSON,
		errCode, errMsg, recoverable, errDetails,
		string(opts), job.WorkerID,
		job.CreatedAt.UnixMilli(), millisOrNil(job.StartedAt), millisOrNil(job.CompletedAt), job.CreatedAt.UnixMilli(),
		job.EstimatedDuration.Milliseconds(), job.ActualDuration.Milliseconds(),
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*entity.ProcessingJob, error) {
	var (
		id, fileID, fileName, declared, detected     string
		status, priority, optionsJSON, workerID      string
		fileSize, createdAt, updatedAt, estMs, actMs int64
		progress, rank, retryCount, maxRetries       int
		recoverable                                  int
		lastRetry, nextRetry, started, completed     sql.NullInt64
		text, resultJSON, errCode, errMsg, errDetls  sql.NullString
	)
	err := row.Scan(
		&id, &fileID, &fileName, &fileSize, &declared, &detected,
		&status, &progress, &priority, &rank,
		&retryCount, &maxRetries, &lastRetry, &nextRetry,
		&text, &resultJSON,
		&errCode, &errMsg, &recoverable, &errDetls,
		&optionsJSON, &workerID,
		&createdAt, &started, &completed, &updatedAt,
		&estMs, &actMs,
	)
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	jobID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("scan job id: %w", err)
	}

	job := &entity.ProcessingJob{
		ID:                jobID,
		FileID:            fileID,
		FileName:          fileName,
		FileSize:          fileSize,
		DeclaredFormat:    declared,
		DetectedFormat:    constants.Format(detected),
		Status:            constants.JobStatus(status),
		Progress:          progress,
		Priority:          constants.Priority(priority),
		RetryCount:        retryCount,
		MaxRetries:        maxRetries,
		LastRetryAt:       timeFromMillis(lastRetry),
		NextRetryAt:       timeFromMillis(nextRetry),
		CreatedAt:         time.UnixMilli(createdAt).UTC(),
		StartedAt:         timeFromMillis(started),
		CompletedAt:       timeFromMillis(completed),
		EstimatedDuration: time.Duration(estMs) * time.Millisecond,
		ActualDuration:    time.Duration(actMs) * time.Millisecond,
		WorkerID:          workerID,
	}
	if job.Priority == "" {
		job.Priority = constants.PriorityFromRank(rank)
	}
	if optionsJSON != "" {
		if err := json.Unmarshal([]byte(optionsJSON), &job.Options); err != nil {
			return nil, fmt.Errorf("decode options: %w", err)
		}
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var res entity.ProcessingResult
		if err := json.Unmarshal([]byte(resultJSON.String), &res); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		res.Text = text.String
		job.Result = &res
	}
	if errCode.Valid {
		job.Error = &entity.ProcessingError{
			Code:        constants.ErrorCode(errCode.String),
			Message:     errMsg.String,
			Recoverable: recoverable == 1,
		}
		if errDetls.Valid && errDetls.String != "" {
			if err := json.Unmarshal([]byte(errDetls.String), &job.Error.Details); err != nil {
				return nil, fmt.Errorf("decode error details: %w", err)
			}
		}
	}
	return job, nil
}

// encodeResult splits the text out of the result so it lives in its own column.
func encodeResult(r *entity.ProcessingResult) (any, any, error) {
	if r == nil {
		return nil, nil, nil
	}
	c := r.Clone()
	text := c.Text
	c.Text = ""
	b, err := json.Marshal(c)
	if err != nil {
		return nil, nil, err
	}
	return string(b), text, nil
}

func millisOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func timeFromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
