package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"go-anomaly-pipeline/internal/errs"
	"go-anomaly-pipeline/internal/job"
	"go-anomaly-pipeline/internal/lifecycle"
	"go-anomaly-pipeline/internal/model"
	"go-anomaly-pipeline/pkg/router"
	"go-anomaly-pipeline/pkg/utils"
)

// jobIDSegment is the position of the job id in /api/v1/jobs/{id}/...
const jobIDSegment = 3

// maxConfigBytes bounds a job configuration body
const maxConfigBytes = 1 << 20

// JobService is the job lifecycle the handlers drive
type JobService interface {
	Put(ctx context.Context, cfg model.JobConfig) (*model.JobMetadata, error)
	Get(ctx context.Context, jobID string) (*model.JobMetadata, error)
	List(ctx context.Context) ([]model.JobMetadata, error)
	Config(ctx context.Context, jobID string) (model.JobConfig, error)
	Counts(ctx context.Context, jobID string) (model.DataCounts, error)
	Open(ctx context.Context, jobID string) (*model.JobMetadata, error)
	Write(ctx context.Context, req lifecycle.WriteRequest) (model.DataCounts, error)
	Flush(ctx context.Context, req lifecycle.FlushRequest) error
	Close(ctx context.Context, jobID string, timeout time.Duration) error
	ForceClose(ctx context.Context, jobID string) error
	Delete(ctx context.Context, jobID string, force bool, timeout time.Duration) error
}

// Jobs serves the /api/v1/jobs routes
type Jobs struct {
	svc    JobService
	logger *slog.Logger
}

func NewJobs(svc JobService, logger *slog.Logger) *Jobs {
	if logger == nil {
		logger = slog.Default()
	}
	return &Jobs{svc: svc, logger: logger}
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Class string `json:"class"`
	// Counts of an upload that failed part way
	Counts *model.DataCounts `json:"counts,omitempty"`
}

// JobResponse describes one job
type JobResponse struct {
	Job    *model.JobMetadata `json:"job"`
	Config *model.JobConfig   `json:"config,omitempty"`
}

// AckResponse acknowledges a lifecycle request
type AckResponse struct {
	Acknowledged bool `json:"acknowledged"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf maps an error to its HTTP status
func statusOf(err error) int {
	switch {
	case errors.Is(err, job.ErrUnknownJob):
		return http.StatusNotFound
	case errors.Is(err, job.ErrDeleting):
		return http.StatusConflict
	}
	switch errs.ClassOf(err) {
	case errs.Structural, errs.Data:
		return http.StatusBadRequest
	case errs.Conflict:
		return http.StatusConflict
	case errs.Infrastructure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Jobs) fail(w http.ResponseWriter, r *http.Request, err error, counts *model.DataCounts) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Class: errs.ClassOf(err).String(), Counts: counts})
}

func badRequest(err error) error {
	return errs.StructuralErr(err)
}

// flag reads a boolean query parameter; "?force" alone means true
func flag(r *http.Request, name string) (bool, error) {
	q := r.URL.Query()
	if q.Has(name) && q.Get(name) == "" {
		return true, nil
	}
	return utils.ParseBool(q.Get(name), false)
}

func timeout(r *http.Request) (time.Duration, error) {
	return utils.ParseDuration(r.URL.Query().Get("timeout"), 0)
}

// PutJob registers a job
// @Summary Register a job
// @Description Register a job configuration. The job starts CLOSED.
// @Tags jobs
// @Accept json
// @Produce json
// @Param id path string true "Job ID"
// @Param job body model.JobConfig true "Job configuration"
// @Success 201 {object} JobResponse
// @Failure 400 {object} ErrorResponse "Invalid configuration"
// @Failure 409 {object} ErrorResponse "Job already exists"
// @Router /jobs/{id} [put]
func (h *Jobs) PutJob(w http.ResponseWriter, r *http.Request) {
	jobID := router.Segment(r, jobIDSegment)

	var cfg model.JobConfig
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxConfigBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		h.fail(w, r, badRequest(errors.New("invalid JSON payload: "+err.Error())), nil)
		return
	}
	if cfg.ID == "" {
		cfg.ID = jobID
	}
	if cfg.ID != jobID {
		h.fail(w, r, badRequest(errors.New("job id in body does not match path")), nil)
		return
	}

	md, err := h.svc.Put(r.Context(), cfg)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, JobResponse{Job: md, Config: &cfg})
}

// ListJobs lists every job
// @Summary List jobs
// @Description Get the metadata of every registered job
// @Tags jobs
// @Produce json
// @Success 200 {array} model.JobMetadata
// @Failure 503 {object} ErrorResponse
// @Router /jobs [get]
func (h *Jobs) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.svc.List(r.Context())
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// GetJob returns a job's state and configuration
// @Summary Get job
// @Description Retrieve the state and configuration of a job
// @Tags jobs
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} JobResponse
// @Failure 404 {object} ErrorResponse "Job not found"
// @Router /jobs/{id} [get]
func (h *Jobs) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := router.Segment(r, jobIDSegment)
	md, err := h.svc.Get(r.Context(), jobID)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	resp := JobResponse{Job: md}
	if cfg, err := h.svc.Config(r.Context(), jobID); err == nil {
		resp.Config = &cfg
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetCounts returns a job's running data counts
// @Summary Get data counts
// @Description Retrieve the running totals of the input a job has received
// @Tags jobs
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} model.DataCounts
// @Failure 404 {object} ErrorResponse "Job not found"
// @Router /jobs/{id}/counts [get]
func (h *Jobs) GetCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.svc.Counts(r.Context(), router.Segment(r, jobIDSegment))
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// OpenJob starts a job's analysis process
// @Summary Open job
// @Description Start the analysis process of a closed job on this node
// @Tags jobs
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} JobResponse
// @Failure 404 {object} ErrorResponse "Job not found"
// @Failure 409 {object} ErrorResponse "Job is not closed or is being deleted"
// @Failure 503 {object} ErrorResponse "Process could not be started"
// @Router /jobs/{id}/_open [post]
func (h *Jobs) OpenJob(w http.ResponseWriter, r *http.Request) {
	md, err := h.svc.Open(r.Context(), router.Segment(r, jobIDSegment))
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, JobResponse{Job: md})
}

// PostData streams input to an open job
// @Summary Upload data
// @Description Stream raw records to an open job. The body may be gzip or zstd encoded.
// @Tags jobs
// @Accept plain
// @Produce json
// @Param id path string true "Job ID"
// @Param reset_start query string false "Start of the buckets to reset (epoch seconds or RFC 3339)"
// @Param reset_end query string false "End of the buckets to reset"
// @Param Content-Encoding header string false "gzip or zstd"
// @Success 202 {object} model.DataCounts
// @Failure 400 {object} ErrorResponse "Invalid input; counts of what was sent are included"
// @Failure 409 {object} ErrorResponse "Job not open or busy"
// @Router /jobs/{id}/_data [post]
func (h *Jobs) PostData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	counts, err := h.svc.Write(r.Context(), lifecycle.WriteRequest{
		JobID:           router.Segment(r, jobIDSegment),
		Body:            r.Body,
		ContentEncoding: r.Header.Get("Content-Encoding"),
		ResetStart:      q.Get("reset_start"),
		ResetEnd:        q.Get("reset_end"),
	})
	if err != nil {
		h.fail(w, r, err, &counts)
		return
	}
	writeJSON(w, http.StatusAccepted, counts)
}

// FlushJob asks a job's process to finish what it was sent
// @Summary Flush job
// @Description Flush an open job, optionally calculating interim results or advancing time first
// @Tags jobs
// @Produce json
// @Param id path string true "Job ID"
// @Param calc_interim query bool false "Calculate interim results"
// @Param start query string false "Start of the interim range"
// @Param end query string false "End of the interim range"
// @Param advance_time query string false "Advance the process's time to this point"
// @Success 200 {object} AckResponse
// @Failure 400 {object} ErrorResponse "Invalid parameters"
// @Failure 409 {object} ErrorResponse "Job not open or busy"
// @Failure 503 {object} ErrorResponse "Flush not acknowledged"
// @Router /jobs/{id}/_flush [post]
func (h *Jobs) FlushJob(w http.ResponseWriter, r *http.Request) {
	calcInterim, err := flag(r, "calc_interim")
	if err != nil {
		h.fail(w, r, badRequest(err), nil)
		return
	}
	q := r.URL.Query()
	err = h.svc.Flush(r.Context(), lifecycle.FlushRequest{
		JobID:       router.Segment(r, jobIDSegment),
		CalcInterim: calcInterim,
		Start:       q.Get("start"),
		End:         q.Get("end"),
		AdvanceTime: q.Get("advance_time"),
	})
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, AckResponse{Acknowledged: true})
}

// CloseJob stops a job's analysis process
// @Summary Close job
// @Description Gracefully close an open job, or stop it at once with force
// @Tags jobs
// @Produce json
// @Param id path string true "Job ID"
// @Param timeout query string false "How long to wait for the close, e.g. 30m"
// @Param force query bool false "Kill the process instead of draining it"
// @Success 200 {object} AckResponse
// @Failure 404 {object} ErrorResponse "Job not found"
// @Failure 409 {object} ErrorResponse "Job is not open, or the close timed out"
// @Router /jobs/{id}/_close [post]
func (h *Jobs) CloseJob(w http.ResponseWriter, r *http.Request) {
	jobID := router.Segment(r, jobIDSegment)
	force, err := flag(r, "force")
	if err != nil {
		h.fail(w, r, badRequest(err), nil)
		return
	}
	d, err := timeout(r)
	if err != nil {
		h.fail(w, r, badRequest(err), nil)
		return
	}

	if force {
		err = h.svc.ForceClose(r.Context(), jobID)
	} else {
		err = h.svc.Close(r.Context(), jobID, d)
	}
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, AckResponse{Acknowledged: true})
}

// DeleteJob removes a job
// @Summary Delete job
// @Description Delete a job with its configuration and counts, closing it first
// @Tags jobs
// @Produce json
// @Param id path string true "Job ID"
// @Param force query bool false "Kill a running process instead of draining it"
// @Param timeout query string false "How long to wait for the close, e.g. 30m"
// @Success 200 {object} AckResponse
// @Failure 404 {object} ErrorResponse "Job not found"
// @Failure 409 {object} ErrorResponse "Close timed out"
// @Router /jobs/{id} [delete]
func (h *Jobs) DeleteJob(w http.ResponseWriter, r *http.Request) {
	force, err := flag(r, "force")
	if err != nil {
		h.fail(w, r, badRequest(err), nil)
		return
	}
	d, err := timeout(r)
	if err != nil {
		h.fail(w, r, badRequest(err), nil)
		return
	}
	if err := h.svc.Delete(r.Context(), router.Segment(r, jobIDSegment), force, d); err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, AckResponse{Acknowledged: true})
}

// Health reports that the server is up
// @Summary Health check
// @Tags system
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
