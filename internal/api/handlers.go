package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"ytmusicdl/internal/extractor"
	"ytmusicdl/internal/job"
	"ytmusicdl/internal/removable"
)

type downloadRequest struct {
	URL       string `json:"url" form:"url"`
	Directory string `json:"directory" form:"directory"`
	Quality   string `json:"quality" form:"quality"`
}

type createJobResponse struct {
	JobID  string    `json:"job_id"`
	Status string    `json:"status"`
	State  job.State `json:"state"`
}

type jobResponse struct {
	ID         string            `json:"id"`
	Status     string            `json:"status"`
	State      job.State         `json:"state"`
	Progress   float64           `json:"progress"`
	Speed      string            `json:"speed,omitempty"`
	ETA        string            `json:"eta,omitempty"`
	FilePath   string            `json:"file_path,omitempty"`
	Reason     job.Reason        `json:"reason,omitempty"`
	SourceURL  string            `json:"source_url"`
	Directory  string            `json:"directory"`
	Quality    extractor.Quality `json:"quality"`
	CreatedAt  string            `json:"created_at"`
	StartedAt  string            `json:"started_at,omitempty"`
	FinishedAt string            `json:"finished_at,omitempty"`
}

// eventRecord is the progress record pushed over the event stream.
type eventRecord struct {
	ID       string     `json:"id"`
	Status   string     `json:"status"`
	State    job.State  `json:"state"`
	Progress float64    `json:"progress"`
	Speed    string     `json:"speed,omitempty"`
	ETA      string     `json:"eta,omitempty"`
	FilePath string     `json:"file_path,omitempty"`
	Reason   job.Reason `json:"reason,omitempty"`
}

type infoRequest struct {
	URL string `json:"url"`
}

type playlistResponse struct {
	JobIDs []string `json:"job_ids"`
	Count  int      `json:"count"`
}

type copyRequest struct {
	SourcePath  string `json:"source_path"`
	Destination string `json:"destination"`
}

// Prober fetches metadata for a single video.
type Prober interface {
	Probe(ctx context.Context, url string) (extractor.Info, error)
}

// PlaylistLister expands a playlist URL into its videos.
type PlaylistLister interface {
	List(ctx context.Context, url string) ([]extractor.Entry, error)
}

// Options wires the API to its collaborators. Nil device functions fall back
// to the removable package.
type Options struct {
	Jobs         *job.Manager
	AllowedHosts []string
	Prober       Prober
	Playlists    PlaylistLister
	ListDrives   func(ctx context.Context) ([]removable.Drive, error)
	Copy         func(ctx context.Context, sourcePath, destinationDir string) (removable.CopyResult, error)
	// CopyObserver is told about every copy attempt, e.g. for metrics.
	CopyObserver func(bytes int64, err error)
}

type API struct {
	jobs         *job.Manager
	hosts        []string
	prober       Prober
	playlists    PlaylistLister
	listDrives   func(ctx context.Context) ([]removable.Drive, error)
	copyFile     func(ctx context.Context, sourcePath, destinationDir string) (removable.CopyResult, error)
	copyObserver func(bytes int64, err error)
}

func NewAPI(opts Options) *API {
	if opts.ListDrives == nil {
		opts.ListDrives = removable.ListDrives
	}
	if opts.Copy == nil {
		opts.Copy = removable.CopyToRemovable
	}
	if opts.CopyObserver == nil {
		opts.CopyObserver = func(int64, error) {}
	}
	if len(opts.AllowedHosts) == 0 {
		opts.AllowedHosts = []string{"youtube.com", "youtu.be"}
	}
	return &API{
		jobs:         opts.Jobs,
		hosts:        opts.AllowedHosts,
		prober:       opts.Prober,
		playlists:    opts.Playlists,
		listDrives:   opts.ListDrives,
		copyFile:     opts.Copy,
		copyObserver: opts.CopyObserver,
	}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", a.Health)
	api := router.Group("/api/v1")
	{
		api.POST("/jobs", a.CreateJob)
		api.GET("/jobs", a.ListJobs)
		api.GET("/jobs/:id", a.GetJob)
		api.DELETE("/jobs/:id", a.CancelJob)
		api.GET("/jobs/:id/events", a.JobEvents)
		api.POST("/info", a.Info)
		api.POST("/playlists", a.CreatePlaylist)
		api.GET("/drives", a.Drives)
		api.POST("/drives/copy", a.CopyToDrive)
	}
}

// Health reports liveness and the number of unfinished jobs.
func (a *API) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "active_jobs": a.jobs.ActiveCount(), "busy": a.jobs.IsBusy()})
}

// CreateJob submits a single download
func (a *API) CreateJob(c *gin.Context) {
	var req downloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn().Err(err).Msg("invalid create job request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	jobID, err := a.jobs.Submit(job.Request{
		SourceURL: req.URL,
		Directory: req.Directory,
		Quality:   extractor.Quality(req.Quality),
	})
	if err != nil {
		log.Warn().Str("url", req.URL).Err(err).Msg("failed to submit job")
		respondError(c, err)
		return
	}
	j, _ := a.jobs.Get(jobID)
	c.JSON(http.StatusAccepted, createJobResponse{JobID: jobID, Status: job.StatusOf(j.State), State: j.State})
}

// ListJobs returns every known job, oldest first
func (a *API) ListJobs(c *gin.Context) {
	jobs := a.jobs.List()
	resp := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp = append(resp, toJobResponse(j))
	}
	c.JSON(http.StatusOK, resp)
}

// GetJob returns job status
func (a *API) GetJob(c *gin.Context) {
	id := c.Param("id")
	if j, ok := a.jobs.Get(id); ok {
		c.JSON(http.StatusOK, toJobResponse(j))
		return
	}
	log.Warn().Str("job_id", id).Msg("job not found on get")
	c.JSON(http.StatusNotFound, gin.H{"error": job.ErrJobNotFound.Error()})
}

// CancelJob requests cancellation; the job reaches failed/cancelled asynchronously.
func (a *API) CancelJob(c *gin.Context) {
	id := c.Param("id")
	if err := a.jobs.Cancel(id); err != nil {
		log.Warn().Str("job_id", id).Err(err).Msg("cancel rejected")
		respondError(c, err)
		return
	}
	j, _ := a.jobs.Get(id)
	c.JSON(http.StatusAccepted, toJobResponse(j))
}

// JobEvents streams progress records as server-sent events until the job ends
// or the client goes away.
func (a *API) JobEvents(c *gin.Context) {
	id := c.Param("id")
	events, err := a.jobs.Observe(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(_ io.Writer) bool {
		ev, ok := <-events
		if !ok {
			return false
		}
		c.SSEvent("progress", toEventRecord(ev))
		return !ev.Terminal()
	})
}

// Info probes a URL for title, duration, thumbnail and uploader
func (a *API) Info(c *gin.Context) {
	if a.prober == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "probing not configured"})
		return
	}
	var req infoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	url, err := extractor.ValidateURL(req.URL, a.hosts)
	if err != nil {
		respondError(c, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
	defer cancel()
	info, err := a.prober.Probe(ctx, url)
	if err != nil {
		log.Warn().Str("url", url).Err(err).Msg("probe failed")
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// CreatePlaylist expands a playlist and submits one job per video
func (a *API) CreatePlaylist(c *gin.Context) {
	if a.playlists == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "playlists not configured"})
		return
	}
	var req downloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if _, err := extractor.ValidateURL(req.URL, a.hosts); err != nil {
		respondError(c, err)
		return
	}
	if err := a.jobs.ValidateTarget(req.Directory, extractor.Quality(req.Quality)); err != nil {
		respondError(c, err)
		return
	}
	entries, err := a.playlists.List(c.Request.Context(), req.URL)
	if err != nil {
		log.Warn().Str("url", req.URL).Err(err).Msg("playlist expansion failed")
		respondError(c, err)
		return
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		jobID, err := a.jobs.Submit(job.Request{
			SourceURL: entry.URL,
			Directory: req.Directory,
			Quality:   extractor.Quality(req.Quality),
		})
		if err != nil {
			// entries already queued keep running, so report them with the error
			log.Warn().Str("video_id", entry.VideoID).Int("submitted", len(ids)).Err(err).Msg("failed to submit playlist entry")
			c.JSON(statusFor(err), gin.H{"error": err.Error(), "job_ids": ids, "count": len(ids)})
			return
		}
		ids = append(ids, jobID)
	}
	log.Info().Str("url", req.URL).Int("jobs", len(ids)).Msg("playlist submitted")
	c.JSON(http.StatusAccepted, playlistResponse{JobIDs: ids, Count: len(ids)})
}

// Drives lists mounted removable drives
func (a *API) Drives(c *gin.Context) {
	drives, err := a.listDrives(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("list drives failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if drives == nil {
		drives = []removable.Drive{}
	}
	c.JSON(http.StatusOK, drives)
}

// CopyToDrive copies a finished file onto a removable drive
func (a *API) CopyToDrive(c *gin.Context) {
	var req copyRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SourcePath == "" || req.Destination == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source_path and destination are required"})
		return
	}
	res, err := a.copyFile(c.Request.Context(), req.SourcePath, req.Destination)
	a.copyObserver(res.Bytes, err)
	if err != nil {
		log.Warn().Str("source", req.SourcePath).Str("destination", req.Destination).Err(err).Msg("copy failed")
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

const probeTimeout = 60 * time.Second

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, job.ErrInvalidInput),
		errors.Is(err, extractor.ErrUnsupportedURL),
		errors.Is(err, extractor.ErrNotPlaylist):
		return http.StatusBadRequest
	case errors.Is(err, job.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, job.ErrJobFinished):
		return http.StatusConflict
	case errors.Is(err, removable.ErrCopyFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, extractor.ErrProbe):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func toJobResponse(j job.Job) jobResponse {
	resp := jobResponse{
		ID:        j.ID,
		Status:    job.StatusOf(j.State),
		State:     j.State,
		Progress:  j.Progress,
		Speed:     j.Speed,
		ETA:       j.ETA,
		FilePath:  j.ResultPath,
		Reason:    j.Reason,
		SourceURL: j.Request.SourceURL,
		Directory: j.Request.Directory,
		Quality:   j.Request.Quality,
		CreatedAt: j.CreatedAt.UTC().Format(time.RFC3339),
	}
	if j.StartedAt != nil {
		resp.StartedAt = j.StartedAt.UTC().Format(time.RFC3339)
	}
	if j.FinishedAt != nil {
		resp.FinishedAt = j.FinishedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func toEventRecord(ev job.Event) eventRecord {
	return eventRecord{
		ID:       ev.JobID,
		Status:   ev.Status(),
		State:    ev.State,
		Progress: ev.Progress,
		Speed:    ev.Speed,
		ETA:      ev.ETA,
		FilePath: ev.ResultPath,
		Reason:   ev.Reason,
	}
}
