// Package orchestrator discovers DjVu files of owners, runs one conversion
// per document on a fixed set of workers, publishes each PDF next to its
// source and answers status queries.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/djvupdf/internal/convert"
	"github.com/local/djvupdf/internal/filetype"
	"github.com/local/djvupdf/internal/metrics"
	"github.com/local/djvupdf/internal/tracker"
)

// File is one entry of an owner's file set.
type File struct {
	Name string
	Path string
}

// Owner is a collection of files, e.g. a download or a watched directory.
type Owner interface {
	ID() string
	Name() string
	Files() []File
	// Progress is the download completion of f in [0, 1].
	Progress(f File) float64
}

// Converter converts the DjVu document at src into a PDF written to w.
type Converter interface {
	Convert(ctx context.Context, src string, w io.Writer, progress convert.ProgressFunc) (*convert.Stats, error)
}

// Detector confirms file types by content.
type Detector interface {
	IsDjVu(path string) (bool, error)
	IsPDF(path string) (bool, error)
}

// Verifier checks a written PDF before it is published.
type Verifier interface {
	Verify(ctx context.Context, path string, pages int) error
}

// Mirror uploads published PDFs.
type Mirror interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
}

type Status struct {
	Status   string
	Progress int
	Message  string
	Start    *time.Time
	End      *time.Time
	Metadata map[string]any
}

// StatusStore keeps job status for readers outside the process.
type StatusStore interface {
	Set(ctx context.Context, jobID string, st Status) error
	Get(ctx context.Context, jobID string) (Status, bool, error)
	// JobByPath returns the latest job queued for a source path.
	JobByPath(ctx context.Context, path string) (string, bool, error)
}

// ProgressStore holds page counters while a job runs. Counters are cleared
// when the job ends.
type ProgressStore interface {
	SetPages(ctx context.Context, jobID string, done, total int) error
	GetPages(ctx context.Context, jobID string) (done, total int, ok bool, err error)
	Clear(ctx context.Context, jobID string) error
}

// Dependencies wires the orchestrator. Engine and Tracker are required;
// Detector defaults to magic-byte detection; the rest are optional.
type Dependencies struct {
	Engine   Converter
	Tracker  *tracker.Tracker
	Detector Detector
	Verifier Verifier
	Status   StatusStore
	Pages    ProgressStore
	Mirror   Mirror
	// Health reports the service state on /health.
	Health func(ctx context.Context) (report any, healthy bool)
}

type Config struct {
	Workers    int
	QueueSize  int
	TempMaxAge time.Duration
}

// Job is one document conversion.
type Job struct {
	ID     string
	Owner  string
	Name   string
	Source string
	Dest   string
	Temp   string
}

type Orchestrator struct {
	cfg  Config
	deps Dependencies
	jobs chan *Job

	ctx    context.Context
	cancel context.CancelFunc
	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	mu       sync.Mutex
	owners   map[string]Owner
	temps    map[string]struct{}
	// inflight maps a source path to the job converting it, from queueing
	// until the worker is done with it, across ClearTracking.
	inflight map[string]string
}

func New(cfg Config, deps Dependencies) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.TempMaxAge <= 0 {
		cfg.TempMaxAge = time.Hour
	}
	if deps.Detector == nil {
		deps.Detector = filetype.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		jobs:   make(chan *Job, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		stop:   make(chan struct{}),
		owners:   map[string]Owner{},
		temps:    map[string]struct{}{},
		inflight: map[string]string{},
	}
}

// Start launches the document workers.
func (o *Orchestrator) Start() {
	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go o.loop(i)
	}
}

// Stop cancels running conversions and waits for the workers until ctx is
// done.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.once.Do(func() {
		close(o.stop)
		o.cancel()
	})
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register makes owner known to Watch and the HTTP API.
func (o *Orchestrator) Register(owner Owner) {
	o.mu.Lock()
	o.owners[owner.ID()] = owner
	o.mu.Unlock()
}

func (o *Orchestrator) owner(id string) (Owner, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ow, ok := o.owners[id]
	return ow, ok
}

// Owners returns the registered owners sorted by id.
func (o *Orchestrator) Owners() []Owner {
	o.mu.Lock()
	out := make([]Owner, 0, len(o.owners))
	for _, ow := range o.owners {
		out = append(out, ow)
	}
	o.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Destination returns the PDF path for a DjVu source: same directory, same
// base name.
func Destination(src string) string {
	return strings.TrimSuffix(src, filepath.Ext(src)) + ".pdf"
}

// CheckAndConvert scans owner's files and queues every complete DjVu file
// that has no PDF yet and is not already tracked. It returns the number of
// queued jobs.
func (o *Orchestrator) CheckAndConvert(owner Owner) int {
	o.Register(owner)
	id := owner.ID()
	tr := o.deps.Tracker
	files := owner.Files()

	present := make(map[string]bool, len(files))
	dirs := map[string]bool{}
	for _, f := range files {
		present[strings.ToLower(f.Path)] = true
		if filetype.HasDjVuExtension(f.Name) {
			dirs[filepath.Dir(f.Path)] = true
		}
	}
	for dir := range dirs {
		CleanupTemps(dir, o.cfg.TempMaxAge, o.tempInUse)
	}

	queued := 0
	for _, f := range files {
		if !filetype.HasDjVuExtension(f.Name) {
			continue
		}
		dest := Destination(f.Path)
		sibling := present[strings.ToLower(dest)]

		switch tr.State(id, f.Path) {
		case tracker.Untracked:
		case tracker.Failed:
			if sibling || o.validDestination(dest) {
				tr.ClearFailure(id, f.Path)
				log.Info().Str("owner", id).Str("file", f.Name).Msg("failure cleared, destination exists")
			}
			continue
		default:
			continue
		}
		if sibling || owner.Progress(f) < 1 {
			continue
		}
		if o.validDestination(dest) {
			tr.Finish(id, f.Path, nil)
			metrics.IncJob("skipped")
			log.Debug().Str("owner", id).Str("file", f.Name).Msg("destination exists, nothing to convert")
			continue
		}
		job := &Job{ID: uuid.NewString(), Owner: id, Name: f.Name, Source: f.Path, Dest: dest}
		if !o.claim(job) {
			log.Debug().Str("owner", id).Str("file", f.Name).Msg("conversion still running, not queued")
			continue
		}
		if !tr.Enqueue(id, f.Path) {
			o.release(job)
			continue
		}
		if ok, err := o.deps.Detector.IsDjVu(f.Path); err != nil || !ok {
			if err == nil {
				err = errors.New("not a DjVu document")
			}
			o.finish(job, convert.DecodeError(f.Name, err))
			metrics.IncJob("failed")
			log.Warn().Err(err).Str("owner", id).Str("file", f.Name).Msg("skipping file")
			continue
		}

		// Before the send: the worker may finish first.
		o.setStatus(job, Status{Status: "queued", Message: "queued"})
		select {
		case o.jobs <- job:
			queued++
			log.Info().Str("job_id", job.ID).Str("owner", id).Str("file", f.Name).Msg("job queued")
		case <-o.stop:
			o.finish(job, nil)
			return queued
		}
	}
	return queued
}

// Watch calls CheckAndConvert for every registered owner each interval
// until ctx is done.
func (o *Orchestrator) Watch(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		for _, ow := range o.Owners() {
			if n := o.CheckAndConvert(ow); n > 0 {
				log.Info().Str("owner", ow.ID()).Int("queued", n).Msg("scan queued conversions")
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// ConvertingFileName returns the name of the file being converted for owner.
func (o *Orchestrator) ConvertingFileName(ownerID string) (string, bool) {
	active := o.deps.Tracker.Paths(ownerID, tracker.Active)
	if len(active) == 0 {
		return "", false
	}
	return filepath.Base(active[0]), true
}

// ConversionProgress returns "d of n pages" for owner's active conversion.
func (o *Orchestrator) ConversionProgress(ownerID string) (string, bool) {
	active := o.deps.Tracker.Paths(ownerID, tracker.Active)
	if len(active) == 0 {
		return "", false
	}
	done, total, ok := o.deps.Tracker.Progress(active[0])
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%d of %d pages", done, total), true
}

// FailedFileName returns the name of a file of owner whose conversion
// failed.
func (o *Orchestrator) FailedFileName(ownerID string) (string, bool) {
	path, _, ok := o.deps.Tracker.Failure(ownerID)
	if !ok {
		return "", false
	}
	return filepath.Base(path), true
}

// FailureStatus returns "<file>: <error>" for owner's failed conversion.
func (o *Orchestrator) FailureStatus(ownerID string) (string, bool) {
	path, msg, ok := o.deps.Tracker.Failure(ownerID)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s: %s", filepath.Base(path), msg), true
}

// ClearTracking forgets everything about owner. Queued jobs of the owner
// are dropped when a worker picks them up.
func (o *Orchestrator) ClearTracking(ownerID string) {
	o.deps.Tracker.ClearOwner(ownerID)
	o.mu.Lock()
	delete(o.owners, ownerID)
	o.mu.Unlock()
	log.Info().Str("owner", ownerID).Msg("tracking cleared")
}

// Subscribe returns completion events, one per owner while the consumer
// lags. The channel closes when ctx is done.
func (o *Orchestrator) Subscribe(ctx context.Context) <-chan tracker.Event {
	return o.deps.Tracker.Subscribe(ctx)
}

// OwnerSummary is the status of one owner.
type OwnerSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Converting string `json:"converting,omitempty"`
	Progress   string `json:"progress,omitempty"`
	Failed     string `json:"failed,omitempty"`
	Failure    string `json:"failure,omitempty"`
	Queued     int    `json:"queued"`
	Pending    int    `json:"pending"`
	Active     int    `json:"active"`
	FailedN    int    `json:"failed_count"`
}

// Summary returns the status of a registered owner.
func (o *Orchestrator) Summary(ownerID string) (OwnerSummary, bool) {
	ow, ok := o.owner(ownerID)
	if !ok {
		return OwnerSummary{}, false
	}
	tr := o.deps.Tracker
	s := OwnerSummary{
		ID:      ownerID,
		Name:    ow.Name(),
		Queued:  len(tr.Paths(ownerID, tracker.Queued)),
		Pending: len(tr.Paths(ownerID, tracker.Pending)),
		Active:  len(tr.Paths(ownerID, tracker.Active)),
		FailedN: len(tr.Paths(ownerID, tracker.Failed)),
	}
	s.Converting, _ = o.ConvertingFileName(ownerID)
	s.Progress, _ = o.ConversionProgress(ownerID)
	s.Failed, _ = o.FailedFileName(ownerID)
	s.Failure, _ = o.FailureStatus(ownerID)
	return s, true
}

// JobView is the stored status of one job.
type JobView struct {
	ID         string         `json:"id"`
	File       string         `json:"file,omitempty"`
	Status     string         `json:"status"`
	Progress   int            `json:"progress"`
	Message    string         `json:"message,omitempty"`
	Start      *time.Time     `json:"start_time,omitempty"`
	End        *time.Time     `json:"end_time,omitempty"`
	PagesDone  int            `json:"pages_done,omitempty"`
	PagesTotal int            `json:"pages_total,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Job returns the stored status of a job, with live page counters while it
// runs. ok is false without a status store or for unknown ids.
func (o *Orchestrator) Job(ctx context.Context, jobID string) (JobView, bool, error) {
	if o.deps.Status == nil {
		return JobView{}, false, nil
	}
	st, ok, err := o.deps.Status.Get(ctx, jobID)
	if err != nil || !ok {
		return JobView{}, false, err
	}
	v := JobView{
		ID:       jobID,
		Status:   st.Status,
		Progress: st.Progress,
		Message:  st.Message,
		Start:    st.Start,
		End:      st.End,
		Metadata: st.Metadata,
	}
	if src, ok := st.Metadata["source"].(string); ok {
		v.File = filepath.Base(src)
	}
	if o.deps.Pages != nil {
		done, total, ok, err := o.deps.Pages.GetPages(ctx, jobID)
		if err != nil {
			return JobView{}, false, err
		}
		if ok {
			v.PagesDone, v.PagesTotal = done, total
		}
	}
	return v, true, nil
}

// OwnerJobs returns the latest stored job of each DjVu file of owner.
func (o *Orchestrator) OwnerJobs(ctx context.Context, ownerID string) ([]JobView, bool, error) {
	ow, ok := o.owner(ownerID)
	if !ok {
		return nil, false, nil
	}
	out := []JobView{}
	if o.deps.Status == nil {
		return out, true, nil
	}
	for _, f := range ow.Files() {
		if !filetype.HasDjVuExtension(f.Name) {
			continue
		}
		id, ok, err := o.deps.Status.JobByPath(ctx, f.Path)
		if err != nil {
			return nil, true, err
		}
		if !ok {
			continue
		}
		v, ok, err := o.Job(ctx, id)
		if err != nil {
			return nil, true, err
		}
		if ok {
			v.File = f.Name
			out = append(out, v)
		}
	}
	return out, true, nil
}
