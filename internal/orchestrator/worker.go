package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/local/djvupdf/internal/convert"
	"github.com/local/djvupdf/internal/metrics"
	"github.com/local/djvupdf/internal/tracker"
)

// TempPrefix starts the name of every in-progress output file.
const TempPrefix = ".djvupdf-"

var errCleared = errors.New("tracking cleared")

func (o *Orchestrator) loop(id int) {
	defer o.wg.Done()
	log.Info().Int("worker", id).Msg("conversion worker started")
	for {
		select {
		case <-o.stop:
			log.Info().Int("worker", id).Msg("conversion worker stopped")
			return
		case job := <-o.jobs:
			o.run(job)
		}
	}
}

func (o *Orchestrator) run(job *Job) {
	defer o.release(job)
	tr := o.deps.Tracker
	logger := log.With().Str("job_id", job.ID).Str("owner", job.Owner).Str("file", job.Name).Logger()
	if !tr.Transition(job.Owner, job.Source, tracker.Pending) {
		logger.Debug().Msg("job no longer tracked; dropped")
		return
	}
	if o.validDestination(job.Dest) {
		o.finish(job, nil)
		metrics.IncJob("skipped")
		o.setStatus(job, Status{Status: "success", Progress: 100, Message: "destination exists"})
		return
	}

	start := time.Now()
	o.setStatus(job, Status{Status: "processing", Message: "converting", Start: &start})
	stats, err := o.convert(job, logger)
	end := time.Now()
	o.clearPages(job)
	if errors.Is(err, errCleared) {
		logger.Debug().Msg("tracking cleared before conversion started")
		return
	}
	if err != nil {
		o.finish(job, err)
		metrics.IncJob("failed")
		o.setStatus(job, Status{Status: "failed", Message: err.Error(), End: &end,
			Metadata: map[string]any{"kind": string(convert.KindOf(err))}})
		logger.Error().Err(err).Str("kind", string(convert.KindOf(err))).Msg("conversion failed")
		return
	}
	o.finish(job, nil)
	metrics.IncJob("done")
	o.setStatus(job, Status{Status: "success", Progress: 100, Message: "completed", End: &end,
		Metadata: map[string]any{"pages": stats.Pages, "bytes": stats.Bytes}})
	logger.Info().Int("pages", stats.Pages).Dur("duration", end.Sub(start)).Msg("pdf published")
	o.mirror(job, logger)
}

func (o *Orchestrator) convert(job *Job, logger zerolog.Logger) (*convert.Stats, error) {
	tr := o.deps.Tracker
	if !tr.Transition(job.Owner, job.Source, tracker.Active) {
		return nil, errCleared
	}
	return o.produce(o.ctx, job, func(done, total int) {
		tr.SetProgress(job.Source, done, total)
		if o.deps.Pages != nil {
			if err := o.deps.Pages.SetPages(o.ctx, job.ID, done, total); err != nil {
				logger.Debug().Err(err).Msg("page progress update failed")
			}
		}
	}, logger)
}

// ConvertFile converts src to dest outside of any owner, with the same
// publish rules as the workers.
func (o *Orchestrator) ConvertFile(ctx context.Context, src, dest string, progress convert.ProgressFunc) (*convert.Stats, error) {
	job := &Job{ID: uuid.NewString(), Name: filepath.Base(src), Source: src, Dest: dest}
	logger := log.With().Str("job_id", job.ID).Str("file", job.Name).Logger()
	return o.produce(ctx, job, progress, logger)
}

// produce writes the PDF into a unique temp file next to the destination
// and renames it into place. The temp file never outlives a failure, and the
// destination is only touched once the PDF is complete.
func (o *Orchestrator) produce(ctx context.Context, job *Job, progress convert.ProgressFunc, logger zerolog.Logger) (*convert.Stats, error) {
	f, err := createTemp(filepath.Dir(job.Dest))
	if err != nil {
		return nil, convert.IOError("create temp file", err)
	}
	job.Temp = f.Name()
	o.useTemp(job.Temp, true)
	defer o.useTemp(job.Temp, false)

	published := false
	defer func() {
		if published {
			return
		}
		_ = f.Close()
		if err := os.Remove(job.Temp); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Error().Err(err).Str("temp", job.Temp).Msg("temp file cleanup failed")
		}
	}()

	stats, err := o.deps.Engine.Convert(ctx, job.Source, f, progress)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = convert.IOError("close temp file", cerr)
	}
	if err != nil {
		return nil, err
	}
	if o.deps.Verifier != nil {
		if err := o.deps.Verifier.Verify(ctx, job.Temp, stats.Pages); err != nil {
			return nil, convert.SerializationError("verify pdf", err)
		}
	}
	if err := publish(job.Temp, job.Dest); err != nil {
		return nil, convert.IOError("publish "+filepath.Base(job.Dest), err)
	}
	published = true
	return stats, nil
}

func createTemp(dir string) (*os.File, error) {
	name := filepath.Join(dir, TempPrefix+uuid.NewString()+".tmp")
	return os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
}

// publish replaces dest with temp.
func publish(temp, dest string) error {
	if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return os.Rename(temp, dest)
}

// validDestination reports whether path holds a non-empty PDF.
func (o *Orchestrator) validDestination(path string) bool {
	st, err := os.Stat(path)
	if err != nil || st.IsDir() || st.Size() == 0 {
		return false
	}
	ok, err := o.deps.Detector.IsPDF(path)
	return err == nil && ok
}

// claim marks job's source as being converted. It fails while another job
// holds the path, even if that job's tracking was cleared.
func (o *Orchestrator) claim(job *Job) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[job.Source]; busy {
		return false
	}
	o.inflight[job.Source] = job.ID
	return true
}

func (o *Orchestrator) release(job *Job) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.releaseLocked(job)
}

func (o *Orchestrator) releaseLocked(job *Job) {
	if o.inflight[job.Source] == job.ID {
		delete(o.inflight, job.Source)
	}
}

// finish ends tracking of job and frees its path in one step, so a scan
// never queues the path again before the old entry is gone.
func (o *Orchestrator) finish(job *Job, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.releaseLocked(job)
	o.deps.Tracker.Finish(job.Owner, job.Source, err)
}

func (o *Orchestrator) useTemp(path string, inUse bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if inUse {
		o.temps[path] = struct{}{}
	} else {
		delete(o.temps, path)
	}
}

func (o *Orchestrator) tempInUse(path string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.temps[path]
	return ok
}

// setStatus stores st for job; owner, source and destination are always
// part of the metadata.
func (o *Orchestrator) setStatus(job *Job, st Status) {
	if o.deps.Status == nil {
		return
	}
	md := map[string]any{"owner": job.Owner, "source": job.Source, "destination": job.Dest}
	for k, v := range st.Metadata {
		md[k] = v
	}
	st.Metadata = md
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.deps.Status.Set(ctx, job.ID, st); err != nil {
		log.Debug().Err(err).Str("job_id", job.ID).Msg("status update failed")
	}
}

func (o *Orchestrator) clearPages(job *Job) {
	if o.deps.Pages == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.deps.Pages.Clear(ctx, job.ID); err != nil {
		log.Debug().Err(err).Str("job_id", job.ID).Msg("page progress cleanup failed")
	}
}

func (o *Orchestrator) mirror(job *Job, logger zerolog.Logger) {
	if o.deps.Mirror == nil {
		return
	}
	key := job.Owner + "/" + filepath.Base(job.Dest)
	url, err := o.deps.Mirror.Upload(o.ctx, job.Dest, key)
	if err != nil {
		logger.Warn().Err(err).Msg("mirror upload failed")
		return
	}
	logger.Info().Str("url", url).Msg("pdf mirrored")
}
