package orchestrator

import (
	"context"

	"github.com/local/djvupdf/internal/store"
)

type redisStatusAdapter struct{ s *store.RedisStatus }

// NewStatusAdapter exposes a Redis status sink as a StatusStore. Jobs that
// carry a "source" in their metadata are also indexed by source path.
func NewStatusAdapter(s *store.RedisStatus) StatusStore { return &redisStatusAdapter{s: s} }

func (a *redisStatusAdapter) Set(ctx context.Context, jobID string, st Status) error {
	if err := a.s.Set(ctx, jobID, store.Status{
		Status:   st.Status,
		Progress: st.Progress,
		Message:  st.Message,
		Start:    st.Start,
		End:      st.End,
		Metadata: st.Metadata,
	}); err != nil {
		return err
	}
	if src, ok := st.Metadata["source"].(string); ok && src != "" {
		return a.s.SetPathJob(ctx, src, jobID)
	}
	return nil
}

func (a *redisStatusAdapter) Get(ctx context.Context, jobID string) (Status, bool, error) {
	st, ok, err := a.s.Get(ctx, jobID)
	if !ok || err != nil {
		return Status{}, ok, err
	}
	return Status{
		Status:   st.Status,
		Progress: st.Progress,
		Message:  st.Message,
		Start:    st.Start,
		End:      st.End,
		Metadata: st.Metadata,
	}, true, nil
}

func (a *redisStatusAdapter) JobByPath(ctx context.Context, path string) (string, bool, error) {
	return a.s.JobByPath(ctx, path)
}

// NewProgressAdapter exposes Redis page counters as a ProgressStore.
func NewProgressAdapter(p *store.PageStore) ProgressStore { return p }
