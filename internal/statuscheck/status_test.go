package statuscheck

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestSummary(t *testing.T) {
	yes := func() bool { return true }
	no := func() bool { return false }

	c := New(Options{Codecs: map[string]func() bool{"openjpeg": yes}})
	s := c.Summary(context.Background())
	assert.True(t, s.Healthy)
	assert.True(t, s.Redis.Disabled)
	assert.True(t, s.S3.Disabled)

	c = New(Options{Redis: pinger{}, S3: pinger{err: errors.New("403 forbidden")}})
	s = c.Summary(context.Background())
	assert.True(t, s.Redis.OK)
	assert.False(t, s.S3.OK)
	assert.Equal(t, "403 forbidden", s.S3.Message)
	assert.False(t, s.Healthy)

	c = New(Options{Codecs: map[string]func() bool{"jbig2enc": no}})
	report, healthy := c.Health(context.Background())
	assert.False(t, healthy)
	assert.False(t, report.(Summary).Codecs["jbig2enc"].OK)
}

func TestTrimError(t *testing.T) {
	assert.Equal(t, "", trimError(nil))
	assert.Len(t, trimError(errors.New(strings.Repeat("x", 300))), 120)
}
