package jp2

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/djvupdf/internal/raster"
)

type fakeCodec struct {
	inits     atomic.Int32
	initErr   error
	needBytes int // overflow while bufSize < needBytes
	failWith  error
	delay     time.Duration

	mu       sync.Mutex
	sizes    []int
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeCodec) Init() error {
	f.inits.Add(1)
	return f.initErr
}

func (f *fakeCodec) Compress(c *Components, p Params, bufSize int) ([]byte, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		old := f.peak.Load()
		if n <= old || f.peak.CompareAndSwap(old, n) {
			break
		}
	}
	f.mu.Lock()
	f.sizes = append(f.sizes, bufSize)
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.failWith != nil {
		return nil, f.failWith
	}
	if bufSize < f.needBytes {
		return nil, ErrBufferTooSmall
	}
	out := []byte{0xFF, 0x4F, byte(len(c.Planes))}
	return out, nil
}

func grayImage(w, h int) *raster.Image { return raster.New(raster.Gray8, w, h) }

func TestFromImage(t *testing.T) {
	c, err := FromImage(raster.New(raster.RGB24, 4, 2))
	require.NoError(t, err)
	assert.Len(t, c.Planes, 3)
	assert.Len(t, c.Planes[0], 8)
	assert.Equal(t, 8, c.Precision)
	assert.False(t, c.Gray())

	c, err = FromImage(grayImage(3, 3))
	require.NoError(t, err)
	assert.True(t, c.Gray())

	_, err = FromImage(raster.New(raster.Mono1, 8, 8))
	assert.Error(t, err)
}

func TestBufferSize(t *testing.T) {
	assert.Equal(t, 1<<20+100, BufferSize(100))
	assert.Equal(t, 1<<20, BufferSize(0))
}

func TestEncode_RetriesWithDoubledBuffer(t *testing.T) {
	codec := &fakeCodec{needBytes: 3 << 20}
	enc := NewEncoder(codec, DefaultParams())

	out, err := enc.Encode(grayImage(10, 10))
	require.NoError(t, err)
	assert.NotEmpty(t, out)
	base := BufferSize(100)
	assert.Equal(t, []int{base, 2 * base, 4 * base}, codec.sizes)
}

func TestEncode_ExhaustsAfterThreeAttempts(t *testing.T) {
	codec := &fakeCodec{needBytes: 1 << 30}
	enc := NewEncoder(codec, DefaultParams())

	_, err := enc.Encode(grayImage(10, 10))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBufferExhausted)
	assert.Len(t, codec.sizes, 3)
}

func TestEncode_CodecErrorIsNotRetried(t *testing.T) {
	codec := &fakeCodec{failWith: errors.New("bad parameters")}
	enc := NewEncoder(codec, DefaultParams())

	_, err := enc.Encode(grayImage(4, 4))
	require.Error(t, err)
	assert.Len(t, codec.sizes, 1)
}

func TestEncode_InitOnce(t *testing.T) {
	codec := &fakeCodec{}
	enc := NewEncoder(codec, DefaultParams())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := enc.Encode(grayImage(4, 4))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), codec.inits.Load())
}

func TestEncode_InitFailureIsSticky(t *testing.T) {
	codec := &fakeCodec{initErr: errors.New("no codec")}
	enc := NewEncoder(codec, DefaultParams())

	_, err := enc.Encode(grayImage(4, 4))
	require.Error(t, err)
	_, err = enc.Encode(grayImage(4, 4))
	require.Error(t, err)
	assert.Equal(t, int32(1), codec.inits.Load())
	assert.Empty(t, codec.sizes)
}

func TestPool_CapsConcurrencyAndFillsSlots(t *testing.T) {
	codec := &fakeCodec{delay: 5 * time.Millisecond}
	pool := NewPool(NewEncoder(codec, DefaultParams()), 2)
	assert.Equal(t, 2, pool.Size())

	slots := make([][]byte, 10)
	g := pool.Group(context.Background())
	for i := range slots {
		g.Submit(i, raster.New(raster.RGB24, 4, 4), &slots[i])
	}
	require.NoError(t, g.Wait())

	assert.LessOrEqual(t, codec.peak.Load(), int32(2))
	for i, s := range slots {
		assert.Equal(t, []byte{0xFF, 0x4F, 3}, s, "slot %d", i)
	}
}

func TestPool_GroupReportsFailure(t *testing.T) {
	codec := &fakeCodec{failWith: errors.New("encoder crashed")}
	pool := NewPool(NewEncoder(codec, DefaultParams()), 1)

	slots := make([][]byte, 3)
	g := pool.Group(context.Background())
	for i := range slots {
		g.Submit(i, grayImage(4, 4), &slots[i])
	}
	err := g.Wait()
	require.Error(t, err)
	for _, s := range slots {
		assert.Nil(t, s)
	}
}

func TestPool_GroupsAreIndependent(t *testing.T) {
	pool := NewPool(NewEncoder(&fakeCodec{}, DefaultParams()), 0)
	assert.GreaterOrEqual(t, pool.Size(), 1)

	var a, b []byte
	g1 := pool.Group(context.Background())
	g2 := pool.Group(context.Background())
	g1.Submit(0, grayImage(2, 2), &a)
	g2.Submit(0, raster.New(raster.RGB24, 2, 2), &b)
	require.NoError(t, g1.Wait())
	require.NoError(t, g2.Wait())
	assert.Equal(t, byte(1), a[2])
	assert.Equal(t, byte(3), b[2])
}

func TestPool_SubmitBlocksWhileGroupIsFull(t *testing.T) {
	codec := &fakeCodec{delay: 50 * time.Millisecond}
	pool := NewPool(NewEncoder(codec, DefaultParams()), 1)
	g := pool.Group(context.Background())

	slots := make([][]byte, 8)
	var submitted atomic.Int32
	done := make(chan error, 1)
	go func() {
		for i := range slots {
			if err := g.Submit(i, grayImage(256, 256), &slots[i]); err != nil {
				done <- err
				return
			}
			submitted.Add(1)
		}
		done <- nil
	}()

	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, submitted.Load(), int32(2), "one encoding plus one waiting")

	require.NoError(t, <-done)
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), codec.peak.Load())
	for i, s := range slots {
		assert.NotNil(t, s, "slot %d", i)
	}
}

func TestPool_SubmitAfterFailureIsRejected(t *testing.T) {
	codec := &fakeCodec{failWith: errors.New("encoder crashed")}
	pool := NewPool(NewEncoder(codec, DefaultParams()), 1)
	g := pool.Group(context.Background())

	var first []byte
	require.NoError(t, g.Submit(0, grayImage(4, 4), &first))
	require.Eventually(t, func() bool { return g.Err() != nil }, time.Second, time.Millisecond)

	var second []byte
	assert.Error(t, g.Submit(1, grayImage(4, 4), &second))
	err := g.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encoder crashed")
	assert.Len(t, codec.sizes, 1)
}
