package resumable_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loadkit/imagepipeline/resumable"
)

func TestStoreBasicPutGet(t *testing.T) {
	s := resumable.New(resumable.DefaultMaxCost, resumable.DefaultMaxCount)
	s.RegisterPipeline("p1")

	_, ok := s.Load("p1", "img1")
	require.False(t, ok)

	s.Store("p1", "img1", []byte("partial-bytes"), `"etag-1"`)
	rec, ok := s.Load("p1", "img1")
	require.True(t, ok)
	require.Equal(t, []byte("partial-bytes"), rec.Data)
	require.Equal(t, `"etag-1"`, rec.Validator)
}

func TestStoreEvictsByCost(t *testing.T) {
	s := resumable.New(10, 100)
	s.RegisterPipeline("p1")

	s.Store("p1", "a", make([]byte, 6), "v1")
	s.Store("p1", "b", make([]byte, 6), "v2")

	// Combined cost (12) exceeds the 10-byte budget, so the older entry (a)
	// must have been evicted to make room for b.
	_, aOK := s.Load("p1", "a")
	_, bOK := s.Load("p1", "b")
	require.False(t, aOK)
	require.True(t, bOK)
}

func TestStoreEvictsByCount(t *testing.T) {
	s := resumable.New(resumable.DefaultMaxCost, 2)
	s.RegisterPipeline("p1")

	s.Store("p1", "a", []byte("x"), "v")
	s.Store("p1", "b", []byte("y"), "v")
	s.Store("p1", "c", []byte("z"), "v")

	require.LessOrEqual(t, s.Len(), 2)
	_, aOK := s.Load("p1", "a")
	require.False(t, aOK, "oldest entry should be evicted once the count budget is exceeded")
}

func TestUnregisterPipelineDropsItsEntries(t *testing.T) {
	s := resumable.New(resumable.DefaultMaxCost, resumable.DefaultMaxCount)
	s.RegisterPipeline("p1")
	s.RegisterPipeline("p2")

	s.Store("p1", "img1", []byte("a"), "v")
	s.Store("p2", "img1", []byte("b"), "v")

	s.UnregisterPipeline("p1")

	_, p1OK := s.Load("p1", "img1")
	_, p2OK := s.Load("p2", "img1")
	require.False(t, p1OK)
	require.True(t, p2OK)
}

func TestRegisterPipelineRefCounts(t *testing.T) {
	s := resumable.New(resumable.DefaultMaxCost, resumable.DefaultMaxCount)
	s.RegisterPipeline("p1")
	s.RegisterPipeline("p1")
	s.Store("p1", "img1", []byte("a"), "v")

	s.UnregisterPipeline("p1")
	_, ok := s.Load("p1", "img1")
	require.True(t, ok, "one remaining registration should keep entries alive")

	s.UnregisterPipeline("p1")
	_, ok = s.Load("p1", "img1")
	require.False(t, ok)
}

func TestRemoveMatching(t *testing.T) {
	s := resumable.New(resumable.DefaultMaxCost, resumable.DefaultMaxCount)
	s.RegisterPipeline("p1")
	s.Store("p1", "img1", []byte("a"), "v")
	s.Store("p1", "img2", []byte("b"), "v")

	s.RemoveMatching(func(k resumable.Key) bool { return k.ImageID == "img1" })

	_, ok1 := s.Load("p1", "img1")
	_, ok2 := s.Load("p1", "img2")
	require.False(t, ok1)
	require.True(t, ok2)
}

func TestClear(t *testing.T) {
	s := resumable.New(resumable.DefaultMaxCost, resumable.DefaultMaxCount)
	s.RegisterPipeline("p1")
	s.Store("p1", "img1", []byte("a"), "v")
	s.Clear()
	require.Equal(t, 0, s.Len())
}
