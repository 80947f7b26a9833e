package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestByteSizeToString(t *testing.T) {
	assert.Equal(t, "0.00 B", ByteSizeToString(0))
	assert.Equal(t, "512.00 B", ByteSizeToString(512))
	assert.Equal(t, "1.00 KiB", ByteSizeToString(KiByte))
	assert.Equal(t, "32.00 MiB", ByteSizeToString(32*MiByte))
	assert.Equal(t, "1.00 GiB", ByteSizeToString(GiByte))
}

func TestIff(t *testing.T) {
	assert.Equal(t, "yes", Iff(true, "yes", "no"))
	assert.Equal(t, "no", Iff(false, "yes", "no"))
	assert.Equal(t, 1, Iff(1 == 1, 1, 2))
}

func TestTaskIDCounterStartsAtOneAndIncrements(t *testing.T) {
	var c TaskIDCounter
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(3), c.Next())
}

func TestTaskIDCounterConcurrentNextNeverRepeats(t *testing.T) {
	var c TaskIDCounter
	const n = 200
	ids := make(chan int64, n)
	done := make(chan struct{})
	for i := 0; i < n; i++ {
		go func() { ids <- c.Next(); done <- struct{}{} }()
	}
	for i := 0; i < n; i++ {
		<-done
	}
	close(ids)
	seen := make(map[int64]bool, n)
	for id := range ids {
		assert.False(t, seen[id], "task id %d handed out twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestDefaultConcurrencyFallsBackWithoutEnvOverride(t *testing.T) {
	t.Setenv("IMAGEPIPELINE_TESTQUEUE_CONCURRENCY", "")
	assert.Equal(t, 6, DefaultConcurrency("TESTQUEUE", 6))
}

func TestDefaultConcurrencyHonorsEnvOverride(t *testing.T) {
	t.Setenv("IMAGEPIPELINE_TESTQUEUE_CONCURRENCY", "9")
	assert.Equal(t, 9, DefaultConcurrency("TESTQUEUE", 6))
}

func TestDefaultConcurrencyIgnoresInvalidOrNonPositiveOverride(t *testing.T) {
	t.Setenv("IMAGEPIPELINE_TESTQUEUE_CONCURRENCY", "not-a-number")
	assert.Equal(t, 6, DefaultConcurrency("TESTQUEUE", 6))

	t.Setenv("IMAGEPIPELINE_TESTQUEUE_CONCURRENCY", "0")
	assert.Equal(t, 6, DefaultConcurrency("TESTQUEUE", 6))
}
