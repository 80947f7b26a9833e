package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loadkit/imagepipeline/request"
)

func TestParsePriorityKnownValues(t *testing.T) {
	var p request.Priority
	high, err := parsePriority("high")
	require.NoError(t, err)
	assert.Equal(t, p.High(), high)

	veryLow, err := parsePriority("veryLow")
	require.NoError(t, err)
	assert.Equal(t, p.VeryLow(), veryLow)
}

func TestParsePriorityUnknownValueErrors(t *testing.T) {
	_, err := parsePriority("urgent")
	assert.Error(t, err)
}

func TestBuildRequestAppliesThumbnailAndCacheOnlyOption(t *testing.T) {
	req, err := buildRequest("https://example.com/a.jpg", fetchFlags{
		priority:      "normal",
		thumbWidth:    100,
		thumbHeight:   50,
		cacheDataOnly: true,
	})
	require.NoError(t, err)

	assert.Equal(t, request.ResourceURL, req.Resource.Kind)
	assert.Equal(t, "https://example.com/a.jpg", req.Resource.URL)
	require.NotNil(t, req.Thumbnail)
	assert.Equal(t, 100, req.Thumbnail.Width)
	assert.Equal(t, 50, req.Thumbnail.Height)
	assert.True(t, req.Options.Has(request.OptionReturnCacheDataDontLoad))
}

func TestBuildRequestWithoutThumbnailLeavesItNil(t *testing.T) {
	req, err := buildRequest("https://example.com/a.jpg", fetchFlags{priority: "low"})
	require.NoError(t, err)
	assert.Nil(t, req.Thumbnail)
}
