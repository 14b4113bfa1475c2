package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/phosphoros/internal/ir"
)

func TestCapture_CopiesValues(t *testing.T) {
	hs := HostSettings{
		SamplesPerPixel:    4,
		PathsPerSample:     2,
		MaxPathDepth:       6,
		RenderDiffuseScene: true,
	}

	snap := Capture(hs)

	assert.Equal(t, 4, snap.SamplesPerPixel())
	assert.Equal(t, 2, snap.PathsPerSample())
	assert.Equal(t, 6, snap.MaxPathDepth())
	assert.True(t, snap.RenderDiffuseOnly())
	assert.Equal(t, 8, snap.PathsPerPixel())
}

func TestCapture_IndependentOfLaterEdits(t *testing.T) {
	hs := HostSettings{SamplesPerPixel: 9, PathsPerSample: 9, MaxPathDepth: 9}
	snap := Capture(hs)

	hs.SamplesPerPixel = 1
	hs.RenderDiffuseScene = true

	assert.Equal(t, 9, snap.SamplesPerPixel(), "snapshot must not alias host settings")
	assert.False(t, snap.RenderDiffuseOnly())
}

func TestCapture_Total(t *testing.T) {
	// Out-of-range values are the settings layer's problem; capture never fails.
	snap := Capture(HostSettings{SamplesPerPixel: -3})
	assert.Equal(t, -3, snap.SamplesPerPixel())
	assert.Equal(t, Snapshot{}, Capture(HostSettings{}))
}

func TestSnapshot_Fields(t *testing.T) {
	snap := Capture(HostSettings{SamplesPerPixel: 1, PathsPerSample: 2, MaxPathDepth: 3})

	assert.Equal(t, ir.IRObject{
		"samples_per_pixel":    ir.IRInt(1),
		"paths_per_sample":     ir.IRInt(2),
		"max_path_depth":       ir.IRInt(3),
		"render_diffuse_scene": ir.IRBool(false),
	}, snap.Fields())
}
