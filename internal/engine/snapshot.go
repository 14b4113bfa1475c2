package engine

import "github.com/roach88/phosphoros/internal/ir"

// HostSettings mirrors the host's render settings group. Range validation
// ([1, 2097151] for the integers) belongs to the host settings layer; the
// bridge takes the values as given.
type HostSettings struct {
	SamplesPerPixel    int
	PathsPerSample     int
	MaxPathDepth       int
	RenderDiffuseScene bool
}

// Snapshot is an immutable copy of the render settings pushed to the renderer
// at sync time. It is passed by value and never aliases host memory.
type Snapshot struct {
	samplesPerPixel   int
	pathsPerSample    int
	maxPathDepth      int
	renderDiffuseOnly bool
}

// Capture copies host settings into a Snapshot. Pure and total.
func Capture(s HostSettings) Snapshot {
	return Snapshot{
		samplesPerPixel:   s.SamplesPerPixel,
		pathsPerSample:    s.PathsPerSample,
		maxPathDepth:      s.MaxPathDepth,
		renderDiffuseOnly: s.RenderDiffuseScene,
	}
}

func (s Snapshot) SamplesPerPixel() int    { return s.samplesPerPixel }
func (s Snapshot) PathsPerSample() int     { return s.pathsPerSample }
func (s Snapshot) MaxPathDepth() int       { return s.maxPathDepth }
func (s Snapshot) RenderDiffuseOnly() bool { return s.renderDiffuseOnly }

// PathsPerPixel is the total number of paths traced for one pixel.
func (s Snapshot) PathsPerPixel() int {
	return s.samplesPerPixel * s.pathsPerSample
}

// Fields exposes the snapshot as call arguments, keyed like the host settings.
func (s Snapshot) Fields() ir.IRObject {
	return ir.IRObject{
		"samples_per_pixel":    ir.IRInt(s.samplesPerPixel),
		"paths_per_sample":     ir.IRInt(s.pathsPerSample),
		"max_path_depth":       ir.IRInt(s.maxPathDepth),
		"render_diffuse_scene": ir.IRBool(s.renderDiffuseOnly),
	}
}
