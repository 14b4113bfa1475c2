package backend

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"

	"github.com/roach88/phosphoros/internal/engine"
)

// SceneSource is what Reference reads from scene data and evaluated
// dependency graph objects.
type SceneSource interface {
	Lights() int
	Resolution() (width, height int)
}

// RegionSource is what Reference reads from a viewport region.
type RegionSource interface {
	Size() (width, height int)
}

// tileQueueSize bounds the tiles queued on the pool at once.
const tileQueueSize = 256

// ErrUnknownHandle is returned for calls on a handle Reference never issued
// or already freed.
var ErrUnknownHandle = errors.New("unknown session handle")

// ErrNotInitialized is returned for session calls before Init or after Exit.
var ErrNotInitialized = errors.New("renderer not initialized")

// refSession is the renderer-side state of one session.
type refSession struct {
	scene    string
	width    int
	height   int
	viewport bool
	preview  bool
	lights   int
	config   engine.Snapshot
	frames   int
}

// Reference is an in-process engine.Renderer.
//
// Frames are split into square tiles and shaded on a dynamic worker pool.
// Workers are reused across frames; a WaitGroup is the per-frame barrier.
//
// Thread-safety: safe for concurrent use. Calls for the same handle are
// expected to be sequential. Renders on different handles may overlap, but
// the sink sees whole frames one at a time: frameMu is held from Begin to End.
type Reference struct {
	mu       sync.Mutex
	frameMu  sync.Mutex
	sessions map[engine.SessionHandle]*refSession
	next     engine.SessionHandle
	pool     worker.DynamicWorkerPool
	bootPath string
	ready    bool

	tileSize int
	workers  int
	sink     Sink
	logger   *slog.Logger
}

// ReferenceOption configures a Reference.
type ReferenceOption func(*Reference)

// WithTileSize sets the tile edge in pixels. Default: DefaultTileSize.
func WithTileSize(n int) ReferenceOption {
	return func(r *Reference) {
		if n > 0 {
			r.tileSize = n
		}
	}
}

// WithWorkers sets the maximum number of tile workers.
// Default: NumCPU-1, at least 1.
func WithWorkers(n int) ReferenceOption {
	return func(r *Reference) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithSink sets where finished frames go. Default: discarded.
func WithSink(s Sink) ReferenceOption {
	return func(r *Reference) {
		r.sink = s
	}
}

// WithLogger sets the renderer's logger. Default: slog.Default().
func WithLogger(l *slog.Logger) ReferenceOption {
	return func(r *Reference) {
		r.logger = l
	}
}

// NewReference creates an uninitialized reference renderer.
func NewReference(opts ...ReferenceOption) *Reference {
	r := &Reference{
		sessions: make(map[engine.SessionHandle]*refSession),
		tileSize: DefaultTileSize,
		workers:  max(runtime.NumCPU()-1, 1),
		sink:     discardSink{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Init starts the tile pool and records where the material boot data lives.
func (r *Reference) Init(ctx context.Context, cfg engine.ContextConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ready {
		return fmt.Errorf("renderer already initialized")
	}
	r.pool = worker.NewDynamicWorkerPool(r.workers, tileQueueSize, 1*time.Second)
	r.bootPath = cfg.InstallPath
	r.ready = true
	r.logger.Debug("reference renderer initialized",
		"boot_path", r.bootPath,
		"workers", r.workers,
		"tile_size", r.tileSize,
	)
	return nil
}

// Create allocates a session. Frame size comes from the viewport region when
// there is one, otherwise from the scene resolution.
func (r *Reference) Create(ctx context.Context, req engine.CreateRequest) (engine.SessionHandle, error) {
	scene, err := sceneFrom(req.SceneData)
	if err != nil {
		return 0, err
	}

	s := &refSession{
		scene:    req.SceneData.Label(),
		viewport: req.IsViewport(),
		preview:  req.Preview,
		lights:   scene.Lights(),
		config:   req.Config,
	}
	s.width, s.height = scene.Resolution()
	if s.viewport {
		region, err := regionFrom(req.Region)
		if err != nil {
			return 0, err
		}
		s.width, s.height = region.Size()
	}
	if g, ok := sceneSource(req.DependencyGraph); ok {
		s.lights = g.Lights()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.ready {
		return 0, ErrNotInitialized
	}
	r.next++
	h := r.next
	r.sessions[h] = s

	r.logger.Debug("reference session created",
		"handle", uint64(h),
		"scene", s.scene,
		"width", s.width,
		"height", s.height,
		"viewport", s.viewport,
		"preview", s.preview,
	)
	return h, nil
}

// Reset re-reads the scene and the evaluated graph and stores the new
// settings snapshot.
func (r *Reference) Reset(ctx context.Context, h engine.SessionHandle, req engine.ResetRequest) error {
	scene, err := sceneFrom(req.SceneData)
	if err != nil {
		return err
	}
	graph, err := sceneFrom(req.DependencyGraph)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.lookup(h)
	if err != nil {
		return err
	}
	s.scene = req.SceneData.Label()
	if !s.viewport {
		s.width, s.height = scene.Resolution()
	}
	s.lights = graph.Lights()
	s.config = req.Config
	return nil
}

// Render shades one frame into the sink. A scene without lights renders
// nothing. Cancellation is checked before each tile.
func (r *Reference) Render(ctx context.Context, h engine.SessionHandle, req engine.RenderRequest) error {
	r.mu.Lock()
	s, err := r.lookup(h)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if g, ok := sceneSource(req.DependencyGraph); ok {
		s.lights = g.Lights()
	}
	frame := *s
	pool, sink, tileSize := r.pool, r.sink, r.tileSize
	r.mu.Unlock()

	if frame.lights == 0 {
		r.logger.Info("no lights; frame skipped", "handle", uint64(h), "scene", frame.scene)
		return nil
	}

	r.frameMu.Lock()
	defer r.frameMu.Unlock()

	if err := sink.Begin(frame.width, frame.height); err != nil {
		return fmt.Errorf("begin frame: %w", err)
	}

	rects := splitTiles(frame.width, frame.height, tileSize)
	errs := make([]error, len(rects))

	// Submit in batches no larger than the pool queue so a large frame never
	// overflows it.
	for start := 0; start < len(rects) && ctx.Err() == nil; start += tileQueueSize {
		var wg sync.WaitGroup
		for i := start; i < min(start+tileQueueSize, len(rects)); i++ {
			rect := rects[i]
			wg.Add(1)
			pool.SubmitTask(worker.Task{
				ID: i,
				Do: func() (any, error) {
					defer wg.Done()
					if err := ctx.Err(); err != nil {
						errs[i] = err
						return nil, err
					}
					errs[i] = sink.AddTile(shadeTile(rect, &frame))
					return nil, errs[i]
				},
			})
		}
		wg.Wait()
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("render tiles: %w", err)
	}
	if err := sink.End(); err != nil {
		return fmt.Errorf("end frame: %w", err)
	}

	r.mu.Lock()
	if live, ok := r.sessions[h]; ok {
		live.frames++
	}
	r.mu.Unlock()

	r.logger.Debug("frame rendered",
		"handle", uint64(h),
		"tiles", len(rects),
		"paths_per_pixel", frame.config.PathsPerPixel(),
	)
	return nil
}

// Free releases a session.
func (r *Reference) Free(ctx context.Context, h engine.SessionHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.lookup(h); err != nil {
		return err
	}
	delete(r.sessions, h)
	return nil
}

// Exit drops global state. Sessions still alive at this point were leaked by
// the host and are reported.
func (r *Reference) Exit(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := len(r.sessions); n > 0 {
		r.logger.Warn("sessions leaked at exit", "count", n)
		clear(r.sessions)
	}
	r.pool = nil
	r.ready = false
}

// Sessions returns the number of live sessions.
func (r *Reference) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// FramesRendered returns how many frames handle h has completed.
func (r *Reference) FramesRendered(h engine.SessionHandle) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[h]; ok {
		return s.frames
	}
	return 0
}

// FrameSize returns the frame size of handle h.
func (r *Reference) FrameSize(h engine.SessionHandle) (width, height int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[h]
	if !ok {
		return 0, 0, false
	}
	return s.width, s.height, true
}

// lookup requires r.mu.
func (r *Reference) lookup(h engine.SessionHandle) (*refSession, error) {
	if !r.ready {
		return nil, ErrNotInitialized
	}
	s, ok := r.sessions[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownHandle, uint64(h))
	}
	return s, nil
}

func sceneSource(ref engine.OpaqueRef) (SceneSource, bool) {
	obj, ok := ref.Object()
	if !ok {
		return nil, false
	}
	src, ok := obj.(SceneSource)
	return src, ok
}

func sceneFrom(ref engine.OpaqueRef) (SceneSource, error) {
	if ref.IsAbsent() {
		return nil, fmt.Errorf("%s is required", ref.Kind())
	}
	src, ok := sceneSource(ref)
	if !ok {
		return nil, fmt.Errorf("%s is not readable", ref)
	}
	return src, nil
}

func regionFrom(ref engine.OpaqueRef) (RegionSource, error) {
	obj, ok := ref.Object()
	if !ok {
		return nil, fmt.Errorf("viewport region is not readable")
	}
	region, ok := obj.(RegionSource)
	if !ok {
		return nil, fmt.Errorf("%s has no size", ref)
	}
	return region, nil
}

// shadeTile produces one tile of an analytic diffuse estimate. Converges with
// more paths and deeper bounces; a diffuse-scene override renders grey albedo.
func shadeTile(rect image.Rectangle, s *refSession) Tile {
	x0, y0 := toResultSpace(rect, s.height)
	t := Tile{
		X:   x0,
		Y:   y0,
		W:   rect.Dx(),
		H:   rect.Dy(),
		Pix: make([]float32, rect.Dx()*rect.Dy()*4),
	}

	paths := float32(max(s.config.PathsPerPixel(), 1))
	depth := float32(max(s.config.MaxPathDepth(), 1))
	lights := float32(s.lights)
	energy := (lights / (lights + 1)) * (paths / (paths + 1)) * (depth / (depth + 1))

	for row := 0; row < t.H; row++ {
		// image-space y of this bottom-up row
		y := rect.Max.Y - 1 - row
		v := (float32(y) + 0.5) / float32(s.height)
		for col := 0; col < t.W; col++ {
			u := (float32(rect.Min.X+col) + 0.5) / float32(s.width)
			i := (row*t.W + col) * 4
			if s.config.RenderDiffuseOnly() {
				g := 0.5 * energy
				t.Pix[i], t.Pix[i+1], t.Pix[i+2] = g, g, g
			} else {
				t.Pix[i] = energy * u
				t.Pix[i+1] = energy * (1 - v)
				t.Pix[i+2] = energy * 0.75
			}
			t.Pix[i+3] = 1
		}
	}
	return t
}
