package host

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/phosphoros/internal/engine"
)

//go:embed settings.cue
var settingsSchema string

// Setting bounds, shared by every integer render setting.
const (
	MinSetting     = 1
	MaxSetting     = 2097151
	DefaultSetting = 9
)

// Settings is the render-settings group the host exposes per scene.
type Settings struct {
	SamplesPerPixel    int  `json:"samples_per_pixel"`
	PathsPerSample     int  `json:"paths_per_sample"`
	MaxPathDepth       int  `json:"max_path_depth"`
	RenderDiffuseScene bool `json:"render_diffuse_scene"`
}

// DefaultSettings returns the values a new scene starts with.
func DefaultSettings() Settings {
	return Settings{
		SamplesPerPixel: DefaultSetting,
		PathsPerSample:  DefaultSetting,
		MaxPathDepth:    DefaultSetting,
	}
}

// HostSettings converts to the bridge's view of the settings group.
func (s Settings) HostSettings() engine.HostSettings {
	return engine.HostSettings{
		SamplesPerPixel:    s.SamplesPerPixel,
		PathsPerSample:     s.PathsPerSample,
		MaxPathDepth:       s.MaxPathDepth,
		RenderDiffuseScene: s.RenderDiffuseScene,
	}
}

// Validate checks s against the settings schema.
func (s Settings) Validate() error {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	ctx, sch, err := schema()
	if err != nil {
		return err
	}
	v := sch.input.Unify(ctx.Encode(s))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	return nil
}

// LoadSettings reads a CUE settings file. Omitted fields take their defaults;
// out-of-range or unknown fields are errors with file positions.
func LoadSettings(path string) (Settings, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	return parseSettings(src, path)
}

// ParseSettings is LoadSettings for in-memory source.
func ParseSettings(src []byte) (Settings, error) {
	return parseSettings(src, "settings.cue")
}

func parseSettings(src []byte, filename string) (Settings, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	ctx, sch, err := schema()
	if err != nil {
		return Settings{}, err
	}

	user := ctx.CompileBytes(src, cue.Filename(filename))
	if err := user.Err(); err != nil {
		return Settings{}, formatCUEError(err)
	}
	if err := sch.input.Unify(user).Validate(cue.Concrete(true)); err != nil {
		return Settings{}, formatCUEError(err)
	}

	v := sch.settings.Unify(user)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Settings{}, formatCUEError(err)
	}

	var s Settings
	if err := v.Decode(&s); err != nil {
		return Settings{}, formatCUEError(err)
	}
	return s, nil
}

// schemaFile names the embedded schema in positions.
const schemaFile = "schema/settings.cue"

// settingsDefs are the compiled schema definitions: input checks what a file
// may set, settings fills in the defaults.
type settingsDefs struct {
	input    cue.Value
	settings cue.Value
}

var (
	schemaMu   sync.Mutex
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaDefs settingsDefs
	schemaErr  error
)

// schema compiles the embedded schema once. A cue.Context is not safe for
// concurrent use, so callers share it under schemaMu.
func schema() (*cue.Context, settingsDefs, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		v := schemaCtx.CompileString(settingsSchema, cue.Filename(schemaFile))
		if err := v.Err(); err != nil {
			schemaErr = fmt.Errorf("compile settings schema: %w", err)
			return
		}
		schemaDefs = settingsDefs{
			input:    v.LookupPath(cue.ParsePath("#Input")),
			settings: v.LookupPath(cue.ParsePath("#Settings")),
		}
	})
	return schemaCtx, schemaDefs, schemaErr
}

// SettingsError is a schema violation with its source position.
type SettingsError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *SettingsError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError keeps the first CUE error and the position of the offending
// value. Positions in the user's file win over positions in the schema.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	field := "settings"
	if path := first.Path(); len(path) > 0 {
		field = path[len(path)-1]
	}
	msg := strings.TrimPrefix(first.Error(), strings.Join(first.Path(), ".")+": ")

	positions := errors.Positions(first)
	if len(positions) == 0 {
		positions = errors.Positions(err)
	}
	if len(positions) == 0 {
		positions = first.InputPositions()
	}
	return &SettingsError{Field: field, Message: msg, Pos: userPos(positions)}
}

// userPos picks the first valid position outside the embedded schema, then
// any valid position.
func userPos(positions []token.Pos) token.Pos {
	var fallback token.Pos
	for _, p := range positions {
		if !p.IsValid() {
			continue
		}
		if p.Filename() != schemaFile {
			return p
		}
		if !fallback.IsValid() {
			fallback = p
		}
	}
	return fallback
}
