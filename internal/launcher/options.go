package launcher

// GraphicsAPI is the rendering symbol set presented to the game.
type GraphicsAPI int

const (
	DesktopGL GraphicsAPI = iota
	GLES2
)

func (g GraphicsAPI) String() string {
	switch g {
	case DesktopGL:
		return "OpenGL"
	case GLES2:
		return "OpenGL ES 2"
	}
	return "unknown"
}

// Options is the command line surface. It is resolved before anything
// is loaded and never changes afterwards.
type Options struct {
	GameDir  string `mapstructure:"game-dir"`
	DataDir  string `mapstructure:"data-dir"`
	CacheDir string `mapstructure:"cache-dir"`

	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`

	DisableFmod  bool `mapstructure:"disable-fmod"`
	ForceGLES    bool `mapstructure:"force-opengles"`
	TexturePatch bool `mapstructure:"texture-patch"`

	// Args is the process argument vector, program path first.
	Args []string `mapstructure:"-"`
}

func DefaultOptions() Options {
	return Options{Width: 720, Height: 480}
}

// Preferred is the graphics mode the options ask for.
func (o Options) Preferred() GraphicsAPI {
	if o.ForceGLES {
		return GLES2
	}
	return DesktopGL
}

func (o Options) argv0() string {
	if len(o.Args) == 0 {
		return ""
	}
	return o.Args[0]
}
