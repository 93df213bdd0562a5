package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/apex/log"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/wnxd/mcpehost/internal/launcher"
	"github.com/wnxd/mcpehost/internal/threadmover"
)

// AppVersion is set at build time.
var AppVersion = "dev"

// longShorthands are the multi-letter short flags, rewritten to their
// long form before parsing.
var longShorthands = map[string]string{
	"-dg":  "--game-dir",
	"-dd":  "--data-dir",
	"-dc":  "--cache-dir",
	"-ww":  "--width",
	"-wh":  "--height",
	"-df":  "--disable-fmod",
	"-fes": "--force-opengles",
	"-tp":  "--texture-patch",
}

func normalizeArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i, arg := range args {
		if arg == "--" {
			return append(out, args[i:]...)
		}
		name, value, ok := strings.Cut(arg, "=")
		if long, found := longShorthands[name]; found {
			arg = long
			if ok {
				arg += "=" + value
			}
		}
		out = append(out, arg)
	}
	return out
}

type app struct {
	v       *viper.Viper
	cfgFile string
	code    int
	mover   *threadmover.Mover

	// launch runs the game, replaced in tests.
	launch func(ctx context.Context, opts launcher.Options) int
}

func newApp(mover *threadmover.Mover) *app {
	a := &app{v: viper.New(), mover: mover}
	a.launch = func(ctx context.Context, opts launcher.Options) int {
		return a.launcher(opts).Run(ctx)
	}
	return a
}

func (a *app) launcher(opts launcher.Options) *launcher.Launcher {
	return &launcher.Launcher{Options: opts, Mover: a.mover, NewEmulator: newEmulator}
}

func (a *app) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "mcpehost",
		Short:         "Run the Android build of Minecraft: Bedrock Edition",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRun: func(*cobra.Command, []string) {
			a.initConfig()
		},
		RunE: a.run,
	}

	def := launcher.DefaultOptions()
	f := cmd.Flags()
	f.StringVar(&a.cfgFile, "config", "", "config file (default is $HOME/.config/mcpehost/config.yaml)")
	f.BoolP("verbose", "V", false, "verbose output")
	f.BoolP("version", "v", false, "print version info and exit")
	f.String("game-dir", "", "directory with the game and its assets (-dg)")
	f.String("data-dir", "", "directory the game stores its data in (-dd)")
	f.String("cache-dir", "", "directory for cached data (-dc)")
	f.Int("width", def.Width, "window width (-ww)")
	f.Int("height", def.Height, "window height (-wh)")
	f.Bool("disable-fmod", false, "do not load the host FMOD library (-df)")
	f.Bool("force-opengles", false, "render through OpenGL ES 2 (-fes)")
	f.Bool("texture-patch", false, "rewrite texture uploads for versions that need it (-tp)")
	a.v.BindPFlags(f)
	return cmd
}

// initConfig reads in config file and ENV variables if set.
func (a *app) initConfig() {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		a.v.AddConfigPath(filepath.Join(home, ".config", "mcpehost"))
		a.v.SetConfigType("yaml")
		a.v.SetConfigName("config")
	}
	a.v.SetEnvPrefix("mcpehost")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	a.v.AutomaticEnv()
	if err := a.v.ReadInConfig(); err == nil {
		log.Debugf("Using config file: %s", a.v.ConfigFileUsed())
	}
}

// options resolves the flags, environment and config file.
func (a *app) options() (launcher.Options, error) {
	opts := launcher.DefaultOptions()
	if err := a.v.Unmarshal(&opts); err != nil {
		return opts, err
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return opts, fmt.Errorf("invalid window size %dx%d", opts.Width, opts.Height)
	}
	return opts, nil
}

func (a *app) run(cmd *cobra.Command, args []string) error {
	if a.v.GetBool("verbose") {
		log.SetLevel(log.DebugLevel)
	}
	if a.v.GetBool("version") {
		printVersion(cmd.OutOrStdout())
		return nil
	}
	opts, err := a.options()
	if err != nil {
		return err
	}
	opts.Args = os.Args

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.code = a.launch(ctx, opts)
	if a.code == launcher.ExitUnloadable {
		color.New(color.FgRed, color.Bold).Fprintln(cmd.ErrOrStderr(),
			"The game library could not be loaded. Reinstall the game or run with --force-opengles.")
	}
	return nil
}

func printVersion(w io.Writer) {
	vendor, renderer, version := (&launcher.HeadlessWindowManager{}).Describe()
	bold := color.New(color.Bold)
	bold.Fprintf(w, "mcpehost %s\n", AppVersion)
	fmt.Fprintf(w, "CPU backend: %s (%s/%s)\n", backendName, runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(w, "GL Vendor: %s\n", vendor)
	fmt.Fprintf(w, "GL Renderer: %s\n", renderer)
	fmt.Fprintf(w, "GL Version: %s\n", version)
}

// execute runs the command line and returns the process exit code.
// mover must have been created on the process's original thread.
func execute(mover *threadmover.Mover, args []string) int {
	a := newApp(mover)
	cmd := a.command()
	cmd.SetArgs(normalizeArgs(args))
	if err := cmd.Execute(); err != nil {
		log.Error(err.Error())
		return launcher.ExitFailure
	}
	return a.code
}
