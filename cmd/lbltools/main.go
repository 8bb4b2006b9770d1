// Expands video object tracks of labeling results into per-frame boxes, exports them to Sloth,
// VGG Image Annotator and KITTI label formats, resolves task file references to local files and
// inspects labeling interface configurations.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/sensorable/lbltools"
)

var (
	logLevel        string // The minimum log level.
	metricsFilePath string // Where to write metrics on exit, if not empty.
	log             = zap.NewNop()
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, args []string) error
}

var commands = []command{
	{"interpolate", "[-in <file>] [-out <file>] [-strict]", runInterpolate},
	{"export", "-in <file> -to {sloth,via,kitti} -out <path> (-frame-size WxH | -frame-image <ref>)",
		runExport},
	{"resolve", "[-cache-dir <dir>] [-project-dir <dir>] [-task-id <id>] [-no-download] <ref>...",
		runResolve},
	{"label-config", "-config <file>", runLabelConfig},
}

func init() {
	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Usage of %s: [flags] <command> [command flags]\n",
			filepath.Base(os.Args[0]))
		for _, c := range commands {
			_, _ = fmt.Fprintf(os.Stderr, "  %s %s\n", c.name, c.usage)
		}
		_, _ = fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}

	flag.StringVar(&logLevel, "log-level", "info", "The minimum `level` to log {debug, info, warn, error}")
	flag.StringVar(&metricsFilePath, "metrics-file", metricsFilePath,
		"Write metrics in the Prometheus text format to `path` on exit")
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the command line args and returns the process exit code.
func run(args []string) int {
	if err := flag.CommandLine.Parse(args); err != nil {
		return 2
	}
	if flag.NArg() == 0 {
		flag.Usage()
		return 2
	}

	level, err := zap.ParseAtomicLevel(logLevel)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Invalid -log-level: %v\n", err)
		return 2
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.Encoding = "console"
	if log, err = cfg.Build(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to create the logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()
	lbltools.SetLogger(log)

	// A missing .env file is fine; the environment is used as is then.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn("Failed to load .env", zap.Error(err))
	}

	name, cmdArgs := flag.Arg(0), flag.Args()[1:]
	var cmd *command
	for i := range commands {
		if commands[i].name == name {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		_, _ = fmt.Fprintf(os.Stderr, "Unknown command %q\n", name)
		flag.Usage()
		return 2
	}

	err = cmd.run(context.Background(), cmdArgs)
	if metricsFilePath != "" {
		if mErr := lbltools.WriteMetrics(metricsFilePath); mErr != nil {
			log.Warn("Failed to write metrics", zap.Error(mErr))
		}
	}
	if err != nil {
		log.Error("Command failed", zap.String("command", name), zap.Error(err))
		return 1
	}
	return 0
}

// readInput reads the file at path, or stdin if path is empty or "-".
func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// writeOutput writes data to the file at path, or stdout if path is empty or "-".
func writeOutput(path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func runInterpolate(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("interpolate", flag.ExitOnError)
	in := fs.String("in", "-", "The annotation results JSON `file`")
	out := fs.String("out", "-", "The output JSON `file`")
	strict := fs.Bool("strict", false, "Reject tracks with key frames out of frame order")
	_ = fs.Parse(args)

	data, err := readInput(*in)
	if err != nil {
		return err
	}
	results, err := lbltools.ParseResults(data)
	if err != nil {
		return err
	}

	if *strict {
		if results, err = lbltools.InterpolateStrict(results); err != nil {
			return err
		}
	} else {
		results = lbltools.Interpolate(results)
	}

	enc, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	log.Info("Interpolated annotation results", zap.Int("results", len(results)))
	return writeOutput(*out, append(enc, '\n'))
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	in := fs.String("in", "-", "The annotation results JSON `file`")
	to := fs.String("to", "", "The target `format` {sloth, via, kitti}")
	out := fs.String("out", "", "The output `path`: a file (sloth, via) or directory (kitti)")
	frameSize := fs.String("frame-size", "", "The video frame size in pixels, as `WxH`")
	frameImage := fs.String("frame-image", "",
		"A frame image `reference` (path or URL) to take the frame size from")
	framePattern := fs.String("frame-pattern", lbltools.DefaultFramePattern,
		"The fmt `pattern` for frame image names, given the 1-based frame index")
	labelMappings := fs.String("map-labels", "",
		"Comma-separated list of old=new label (sub-)string replacements")
	filterLabels := fs.String("filter-labels", "",
		"Comma-separated list of labels to keep (after map-labels; empty string keeps all)")
	minWidth := fs.Float64("min-bbox-width", 0, "The min. bounding box width in `pixels`")
	minHeight := fs.Float64("min-bbox-height", 0, "The min. bounding box height in `pixels`")
	_ = fs.Parse(args)

	if *out == "" {
		return fmt.Errorf("missing -out")
	}

	layout := lbltools.FrameLayout{Pattern: *framePattern}
	switch {
	case *frameSize != "":
		if _, err := fmt.Sscanf(*frameSize, "%dx%d", &layout.Width, &layout.Height); err != nil {
			return fmt.Errorf("invalid -frame-size %q: %v", *frameSize, err)
		}
	case *frameImage != "":
		path, err := resolveOne(ctx, *frameImage, lbltools.Options{})
		if err != nil {
			return err
		}
		if layout.Width, layout.Height, err = lbltools.FrameSizeFromImage(path); err != nil {
			return err
		}
	default:
		return fmt.Errorf("one of -frame-size or -frame-image is required")
	}
	if layout.Width <= 0 || layout.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", layout.Width, layout.Height)
	}

	data, err := readInput(*in)
	if err != nil {
		return err
	}
	results, err := lbltools.ParseResults(data)
	if err != nil {
		return err
	}

	frames := lbltools.FromVideoResults(results, layout)
	if *labelMappings != "" {
		if err := frames.MapLabels(strings.Split(*labelMappings, ",")); err != nil {
			return err
		}
	}
	var labelNames []string
	if *filterLabels != "" {
		labelNames = strings.Split(*filterLabels, ",")
	}
	frames.Filter(labelNames, *minWidth, *minHeight)

	switch *to {
	case "sloth":
		err = lbltools.WriteSloth(*out, lbltools.ToSloth(frames))
	case "via":
		err = lbltools.WriteVIA(*out, lbltools.ToVIA(frames))
	case "kitti":
		err = lbltools.WriteKitti(*out, lbltools.ToKitti(frames))
	default:
		err = fmt.Errorf("unsupported output format %q", *to)
	}
	if err != nil {
		return err
	}

	log.Info("Exported labels", zap.Int("frames", len(frames)), zap.String("path", *out))
	return nil
}

// resolveOne resolves ref with a resolver configured from the environment.
func resolveOne(ctx context.Context, ref string, opts lbltools.Options) (string, error) {
	r, err := newResolver()
	if err != nil {
		return "", err
	}
	return r.LocalPath(ctx, ref, opts)
}

func newResolver() (*lbltools.Resolver, error) {
	cfg, err := lbltools.LoadConfig()
	if err != nil {
		return nil, err
	}
	return lbltools.NewResolver(cfg, lbltools.WithLogger(log))
}

func runResolve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	var opts lbltools.Options
	fs.StringVar(&opts.CacheDir, "cache-dir", "", "The download cache `directory`")
	fs.StringVar(&opts.ProjectDir, "project-dir", "", "The project `directory`")
	fs.StringVar(&opts.ImageDir, "image-dir", "", "The upload `directory`")
	fs.IntVar(&opts.TaskID, "task-id", 0, "The task `ID`, required for cloud storage URIs")
	fs.BoolVar(&opts.SkipDownload, "no-download", false, "Print cache paths without downloading")
	_ = fs.Parse(args)

	if fs.NArg() == 0 {
		return fmt.Errorf("no file references given")
	}

	r, err := newResolver()
	if err != nil {
		return err
	}
	for _, ref := range fs.Args() {
		path, err := r.LocalPath(ctx, ref, opts)
		if err != nil {
			return err
		}
		fmt.Println(path)
	}
	return nil
}

func runLabelConfig(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("label-config", flag.ExitOnError)
	configPath := fs.String("config", "-", "The labeling interface XML `file`")
	_ = fs.Parse(args)

	data, err := readInput(*configPath)
	if err != nil {
		return err
	}
	cfg, err := lbltools.ParseLabelConfig(string(data))
	if err != nil {
		return err
	}

	enc, err := json.MarshalIndent(struct {
		Controls            lbltools.LabelConfig `json:"controls"`
		VideoObjectTracking bool                 `json:"video_object_tracking"`
	}{cfg, lbltools.IsVideoObjectTracking(cfg)}, "", "  ")
	if err != nil {
		return err
	}
	return writeOutput("-", append(enc, '\n'))
}
