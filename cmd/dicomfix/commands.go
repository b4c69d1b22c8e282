package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mrsinham/dicomfix/internal/api"
	"github.com/mrsinham/dicomfix/internal/archive"
	"github.com/mrsinham/dicomfix/internal/batch"
	"github.com/mrsinham/dicomfix/internal/config"
	"github.com/mrsinham/dicomfix/internal/dicom"
	"github.com/mrsinham/dicomfix/internal/fixer"
	"github.com/mrsinham/dicomfix/internal/imaging"
	"github.com/mrsinham/dicomfix/internal/nifti"
	"github.com/mrsinham/dicomfix/internal/observability"
	"github.com/mrsinham/dicomfix/internal/record"
	"github.com/mrsinham/dicomfix/internal/volume"
)

// common holds the flags every subcommand accepts.
type common struct {
	configPath string
	defaults   []string
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "Load configuration from YAML file")
	fs.Func("default", "Override a metadata default: 'FieldName=Value' (repeatable)", func(s string) error {
		c.defaults = append(c.defaults, s)
		return nil
	})
}

// load reads the configuration and applies --default overrides.
func (c *common) load() (*config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	overrides, err := parseDefaults(c.defaults)
	if err != nil {
		return nil, err
	}
	if len(overrides) > 0 && cfg.Defaults == nil {
		cfg.Defaults = make(map[string]string, len(overrides))
	}
	for name, value := range overrides {
		cfg.Defaults[name] = value
	}
	return cfg, nil
}

// parseDefaults parses 'Name=Value' flags. Field names are checked against
// the field registry so typos get a suggestion.
func parseDefaults(flags []string) (map[string]string, error) {
	out := make(map[string]string, len(flags))
	for _, f := range flags {
		name, value, ok := strings.Cut(f, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --default %q: expected 'FieldName=Value'", f)
		}
		info, err := record.LookupField(name)
		if err != nil {
			return nil, fmt.Errorf("invalid --default %q: %w", f, err)
		}
		out[string(info.Name)] = value
	}
	return out, nil
}

// geometryFlags are the raw pixel geometry flags of fix and batch.
type geometryFlags struct {
	rows, cols, bits int
}

func (g *geometryFlags) register(fs *flag.FlagSet) {
	fs.IntVar(&g.rows, "rows", 0, "Rows of raw input")
	fs.IntVar(&g.cols, "cols", 0, "Columns of raw input")
	fs.IntVar(&g.bits, "bits", 0, "Bit depth of raw input (default: 16)")
}

// apply copies set flags onto cfg's batch geometry.
func (g *geometryFlags) apply(cfg *config.Config) {
	if g.rows == 0 && g.cols == 0 && g.bits == 0 {
		return
	}
	cfg.Batch.Rows, cfg.Batch.Cols, cfg.Batch.Bits = g.rows, g.cols, g.bits
	if cfg.Batch.Bits == 0 {
		cfg.Batch.Bits = 16
	}
}

// services are the components built from a loaded configuration.
type services struct {
	cfg     *config.Config
	logger  *observability.Logger
	metrics *observability.Metrics
	fixer   *fixer.Fixer
	codec   dicom.Codec
}

func newServices(cfg *config.Config, stderr io.Writer) (*services, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	norm, err := cfg.Normalizer()
	if err != nil {
		return nil, err
	}
	logger := observability.NewLogger(observability.LoggerOptions{
		Service: "dicomfix",
		Version: version,
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Format == "console",
	}, stderr)
	return &services{
		cfg:     cfg,
		logger:  logger,
		metrics: observability.NewMetrics(),
		fixer:   fixer.New(norm),
	}, nil
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("dicomfix "+name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// parseFlags returns the exit code to use when parsing ends the command.
func parseFlags(fs *flag.FlagSet, args []string) (int, bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0, false
		}
		return 2, false
	}
	return 0, true
}

func fail(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

// failItem reports an input-level error with its kind.
func failItem(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "Error: %s\n", batch.Describe(err))
	return 1
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runServe(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("serve", stderr)
	var c common
	c.register(fs)
	listen := fs.String("listen", "", "Listen address (overrides config)")
	saveConfig := fs.String("save-config", "", "Save the effective configuration to YAML file")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	cfg, err := c.load()
	if err != nil {
		return fail(stderr, err)
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	svc, err := newServices(cfg, stderr)
	if err != nil {
		return fail(stderr, err)
	}

	if *saveConfig != "" {
		if err := config.SaveToYAML(cfg, *saveConfig); err != nil {
			fmt.Fprintf(stderr, "Warning: could not save config: %v\n", err)
		} else {
			fmt.Fprintf(stdout, "Configuration saved to %s\n", *saveConfig)
		}
	}

	maxUpload, err := cfg.MaxUploadBytes()
	if err != nil {
		return fail(stderr, err)
	}
	maxArchive, err := cfg.MaxArchiveBytes()
	if err != nil {
		return fail(stderr, err)
	}
	shutdown, err := cfg.ShutdownTimeout()
	if err != nil {
		return fail(stderr, err)
	}

	slicer := volume.NewSlicer(svc.fixer)
	slicer.Mode = cfg.PositionMode()

	srv := api.New(api.Options{
		Fixer:           svc.fixer,
		Codec:           svc.codec,
		Slicer:          slicer,
		Classifier:      cfg.Classifier(),
		Geometry:        cfg.Geometry(),
		MaxUploadBytes:  maxUpload,
		MaxArchiveBytes: maxArchive,
		CORSOrigins:     cfg.Server.CORSOrigins,
		ShutdownTimeout: shutdown,
		Logger:          svc.logger,
		Metrics:         svc.metrics,
	})

	ctx, stop := signalContext()
	defer stop()
	if err := srv.Run(ctx, cfg.Server.Listen); err != nil {
		return fail(stderr, err)
	}
	return 0
}

func runFix(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("fix", stderr)
	var c common
	var g geometryFlags
	c.register(fs)
	g.register(fs)
	input := fs.String("input", "", "Input file (required)")
	output := fs.String("output", "", "Output DICOM file (required)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if *input == "" || *output == "" {
		fmt.Fprintln(stderr, "Error: --input and --output are required")
		fs.PrintDefaults()
		return 2
	}

	cfg, err := c.load()
	if err != nil {
		return fail(stderr, err)
	}
	g.apply(cfg)
	svc, err := newServices(cfg, stderr)
	if err != nil {
		return fail(stderr, err)
	}

	kind := cfg.Classifier().Classify(*input)
	rec, err := svc.fixFile(*input, kind)
	if err != nil {
		svc.logger.ItemFailed(*input, kind.String(), batch.ErrorKind(err), err)
		return failItem(stderr, err)
	}
	if err := svc.codec.EncodeFile(*output, rec); err != nil {
		return fail(stderr, err)
	}
	svc.logger.ItemFixed(*input, kind.String())
	fmt.Fprintf(stdout, "Fixed %s -> %s (%dx%d)\n", *input, *output, rec.Rows, rec.Columns)
	return 0
}

// fixFile reads path as kind and repairs it.
func (s *services) fixFile(path string, kind batch.Kind) (record.ImageRecord, error) {
	switch kind {
	case batch.KindDICOM:
		p, err := s.codec.DecodeFile(path)
		if err != nil {
			return record.ImageRecord{}, err
		}
		return s.fixer.FixRecord(p, nil)
	case batch.KindRaw:
		params := s.cfg.Geometry()
		if params == nil {
			return record.ImageRecord{}, &fixer.ValidationError{Err: errors.New("raw input needs --rows and --cols")}
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return record.ImageRecord{}, err
		}
		return s.fixer.FixRaw(data, *params, nil)
	case batch.KindImage:
		f, err := os.Open(path)
		if err != nil {
			return record.ImageRecord{}, err
		}
		defer func() { _ = f.Close() }()
		img, err := imaging.Decode(f)
		if err != nil {
			return record.ImageRecord{}, err
		}
		return s.fixer.FixImage(img, nil)
	default:
		return record.ImageRecord{}, &fixer.ValidationError{Err: fmt.Errorf("cannot tell the input type of %s", path)}
	}
}

func runBatch(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("batch", stderr)
	var c common
	var g geometryFlags
	c.register(fs)
	g.register(fs)
	input := fs.String("input", "", "Input ZIP archive (required)")
	output := fs.String("output", "", "Output ZIP archive (required)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if *input == "" || *output == "" {
		fmt.Fprintln(stderr, "Error: --input and --output are required")
		fs.PrintDefaults()
		return 2
	}

	cfg, err := c.load()
	if err != nil {
		return fail(stderr, err)
	}
	g.apply(cfg)
	svc, err := newServices(cfg, stderr)
	if err != nil {
		return fail(stderr, err)
	}
	maxArchive, err := cfg.MaxArchiveBytes()
	if err != nil {
		return fail(stderr, err)
	}

	entries, err := readArchive(*input, maxArchive)
	if err != nil {
		return fail(stderr, err)
	}
	items := make([]batch.Item, len(entries))
	for i, e := range entries {
		items[i] = batch.Item{Name: e.Name, Data: e.Data}
	}

	ctx, stop := signalContext()
	defer stop()
	proc := batch.NewProcessor(svc.fixer, svc.codec, batch.Options{
		Classifier: cfg.Classifier(),
		Geometry:   cfg.Geometry(),
		Observer:   &observability.BatchObserver{Logger: svc.logger, Metrics: svc.metrics},
	})
	res, err := proc.Process(ctx, items)
	if err != nil {
		return fail(stderr, err)
	}

	if err := writeArchive(*output, res.Entries()); err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintf(stdout, "Fixed %d of %d items (%d failed, %d skipped)\n", res.Fixed(), res.Attempted, res.Failed, res.Skipped)
	fmt.Fprintf(stdout, "  Output archive: %s\n", *output)
	return 0
}

func readArchive(path string, limit int64) ([]archive.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return archive.ReadAll(f, st.Size(), limit)
}

func writeArchive(path string, entries []archive.Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := archive.WriteAll(f, entries); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func runNifti(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("nifti", stderr)
	var c common
	c.register(fs)
	input := fs.String("input", "", "Input .nii or .nii.gz volume (required)")
	output := fs.String("output", "", "Output ZIP archive (required)")
	mode := fs.String("position-mode", "", "Slice positions: axis-aligned or affine (overrides config)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if *input == "" || *output == "" {
		fmt.Fprintln(stderr, "Error: --input and --output are required")
		fs.PrintDefaults()
		return 2
	}

	cfg, err := c.load()
	if err != nil {
		return fail(stderr, err)
	}
	if *mode != "" {
		cfg.Volume.PositionMode = *mode
	}
	svc, err := newServices(cfg, stderr)
	if err != nil {
		return fail(stderr, err)
	}

	vol, affine, err := nifti.LoadFile(*input)
	if err != nil {
		return failItem(stderr, err)
	}

	slicer := volume.NewSlicer(svc.fixer)
	slicer.Mode = cfg.PositionMode()
	n, size, err := writeSeries(*output, slicer, vol, affine, svc.codec, *input)
	svc.metrics.SlicesTotal.Add(float64(n))
	if err != nil {
		return failItem(stderr, err)
	}

	svc.logger.VolumeSliced(vol.Rows, vol.Cols, vol.Slices, string(slicer.Mode), size)
	fmt.Fprintf(stdout, "Sliced %dx%dx%d volume into %d images\n", vol.Rows, vol.Cols, vol.Slices, vol.Slices)
	fmt.Fprintf(stdout, "  Output archive: %s\n", *output)
	return 0
}

// writeSeries writes the slices of vol to a new ZIP at path and returns the
// slice count and file size. A failed conversion leaves no file behind.
func writeSeries(path string, slicer *volume.Slicer, vol *volume.Volume, affine volume.Affine, enc volume.Encoder, source string) (n int, size int64, err error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	n, err = slicer.WriteZIP(f, vol, affine, enc, source)
	if err != nil {
		return n, 0, err
	}
	st, err := f.Stat()
	if err != nil {
		return n, 0, err
	}
	return n, st.Size(), nil
}
