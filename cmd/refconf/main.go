// refconf resolves file references in configuration files and prints the
// merged result.
//
// Usage:
//
//	refconf [flags] FILE...
//
// Each FILE is loaded with its references resolved, then all files are merged
// recursively in order (later files override earlier ones). Environment
// variables selected with --env-prefix are merged last. Every flag default can
// be set through a REFCONF_* environment variable, e.g. REFCONF_FORMAT=json.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/Azhovan/refconf"
	"github.com/Azhovan/refconf/sourceenv"
	"github.com/Azhovan/refconf/sourcefile"
)

// settings holds flag defaults read from REFCONF_* variables.
type settings struct {
	Marker          string   `env:"MARKER"`
	Format          string   `env:"FORMAT" envDefault:"text"`
	EnvPrefix       string   `env:"ENV_PREFIX"`
	EnvFiles        []string `env:"ENV_FILES" envSeparator:","`
	Redact          []string `env:"REDACT" envSeparator:","`
	Snapshot        string   `env:"SNAPSHOT"`
	Strict          bool     `env:"STRICT"`
	Watch           bool     `env:"WATCH"`
	ExtendedFormats bool     `env:"EXTENDED_FORMATS"`
	LogLevel        string   `env:"LOG_LEVEL" envDefault:"warn"`
}

type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func (e *usageError) ExitCode() int { return 2 }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var s settings
	if err := env.ParseWithOptions(&s, env.Options{Prefix: "REFCONF_"}); err != nil {
		return fmt.Errorf("read REFCONF_ environment: %w", err)
	}
	if s.Marker == "" {
		s.Marker = refconf.DefaultMarker
	}

	flags := pflag.NewFlagSet("refconf", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&s.Marker, "marker", s.Marker, "reference marker prefix")
	flags.StringVarP(&s.Format, "format", "f", s.Format, "output format: text, json or yaml")
	flags.StringVar(&s.EnvPrefix, "env-prefix", s.EnvPrefix, "merge environment variables starting with this prefix")
	flags.StringSliceVar(&s.EnvFiles, "env-file", s.EnvFiles, "dotenv file read before the environment, used with --env-prefix (repeatable)")
	flags.StringSliceVar(&s.Redact, "redact", s.Redact, "dot path whose value is hidden in output (repeatable)")
	flags.StringVar(&s.Snapshot, "snapshot", s.Snapshot, "also write a JSON snapshot to this path ({{timestamp}} is expanded)")
	flags.BoolVar(&s.Strict, "strict", s.Strict, "fail on missing or malformed referenced files")
	flags.BoolVarP(&s.Watch, "watch", "w", s.Watch, "print the configuration again whenever a loaded file changes")
	flags.BoolVar(&s.ExtendedFormats, "extended-formats", s.ExtendedFormats, "parse .toml and .jsonc references")
	flags.StringVar(&s.LogLevel, "log-level", s.LogLevel, "diagnostic log level")
	flags.Usage = func() {
		fmt.Fprintln(stderr, "Usage: refconf [flags] FILE...")
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return err
		}
		return &usageError{msg: err.Error()}
	}
	if flags.NArg() == 0 && s.EnvPrefix == "" {
		flags.Usage()
		return &usageError{msg: "no configuration files given"}
	}

	dumpOpts, err := dumpOptions(s)
	if err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(s.LogLevel)
	if err != nil {
		return &usageError{msg: fmt.Sprintf("invalid log level %q", s.LogLevel)}
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: stderr, NoColor: true}).
		Level(level).
		With().Timestamp().Logger()

	loader := newLoader(s, flags.Args(), logger)

	if !s.Watch {
		cfg, err := loader.Load(ctx)
		if err != nil {
			return err
		}
		return emit(stdout, cfg, s, dumpOpts, logger)
	}

	snapshots, errs, err := loader.Watch(ctx)
	if err != nil {
		return err
	}
	for snapshots != nil || errs != nil {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				snapshots = nil
				continue
			}
			logger.Info().Int64("version", snap.Version).Str("source", snap.Source).Msg("configuration loaded")
			if err := emit(stdout, snap.Config, s, dumpOpts, logger); err != nil {
				return err
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Error().Err(err).Msg("watch")
		}
	}
	return nil
}

func dumpOptions(s settings) ([]refconf.DumpOption, error) {
	opts := []refconf.DumpOption{refconf.WithRedact(s.Redact...)}
	switch s.Format {
	case "text":
	case "json":
		opts = append(opts, refconf.AsJSON())
	case "yaml":
		opts = append(opts, refconf.AsYAML())
	default:
		return nil, &usageError{msg: fmt.Sprintf("unknown format %q", s.Format)}
	}
	return opts, nil
}

func newLoader(s settings, files []string, logger zerolog.Logger) *refconf.Loader {
	sink := refconf.LogSink(logger)

	resolverOpts := []refconf.Option{
		refconf.WithMarker(s.Marker),
		refconf.WithDiagnostics(sink),
		refconf.WithStrict(s.Strict),
	}
	if s.ExtendedFormats {
		resolverOpts = append(resolverOpts, refconf.WithFormatOptions(refconf.WithExtendedFormats()))
	}

	loader := refconf.NewLoader().WithResolver(refconf.NewResolver(resolverOpts...))
	for _, file := range files {
		loader.WithSource(sourcefile.New(file, sourcefile.Options{
			Required:        true,
			Marker:          s.Marker,
			Diagnostics:     sink,
			Strict:          s.Strict,
			ExtendedFormats: s.ExtendedFormats,
		}))
	}
	if s.EnvPrefix != "" {
		loader.WithSource(sourceenv.New(sourceenv.Options{
			Prefix: s.EnvPrefix,
			Files:  s.EnvFiles,
		}))
	}
	return loader
}

func emit(w io.Writer, cfg refconf.Value, s settings, opts []refconf.DumpOption, logger zerolog.Logger) error {
	if err := refconf.DumpEffective(w, cfg, opts...); err != nil {
		return err
	}
	if s.Snapshot == "" {
		return nil
	}
	snap, err := refconf.CreateSnapshot(cfg, refconf.WithRedact(s.Redact...))
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	path, err := refconf.WriteSnapshot(snap, s.Snapshot)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	logger.Info().Str("path", path).Msg("snapshot written")
	return nil
}
