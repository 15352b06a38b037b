package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/loqalabs/loqa-interpreter/internal/audiofeed"
	"github.com/loqalabs/loqa-interpreter/internal/bus"
	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/loqalabs/loqa-interpreter/internal/eventstore"
	"github.com/loqalabs/loqa-interpreter/internal/language"
	"github.com/loqalabs/loqa-interpreter/internal/translate"
)

var version = "0.1.0-dev"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: failed to load .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `usage: loqa-interpreter-ctl <command> [flags]

commands:
  languages                     list translation targets
  translate -target es <text>   translate text with the configured backend
  sessions                      list recorded capture sessions
  events <session-id>           show a session timeline
  feed -source default <wav>    publish a wav file as audio frames
  version                       print version`)
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		usage(out)
		return errors.New("missing command")
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "languages":
		return runLanguages(out)
	case "translate":
		return runTranslate(ctx, rest, out)
	case "sessions":
		return runSessions(ctx, rest, out)
	case "events":
		return runEvents(ctx, rest, out)
	case "feed":
		return runFeed(ctx, rest, out)
	case "version":
		fmt.Fprintln(out, version)
		return nil
	case "help", "-h", "--help":
		usage(out)
		return nil
	default:
		usage(out)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func newFlagSet(name string) (*flag.FlagSet, *string) {
	fsFlags := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fsFlags.String("config", "", "Path to configuration file (defaults plus LOQA_* env when empty)")
	return fsFlags, configPath
}

func runLanguages(out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tNAME\tDEFAULT")
	for _, lang := range language.All() {
		def := ""
		if lang.Code == language.Default().Code {
			def = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", lang.Code, lang.Name, def)
	}
	return tw.Flush()
}

func runTranslate(ctx context.Context, args []string, out io.Writer) error {
	flags, configPath := newFlagSet("translate")
	target := flags.String("target", language.Default().Code, "Target language code")
	if err := flags.Parse(args); err != nil {
		return err
	}
	text := strings.TrimSpace(strings.Join(flags.Args(), " "))
	if text == "" {
		return errors.New("translate requires text")
	}
	if !language.Valid(*target) {
		return fmt.Errorf("unknown target language %q", *target)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	translator, err := translate.New(cfg.Translate)
	if err != nil {
		return err
	}
	res, err := translator.Translate(ctx, translate.Request{Text: text, Target: *target, Source: cfg.Translate.Source})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, res.Text)
	return nil
}

func openStore(ctx context.Context, configPath string) (*eventstore.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return eventstore.Open(ctx, cfg.EventStore, logger)
}

func runSessions(ctx context.Context, args []string, out io.Writer) error {
	flags, configPath := newFlagSet("sessions")
	limit := flags.Int("limit", 20, "Maximum sessions to list")
	if err := flags.Parse(args); err != nil {
		return err
	}
	store, err := openStore(ctx, *configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.ListSessions(ctx, *limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tLANGUAGE\tSTARTED\tEVENTS")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", s.ID, s.SourceLanguage, s.CreatedAt.Format(time.RFC3339), s.Events)
	}
	return tw.Flush()
}

func runEvents(ctx context.Context, args []string, out io.Writer) error {
	flags, configPath := newFlagSet("events")
	limit := flags.Int("limit", 100, "Maximum events to show")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return errors.New("events requires a session id")
	}
	store, err := openStore(ctx, *configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := store.ListSessionEvents(ctx, flags.Arg(0), *limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	for _, evt := range events {
		if err := enc.Encode(evt); err != nil {
			return err
		}
	}
	return nil
}

func runFeed(ctx context.Context, args []string, out io.Writer) error {
	flags, configPath := newFlagSet("feed")
	source := flags.String("source", "", "Capture source (defaults to stt.source)")
	frameMS := flags.Int("frame-ms", 100, "Frame duration in milliseconds")
	realtime := flags.Bool("realtime", true, "Pace frames at playback speed")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return errors.New("feed requires a wav file")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *source == "" {
		*source = cfg.STT.Source
	}

	file, err := os.Open(flags.Arg(0))
	if err != nil {
		return err
	}
	defer file.Close()
	clip, err := audiofeed.ReadWAV(file)
	if err != nil {
		return err
	}

	busCfg := cfg.Bus
	if len(busCfg.Servers) == 0 {
		busCfg.Servers = []string{fmt.Sprintf("nats://127.0.0.1:%d", cfg.Bus.Port)}
	}
	client, err := bus.Connect(ctx, busCfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return err
	}
	defer client.Close()

	frames := audiofeed.Frames(clip, time.Duration(*frameMS)*time.Millisecond)
	if err := audiofeed.Publish(ctx, client, *source, frames, *realtime); err != nil {
		return err
	}
	if err := client.Flush(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "published %d frames (%s) to %s\n", len(frames), clip.Duration(), *source)
	return nil
}
