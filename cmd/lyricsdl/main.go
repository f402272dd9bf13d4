package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"spotify-lyrics-api-go/cache"
	"spotify-lyrics-api-go/circuitbreaker"
	"spotify-lyrics-api-go/config"
	"spotify-lyrics-api-go/services/batch"
	"spotify-lyrics-api-go/services/lyrics"
	"spotify-lyrics-api-go/services/spotify"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

func main() {
	//nolint:exhaustruct
	app := &cli.Command{
		Name:  "lyricsdl",
		Usage: "Resolve music links and download synced lyrics",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log debug output to stderr",
			},
			&cli.StringFlag{
				Name:  "cache",
				Usage: "Persistent lyrics cache file (disabled when empty)",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			log.SetOutput(os.Stderr)
			log.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
			log.SetLevel(log.WarnLevel)
			if cmd.Bool("verbose") {
				log.SetLevel(log.DebugLevel)
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			{
				Name:      "resolve",
				Usage:     "Resolve a link and print the catalog entity as JSON",
				ArgsUsage: "<url>",
				Action:    resolveAction,
			},
			{
				Name:      "download",
				Usage:     "Download lyrics for a track, album or playlist",
				ArgsUsage: "<url>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Usage: "lrc or srt (defaults to the saved settings)"},
					&cli.StringFlag{Name: "template", Usage: `File name template, e.g. "{track_number}. {track_name}"`},
					&cli.StringFlag{Name: "out", Value: ".", Usage: "Output directory"},
					&cli.StringFlag{Name: "settings", Usage: "Settings file (defaults to the user config dir)"},
					&cli.BoolFlag{Name: "dry-run", Usage: "List the files that would be written"},
				},
				Action: downloadAction,
			},
			{
				Name:  "settings",
				Usage: "Show or update the saved download settings",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Usage: "lrc or srt"},
					&cli.StringFlag{Name: "template", Usage: "File name template"},
					&cli.StringFlag{Name: "settings", Usage: "Settings file (defaults to the user config dir)"},
				},
				Action: settingsAction,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "canceled")
			os.Exit(1)
		}

		var exitCode exitCodeError
		if errors.As(err, &exitCode) {
			os.Exit(int(exitCode))
		}

		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(10)
	}
}

type exitCodeError int

func (e exitCodeError) Error() string {
	return "error with exit code: " + strconv.Itoa(int(e))
}

// services holds the pipeline built from the environment
type services struct {
	resolver *spotify.Resolver
	catalog  *spotify.Catalog
	fetcher  *lyrics.Fetcher
	store    *cache.PersistentCache
}

func (s *services) Close() {
	if s.store != nil {
		s.store.Close()
	}
}

func newServices(cachePath string) (*services, error) {
	conf := config.Get()
	httpClient := &http.Client{Timeout: conf.HTTPTimeout()}

	s := &services{}
	opts := lyrics.FetcherOptions{
		BaseURL:    conf.Configuration.LyricsAPIURL,
		HTTPClient: httpClient,
		Breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:      "Lyrics",
			Threshold: conf.Configuration.CircuitBreakerThreshold,
			Cooldown:  time.Duration(conf.Configuration.CircuitBreakerCooldownSecs) * time.Second,
			IsFailure: lyrics.BreakerIsFailure,
		}),
		MaxRetries: conf.Configuration.LyricsMaxRetries,
	}
	if cachePath != "" {
		store, err := cache.NewPersistentCache(cachePath, filepath.Join(filepath.Dir(cachePath), "backups"), conf.FeatureFlags.CacheCompression)
		if err != nil {
			return nil, fmt.Errorf("open cache: %w", err)
		}
		s.store = store
		opts.Store = store
		opts.CacheTTL = conf.LyricsCacheTTL()
		opts.NegativeTTL = conf.NegativeCacheTTL()
	}
	s.fetcher = lyrics.NewFetcher(opts)

	tokens := spotify.NewTokenCache(
		conf.Configuration.SpotifyClientID,
		conf.Configuration.SpotifyClientSecret,
		conf.Configuration.SpotifyTokenURL,
		httpClient,
	)
	s.catalog = spotify.NewCatalog(tokens, spotify.CatalogOptions{
		BaseURL: conf.Configuration.SpotifyAPIBaseURL,
		Market:  conf.Configuration.SpotifyMarket,
	})

	s.resolver = spotify.NewResolver(spotify.DefaultSteps(spotify.StepOptions{
		HTTPClient:      httpClient,
		ShortLinkHosts:  conf.ShortLinkHostList(),
		SongwhipURL:     conf.Configuration.SongwhipAPIURL,
		SongwhipCountry: conf.Configuration.SongwhipCountry,
		EnableSongwhip:  conf.FeatureFlags.SongwhipFallback,
	}), 0)

	return s, nil
}

func urlArg(cmd *cli.Command) (string, error) {
	raw := strings.TrimSpace(cmd.Args().First())
	if raw == "" {
		return "", cli.Exit("a link is required", 2)
	}
	return raw, nil
}

func resolveAction(ctx context.Context, cmd *cli.Command) error {
	raw, err := urlArg(cmd)
	if err != nil {
		return err
	}

	s, err := newServices(cmd.String("cache"))
	if err != nil {
		return err
	}
	defer s.Close()

	ref, err := s.resolver.Resolve(ctx, raw)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", raw, err)
	}

	data, err := s.catalog.Fetch(ctx, *ref)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", ref, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"type": ref.Kind, "data": data})
}

func defaultSettingsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "lyricsdl-settings.json"
	}
	return filepath.Join(dir, "lyricsdl", "settings.json")
}

// loadSettings reads the saved settings and applies --format and --template
func loadSettings(cmd *cli.Command) (batch.Settings, string, error) {
	path := cmd.String("settings")
	if path == "" {
		path = defaultSettingsPath()
	}

	settings, err := batch.LoadSettings(path)
	if err != nil {
		return batch.Settings{}, path, err
	}

	if f := cmd.String("format"); f != "" {
		format, err := lyrics.ParseFormat(f)
		if err != nil {
			return batch.Settings{}, path, cli.Exit(err.Error(), 2)
		}
		settings.LyricsType = format
	}
	if tmpl := cmd.String("template"); tmpl != "" {
		settings.FileNameFormat = []string{tmpl}
	}
	return settings, path, nil
}

func downloadAction(ctx context.Context, cmd *cli.Command) error {
	raw, err := urlArg(cmd)
	if err != nil {
		return err
	}

	settings, _, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	s, err := newServices(cmd.String("cache"))
	if err != nil {
		return err
	}
	defer s.Close()

	ref, err := s.resolver.Resolve(ctx, raw)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", raw, err)
	}

	collection, err := s.catalog.Collection(ctx, *ref)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", ref, err)
	}

	if cmd.Bool("dry-run") {
		for _, name := range batch.EntryNames(settings.FileNameFormat, collection.Tracks, settings.LyricsType) {
			fmt.Println(name)
		}
		return nil
	}

	outDir := cmd.String("out")
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	downloader := batch.NewDownloader(s.fetcher, settings)
	var buf bytes.Buffer

	if ref.Kind == spotify.KindTrack {
		if len(collection.Tracks) == 0 {
			return cli.Exit("track not found", 3)
		}
		name, err := downloader.DownloadOne(ctx, collection.Tracks[0], &buf)
		if lyrics.IsNotFound(err) || errors.Is(err, lyrics.ErrEmptyLyrics) {
			fmt.Fprintln(os.Stderr, err)
			return exitCodeError(3)
		}
		if err != nil {
			return err
		}
		path := filepath.Join(outDir, name)
		if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
			return err
		}
		printSummary(collection, batch.Result{Successful: 1, Total: 1}, path)
		return nil
	}

	result, err := runBatch(ctx, downloader, collection, &buf)
	if failed, ok := batch.IsAllFailed(err); ok {
		printSummary(collection, result, "")
		fmt.Fprintln(os.Stderr, failed)
		return exitCodeError(3)
	}
	if err != nil {
		return err
	}

	path := filepath.Join(outDir, batch.ArchiveName(collection.Name))
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return err
	}
	printSummary(collection, result, path)
	return nil
}

// runBatch downloads a collection, drawing a progress line when stderr is a terminal
func runBatch(ctx context.Context, d *batch.Downloader, collection *spotify.Collection, buf *bytes.Buffer) (batch.Result, error) {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		return d.DownloadMany(ctx, collection.Tracks, collection.Name, buf, nil)
	}

	events := make(chan batch.Progress)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range events {
			fmt.Fprintf(os.Stderr, "%s\r%s %d/%d (%.0f%%)", text.EraseLine.Sprint(), collection.Name, p.Completed, p.Total, p.Percent)
		}
		fmt.Fprintf(os.Stderr, "%s\r", text.EraseLine.Sprint())
	}()

	result, err := d.DownloadMany(ctx, collection.Tracks, collection.Name, buf, events)
	close(events)
	<-done
	return result, err
}

func printSummary(collection *spotify.Collection, result batch.Result, output string) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Collection", "Type", "Tracks", "Saved", "No lyrics", "Failed", "Output"})
	t.AppendRow(table.Row{
		collection.Name,
		collection.Kind,
		result.Total,
		result.Successful,
		result.NoLyricsCount,
		result.Total - result.Successful - result.NoLyricsCount,
		output,
	})
	t.Render()
}

func settingsAction(_ context.Context, cmd *cli.Command) error {
	settings, path, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	if cmd.IsSet("format") || cmd.IsSet("template") {
		if err := batch.SaveSettings(path, settings); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "saved %s\n", path)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendRows([]table.Row{
		{"lyricsType", settings.LyricsType},
		{"fileNameFormat", strings.Join(settings.FileNameFormat, "")},
		{"file", path},
	})
	t.Render()
	return nil
}
