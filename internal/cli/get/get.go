package get

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"

	"github.com/nightconcept/efficient-downloader/internal/core/config"
	"github.com/nightconcept/efficient-downloader/internal/core/downloader"
	"github.com/nightconcept/efficient-downloader/internal/core/history"
	"github.com/nightconcept/efficient-downloader/internal/core/source"
)

// GetCommand defines the structure for the "get" command.
var GetCommand = &cli.Command{
	Name:      "get",
	Usage:     "Downloads a file, following redirects",
	ArgsUsage: "<source_url> [destination]",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "header",
			Aliases: []string{"H"},
			Usage:   "Add a request header, 'Name: value' (repeatable, sent on every redirect hop)",
		},
		&cli.IntFlag{
			Name:  "max-redirects",
			Usage: "Maximum number of redirects to follow (negative for no limit)",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a config file (defaults to ./" + config.FileName + ")",
		},
		&cli.BoolFlag{
			Name:  "record",
			Usage: "Record the download in the history file",
		},
		&cli.BoolFlag{
			Name:  "no-progress",
			Usage: "Disable the progress bar",
		},
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "Enable verbose output",
		},
	},
	Action: func(cCtx *cli.Context) error {
		if cCtx.NArg() == 0 {
			return cli.Exit("Error: <source_url> argument is required.", 1)
		}
		sourceInput := cCtx.Args().Get(0)
		destinationInput := cCtx.Args().Get(1)
		verbose := cCtx.Bool("verbose")
		out := cCtx.App.Writer

		cfg, err := config.LoadEffective(".", cCtx.String("config"))
		if err != nil {
			return cli.Exit(fmt.Sprintf("Error loading configuration: %v", err), 1)
		}
		if cCtx.IsSet("max-redirects") {
			cfg.Download.MaxRedirects = cCtx.Int("max-redirects")
		}

		headers, err := mergeHeaders(cfg.Headers, cCtx.StringSlice("header"))
		if err != nil {
			return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
		}

		info, err := source.Resolve(sourceInput)
		if err != nil {
			return cli.Exit(fmt.Sprintf("Error parsing source URL '%s': %v", sourceInput, err), 1)
		}

		destination, err := resolveDestination(destinationInput, info.SuggestedFilename)
		if err != nil {
			return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
		}

		if verbose {
			fmt.Fprintf(out, "Downloading:\n")
			fmt.Fprintf(out, "  Source Input: %s\n", sourceInput)
			fmt.Fprintf(out, "  Raw Download URL: %s\n", info.RawURL)
			fmt.Fprintf(out, "  Destination: %s\n", destination)
			fmt.Fprintf(out, "  Max Redirects: %d\n", cfg.Download.MaxRedirects)
			for name := range headers {
				fmt.Fprintf(out, "  Header: %s\n", name)
			}
		}

		opts := cfg.Options()
		if verbose {
			opts.OnHop = func(h downloader.Hop) {
				printHop(out, h)
			}
		}
		var bar *progressBar
		if !cCtx.Bool("no-progress") {
			bar = &progressBar{out: cCtx.App.ErrWriter, name: filepath.Base(destination)}
			opts.Progress = bar.wrap
		}

		result, err := downloader.New(opts).Fetch(cCtx.Context, info.RawURL, destination, headers)
		if bar != nil {
			bar.finish(err)
		}
		if err != nil {
			return cli.Exit(fmt.Sprintf("Error downloading '%s': %v", sourceInput, err), 1)
		}

		if cCtx.Bool("record") || cfg.Download.HistoryFile != "" {
			historyPath := cfg.Download.HistoryFile
			if historyPath == "" {
				historyPath = history.FileName
			}
			if err := recordDownload(historyPath, result); err != nil {
				return cli.Exit(fmt.Sprintf("Error: file '%s' was downloaded but recording it failed: %v", destination, err), 1)
			}
			if verbose {
				fmt.Fprintf(out, "Recorded download in %s.\n", historyPath)
			}
		}

		color.New(color.FgGreen).Fprintf(out, "Downloaded '%s' to '%s'", sourceInput, destination)
		fmt.Fprintf(out, " (%d bytes, %d redirects).\n", result.Bytes, len(result.Redirects))
		return nil
	},
}

// mergeHeaders overlays the "Name: value" flags on top of the configured headers.
func mergeHeaders(configured map[string]string, flags []string) (map[string]string, error) {
	headers := make(map[string]string, len(configured)+len(flags))
	for name, value := range configured {
		headers[name] = value
	}
	for _, raw := range flags {
		name, value, found := strings.Cut(raw, ":")
		name = strings.TrimSpace(name)
		if !found || name == "" {
			return nil, fmt.Errorf("invalid header '%s': expected 'Name: value'", raw)
		}
		headers[name] = strings.TrimSpace(value)
	}
	return headers, nil
}

// resolveDestination picks the output path. An empty destination uses the suggested
// filename in the current directory; a directory destination receives the suggested
// filename inside it.
func resolveDestination(destination, suggested string) (string, error) {
	isDir := destination != "" &&
		(strings.HasSuffix(destination, "/") || strings.HasSuffix(destination, string(os.PathSeparator)))
	if !isDir && destination != "" {
		if fi, err := os.Stat(destination); err == nil && fi.IsDir() {
			isDir = true
		}
	}

	if destination != "" && !isDir {
		return destination, nil
	}
	if suggested == "" {
		return "", errors.New("could not infer a file name from the source URL; pass a destination path")
	}
	if destination == "" {
		return suggested, nil
	}
	return filepath.Join(destination, suggested), nil
}

func recordDownload(path string, result *downloader.Result) error {
	h, err := history.Load(path)
	if err != nil {
		return err
	}
	h.Record(result, time.Now())
	return history.Save(path, h)
}

func printHop(out io.Writer, h downloader.Hop) {
	tls := "plain"
	if h.Endpoint.TLS {
		tls = "tls"
	}
	fmt.Fprintf(out, "  [%d] %s (%s, %s) -> %d %s", h.Index, h.URL, h.Endpoint, tls, h.StatusCode, h.Outcome)
	if h.Location != "" {
		fmt.Fprintf(out, " -> %s", h.Location)
	}
	fmt.Fprintln(out)
}

// progressBar renders the body transfer with mpb. The bar is only created once a
// response body is actually being written.
type progressBar struct {
	out      io.Writer
	name     string
	progress *mpb.Progress
	bar      *mpb.Bar
}

func (pb *progressBar) wrap(body io.Reader, size int64) io.Reader {
	pb.progress = mpb.New(mpb.WithOutput(pb.out), mpb.WithWidth(40))
	pb.bar = pb.progress.AddBar(size,
		mpb.PrependDecorators(
			decor.Name(pb.name+" "),
			decor.CountersKibiByte("% .2f / % .2f"),
		),
		mpb.AppendDecorators(
			decor.EwmaETA(decor.ET_STYLE_MMSS, 60),
			decor.Name(" ] "),
			decor.AverageSpeed(decor.UnitKB, "% .2f"),
		),
	)
	return pb.bar.ProxyReader(body)
}

func (pb *progressBar) finish(err error) {
	if pb.progress == nil {
		return
	}
	if err != nil {
		pb.bar.Abort(false)
	} else {
		pb.bar.SetTotal(-1, true)
	}
	pb.progress.Wait()
}
