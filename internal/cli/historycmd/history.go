package historycmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/nightconcept/efficient-downloader/internal/core/config"
	"github.com/nightconcept/efficient-downloader/internal/core/history"
)

// HistoryCmd defines the structure for the 'history' command.
var HistoryCmd = &cli.Command{
	Name:    "history",
	Aliases: []string{"ls"},
	Usage:   "Displays recorded downloads, newest first.",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "file",
			Usage: "History file to read (defaults to the configured history_file or ./" + history.FileName + ")",
		},
		&cli.IntFlag{
			Name:    "limit",
			Aliases: []string{"n"},
			Usage:   "Show at most this many entries (0 for all)",
		},
	},
	Action: func(c *cli.Context) error {
		path := c.String("file")
		if path == "" {
			cfg, err := config.Load(".")
			if err != nil {
				return cli.Exit(fmt.Sprintf("Error loading %s: %v", config.FileName, err), 1)
			}
			path = cfg.Download.HistoryFile
		}
		if path == "" {
			path = history.FileName
		}

		h, err := history.Load(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("Error loading %s: %v", path, err), 1)
		}

		out := c.App.Writer
		headerColor := color.New(color.FgCyan, color.Bold).SprintFunc()
		idColor := color.New(color.FgHiBlack).SprintFunc()
		pathColor := color.New(color.FgWhite).SprintFunc()
		sourceColor := color.New(color.FgYellow).SprintFunc()

		fmt.Fprintln(out, headerColor("downloads:"))
		records := h.Sorted()
		if len(records) == 0 {
			fmt.Fprintf(out, "No downloads recorded in %s.\n", path)
			return nil
		}
		if limit := c.Int("limit"); limit > 0 && limit < len(records) {
			records = records[:limit]
		}

		for _, r := range records {
			id := r.ID
			if len(id) > 8 {
				id = id[:8]
			}
			fmt.Fprintf(out, "%s %s %s %s (%d bytes",
				idColor(id), r.DownloadedAt.Format("2006-01-02 15:04:05"), pathColor(r.Path), sourceColor(r.Source), r.Bytes)
			if n := len(r.Redirects); n > 0 {
				fmt.Fprintf(out, ", via %d redirects to %s", n, r.FinalURL)
			}
			fmt.Fprintln(out, ")")
		}
		return nil
	},
}
