// The main package is where the effdl program starts.
package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/nightconcept/efficient-downloader/internal/cli/configcmd"
	"github.com/nightconcept/efficient-downloader/internal/cli/get"
	"github.com/nightconcept/efficient-downloader/internal/cli/historycmd"
	"github.com/nightconcept/efficient-downloader/internal/cli/self"
)

// version is overridden at build time with -ldflags "-X main.version=vX.Y.Z".
var version = "v0.1.0"

func main() {
	app := &cli.App{
		Name:    "effdl",
		Usage:   "Download a file over HTTP(S), following redirects",
		Version: version,
		Action: func(c *cli.Context) error {
			// Default action if no command is specified
			_ = cli.ShowAppHelp(c)
			return nil
		},
		// Header values such as Accept lists contain commas.
		DisableSliceFlagSeparator: true,
		Commands: []*cli.Command{
			get.GetCommand,
			historycmd.HistoryCmd,
			configcmd.NewConfigCommand(),
			self.NewSelfCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
