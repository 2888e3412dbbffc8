// Package configcmd contains the effdl config command.
package configcmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/k0kubun/pp"
	"github.com/urfave/cli/v2"

	"github.com/nightconcept/efficient-downloader/internal/core/config"
)

// Helper function to prompt user and get input with a default value
func promptWithDefault(reader *bufio.Reader, out io.Writer, promptText string, defaultValue string) (string, error) {
	if defaultValue != "" {
		fmt.Fprintf(out, "%s (default: %s): ", promptText, defaultValue)
	} else {
		fmt.Fprintf(out, "%s: ", promptText)
	}

	input, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read input for '%s': %w", promptText, err)
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultValue, nil
	}
	return input, nil
}

// NewConfigCommand returns the definition for the "config" command.
func NewConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage the " + config.FileName + " configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Create " + config.FileName + " in the current directory",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "yes",
						Aliases: []string{"y"},
						Usage:   "Accept all defaults without prompting",
					},
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Overwrite an existing " + config.FileName,
					},
				},
				Action: initAction,
			},
			{
				Name:  "show",
				Usage: "Print the effective configuration (file, .env and environment)",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to a config file (defaults to ./" + config.FileName + ")",
					},
				},
				Action: showAction,
			},
		},
	}
}

func initAction(c *cli.Context) error {
	out := c.App.Writer
	if _, err := os.Stat(config.FileName); err == nil && !c.Bool("force") {
		return cli.Exit(fmt.Sprintf("Error: %s already exists. Use --force to overwrite it.", config.FileName), 1)
	}

	cfg := config.Default()
	if !c.Bool("yes") {
		reader := bufio.NewReader(c.App.Reader)

		maxRedirects, err := promptWithDefault(reader, out, "Maximum redirects (negative for no limit)", strconv.Itoa(cfg.Download.MaxRedirects))
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		n, err := strconv.Atoi(maxRedirects)
		if err != nil {
			return cli.Exit(fmt.Sprintf("Error: maximum redirects must be a number, got '%s'", maxRedirects), 1)
		}
		cfg.Download.MaxRedirects = n

		if cfg.Download.UserAgent, err = promptWithDefault(reader, out, "User agent", cfg.Download.UserAgent); err != nil {
			return cli.Exit(err.Error(), 1)
		}
		if cfg.Download.HistoryFile, err = promptWithDefault(reader, out, "History file (optional)", ""); err != nil {
			return cli.Exit(err.Error(), 1)
		}
	}

	if err := config.Write(".", cfg); err != nil {
		return cli.Exit(fmt.Sprintf("Error writing %s: %v", config.FileName, err), 1)
	}
	fmt.Fprintf(out, "\nWrote to %s\n", config.FileName)
	return nil
}

func showAction(c *cli.Context) error {
	cfg, err := config.LoadEffective(".", c.String("config"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error loading configuration: %v", err), 1)
	}

	shown := *cfg
	shown.Headers = make(map[string]string, len(cfg.Headers))
	for name, value := range cfg.Headers {
		shown.Headers[name] = redact(name, value)
	}

	if os.Getenv("NO_COLOR") != "" {
		pp.ColoringEnabled = false
	}
	source := config.FileName
	if explicit := c.String("config"); explicit != "" {
		source = filepath.Clean(explicit)
	}
	fmt.Fprintf(c.App.Writer, "# %s + %s + environment\n", source, config.EnvFileName)
	_, err = pp.Fprintln(c.App.Writer, shown)
	return err
}

// redact hides credential-bearing header values.
func redact(name, value string) string {
	switch strings.ToLower(name) {
	case "authorization", "proxy-authorization", "cookie", "x-api-key":
		if value == "" {
			return value
		}
		return "<redacted>"
	default:
		return value
	}
}
