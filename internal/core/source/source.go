// Package source turns user supplied download sources into fetchable URLs.
package source

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// RawContentBaseURL is where GitHub file contents are served from.
var RawContentBaseURL = "https://raw.githubusercontent.com"

const (
	ProviderGitHub = "github"
	ProviderURL    = "url"

	shorthandPrefix = "github:"
)

// Info holds the details extracted from a source.
type Info struct {
	RawURL            string // URL handed to the downloader
	Canonical         string // github:owner/repo/path@ref for GitHub sources, the input otherwise
	Provider          string
	Owner             string
	Repo              string
	Ref               string
	PathInRepo        string
	SuggestedFilename string
}

// Resolve analyzes input. GitHub shorthands and github.com file links are rewritten to
// raw content URLs; anything else, including release assets and archives, is passed
// through for the downloader to validate.
func Resolve(input string) (*Info, error) {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, shorthandPrefix) {
		return parseShorthand(input)
	}

	u, err := url.Parse(input)
	if err == nil {
		var info *Info
		switch {
		case strings.EqualFold(u.Hostname(), "github.com"):
			info = parseGitHubURL(u)
		case strings.EqualFold(u.Hostname(), "raw.githubusercontent.com"):
			info = parseRawURL(u)
		}
		if info != nil {
			return info, nil
		}
	}

	info := &Info{RawURL: input, Canonical: input, Provider: ProviderURL}
	if err == nil {
		info.SuggestedFilename = filenameFromPath(u.EscapedPath())
	}
	return info, nil
}

// parseShorthand handles github:owner/repo/path/to/file@ref.
func parseShorthand(input string) (*Info, error) {
	content := strings.TrimPrefix(input, shorthandPrefix)

	lastAt := strings.LastIndex(content, "@")
	if lastAt == -1 {
		return nil, fmt.Errorf("invalid github shorthand source '%s': missing @ref (e.g., @main or @commitsha)", input)
	}
	if lastAt == len(content)-1 {
		return nil, fmt.Errorf("invalid github shorthand source '%s': ref part is empty after @", input)
	}

	parts := strings.Split(content[:lastAt], "/")
	if len(parts) < 3 {
		return nil, fmt.Errorf("invalid github shorthand source '%s': expected format owner/repo/path/to/file", input)
	}
	return newGitHubInfo(parts[0], parts[1], content[lastAt+1:], strings.Join(parts[2:], "/"))
}

// parseGitHubURL rewrites https://github.com/<owner>/<repo>/(blob|raw)/<ref>/<path>.
// It returns nil for any other github.com URL.
func parseGitHubURL(u *url.URL) *Info {
	if u.RawQuery != "" {
		return nil
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 5 || (parts[2] != "blob" && parts[2] != "raw") {
		return nil
	}
	info, err := newGitHubInfo(parts[0], parts[1], parts[3], strings.Join(parts[4:], "/"))
	if err != nil {
		return nil
	}
	return info
}

// parseRawURL describes https://raw.githubusercontent.com/<owner>/<repo>/<ref>/<path>.
// It returns nil when the path has a different shape.
func parseRawURL(u *url.URL) *Info {
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 4 {
		return nil
	}
	info, err := newGitHubInfo(parts[0], parts[1], parts[2], strings.Join(parts[3:], "/"))
	if err != nil {
		return nil
	}
	info.RawURL = u.String()
	return info
}

func newGitHubInfo(owner, repo, ref, pathInRepo string) (*Info, error) {
	filename := filenameFromPath(pathInRepo)
	if owner == "" || repo == "" || ref == "" || pathInRepo == "" || filename == "" {
		return nil, fmt.Errorf("invalid github source: owner, repo, ref and file path cannot be empty (got %s/%s/%s@%s)", owner, repo, pathInRepo, ref)
	}
	return &Info{
		RawURL:            fmt.Sprintf("%s/%s/%s/%s/%s", strings.TrimSuffix(RawContentBaseURL, "/"), owner, repo, ref, pathInRepo),
		Canonical:         fmt.Sprintf("%s%s/%s/%s@%s", shorthandPrefix, owner, repo, pathInRepo, ref),
		Provider:          ProviderGitHub,
		Owner:             owner,
		Repo:              repo,
		Ref:               ref,
		PathInRepo:        pathInRepo,
		SuggestedFilename: filename,
	}, nil
}

func filenameFromPath(p string) string {
	if p == "" || strings.HasSuffix(p, "/") {
		return ""
	}
	name := path.Base(p)
	if name == "." || name == ".." || name == "/" {
		return ""
	}
	if unescaped, err := url.PathUnescape(name); err == nil && !strings.ContainsAny(unescaped, `/\`) && unescaped != ".." {
		return unescaped
	}
	return name
}
