package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/notruri/pahe/client"
	"github.com/notruri/pahe/internal/cookies"
	"github.com/notruri/pahe/internal/policy"
)

// CookiesEnv is read when no cookie flag is given.
const CookiesEnv = "PAHE_COOKIES"

const (
	CommandResolve  = "resolve"
	CommandDownload = "download"
)

// ErrUsage marks errors caused by bad command-line input.
var ErrUsage = errors.New("usage error")

// Options holds all command-line options.
type Options struct {
	Command string
	Help    bool

	// Input
	URL    string // -u, --url
	Direct string // --direct

	// Selection
	Language string // -l, --lang
	Quality  string // -q, --quality

	// Download / Filesystem
	Output          string // -o, --output
	Dir             string // -d, --dir
	Connections     int    // -n, --connections
	NoContinue      bool   // --no-continue
	SHA256          string // --sha256
	DownloadRetries int    // --retries
	RetrySleepMS    int    // --retry-sleep-ms
	TimeoutSec      int    // --timeout

	// Network
	ProxyURL    string // --proxy
	Cookies     string // -c, --cookies
	CookiesFile string // --cookies-file

	Verbose bool
}

func newFlagSet(command string, opts *Options) *flag.FlagSet {
	fs := flag.NewFlagSet("pahe "+command, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&opts.URL, "u", "", "Mirror page URL")
	fs.StringVar(&opts.URL, "url", "", "Mirror page URL")
	fs.StringVar(&opts.Language, "l", "jp", "Audio language to select (jp, en, any, ...)")
	fs.StringVar(&opts.Language, "lang", "jp", "Audio language to select (jp, en, any, ...)")
	fs.StringVar(&opts.Quality, "q", "highest", "Quality to select (highest, lowest, first, 1080p, 720p, ...)")
	fs.StringVar(&opts.Quality, "quality", "highest", "Quality to select (highest, lowest, first, 1080p, 720p, ...)")
	fs.StringVar(&opts.ProxyURL, "proxy", "", "Use the specified HTTP/HTTPS/SOCKS proxy")
	fs.StringVar(&opts.Cookies, "c", "", "Cookie header value (a=b; c=d); falls back to $"+CookiesEnv)
	fs.StringVar(&opts.Cookies, "cookies", "", "Cookie header value (a=b; c=d); falls back to $"+CookiesEnv)
	fs.StringVar(&opts.CookiesFile, "cookies-file", "", "Netscape formatted cookies file")
	fs.IntVar(&opts.TimeoutSec, "timeout", 0, "Per-request timeout in seconds (0 keeps defaults)")
	fs.BoolVar(&opts.Verbose, "v", false, "Print debugging information")
	fs.BoolVar(&opts.Verbose, "verbose", false, "Print debugging information")

	if command == CommandDownload {
		fs.StringVar(&opts.Direct, "direct", "", "Download this direct media URL without resolving")
		fs.StringVar(&opts.Output, "o", "", "Output file path")
		fs.StringVar(&opts.Output, "output", "", "Output file path")
		fs.StringVar(&opts.Dir, "d", "", "Output directory when no path is given")
		fs.StringVar(&opts.Dir, "dir", "", "Output directory when no path is given")
		fs.IntVar(&opts.Connections, "n", 0, "Number of parallel connections (0 keeps defaults)")
		fs.IntVar(&opts.Connections, "connections", 0, "Number of parallel connections (0 keeps defaults)")
		fs.BoolVar(&opts.NoContinue, "no-continue", false, "Do not resume partially downloaded files")
		fs.StringVar(&opts.SHA256, "sha256", "", "Expected SHA-256 of the downloaded file")
		fs.IntVar(&opts.DownloadRetries, "retries", -1, "Download retry count override (-1 keeps defaults)")
		fs.IntVar(&opts.RetrySleepMS, "retry-sleep-ms", -1, "Download retry initial backoff in milliseconds (-1 keeps defaults)")
	}
	return fs
}

// Parse parses args (without the program name). getenv supplies
// environment fallbacks and may be nil.
func Parse(args []string, getenv func(string) string) (Options, error) {
	if len(args) == 0 {
		return Options{}, fmt.Errorf("%w: missing command", ErrUsage)
	}
	opts := Options{Command: args[0]}
	switch opts.Command {
	case CommandResolve, CommandDownload:
	case "help", "-h", "-help", "--help":
		return Options{Help: true}, nil
	default:
		return Options{}, fmt.Errorf("%w: unknown command %q", ErrUsage, opts.Command)
	}

	fs := newFlagSet(opts.Command, &opts)
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			opts.Help = true
			return opts, nil
		}
		return opts, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if opts.URL == "" && fs.NArg() > 0 {
		opts.URL = fs.Arg(0)
	}
	opts.URL = strings.TrimSpace(opts.URL)
	opts.Direct = strings.TrimSpace(opts.Direct)
	if opts.Cookies == "" && opts.CookiesFile == "" && getenv != nil {
		opts.Cookies = getenv(CookiesEnv)
	}

	switch {
	case opts.Command == CommandResolve && opts.URL == "":
		return opts, fmt.Errorf("%w: resolve needs -url", ErrUsage)
	case opts.Command == CommandDownload && (opts.URL == "") == (opts.Direct == ""):
		return opts, fmt.Errorf("%w: download needs exactly one of -url or -direct", ErrUsage)
	case opts.Connections < 0:
		return opts, fmt.Errorf("%w: -n must not be negative", ErrUsage)
	}
	if _, err := policy.Parse(opts.Language, opts.Quality); err != nil {
		return opts, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	return opts, nil
}

// Usage prints help for command, or the command list when it is empty.
func Usage(w io.Writer, command string) {
	if command != CommandResolve && command != CommandDownload {
		fmt.Fprintln(w, "Usage: pahe <command> [OPTIONS]")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Commands:")
		fmt.Fprintln(w, "  resolve   print the direct media link behind a mirror page")
		fmt.Fprintln(w, "  download  resolve a mirror page (or take -direct) and download it")
		return
	}
	var opts Options
	fs := newFlagSet(command, &opts)
	fs.SetOutput(w)
	fmt.Fprintf(w, "Usage: pahe %s [OPTIONS] [URL]\n\nOptions:\n", command)
	fs.PrintDefaults()
}

// SelectionPolicy converts the selection flags.
func SelectionPolicy(opts Options) (client.SelectionPolicy, error) {
	return policy.Parse(opts.Language, opts.Quality)
}

// ToClientConfig converts Options to client.Config.
func ToClientConfig(opts Options) (client.Config, error) {
	cfg := client.Config{
		ProxyURL:    opts.ProxyURL,
		Concurrency: opts.Connections,
	}
	if opts.DownloadRetries >= 0 {
		cfg.DownloadTransport.MaxRetries = opts.DownloadRetries
		if opts.DownloadRetries == 0 {
			cfg.DownloadTransport.MaxRetries = -1
		}
	}
	if opts.RetrySleepMS >= 0 {
		cfg.DownloadTransport.InitialBackoff = time.Duration(opts.RetrySleepMS) * time.Millisecond
	}
	if opts.TimeoutSec > 0 {
		timeout := time.Duration(opts.TimeoutSec) * time.Second
		cfg.RequestTimeout = timeout
		cfg.DownloadTransport.RequestTimeout = timeout
	}

	if opts.Cookies == "" && opts.CookiesFile == "" {
		return cfg, nil
	}
	jar, err := cookies.NewJar()
	if err != nil {
		return cfg, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	if opts.CookiesFile != "" {
		list, err := cookies.LoadNetscape(opts.CookiesFile)
		if err != nil {
			return cfg, fmt.Errorf("failed to load cookies file: %w", err)
		}
		cookies.Seed(jar, list)
	}
	if opts.Cookies != "" {
		list, err := cookies.ParseHeader(opts.Cookies)
		if err != nil {
			return cfg, err
		}
		cookies.Seed(jar, list, siteURLs(opts)...)
	}
	cfg.CookieJar = jar
	return cfg, nil
}

// siteURLs are the hosts that header cookies are scoped to.
func siteURLs(opts Options) []*url.URL {
	var out []*url.URL
	for _, raw := range []string{opts.URL, opts.Direct} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			out = append(out, &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"})
		}
	}
	return out
}
