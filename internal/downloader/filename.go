package downloader

import (
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const maxFilenameBytes = 200

var mediaExtensions = map[string]string{
	"video/mp4":        ".mp4",
	"video/x-matroska": ".mkv",
	"video/webm":       ".webm",
	"video/mp2t":       ".ts",
	"video/quicktime":  ".mov",
	"audio/mp4":        ".m4a",
	"audio/mpeg":       ".mp3",
}

// resolveOutputPath picks the local path: the caller's path, else the name
// from Content-Disposition, else the last URL path component, else a
// generated name.
func resolveOutputPath(req Request, pr probeResult) string {
	if req.OutputPath != "" {
		return req.OutputPath
	}
	name := filenameFromDisposition(pr.disposition)
	if name == "" {
		name = filenameFromURL(pr.finalURL)
	}
	if name == "" {
		name = filenameFromURL(req.URL)
	}
	if name == "" {
		name = generatedFilename(pr.contentType)
	}
	dir := req.OutputDir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, name)
}

func filenameFromDisposition(cd string) string {
	if cd == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(cd)
	if err != nil {
		return ""
	}
	return sanitizeFilename(params["filename"])
}

func filenameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "/" || base == "." {
		return ""
	}
	return sanitizeFilename(base)
}

func generatedFilename(contentType string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return "download-" + id.String() + extensionFor(contentType)
}

func extensionFor(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	if ext, ok := mediaExtensions[mt]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mt); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// sanitizeFilename strips directory parts and characters that are invalid
// on common filesystems. It returns "" when nothing usable remains.
func sanitizeFilename(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20 || r == 0x7f:
			return -1
		case strings.ContainsRune(`<>:"|?*`, r):
			return '_'
		}
		return r
	}, name)
	name = strings.Trim(name, " .")
	if len(name) > maxFilenameBytes {
		ext := filepath.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		cut := maxFilenameBytes - len(ext)
		for cut > 0 && !isRuneStart(name[cut]) {
			cut--
		}
		name = name[:cut] + ext
	}
	return name
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
