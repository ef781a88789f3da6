package resource

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Scheme selects the fetcher used for a location.
type Scheme string

const (
	SchemeClasspath Scheme = "classpath"
	SchemeFile      Scheme = "file"
	SchemeHTTP      Scheme = "http"
	SchemeHTTPS     Scheme = "https"
	SchemeS3        Scheme = "s3"
)

// ClasspathPrefix marks locations resolved against the embedded resources.
const ClasspathPrefix = "classpath:"

// ErrUnsupportedScheme is returned for URLs whose scheme has no fetcher.
var ErrUnsupportedScheme = errors.New("unsupported location scheme")

// Location is a parsed resource address.
//
// Supported forms:
//   - classpath:/threats-library/default-threats-library.yml
//   - file:///abs/path/model.yml, or a bare filesystem path
//   - http(s)://host/path
//   - s3://bucket/key
type Location struct {
	// Raw is the location as given, trimmed
	Raw    string
	Scheme Scheme
	// Host is the bucket for s3 and the authority for http(s)
	Host string
	// Path is the classpath entry, file path or object key
	Path string
	// URL is set for http and https locations
	URL *url.URL
}

// ParseLocation classifies raw by scheme. Anything that is not a recognised
// URL is treated as a filesystem path.
func ParseLocation(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}, fmt.Errorf("location cannot be empty")
	}

	if len(raw) >= len(ClasspathPrefix) && strings.EqualFold(raw[:len(ClasspathPrefix)], ClasspathPrefix) {
		entry := strings.TrimLeft(raw[len(ClasspathPrefix):], "/")
		if entry == "" {
			return Location{}, fmt.Errorf("classpath location %q has no path", raw)
		}
		cleaned := path.Clean(entry)
		if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
			return Location{}, fmt.Errorf("classpath location %q escapes the classpath", raw)
		}
		return Location{Raw: raw, Scheme: SchemeClasspath, Path: cleaned}, nil
	}

	if !strings.Contains(raw, "://") {
		return Location{Raw: raw, Scheme: SchemeFile, Path: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("invalid location: %w", err)
	}

	switch Scheme(strings.ToLower(u.Scheme)) {
	case SchemeFile:
		p := u.Path
		if u.Host != "" && u.Host != "localhost" {
			// file://relative/dir/model.yml
			p = u.Host + u.Path
		}
		if p == "" {
			return Location{}, fmt.Errorf("file location %q has no path", raw)
		}
		return Location{Raw: raw, Scheme: SchemeFile, Path: p}, nil
	case SchemeHTTP, SchemeHTTPS:
		if u.Host == "" {
			return Location{}, fmt.Errorf("location %q has no host", raw)
		}
		return Location{Raw: raw, Scheme: Scheme(strings.ToLower(u.Scheme)), Host: u.Host, Path: u.Path, URL: u}, nil
	case SchemeS3:
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return Location{}, fmt.Errorf("s3 location %q must be s3://bucket/key", raw)
		}
		return Location{Raw: raw, Scheme: SchemeS3, Host: u.Host, Path: key}, nil
	default:
		return Location{}, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
}

// Remote reports whether fetching the location leaves the machine.
func (l Location) Remote() bool {
	return l.Scheme == SchemeHTTP || l.Scheme == SchemeHTTPS || l.Scheme == SchemeS3
}

// String returns the raw location.
func (l Location) String() string {
	return l.Raw
}
