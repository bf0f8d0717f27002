package dashconfig

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// ErrInvalidURL is returned when an OctoPrint URL cannot be split.
var ErrInvalidURL = errors.New("invalid octoprint url")

// SplitOctoprintURL breaks an OctoPrint base URL such as
// "http://octopi.local:5000/" into its host and port. A URL without an
// explicit port yields Port 0.
func SplitOctoprintURL(raw string) (URLSplit, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return URLSplit{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	host := u.Hostname()
	if host == "" {
		return URLSplit{}, fmt.Errorf("%w: %q has no host", ErrInvalidURL, raw)
	}

	split := URLSplit{Host: host}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return URLSplit{}, fmt.Errorf("%w: bad port %q", ErrInvalidURL, p)
		}
		split.Port = port
	}
	return split, nil
}

// MergeOctoprintURL is the inverse of SplitOctoprintURL. The result always
// uses http and ends with a slash, which the API path helpers rely on.
func MergeOctoprintURL(s URLSplit) string {
	if s.Port > 0 {
		return "http://" + net.JoinHostPort(s.Host, strconv.Itoa(s.Port)) + "/"
	}
	if ip := net.ParseIP(s.Host); ip != nil && ip.To4() == nil {
		return "http://[" + s.Host + "]/"
	}
	return "http://" + s.Host + "/"
}

// FromInput turns a document edited through the setup form into a storable
// one: the URL is rebuilt from URLSplit and URLSplit is dropped. Documents
// without a URLSplit keep their URL.
func FromInput(c Config) Config {
	out := c.Clone()
	if c.Octoprint.URLSplit != nil {
		out.Octoprint.URL = MergeOctoprintURL(*c.Octoprint.URLSplit)
	}
	out.Octoprint.URLSplit = nil
	return out
}
