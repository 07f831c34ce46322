package api

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/nci/satgate/utils"
)

const defaultDownloadName = "download.tif"

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// downloadFilename is the last path segment of raw reduced to characters
// that are safe inside a Content-Disposition header.
func downloadFilename(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return defaultDownloadName
	}
	name := unsafeFilenameChars.ReplaceAllString(path.Base(u.Path), "")
	name = strings.TrimLeft(name, ".")
	if len(name) == 0 {
		return defaultDownloadName
	}
	return name
}

// downloadClient does not follow redirects. Without an injected client it
// dials through a PinnedDialer using the guard's resolver.
func (s *Server) downloadClient() *http.Client {
	s.downloadOnce.Do(func() {
		client := http.Client{}
		if s.HTTPClient != nil {
			client = *s.HTTPClient
		} else {
			transport := http.DefaultTransport.(*http.Transport).Clone()
			dialer := &utils.PinnedDialer{
				Resolver: s.Resolver,
				Dialer:   net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second},
			}
			transport.Proxy = nil
			transport.DialContext = dialer.DialContext
			client.Transport = transport
		}
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
		s.download = &client
	})
	return s.download
}

// serveDownload streams a remote file through the gateway. Redirects are
// not followed since their target has not been through the guard.
func (s *Server) serveDownload(w http.ResponseWriter, r *http.Request) {
	src := r.URL.Query().Get("url")
	if len(src) == 0 {
		fail(w, s.Logger, r, &badRequest{msg: "url is required"})
		return
	}
	if err := s.guard(r.Context(), src); err != nil {
		fail(w, s.Logger, r, err)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, src, nil)
	if err != nil {
		fail(w, s.Logger, r, &badRequest{msg: err.Error()})
		return
	}
	resp, err := s.downloadClient().Do(req)
	if err != nil {
		fail(w, s.Logger, r, &upstreamError{err: err})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		fail(w, s.Logger, r, &upstreamError{err: fmt.Errorf("upstream returned %s", resp.Status)})
		return
	}

	name := downloadFilename(src)
	contentType := resp.Header.Get("Content-Type")
	if len(contentType) == 0 {
		contentType = "application/octet-stream"
		if strings.HasSuffix(name, ".tif") || strings.HasSuffix(name, ".tiff") {
			contentType = "image/tiff"
		}
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	if len(resp.Header.Get("Content-Length")) > 0 {
		w.Header().Set("Content-Length", resp.Header.Get("Content-Length"))
	}
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		s.Logger.Warn().Err(err).Str("url", src).Int64("bytes", n).Msg("download interrupted")
		return
	}
	s.Logger.Debug().Str("url", src).Int64("bytes", n).Msg("download streamed")
}
