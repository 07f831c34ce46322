package gdalprocess

import (
	"net/url"
	"strings"
)

// VSIPath maps a source href onto the GDAL virtual file system path that
// opens it. Local paths are returned unchanged.
func VSIPath(href string) string {
	switch {
	case strings.HasPrefix(href, "/vsi"):
		return href
	case strings.HasPrefix(href, "http://"), strings.HasPrefix(href, "https://"):
		return "/vsicurl/" + href
	case strings.HasPrefix(href, "s3://"):
		return "/vsis3/" + strings.TrimPrefix(href, "s3://")
	case strings.HasPrefix(href, "gs://"):
		return "/vsigs/" + strings.TrimPrefix(href, "gs://")
	}
	return href
}

// SourceHost names the host or bucket a source is served from. Breakers
// are kept per host.
func SourceHost(href string) string {
	u, err := url.Parse(href)
	if err != nil || len(u.Host) == 0 {
		return "local"
	}
	return strings.ToLower(u.Host)
}

func isPublicBucket(href string, buckets []string) bool {
	if !strings.HasPrefix(href, "s3://") {
		return false
	}
	bucket := strings.SplitN(strings.TrimPrefix(href, "s3://"), "/", 2)[0]
	for _, b := range buckets {
		if strings.EqualFold(b, bucket) {
			return true
		}
	}
	return false
}
