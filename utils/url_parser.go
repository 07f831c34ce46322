package utils

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ParseQuery is url.ParseQuery with lower cased keys and "\&" accepted as
// an escaped ampersand inside values, which lets COG urls be passed
// unencoded as the url parameter.
func ParseQuery(query string) (m url.Values, err error) {
	m = make(url.Values)
	for query != "" {
		key := query
		iSep := -1
		for i := 0; i < len(key); i++ {
			if key[i] == '&' {
				if i > 0 && key[i-1] == '\\' {
					continue
				}
				iSep = i
				break
			}
		}
		if iSep >= 0 {
			key, query = key[:iSep], key[iSep+1:]
		} else {
			query = ""
		}
		if key == "" {
			continue
		}
		value := ""
		if i := strings.Index(key, "="); i >= 0 {
			key, value = key[:i], key[i+1:]
			value = strings.Replace(value, "\\&", "&", -1)
		}
		key, err1 := url.QueryUnescape(key)
		if err1 != nil {
			if err == nil {
				err = err1
			}
			continue
		}
		key = strings.ToLower(key)

		value, err1 = url.QueryUnescape(value)
		if err1 != nil {
			if err == nil {
				err = err1
			}
			continue
		}

		m[key] = append(m[key], value)
	}
	return m, err
}

// ParseTileAddress validates the z/x/y path segments of a tile request.
// The y segment may carry a format suffix such as ".png".
func ParseTileAddress(z, x, y string) (TileAddress, error) {
	if i := strings.IndexByte(y, '.'); i >= 0 {
		y = y[:i]
	}
	zi, err := strconv.Atoi(z)
	if err != nil {
		return TileAddress{}, fmt.Errorf("invalid zoom %q", z)
	}
	xi, err := strconv.Atoi(x)
	if err != nil {
		return TileAddress{}, fmt.Errorf("invalid tile column %q", x)
	}
	yi, err := strconv.Atoi(y)
	if err != nil {
		return TileAddress{}, fmt.Errorf("invalid tile row %q", y)
	}
	addr := TileAddress{Z: zi, X: xi, Y: yi}
	if !addr.Valid() {
		return TileAddress{}, fmt.Errorf("tile %s out of range", addr)
	}
	return addr, nil
}

// ParseList splits a comma separated parameter, dropping empty items.
func ParseList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if len(p) > 0 {
			out = append(out, p)
		}
	}
	return out
}

// ParseBandIndexes reads 1-based band indexes of a single COG.
func ParseBandIndexes(s string) ([]int, error) {
	var out []int
	for _, p := range ParseList(s) {
		i, err := strconv.Atoi(p)
		if err != nil || i < 1 {
			return nil, fmt.Errorf("invalid band index %q", p)
		}
		out = append(out, i)
	}
	return out, nil
}

// ParseBBox reads minx,miny,maxx,maxy.
func ParseBBox(s string) ([]float64, error) {
	parts := ParseList(s)
	if len(parts) != 4 {
		return nil, fmt.Errorf("bbox needs 4 values, got %d", len(parts))
	}
	out := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid bbox value %q", p)
		}
		out[i] = v
	}
	if out[0] > out[2] || out[1] > out[3] {
		return nil, fmt.Errorf("bbox min exceeds max")
	}
	return out, nil
}

// ParseRemoteAddr prefers the first X-Forwarded-For hop.
func ParseRemoteAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); len(fwd) > 0 {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return r.RemoteAddr
}
