package gdalprocess

import (
	"os"
	"sync"

	"github.com/airbusgeo/godal"
)

var initOnce sync.Once

// InitGdal registers the GDAL drivers and sets the configuration defaults
// suited to reading cloud optimised GeoTIFFs over HTTP. Variables already
// present in the environment win.
func InitGdal() {
	initOnce.Do(func() {
		setDefaultEnv("GDAL_PAM_ENABLED", "NO")
		setDefaultEnv("GDAL_DISABLE_READDIR_ON_OPEN", "EMPTY_DIR")
		setDefaultEnv("CPL_VSIL_CURL_ALLOWED_EXTENSIONS", ".tif,.TIF,.tiff,.jp2")
		setDefaultEnv("GDAL_HTTP_MERGE_CONSECUTIVE_RANGES", "YES")
		setDefaultEnv("GDAL_HTTP_MULTIPLEX", "YES")
		setDefaultEnv("GDAL_HTTP_MAX_RETRY", "3")
		setDefaultEnv("VSI_CACHE", "TRUE")
		setDefaultEnv("GDAL_MAX_DATASET_POOL_SIZE", "10")

		godal.RegisterAll()
	})
}

func setDefaultEnv(envVar string, defaultVal string) {
	if _, ok := os.LookupEnv(envVar); !ok {
		os.Setenv(envVar, defaultVal)
	}
}
