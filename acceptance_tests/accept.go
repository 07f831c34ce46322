package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/nci/satgate/jobs"
	proc "github.com/nci/satgate/processor"
)

var healthz = "http://%s/healthz"
var tileJSON = "http://%s/tiles/%s/tilejson.json"
var search = "http://%s/search?collections=sentinel-2-l2a&bbox=130,-30,131,-29&limit=5"
var passed = "Passed"
var failed = "Failed"

func Get(host, req string, args ...interface{}) bool {
	resp, err := http.Get(fmt.Sprintf(req, append([]interface{}{host}, args...)...))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// ReadURLs reads the tile urls listed in path, one per line with a %s for
// the host.
func ReadURLs(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		urls = append(urls, scanner.Text())
	}
	return urls
}

type tileJSONDoc struct {
	Bounds []float64 `json:"bounds"`
}

// SceneURLs lists up to limit tiles at zoom z covering the bounds the
// gateway reports for scene.
func SceneURLs(host, scene string, z, limit int) []string {
	resp, err := http.Get(fmt.Sprintf(tileJSON, host, scene))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()
	var doc tileJSONDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil || len(doc.Bounds) != 4 {
		return nil
	}

	var urls []string
	bbox := [4]float64{doc.Bounds[0], doc.Bounds[1], doc.Bounds[2], doc.Bounds[3]}
	for _, addr := range proc.CoveringTiles(bbox, z, limit) {
		urls = append(urls, fmt.Sprintf("http://%%s/tiles/%s/%d/%d/%d.png", scene, addr.Z, addr.X, addr.Y))
	}
	return urls
}

// Tiles requests every url and expects 200 for all of them.
func Tiles(host string, urls []string, concLevel int) (bool, time.Duration) {
	out := true
	start := time.Now()

	conc := proc.NewConcLimiter(concLevel)
	results := make(chan int)
	done := make(chan struct{})
	go func() {
		for res := range results {
			if res != http.StatusOK {
				out = false
			}
		}
		close(done)
	}()

	for _, u := range urls {
		conc.Increase()
		go func(url string) {
			defer conc.Decrease()
			resp, err := http.Get(fmt.Sprintf(url, host))
			if err != nil {
				log.Fatal(err)
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			results <- resp.StatusCode
		}(u)
	}

	conc.Wait()
	close(results)
	<-done

	return out, time.Since(start)
}

type jobStatus struct {
	JobID  string      `json:"job_id"`
	Status jobs.Status `json:"status"`
	Error  string      `json:"error"`
}

// Job submits the aggregate request in payloadPath and polls it until it
// settles or timeout passes.
func Job(host, payloadPath string, timeout time.Duration) (bool, time.Duration) {
	start := time.Now()
	payload, err := os.ReadFile(payloadPath)
	if err != nil {
		log.Fatal(err)
	}

	resp, err := http.Post(fmt.Sprintf("http://%s/jobs/aggregate", host), "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Fatal(err)
	}
	var st jobStatus
	err = json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	if err != nil || resp.StatusCode != http.StatusAccepted {
		return false, time.Since(start)
	}

	for time.Since(start) < timeout {
		time.Sleep(2 * time.Second)
		resp, err := http.Get(fmt.Sprintf("http://%s/jobs/%s", host, st.JobID))
		if err != nil {
			log.Fatal(err)
		}
		err = json.NewDecoder(resp.Body).Decode(&st)
		resp.Body.Close()
		if err != nil {
			return false, time.Since(start)
		}
		switch st.Status {
		case jobs.StatusCompleted, jobs.StatusPartial:
			return true, time.Since(start)
		case jobs.StatusFailed, jobs.StatusCancelled:
			fmt.Println(st.Error)
			return false, time.Since(start)
		}
	}
	return false, time.Since(start)
}

func inRed(str string) string {
	return fmt.Sprintf("\x1b[31;1m%s\x1b[0m", str)
}

func inGreen(str string) string {
	return fmt.Sprintf("\x1b[32;1m%s\x1b[0m", str)
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

func check(name string, ok bool) {
	fmt.Printf("Testing %s: ", name)
	if !ok {
		fmt.Println(failed)
		os.Exit(1)
	}
	fmt.Println(passed)
}

func main() {
	host := flag.String("h", "localhost:8080", "gateway host name or address")
	suite := flag.String("s", "tiles", "Test suite [tiles, jobs]")
	scene := flag.String("scene", "S2B_53HPA_20240105_0_L2A", "scene used for tilejson")
	conc := flag.Int("n", 6, "Concurrency level for acceptance tests")
	flag.Parse()

	if isTerminal(os.Stdout) {
		passed = inGreen(passed)
		failed = inRed(failed)
	}

	check("health", Get(*host, healthz))

	switch *suite {
	case "tiles":
		check("tilejson", Get(*host, tileJSON, *scene))
		check("search", Get(*host, search))

		urls := ReadURLs("acpt_tiles.tpl")
		urls = append(urls, SceneURLs(*host, *scene, 11, 20)...)
		fmt.Printf("Testing %d tiles: ", len(urls))
		ok, t := Tiles(*host, urls, *conc)
		if !ok {
			fmt.Println(failed)
			os.Exit(1)
		}
		fmt.Println(passed, t)
	case "jobs":
		fmt.Printf("Testing aggregate job: ")
		ok, t := Job(*host, "job_requests/aggregate.json", 10*time.Minute)
		if !ok {
			fmt.Println(failed)
			os.Exit(1)
		}
		fmt.Println(passed, t)
	}
}
