package ingest

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/radiance-data/radiancefleet/internal/db"
	"github.com/radiance-data/radiancefleet/internal/fsutil"
	"github.com/radiance-data/radiancefleet/internal/httputil"
	"github.com/radiance-data/radiancefleet/internal/monitoring"
	"github.com/radiance-data/radiancefleet/internal/timeutil"
)

// Watchlist source names. The source tags rows in watchlist_entries and keys
// the download metadata.
const (
	SourceOFAC          = "ofac"
	SourceOpenSanctions = "opensanctions"
	SourceFleetLeaks    = "fleetleaks"
	SourceGUR           = "gur"
)

// Feed describes one downloadable watchlist.
type Feed struct {
	Source   string
	URL      string
	Filename string
	Validate func(data []byte) error
	Parse    func(data []byte) ([]*db.WatchlistEntry, error)
}

// FeedMeta is the per-feed conditional-fetch state.
type FeedMeta struct {
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

const metaFilename = "feeds.meta.json"

// Downloader fetches watchlist feeds to disk and loads them into the store.
type Downloader struct {
	Client httputil.HTTPClient
	FS     fsutil.FileSystem
	Clock  timeutil.Clock
	Store  *db.Store
	Dir    string
}

// NewDownloader creates a Downloader with production seams.
func NewDownloader(store *db.Store, dir string) *Downloader {
	return &Downloader{
		Client: httputil.NewStandardClient(&http.Client{Timeout: 30 * time.Second}),
		FS:     fsutil.OSFileSystem{},
		Clock:  timeutil.RealClock{},
		Store:  store,
		Dir:    dir,
	}
}

// DefaultFeeds returns the standard four watchlist feeds.
func DefaultFeeds(ofacURL, openSanctionsURL, fleetLeaksURL, gurURL string) []Feed {
	return []Feed{
		{SourceOFAC, ofacURL, "ofac_sdn.csv", ValidateOFACCSV, ParseOFACCSV},
		{SourceOpenSanctions, openSanctionsURL, "opensanctions.json", ValidateOpenSanctionsJSON, ParseOpenSanctionsJSON},
		{SourceFleetLeaks, fleetLeaksURL, "fleetleaks.json", ValidateFleetLeaksJSON, ParseFleetLeaksJSON},
		{SourceGUR, gurURL, "gur.csv", ValidateGURCSV, ParseGURCSV},
	}
}

// FetchAll downloads every feed, loading each validated file into the store.
// The metadata file is rewritten only after the whole batch; a feed that
// fails leaves its previous copy and metadata untouched.
func (d *Downloader) FetchAll(ctx context.Context, feeds []Feed) error {
	meta := d.readMeta()

	var firstErr error
	for _, feed := range feeds {
		if err := d.fetchOne(ctx, feed, meta); err != nil {
			monitoring.Logf("downloader: %s: %v", feed.Source, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if err := d.writeMeta(meta); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (d *Downloader) fetchOne(ctx context.Context, feed Feed, meta map[string]*FeedMeta) error {
	prev := meta[feed.Source]

	resp, err := fetchWithRetry(ctx, d.Client, d.Clock, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, feed.URL, nil)
		if err != nil {
			return nil, err
		}
		if prev != nil {
			if prev.ETag != "" {
				req.Header.Set("If-None-Match", prev.ETag)
			}
			if prev.LastModified != "" {
				req.Header.Set("If-Modified-Since", prev.LastModified)
			}
		}
		return req, nil
	}, nil)
	if err != nil {
		return err
	}
	defer httputil.DrainAndClose(resp)

	if resp.StatusCode == http.StatusNotModified {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return &FeedError{URL: feed.URL, Status: resp.StatusCode, Attempts: 1}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", feed.Source, err)
	}

	// A corrupted download must never replace the prior copy.
	if err := feed.Validate(data); err != nil {
		return fmt.Errorf("validate %s: %w", feed.Source, err)
	}

	path := filepath.Join(d.Dir, feed.Filename)
	if err := fsutil.WriteFileAtomic(d.FS, path, data, 0644); err != nil {
		return err
	}

	entries, err := feed.Parse(data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", feed.Source, err)
	}
	if err := d.Store.ReplaceWatchlist(ctx, feed.Source, entries); err != nil {
		return fmt.Errorf("load %s: %w", feed.Source, err)
	}

	meta[feed.Source] = &FeedMeta{
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		DownloadedAt: d.Clock.Now().UTC(),
	}
	return nil
}

func (d *Downloader) readMeta() map[string]*FeedMeta {
	meta := map[string]*FeedMeta{}
	data, err := d.FS.ReadFile(filepath.Join(d.Dir, metaFilename))
	if err != nil {
		return meta
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		monitoring.Logf("downloader: corrupt metadata file, refetching all: %v", err)
		return map[string]*FeedMeta{}
	}
	return meta
}

func (d *Downloader) writeMeta(meta map[string]*FeedMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(d.FS, filepath.Join(d.Dir, metaFilename), data, 0644)
}

// ValidateOFACCSV checks the SDN header for the required columns.
func ValidateOFACCSV(data []byte) error {
	header, err := csvHeader(data)
	if err != nil {
		return err
	}
	if !containsColumn(header, "ent_num") || !containsColumn(header, "SDN_TYPE") {
		return fmt.Errorf("missing ent_num or SDN_TYPE column")
	}
	return nil
}

// ParseOFACCSV extracts vessel-type SDN rows.
func ParseOFACCSV(data []byte) ([]*db.WatchlistEntry, error) {
	r := csv.NewReader(strings.NewReader(string(data)))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty file")
	}

	idx := columnIndex(rows[0])
	nameIdx, typeIdx := idx["SDN_NAME"], idx["SDN_TYPE"]

	var out []*db.WatchlistEntry
	for _, row := range rows[1:] {
		if typeIdx >= len(row) || !strings.EqualFold(row[typeIdx], "vessel") {
			continue
		}
		e := &db.WatchlistEntry{}
		if nameIdx < len(row) && row[nameIdx] != "" {
			name := row[nameIdx]
			e.Name = &name
		}
		out = append(out, e)
	}
	return out, nil
}

// ValidateOpenSanctionsJSON requires a JSON array with at least one element
// carrying a schema field.
func ValidateOpenSanctionsJSON(data []byte) error {
	var arr []map[string]any
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("not a JSON array: %w", err)
	}
	for _, el := range arr {
		if _, ok := el["schema"]; ok {
			return nil
		}
	}
	return fmt.Errorf("no element has a schema field")
}

// ParseOpenSanctionsJSON extracts Vessel-schema entities.
func ParseOpenSanctionsJSON(data []byte) ([]*db.WatchlistEntry, error) {
	var arr []struct {
		Schema     string `json:"schema"`
		Caption    string `json:"caption"`
		Properties struct {
			MMSI      []string `json:"mmsiNumber"`
			IMO       []string `json:"imoNumber"`
			Flag      []string `json:"flag"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(data, &arr); err != nil {
		return nil, err
	}

	var out []*db.WatchlistEntry
	for _, el := range arr {
		if el.Schema != "Vessel" {
			continue
		}
		e := &db.WatchlistEntry{}
		if el.Caption != "" {
			name := el.Caption
			e.Name = &name
		}
		if len(el.Properties.MMSI) > 0 {
			e.MMSI = &el.Properties.MMSI[0]
		}
		if len(el.Properties.IMO) > 0 {
			e.IMO = &el.Properties.IMO[0]
		}
		if len(el.Properties.Flag) > 0 {
			e.Flag = &el.Properties.Flag[0]
		}
		out = append(out, e)
	}
	return out, nil
}

type fleetLeaksEntry struct {
	Name string `json:"name"`
	MMSI string `json:"mmsi"`
	IMO  string `json:"imo"`
	Flag string `json:"flag"`
}

// ValidateFleetLeaksJSON requires a JSON array of objects.
func ValidateFleetLeaksJSON(data []byte) error {
	var arr []fleetLeaksEntry
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("not a JSON array: %w", err)
	}
	return nil
}

// ParseFleetLeaksJSON maps the flat array form.
func ParseFleetLeaksJSON(data []byte) ([]*db.WatchlistEntry, error) {
	var arr []fleetLeaksEntry
	if err := json.Unmarshal(data, &arr); err != nil {
		return nil, err
	}
	var out []*db.WatchlistEntry
	for _, el := range arr {
		out = append(out, watchlistEntry(el.Name, el.MMSI, el.IMO, el.Flag))
	}
	return out, nil
}

// ValidateGURCSV checks the header columns.
func ValidateGURCSV(data []byte) error {
	header, err := csvHeader(data)
	if err != nil {
		return err
	}
	for _, col := range []string{"name", "mmsi", "imo", "flag"} {
		if !containsColumn(header, col) {
			return fmt.Errorf("missing %s column", col)
		}
	}
	return nil
}

// ParseGURCSV maps the flat CSV form.
func ParseGURCSV(data []byte) ([]*db.WatchlistEntry, error) {
	r := csv.NewReader(strings.NewReader(string(data)))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty file")
	}

	idx := columnIndex(rows[0])
	var out []*db.WatchlistEntry
	for _, row := range rows[1:] {
		get := func(col string) string {
			i, ok := idx[col]
			if !ok || i >= len(row) {
				return ""
			}
			return row[i]
		}
		out = append(out, watchlistEntry(get("name"), get("mmsi"), get("imo"), get("flag")))
	}
	return out, nil
}

func watchlistEntry(name, mmsi, imo, flag string) *db.WatchlistEntry {
	e := &db.WatchlistEntry{}
	if name != "" {
		e.Name = &name
	}
	if mmsi != "" {
		if n, err := NormalizeMMSI(mmsi); err == nil {
			e.MMSI = &n
		} else {
			e.MMSI = &mmsi
		}
	}
	if imo != "" {
		e.IMO = &imo
	}
	if flag != "" {
		e.Flag = &flag
	}
	return e
}

func csvHeader(data []byte) ([]string, error) {
	r := csv.NewReader(strings.NewReader(string(data)))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("unreadable CSV header: %w", err)
	}
	return header, nil
}

func containsColumn(header []string, col string) bool {
	for _, h := range header {
		if strings.TrimSpace(h) == col {
			return true
		}
	}
	return false
}

func columnIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	return idx
}
