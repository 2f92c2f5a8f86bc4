package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-logr/logr"

	"github.com/kwv/recicla/waste"
)

const maxUploadBytes = 10 << 20

// serverDeps are the components the HTTP surface reads from. Publisher and
// Refresher are optional.
type serverDeps struct {
	Locator    *waste.Locator
	Client     *waste.GeoFilterClient
	Catalog    *waste.Catalog
	Renderer   *waste.MapRenderer
	Classifier *waste.Classifier
	Publisher  *waste.Publisher
	Refresher  *waste.Refresher
	Owner      string
	Log        logr.Logger
}

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(d serverDeps) http.Handler {
	mux := http.NewServeMux()
	log := d.Log

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := struct {
			Status      string     `json:"status"`
			Timestamp   time.Time  `json:"timestamp"`
			Version     string     `json:"version"`
			Owner       string     `json:"owner,omitempty"`
			Classifier  string     `json:"classifier"`
			LastRefresh *time.Time `json:"lastRefresh,omitempty"`
			RefreshErr  string     `json:"refreshError,omitempty"`
		}{
			Status:     "ok",
			Timestamp:  time.Now(),
			Version:    Version,
			Owner:      d.Owner,
			Classifier: d.Classifier.Status(),
		}
		if d.Refresher != nil {
			if at, err := d.Refresher.Status(); !at.IsZero() {
				status.LastRefresh = &at
				if err != nil {
					status.RefreshErr = err.Error()
				}
			}
		}
		writeJSON(w, log, http.StatusOK, status)
	})

	// Neighborhood names, or the full boundaries with ?format=geojson
	mux.HandleFunc("/api/neighborhoods", func(w http.ResponseWriter, r *http.Request) {
		ns := d.Locator.Neighborhoods(r.Context())
		if r.URL.Query().Get("format") == "geojson" {
			writeJSON(w, log, http.StatusOK, waste.NeighborhoodCollection(ns))
			return
		}
		names := make([]string, 0, len(ns))
		for _, n := range ns {
			names = append(names, n.Name)
		}
		writeJSON(w, log, http.StatusOK, names)
	})

	mux.HandleFunc("/api/waste-types", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, log, http.StatusOK, struct {
			Types  []waste.WasteType    `json:"types"`
			Groups []waste.DatasetGroup `json:"groups"`
		}{
			Types:  d.Catalog.Entries(),
			Groups: d.Locator.Groups(),
		})
	})

	mux.HandleFunc("/api/containers", func(w http.ResponseWriter, r *http.Request) {
		res, ok := lookup(w, r, d)
		if !ok {
			return
		}
		writeJSON(w, log, http.StatusOK, res)
	})

	mux.HandleFunc("/api/containers.geojson", func(w http.ResponseWriter, r *http.Request) {
		res, ok := lookup(w, r, d)
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		if err := json.NewEncoder(w).Encode(res.View.FeatureCollection()); err != nil {
			log.Error(err, "encoding containers geojson")
		}
	})

	mux.HandleFunc("/map.svg", func(w http.ResponseWriter, r *http.Request) {
		res, ok := lookup(w, r, d)
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := d.Renderer.RenderSVG(w, res.View); err != nil {
			log.Error(err, "rendering map SVG")
		}
	})

	mux.HandleFunc("/map.png", func(w http.ResponseWriter, r *http.Request) {
		res, ok := lookup(w, r, d)
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := d.Renderer.RenderPNG(w, res.View); err != nil {
			log.Error(err, "rendering map PNG")
		}
	})

	mux.HandleFunc("/api/classify", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		data, err := readUpload(w, r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		res, err := d.Classifier.ClassifyBytes(r.Context(), data)
		switch {
		case errors.Is(err, waste.ErrClassifierUnavailable):
			http.Error(w, "Classifier unavailable", http.StatusServiceUnavailable)
			return
		case errors.Is(err, waste.ErrEmptyImage), errors.Is(err, waste.ErrUnsupportedImage):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		case err != nil:
			log.Error(err, "classification failed")
			http.Error(w, "Classification failed", http.StatusInternalServerError)
			return
		}

		if d.Publisher != nil {
			if err := d.Publisher.PublishClassification(res); err != nil {
				log.V(1).Info("classification not published", "error", err.Error())
			}
		}
		writeJSON(w, log, http.StatusOK, res)
	})

	// Default route serves an HTML page with the selectors and the map
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = fmt.Fprint(w, indexHTML)
	})

	// Wrap mux with logging middleware
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.V(1).Info("request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		mux.ServeHTTP(w, r)
	})
}

// lookup resolves the neighborhood/group/type query and writes the error
// response itself when it fails.
func lookup(w http.ResponseWriter, r *http.Request, d serverDeps) (waste.LookupResult, bool) {
	q := r.URL.Query()
	name := q.Get("neighborhood")
	if name == "" {
		http.Error(w, "missing neighborhood parameter", http.StatusBadRequest)
		return waste.LookupResult{}, false
	}
	group := q.Get("group")
	if group == "" {
		group = "solid"
	}

	res, err := d.Locator.Lookup(r.Context(), name, group, q.Get("type"))
	switch {
	case errors.Is(err, waste.ErrUnknownGroup):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return res, false
	case errors.Is(err, waste.ErrUnknownNeighborhood):
		http.Error(w, err.Error(), http.StatusNotFound)
		return res, false
	case err != nil:
		d.Log.Error(err, "lookup failed", "neighborhood", name)
		http.Error(w, "Open data source unavailable", http.StatusServiceUnavailable)
		return res, false
	}

	if d.Publisher != nil {
		if err := d.Publisher.PublishLookup(res); err != nil {
			d.Log.V(1).Info("lookup not published", "error", err.Error())
		}
	}
	return res, true
}

func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, fmt.Errorf("invalid multipart upload: %w", err)
	}
	f, _, err := r.FormFile("image")
	if err != nil {
		return nil, fmt.Errorf("missing image field")
	}
	defer f.Close()
	return io.ReadAll(f)
}

func writeJSON(w http.ResponseWriter, log logr.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error(err, "encoding response")
	}
}

const indexHTML = `<!DOCTYPE html>
<html lang="es">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>recicla</title>
<style>
*{margin:0;padding:0;box-sizing:border-box}
body{font-family:sans-serif;background:#f4f4f4}
form{padding:8px;display:flex;gap:8px;flex-wrap:wrap}
img{display:block;width:100vw;height:calc(100vh - 48px);object-fit:contain}
</style>
</head>
<body>
<form onsubmit="show();return false">
<select id="n"></select>
<select id="g"><option value="solid">solid</option><option value="other">other</option></select>
<select id="t"><option>All</option></select>
<button>Show</button>
</form>
<img id="map" alt="Container map">
<script>
fetch('/api/neighborhoods').then(r=>r.json()).then(ns=>{
  const s=document.getElementById('n');
  ns.forEach(n=>{const o=document.createElement('option');o.textContent=n;s.appendChild(o)});
});
fetch('/api/waste-types').then(r=>r.json()).then(c=>{
  const s=document.getElementById('t');
  c.types.forEach(t=>{const o=document.createElement('option');o.textContent=t.name;s.appendChild(o)});
});
function show(){
  const q=new URLSearchParams({neighborhood:n.value,group:g.value,type:t.value});
  document.getElementById('map').src='/map.svg?'+q;
}
</script>
</body>
</html>`
