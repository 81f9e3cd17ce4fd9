package landmarkfeed

import (
	"encoding/json"
	"fmt"
	"net/http"

	"tailscale.com/tsweb"
)

// AttachAdminRoutes attaches feed debugging endpoints to the given HTTP mux
// served at /debug/: frame counters and a server-sent-event tail of the raw
// lines read from the source.
func (f *Feed) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.KVFunc("landmark frames", func() any { return f.Stats().Frames })
	debug.KVFunc("landmark parse errors", func() any { return f.Stats().ParseErrors })

	debug.HandleFunc("feed", "latest landmark frame", func(w http.ResponseWriter, r *http.Request) {
		frame, ok := f.Latest()
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.Write([]byte("null\n"))
			return
		}
		json.NewEncoder(w).Encode(struct {
			Seq   uint64 `json:"seq"`
			Line  string `json:"line"`
			Stats Stats  `json:"stats"`
		}{frame.Seq, string(EncodeFrame(frame)), f.Stats()})
	})

	// Server-Sent Events stream of raw feed lines.
	debug.HandleSilentFunc("feed-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := f.Subscribe()
		defer f.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
