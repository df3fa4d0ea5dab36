package objstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ipfs/go-cid"
	"github.com/rs/cors"
)

// Server exposes a minimal IPFS-compatible HTTP surface over a Store:
// /api/v0/add, /api/v0/cat and /api/v0/object/stat. Enough for client
// tooling to stage deal payloads against the simulator.
type Server struct {
	store Store
	srv   *http.Server
	ln    net.Listener
}

func NewServer(store Store) *Server {
	return &Server{store: store}
}

// Start begins serving on addr. It returns once the listener is bound.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v0/add", s.handleAdd)
	mux.HandleFunc("/api/v0/cat", s.handleCat)
	mux.HandleFunc("/api/v0/object/stat", s.handleStat)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.srv = &http.Server{Handler: cors.Default().Handler(mux)}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Object store server failed", "err", err)
		}
	}()
	log.Info("Object store server started", "addr", ln.Addr())
	return nil
}

// Addr reports the bound listen address, nil before Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop shuts the server down, draining in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c, err := s.store.Put(r.Context(), data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"Hash": c.String(), "Size": len(data)})
}

func (s *Server) handleCat(w http.ResponseWriter, r *http.Request) {
	c, ok := argCid(w, r)
	if !ok {
		return
	}
	rd, err := s.store.Read(r.Context(), c)
	if err != nil {
		httpStoreError(w, err)
		return
	}
	defer rd.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, rd); err != nil {
		log.Debug("Object cat aborted", "cid", c, "err", err)
	}
}

func (s *Server) handleStat(w http.ResponseWriter, r *http.Request) {
	c, ok := argCid(w, r)
	if !ok {
		return
	}
	st, err := s.store.Stat(r.Context(), c)
	if err != nil {
		httpStoreError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"Hash": c.String(), "Size": st.Size})
}

func argCid(w http.ResponseWriter, r *http.Request) (cid.Cid, bool) {
	c, err := cid.Decode(r.URL.Query().Get("arg"))
	if err != nil {
		http.Error(w, "invalid cid argument", http.StatusBadRequest)
		return cid.Undef, false
	}
	return c, true
}

func httpStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("Object store response write failed", "err", err)
	}
}
