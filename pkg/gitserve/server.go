// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package gitserve is the Smart HTTP front door (spec.md §6): it multiplexes
// a repository path to its coordinator.Coordinator and runs the three wire
// endpoints through modules/gitwire. Routing and the Server/ServerConfig
// lifecycle are carried over from pkg/serve/httpserver/server.go's
// mux.Router + http.Server composition, generalized from that package's
// Zeta-protocol routes to the Git Smart HTTP surface this spec targets
// (DESIGN.md).
package gitserve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/antgroup/zeta-edge/config"
	"github.com/antgroup/zeta-edge/modules/coordinator"
	"github.com/antgroup/zeta-edge/modules/gitwire"
	"github.com/antgroup/zeta-edge/modules/object"
	"github.com/antgroup/zeta-edge/modules/pack"
	"github.com/antgroup/zeta-edge/modules/plumbing"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Opener resolves a repository path to its coordinator, opening and
// registering it on first use (the HTTP-layer side of C12's namespace
// init). One process may serve many repos; each repo's coordinator
// enforces the single-writer model internally.
type Opener interface {
	Open(ctx context.Context, namespace string) (*coordinator.Coordinator, error)
}

// Server is the Smart HTTP server: GET info/refs, POST git-upload-pack,
// POST git-receive-pack, plus the JSON operational endpoints spec.md §6
// names as present but out-of-scope for the core.
type Server struct {
	*ServerConfig
	srv    *http.Server
	r      *mux.Router
	opener Opener
}

// ServerConfig mirrors pkg/serve/httpserver.ServerConfig's shape, trimmed to
// what the Git wire surface needs.
type ServerConfig struct {
	Listen        string
	IdleTimeout   time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	BannerVersion string
}

// FromConfig derives a ServerConfig from the ambient config.Config.
func FromConfig(c *config.Config) *ServerConfig {
	idle := 5 * time.Minute
	listen := "127.0.0.1:21000"
	if c != nil {
		if c.IdleTimeout.Duration > 0 {
			idle = c.IdleTimeout.Duration
		}
		if c.Listen != "" {
			listen = c.Listen
		}
	}
	return &ServerConfig{
		Listen:        listen,
		IdleTimeout:   idle,
		ReadTimeout:   2 * time.Hour,
		WriteTimeout:  2 * time.Hour,
		BannerVersion: "zeta-edge",
	}
}

func NewServer(sc *ServerConfig, opener Opener) (*Server, error) {
	if opener == nil {
		return nil, errors.New("gitserve: nil opener")
	}
	s := &Server{
		ServerConfig: sc,
		opener:       opener,
		srv: &http.Server{
			Addr:         sc.Listen,
			IdleTimeout:  sc.IdleTimeout,
			ReadTimeout:  sc.ReadTimeout,
			WriteTimeout: sc.WriteTimeout,
		},
	}
	s.initialize()
	return s, nil
}

func (s *Server) initialize() {
	r := mux.NewRouter().UseEncodedPath()
	r.HandleFunc("/{namespace:.*}/info/refs", s.infoRefs).Methods("GET")
	r.HandleFunc("/{namespace:.*}/git-upload-pack", s.uploadPack).Methods("POST")
	r.HandleFunc("/{namespace:.*}/git-receive-pack", s.receivePack).Methods("POST")
	r.HandleFunc("/health", s.health).Methods("GET")
	r.HandleFunc("/info", s.info).Methods("GET")
	r.HandleFunc("/sync", s.notImplemented).Methods("POST")
	r.HandleFunc("/export", s.notImplemented).Methods("POST")
	r.HandleFunc("/fork", s.notImplemented).Methods("POST")
	s.r = r
	s.srv.Handler = s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.r.ServeHTTP(w, r) }

func (s *Server) ListenAndServe() error { return s.srv.ListenAndServe() }

func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) info(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"server":%q}`, s.BannerVersion)
}

func (s *Server) notImplemented(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNotImplemented)
}

func (s *Server) infoRefs(w http.ResponseWriter, r *http.Request) {
	namespace := mux.Vars(r)["namespace"]
	service := r.URL.Query().Get("service")
	if service != "git-upload-pack" && service != "git-receive-pack" {
		http.Error(w, "unsupported service", http.StatusBadRequest)
		return
	}

	co, err := s.opener.Open(r.Context(), namespace)
	if err != nil {
		renderStorageError(w, err)
		return
	}

	w.Header().Set("Content-Type", fmt.Sprintf("application/x-%s-advertisement", service))
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	caps := gitwire.UploadPackCapabilities
	if service == "git-receive-pack" {
		caps = gitwire.ReceivePackCapabilities
	}
	if err := gitwire.AdvertiseRefs(r.Context(), w, service, co.Refs(), caps); err != nil {
		logrus.Errorf("gitserve: advertise refs %s: %v", namespace, err)
	}
}

func (s *Server) uploadPack(w http.ResponseWriter, r *http.Request) {
	namespace := mux.Vars(r)["namespace"]
	co, err := s.opener.Open(r.Context(), namespace)
	if err != nil {
		renderStorageError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-git-upload-pack-result")
	w.WriteHeader(http.StatusOK)
	if err := gitwire.UploadPack(r.Context(), r.Body, w, co.Store()); err != nil {
		var unknownWant *gitwire.ErrUnknownWant
		if errors.As(err, &unknownWant) {
			logrus.Errorf("gitserve: %s: %v", namespace, err)
			return
		}
		logrus.Errorf("gitserve: upload-pack %s: %v", namespace, err)
	}
}

func (s *Server) receivePack(w http.ResponseWriter, r *http.Request) {
	namespace := mux.Vars(r)["namespace"]
	co, err := s.opener.Open(r.Context(), namespace)
	if err != nil {
		renderStorageError(w, err)
		return
	}

	var orphansMu sync.Mutex
	var orphans []plumbing.Hash
	txn := co.NewTxn(func(shas []plumbing.Hash) {
		orphansMu.Lock()
		orphans = append(orphans, shas...)
		orphansMu.Unlock()
	})

	w.Header().Set("Content-Type", "application/x-git-receive-pack-result")
	w.WriteHeader(http.StatusOK)
	resolver := &storeResolver{ctx: r.Context(), store: co.Store()}
	if err := gitwire.ReceivePack(r.Context(), r.Body, w, txn, resolver); err != nil {
		logrus.Errorf("gitserve: receive-pack %s: %v", namespace, err)
	}
}

// storeResolver adapts cas.Store.Get to pack.BaseResolver, so pack.Unpack
// can resolve REF_DELTA bases directly against already-committed objects
// without re-decoding the current pack's own preceding entries twice.
type storeResolver struct {
	ctx   context.Context
	store interface {
		Get(ctx context.Context, sha plumbing.Hash) ([]byte, string, error)
	}
}

func (r *storeResolver) ResolveBase(sha plumbing.Hash) (objType int, body []byte, err error) {
	body, typeName, err := r.store.Get(r.ctx, sha)
	if err != nil {
		return 0, nil, err
	}
	return int(object.ObjectTypeFromString(typeName)), body, nil
}

var _ pack.BaseResolver = (*storeResolver)(nil)

func renderStorageError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
