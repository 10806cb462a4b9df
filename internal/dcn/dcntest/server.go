// Package dcntest runs an in-memory DCN service for tests.
package dcntest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/kingrea/dcnsuite/internal/dcn"
)

// ExecuteFunc produces the /execute response for a registered particle.
type ExecuteFunc func(req dcn.ExecuteRequest) (status int, body any)

// Server is a fake DCN deployment backed by httptest.
type Server struct {
	srv *httptest.Server

	mu              sync.Mutex
	nonce           int
	tokens          map[string]bool
	transformations map[string]string
	features        map[string]dcn.Feature
	particles       map[string]dcn.Particle
	calls           map[string]int
	forced          map[string]int
	execute         ExecuteFunc
}

// NewServer starts a server that already knows the required transformations.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		tokens:          make(map[string]bool),
		transformations: make(map[string]string),
		features:        make(map[string]dcn.Feature),
		particles:       make(map[string]dcn.Particle),
		calls:           make(map[string]int),
		forced:          make(map[string]int),
		execute:         DefaultExecute,
	}
	for name, src := range dcn.RequiredTransformations {
		s.transformations[name] = src
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

// URL is the base URL of the server.
func (s *Server) URL() string { return s.srv.URL }

// RemoveTransformation makes a required transformation missing.
func (s *Server) RemoveTransformation(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transformations, name)
}

// HasTransformation reports whether the server knows name.
func (s *Server) HasTransformation(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.transformations[name]
	return ok
}

// Feature returns a registered feature.
func (s *Server) Feature(name string) (dcn.Feature, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.features[name]
	return f, ok
}

// Force makes every request to path answer with status.
func (s *Server) Force(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forced[path] = status
}

// SetExecute replaces the execution behaviour.
func (s *Server) SetExecute(fn ExecuteFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execute = fn
}

// ExpireTokens invalidates issued tokens so the next authed call sees a 401.
func (s *Server) ExpireTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]bool)
}

// Calls returns how many requests reached a route such as "POST /execute".
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// DefaultExecute returns six scalar streams of samples_count notes climbing
// from middle C, one every two ticks.
func DefaultExecute(req dcn.ExecuteRequest) (int, any) {
	n := req.SamplesCount
	streams := make([][]int, 6)
	for i := 0; i < n; i++ {
		streams[0] = append(streams[0], i*2)
		streams[1] = append(streams[1], 2)
		streams[2] = append(streams[2], 60+i%12)
		streams[3] = append(streams[3], 80)
		streams[4] = append(streams[4], 3)
		streams[5] = append(streams[5], 4)
	}
	out := make([]map[string]any, 0, 6)
	for dim, data := range streams {
		out = append(out, map[string]any{"path": fmt.Sprintf("/%s:%d", req.ParticleName, dim), "data": data})
	}
	return http.StatusOK, out
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	route := r.Method + " " + routeOf(r.URL.Path)
	s.mu.Lock()
	s.calls[route]++
	forced, isForced := s.forced[routeOf(r.URL.Path)]
	s.mu.Unlock()
	if isForced {
		writeJSON(w, forced, map[string]string{"error": "forced"})
		return
	}

	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/nonce/"):
		s.mu.Lock()
		s.nonce++
		n := s.nonce
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"nonce": fmt.Sprintf("n-%d", n)})
	case r.Method == http.MethodPost && r.URL.Path == "/auth":
		s.handleAuth(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/transformation/"):
		name := strings.TrimPrefix(r.URL.Path, "/transformation/")
		s.mu.Lock()
		src, ok := s.transformations[name]
		s.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"name": name, "sol_src": src})
	default:
		if !s.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		s.handleAuthed(w, r)
	}
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Address   string `json:"address"`
		Message   string `json:"message"`
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	addr, err := dcn.RecoverAddress(body.Message, body.Signature)
	if err != nil || !strings.EqualFold(addr, body.Address) || !strings.HasPrefix(body.Message, "Login nonce: ") {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "bad signature"})
		return
	}
	s.mu.Lock()
	token := fmt.Sprintf("token-%d", len(s.tokens)+s.nonce)
	s.tokens[token] = true
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"access_token": token})
}

func (s *Server) authorized(r *http.Request) bool {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[token]
}

func (s *Server) handleAuthed(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if _, probe := raw["_preflight"]; probe {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	data, _ := json.Marshal(raw)

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/feature":
		var f dcn.Feature
		if err := strictDecode(data, &f); err != nil || f.Name == "" || len(f.Dimensions) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid feature: %v", err)})
			return
		}
		s.mu.Lock()
		s.features[f.Name] = f
		s.mu.Unlock()
		writeJSON(w, http.StatusCreated, map[string]string{"name": f.Name})
	case r.Method == http.MethodPost && r.URL.Path == "/particle":
		var p dcn.Particle
		if err := strictDecode(data, &p); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		s.mu.Lock()
		_, ok := s.features[p.FeatureName]
		if ok {
			s.particles[p.Name] = p
		}
		s.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown feature"})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"name": p.Name})
	case r.Method == http.MethodPost && r.URL.Path == "/execute":
		var req dcn.ExecuteRequest
		if err := strictDecode(data, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		s.mu.Lock()
		_, ok := s.particles[req.ParticleName]
		fn := s.execute
		s.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown particle"})
			return
		}
		status, body := fn(req)
		writeJSON(w, status, body)
	case r.Method == http.MethodPost && r.URL.Path == "/transformation":
		var t struct {
			Name   string `json:"name"`
			SolSrc string `json:"sol_src"`
		}
		if err := strictDecode(data, &t); err != nil || t.Name == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid transformation"})
			return
		}
		s.mu.Lock()
		s.transformations[t.Name] = t.SolSrc
		s.mu.Unlock()
		writeJSON(w, http.StatusCreated, map[string]string{"name": t.Name})
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no route"})
	}
}

func strictDecode(data []byte, v any) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func routeOf(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)
	return "/" + parts[0]
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
