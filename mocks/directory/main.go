// Command directory-mock is a stand-in for the corporate directory API used
// in local development and e2e runs. It serves user profiles and catalog
// names from a JSON seed file over the same endpoints the real directory
// exposes.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
)

type user struct {
	ID        int64  `json:"id"`
	FullName  string `json:"full_name"`
	Email     string `json:"email"`
	ManagerID int64  `json:"manager_id"`
	Active    bool   `json:"active"`
	Admin     bool   `json:"admin"`
}

type named struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type seed struct {
	Users      []user  `json:"users"`
	Systems    []named `json:"systems"`
	Subsystems []named `json:"subsystems"`
	Roles      []named `json:"roles"`
}

type server struct {
	users      map[int64]user
	systems    map[int64]string
	subsystems map[int64]string
	roles      map[int64]string
	admins     []user
}

func newServer(s seed) *server {
	srv := &server{
		users:      make(map[int64]user),
		systems:    make(map[int64]string),
		subsystems: make(map[int64]string),
		roles:      make(map[int64]string),
	}
	for _, u := range s.Users {
		srv.users[u.ID] = u
		if u.Admin && u.Active {
			srv.admins = append(srv.admins, u)
		}
	}
	for _, n := range s.Systems {
		srv.systems[n.ID] = n.Name
	}
	for _, n := range s.Subsystems {
		srv.subsystems[n.ID] = n.Name
	}
	for _, n := range s.Roles {
		srv.roles[n.ID] = n.Name
	}
	return srv
}

func main() {
	addr := flag.String("addr", ":9090", "listen address")
	seedPath := flag.String("seed", "seed.json", "path to seed JSON")
	flag.Parse()

	raw, err := os.ReadFile(*seedPath)
	if err != nil {
		log.Fatalf("read seed: %v", err)
	}
	var s seed
	if err := json.Unmarshal(raw, &s); err != nil {
		log.Fatalf("parse seed: %v", err)
	}

	srv := newServer(s)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users", srv.handleListUsers)
	mux.HandleFunc("GET /users/{id}", srv.handleGetUser)
	mux.HandleFunc("GET /systems/{id}", srv.handleName(srv.systems))
	mux.HandleFunc("GET /subsystems/{id}", srv.handleName(srv.subsystems))
	mux.HandleFunc("GET /roles/{id}", srv.handleName(srv.roles))

	log.Printf("directory-mock listening on %s (%d users)", *addr, len(srv.users))
	log.Fatal(http.ListenAndServe(*addr, mux))
}

func (s *server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}
	u, ok := s.users[id]
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, u)
}

func (s *server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out := make([]user, 0)
	for _, u := range s.users {
		if q.Get("admin") == "true" && !u.Admin {
			continue
		}
		if q.Get("active") == "true" && !u.Active {
			continue
		}
		out = append(out, u)
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	writeJSON(w, map[string]any{"users": out})
}

func (s *server) handleName(table map[int64]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(strings.TrimSpace(r.PathValue("id")), 10, 64)
		if err != nil {
			http.Error(w, "bad id", http.StatusBadRequest)
			return
		}
		name, ok := table[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, named{ID: id, Name: name})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
