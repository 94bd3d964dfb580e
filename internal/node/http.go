package node

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// newDebugHTTPServer exposes JSON introspection endpoints for a running
// node: database/series listing and raft leadership state. It never
// handles query traffic; that goes over the client TCP listener.
func newDebugHTTPServer(addr string, n *Node) *http.Server {
	router := mux.NewRouter()
	router.HandleFunc("/databases", n.handleDatabases).Methods("GET")
	router.HandleFunc("/raft/status", n.handleRaftStatus).Methods("GET")
	return &http.Server{Addr: addr, Handler: router}
}

type databasesResponse struct {
	Databases []string `json:"databases"`
}

func (n *Node) handleDatabases(w http.ResponseWriter, r *http.Request) {
	res := databasesResponse{Databases: n.dbCtx.DatabaseNames()}
	if err := json.NewEncoder(w).Encode(res); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

type raftStatusResponse struct {
	IsLeader bool   `json:"is_leader"`
	State    string `json:"state"`
}

func (n *Node) handleRaftStatus(w http.ResponseWriter, r *http.Request) {
	if n.consensus == nil {
		http.Error(w, "raft not configured on this node", http.StatusNotFound)
		return
	}
	res := raftStatusResponse{
		IsLeader: n.consensus.IsLeader(),
		State:    n.consensus.State().String(),
	}
	if err := json.NewEncoder(w).Encode(res); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
