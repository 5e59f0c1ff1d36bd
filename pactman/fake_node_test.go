package pactman

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeNode is a Pact API served by httptest. Handlers may be replaced per
// test; requests are recorded.
type fakeNode struct {
	srv *httptest.Server

	mu        sync.Mutex
	calls     map[string]int
	cmds      []*Command
	failFirst map[string]int

	local func(cmd *Command) *CommandResult
	// number of polls answered with no result
	pending int
	result  *CommandResult
}

func newFakeNode(t *testing.T) *fakeNode {
	n := &fakeNode{
		calls:     map[string]int{},
		failFirst: map[string]int{},
	}
	n.local = func(cmd *Command) *CommandResult { return successResult("ok") }
	n.result = successResult("ok")

	mux := http.NewServeMux()
	mux.HandleFunc("/pact/api/v1/local", n.handleLocal)
	mux.HandleFunc("/pact/api/v1/send", n.handleSend)
	mux.HandleFunc("/pact/api/v1/poll", n.handlePoll)
	n.srv = httptest.NewServer(mux)
	t.Cleanup(n.srv.Close)
	return n
}

func (n *fakeNode) url() string {
	return n.srv.URL + "/pact"
}

func (n *fakeNode) count(op string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[op]
}

func (n *fakeNode) lastCmd() *Command {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.cmds) == 0 {
		return nil
	}
	return n.cmds[len(n.cmds)-1]
}

// enter records a call and reports whether it should fail with a 503.
func (n *fakeNode) enter(op string, w http.ResponseWriter) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls[op]++
	if n.failFirst[op] > 0 {
		n.failFirst[op]--
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return true
	}
	return false
}

func (n *fakeNode) handleLocal(w http.ResponseWriter, r *http.Request) {
	if n.enter("local", w) {
		return
	}
	var cmd Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n.mu.Lock()
	n.cmds = append(n.cmds, &cmd)
	local := n.local
	n.mu.Unlock()
	writeJSON(w, local(&cmd))
}

func (n *fakeNode) handleSend(w http.ResponseWriter, r *http.Request) {
	if n.enter("send", w) {
		return
	}
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	keys := []string{}
	n.mu.Lock()
	for _, cmd := range req.Cmds {
		n.cmds = append(n.cmds, cmd)
		keys = append(keys, cmd.Hash)
	}
	n.mu.Unlock()
	writeJSON(w, &sendResponse{RequestKeys: keys})
}

func (n *fakeNode) handlePoll(w http.ResponseWriter, r *http.Request) {
	if n.enter("poll", w) {
		return
	}
	var req pollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	out := map[string]*CommandResult{}
	if n.pending > 0 {
		n.pending--
	} else {
		for _, k := range req.RequestKeys {
			res := *n.result
			res.ReqKey = k
			out[k] = &res
		}
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func successResult(data any) *CommandResult {
	b, _ := json.Marshal(data)
	return &CommandResult{Result: Result{Status: "success", Data: b}}
}

func failureResult(msg string) *CommandResult {
	return &CommandResult{Result: Result{Status: "failure", Error: &PactError{Message: msg, Type: "EvalError"}}}
}

func testConfig(url string) *Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.RetryDelay = time.Millisecond
	cfg.PollInterval = 10 * time.Millisecond
	cfg.PollTimeout = 500 * time.Millisecond
	return cfg
}

func decodeBody(t *testing.T, cmd *Command) *CommandBody {
	var body CommandBody
	dec := json.NewDecoder(strings.NewReader(cmd.Cmd))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&body))
	return &body
}
