package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/timvw/pane-relay/internal/enter"
	"github.com/timvw/pane-relay/internal/executor"
	"github.com/timvw/pane-relay/internal/model"
	"github.com/timvw/pane-relay/internal/mux"
)

const testContainerID = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

// recordingMux records every argv and the socket it was bound to.
type recordingMux struct {
	out    *mux.Output
	err    error
	socket string

	calls *[][]string
	bound *string
}

func newRecordingMux(out *mux.Output, err error) *recordingMux {
	return &recordingMux{out: out, err: err, calls: &[][]string{}, bound: new(string)}
}

func (r *recordingMux) Name() string { return "recording" }

func (r *recordingMux) Run(_ context.Context, args []string) (*mux.Output, error) {
	*r.calls = append(*r.calls, args)
	*r.bound = r.socket
	return r.out, r.err
}

func (r *recordingMux) BindSocket(socket string) mux.Multiplexer {
	c := *r
	c.socket = socket
	return &c
}

func newTestServer(t *testing.T, enterCommand string, m mux.Multiplexer) *Server {
	t.Helper()
	return New(Options{
		Addr:     "127.0.0.1:0",
		Enter:    enter.NewSpec(enterCommand),
		Executor: executor.New(m, time.Second, nil, nil),
	})
}

func post(t *testing.T, s *Server, path, body string) (*httptest.ResponseRecorder, model.Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var resp model.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not JSON: %v (%q)", err, rec.Body.String())
	}
	return rec, resp
}

func TestExecute_EnterCommandEndToEnd(t *testing.T) {
	m := newRecordingMux(&mux.Output{}, nil)
	s := newTestServer(t, "true", m)

	rec, resp := post(t, s, "/execute",
		`{"tmux_action":"SplitWindowHorizontal","command":"echo ok","container_id":null}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp)
	}
	want := [][]string{{"split-window", "-h", "true", "echo", "ok"}}
	if !reflect.DeepEqual(*m.calls, want) {
		t.Errorf("argv = %q, want %q", *m.calls, want)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("expected X-Request-Id header")
	}
}

func TestExecute_BothRoutesBehaveIdentically(t *testing.T) {
	body := `{"tmux_action":"SplitWindowVertical","command":null,"container_id":"` + testContainerID + `"}`
	want := []string{"split-window", "docker", "exec", "-it", testContainerID, "/bin/bash", "-C"}

	for _, path := range []string{"/", "/execute"} {
		t.Run(path, func(t *testing.T) {
			m := newRecordingMux(&mux.Output{Stdout: []byte("x")}, nil)
			s := newTestServer(t, "", m)

			rec, resp := post(t, s, path, body)
			if rec.Code != http.StatusOK || !resp.Success {
				t.Fatalf("status = %d, resp = %+v", rec.Code, resp)
			}
			if len(*m.calls) != 1 || !reflect.DeepEqual((*m.calls)[0], want) {
				t.Errorf("argv = %q, want %q", *m.calls, want)
			}
			if resp.Message != "Command executed successfully. Stdout: x, Stderr: " {
				t.Errorf("message = %q", resp.Message)
			}
		})
	}
}

func TestExecute_EnterCommandWinsOverContainer(t *testing.T) {
	ids := []string{
		testContainerID,
		"abc",
		"",
		strings.ToUpper(testContainerID),
		"abc; rm -rf /",
	}
	want := []string{"split-window", "ssh", "-t", "dev box"}

	for _, id := range ids {
		t.Run(id, func(t *testing.T) {
			m := newRecordingMux(&mux.Output{}, nil)
			s := newTestServer(t, `ssh -t "dev box"`, m)

			body, _ := json.Marshal(map[string]any{"tmux_action": "SplitWindowVertical", "container_id": id})
			rec, resp := post(t, s, "/execute", string(body))

			if rec.Code != http.StatusOK || !resp.Success {
				t.Fatalf("status = %d, resp = %+v", rec.Code, resp)
			}
			if len(*m.calls) != 1 || !reflect.DeepEqual((*m.calls)[0], want) {
				t.Errorf("argv = %q, want %q", *m.calls, want)
			}
		})
	}
}

func TestExecute_ResolutionFailures(t *testing.T) {
	tests := []struct {
		name         string
		enterCommand string
		body         string
		wantMessage  string
	}{
		{
			name:        "no enter method",
			body:        `{"tmux_action":"SplitWindowVertical","command":"ls","container_id":null}`,
			wantMessage: enter.ErrNoEnterMethod.Error(),
		},
		{
			name:         "malformed enter command",
			enterCommand: `ssh "unterminated`,
			body:         `{"tmux_action":"SplitWindowVertical"}`,
			wantMessage:  enter.ErrMalformedEnterCommand.Error(),
		},
		{
			name:        "container id that is not a docker id",
			body:        `{"tmux_action":"SplitWindowVertical","container_id":"abc; rm -rf /"}`,
			wantMessage: enter.ErrInvalidContainerID.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newRecordingMux(&mux.Output{}, nil)
			s := newTestServer(t, tt.enterCommand, m)

			rec, resp := post(t, s, "/execute", tt.body)

			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", rec.Code)
			}
			if resp.Success {
				t.Error("expected success:false")
			}
			if !strings.HasPrefix(resp.Message, tt.wantMessage) {
				t.Errorf("message = %q, want prefix %q", resp.Message, tt.wantMessage)
			}
			if len(*m.calls) != 0 {
				t.Errorf("no subprocess expected, got %q", *m.calls)
			}
		})
	}
}

func TestExecute_MalformedInnerCommandIsDropped(t *testing.T) {
	m := newRecordingMux(&mux.Output{}, nil)
	s := newTestServer(t, "true", m)

	rec, resp := post(t, s, "/execute", `{"tmux_action":"SplitWindowVertical","command":"echo \"oops"}`)

	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("status = %d, resp = %+v", rec.Code, resp)
	}
	want := []string{"split-window", "true"}
	if len(*m.calls) != 1 || !reflect.DeepEqual((*m.calls)[0], want) {
		t.Errorf("argv = %q, want %q", *m.calls, want)
	}
}

func TestExecute_SubprocessFailure(t *testing.T) {
	out := &mux.Output{Stderr: []byte("no server running"), ExitCode: 1, Status: "exit status 1"}
	m := newRecordingMux(out, &mux.ExitError{Output: out})
	s := newTestServer(t, "true", m)

	rec, resp := post(t, s, "/execute", `{"tmux_action":"SplitWindowVertical"}`)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if resp.Success {
		t.Error("expected success:false")
	}
	if !strings.Contains(resp.Message, "exit status 1") {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestExecute_TmuxSocketIsBound(t *testing.T) {
	m := newRecordingMux(&mux.Output{}, nil)
	s := newTestServer(t, "true", m)

	post(t, s, "/execute", `{"tmux_action":"SplitWindowVertical","tmux_socket":"/tmp/tmux-1000/default"}`)

	if *m.bound != "/tmp/tmux-1000/default" {
		t.Errorf("bound socket = %q", *m.bound)
	}
}

func TestExecute_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"tmux_action":`},
		{name: "unknown action", body: `{"tmux_action":"SplitWindowDiagonal"}`},
		{name: "missing action", body: `{"command":"ls"}`},
		{name: "empty body", body: ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newRecordingMux(&mux.Output{}, nil)
			s := newTestServer(t, "true", m)

			rec, resp := post(t, s, "/execute", tt.body)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if resp.Success {
				t.Error("expected success:false")
			}
			if len(*m.calls) != 0 {
				t.Errorf("no subprocess expected, got %q", *m.calls)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, "", newRecordingMux(&mux.Output{}, nil))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := newTestServer(t, "true", newRecordingMux(&mux.Output{}, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never answered: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
