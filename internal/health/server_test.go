package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"wa_command_bot/internal/plugin"
)

type stubStoreChecker struct {
	err error
}

func (s stubStoreChecker) Ping(context.Context) error {
	return s.err
}

type stubConnection bool

func (s stubConnection) Connected() bool { return bool(s) }

type stubPlugins []plugin.Descriptor

func (s stubPlugins) All() []plugin.Descriptor { return s }

func serve(t *testing.T, server *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthHandlerOK(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	server := NewServer(0, Deps{Store: stubStoreChecker{}, Transport: stubConnection(true)}, logrus.NewEntry(logger))

	rr := serve(t, server, http.MethodGet, "/healthz")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected HTTP 200, got %d", rr.Code)
	}

	body := strings.TrimSpace(rr.Body.String())
	if body != `{"status":"ok"}` {
		t.Fatalf("unexpected body: %s", body)
	}

	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected content-type application/json, got %s", ct)
	}
}

func TestHealthHandlerDegraded(t *testing.T) {
	tests := []struct {
		name string
		deps Deps
		want string
	}{
		{
			name: "store error",
			deps: Deps{Store: stubStoreChecker{err: errors.New("db down")}, Transport: stubConnection(true)},
			want: `{"status":"degraded","store":"error"}`,
		},
		{
			name: "missing store checker",
			deps: Deps{Transport: stubConnection(true)},
			want: `{"status":"degraded","store":"error"}`,
		},
		{
			name: "transport disconnected",
			deps: Deps{Store: stubStoreChecker{}, Transport: stubConnection(false)},
			want: `{"status":"degraded","transport":"disconnected"}`,
		},
		{
			name: "nothing configured",
			deps: Deps{},
			want: `{"status":"degraded","store":"error","transport":"disconnected"}`,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := logtest.NewNullLogger()
			server := NewServer(0, tt.deps, logrus.NewEntry(logger))

			rr := serve(t, server, http.MethodGet, "/healthz")
			if rr.Code != http.StatusOK {
				t.Fatalf("expected HTTP 200, got %d", rr.Code)
			}
			if body := strings.TrimSpace(rr.Body.String()); body != tt.want {
				t.Fatalf("unexpected body: %s", body)
			}
		})
	}
}

func TestPluginsHandlerListsDescriptors(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	server := NewServer(0, Deps{Plugins: stubPlugins{
		{Name: "ping", Category: plugin.CategoryUser, Enabled: true, Builtin: true, Permissions: []string{"user"}, Cooldown: 3 * time.Second},
		{Name: "shout", Category: plugin.CategoryUtility, Aliases: []string{"yell"}},
	}}, logrus.NewEntry(logger))

	rr := serve(t, server, http.MethodGet, "/plugins")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected HTTP 200, got %d", rr.Code)
	}

	var got []pluginView
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 plugins, got %d", len(got))
	}
	if got[0].Name != "ping" || !got[0].Enabled || !got[0].Builtin || got[0].CooldownMS != 3000 {
		t.Fatalf("unexpected first plugin: %+v", got[0])
	}
	if got[1].Enabled || len(got[1].Aliases) != 1 || got[1].Aliases[0] != "yell" {
		t.Fatalf("unexpected second plugin: %+v", got[1])
	}
	if got[1].Permissions == nil {
		t.Fatalf("expected permissions to encode as an empty list")
	}
}

func TestPluginsHandlerRejectsWritesAndMissingLister(t *testing.T) {
	logger, _ := logtest.NewNullLogger()

	server := NewServer(0, Deps{Plugins: stubPlugins{}}, logrus.NewEntry(logger))
	if rr := serve(t, server, http.MethodPost, "/plugins"); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected HTTP 405, got %d", rr.Code)
	}

	server = NewServer(0, Deps{}, logrus.NewEntry(logger))
	if rr := serve(t, server, http.MethodGet, "/plugins"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected HTTP 404, got %d", rr.Code)
	}
}
