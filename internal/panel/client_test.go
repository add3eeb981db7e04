package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davron/xuigram/internal/config"
)

// fakePanel is an in-memory 3x-ui panel speaking just enough of the REST
// API for the adapter: login, inbound list/get, client update/add, traffic.
type fakePanel struct {
	mu       sync.Mutex
	password string
	inbound  Inbound
	clients  map[string]ClientSettings // keyed by uuid
	traffic  map[string]Traffic        // keyed by email

	loginCalls  int
	listCalls   int
	updateCalls int
	addCalls    int

	failUpdate bool // panel-reported failure on updateClient
}

func newFakePanel() *fakePanel {
	return &fakePanel{
		password: "pw",
		inbound: Inbound{
			ID:       3,
			Remark:   "main",
			Port:     443,
			Protocol: "vless",
		},
		clients: map[string]ClientSettings{},
		traffic: map[string]Traffic{},
	}
}

// snapshotClient returns a stored client under the lock.
func (f *fakePanel) snapshotClient(uuid string) ClientSettings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[uuid]
}

// counts returns the per-endpoint call counters under the lock.
func (f *fakePanel) counts() (login, list, update, add int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loginCalls, f.listCalls, f.updateCalls, f.addCalls
}

func (f *fakePanel) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.loginCalls++
		if r.FormValue("password") != f.password {
			writeEnvelope(w, false, "invalid credentials", nil)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "3x-ui", Value: "session"})
		writeEnvelope(w, true, "", nil)
	})

	mux.HandleFunc("GET /panel/api/inbounds/list", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.listCalls++
		writeEnvelope(w, true, "", []Inbound{f.snapshotLocked()})
	})

	mux.HandleFunc("GET /panel/api/inbounds/get/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/panel/api/inbounds/get/"))
		if id != f.inbound.ID {
			writeEnvelope(w, false, "no such inbound", nil)
			return
		}
		writeEnvelope(w, true, "", f.snapshotLocked())
	})

	mux.HandleFunc("POST /panel/api/inbounds/updateClient/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.updateCalls++
		uuid := strings.TrimPrefix(r.URL.Path, "/panel/api/inbounds/updateClient/")
		if f.failUpdate {
			writeEnvelope(w, false, "client not found", nil)
			return
		}
		client, ok := decodePayloadClient(r)
		if !ok || uuid != client.ID {
			writeEnvelope(w, false, "bad payload", nil)
			return
		}
		if _, exists := f.clients[uuid]; !exists {
			writeEnvelope(w, false, "client not found", nil)
			return
		}
		f.clients[uuid] = client
		writeEnvelope(w, true, "", nil)
	})

	mux.HandleFunc("POST /panel/api/inbounds/addClient", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.addCalls++
		client, ok := decodePayloadClient(r)
		if !ok {
			writeEnvelope(w, false, "bad payload", nil)
			return
		}
		f.clients[client.ID] = client
		writeEnvelope(w, true, "", nil)
	})

	mux.HandleFunc("GET /panel/api/inbounds/getClientTraffics/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		email := strings.TrimPrefix(r.URL.Path, "/panel/api/inbounds/getClientTraffics/")
		traffic, ok := f.traffic[email]
		if !ok {
			writeEnvelope(w, true, "", nil) // panel answers success with null obj
			return
		}
		writeEnvelope(w, true, "", traffic)
	})

	return mux
}

// snapshotLocked renders the inbound with its current clients embedded as
// settings JSON, the way the real panel does.
func (f *fakePanel) snapshotLocked() Inbound {
	clients := make([]ClientSettings, 0, len(f.clients))
	for _, c := range f.clients {
		clients = append(clients, c)
	}
	settings, _ := json.Marshal(inboundSettings{Clients: clients})
	inbound := f.inbound
	inbound.Settings = string(settings)
	return inbound
}

func decodePayloadClient(r *http.Request) (ClientSettings, bool) {
	var payload struct {
		ID       int    `json:"id"`
		Settings string `json:"settings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return ClientSettings{}, false
	}
	var settings inboundSettings
	if err := json.Unmarshal([]byte(payload.Settings), &settings); err != nil || len(settings.Clients) != 1 {
		return ClientSettings{}, false
	}
	return settings.Clients[0], true
}

func writeEnvelope(w http.ResponseWriter, success bool, msg string, obj any) {
	var raw json.RawMessage
	if obj != nil {
		raw, _ = json.Marshal(obj)
	}
	resp := apiResponse{Success: success, Msg: msg, Obj: raw}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Panel.Protocol = "http"
	cfg.Panel.Host = u.Hostname()
	cfg.Panel.Port = port
	cfg.Panel.Username = "admin"
	cfg.Panel.Password = "pw"
	cfg.Panel.InboundRemark = "main"

	client, err := New(cfg, zerolog.Nop(), nil)
	require.NoError(t, err)
	return client
}

func TestResolveInboundCachesAcrossCalls(t *testing.T) {
	fake := newFakePanel()
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := newTestClient(t, server)
	ctx := context.Background()

	first, err := client.ResolveInbound(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, first.ID)
	assert.Equal(t, 443, first.Port)

	second, err := client.ResolveInbound(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)

	login, list, _, _ := fake.counts()
	assert.Equal(t, 1, login)
	assert.Equal(t, 1, list)
}

func TestResolveInboundBadCredentials(t *testing.T) {
	fake := newFakePanel()
	fake.password = "other"
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := newTestClient(t, server)

	_, err := client.ResolveInbound(context.Background())
	assert.ErrorIs(t, err, ErrAuth)
}

func TestResolveInboundUnknownRemark(t *testing.T) {
	fake := newFakePanel()
	fake.inbound.Remark = "other"
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := newTestClient(t, server)

	_, err := client.ResolveInbound(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInvalidateForcesRelogin(t *testing.T) {
	fake := newFakePanel()
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := newTestClient(t, server)
	ctx := context.Background()

	_, err := client.ResolveInbound(ctx)
	require.NoError(t, err)

	client.Invalidate()

	_, err = client.ResolveInbound(ctx)
	require.NoError(t, err)
	login, list, _, _ := fake.counts()
	assert.Equal(t, 2, login)
	assert.Equal(t, 2, list)
}

func TestFindClient(t *testing.T) {
	fake := newFakePanel()
	fake.clients["uuid-1"] = ClientSettings{ID: "uuid-1", Email: "100", Enable: true}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := newTestClient(t, server)
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		got, err := client.FindClient(ctx, "100")
		require.NoError(t, err)
		assert.Equal(t, "uuid-1", got.ID)
	})

	t.Run("absent", func(t *testing.T) {
		_, err := client.FindClient(ctx, "200")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestFindClientTransportFailureIsNotAbsence(t *testing.T) {
	fake := newFakePanel()
	server := httptest.NewServer(fake.handler())
	client := newTestClient(t, server)

	// warm the session, then take the panel away
	_, err := client.ResolveInbound(context.Background())
	require.NoError(t, err)
	server.Close()

	_, err = client.FindClient(context.Background(), "100")
	assert.ErrorIs(t, err, ErrTransport)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestUpsertClientCreatesThenUpdates(t *testing.T) {
	fake := newFakePanel()
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := newTestClient(t, server)
	fixed := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	client.now = func() time.Time { return fixed }
	ctx := context.Background()

	// first call: update fails (no such client), falls back to add
	require.NoError(t, client.UpsertClient(ctx, 3, "100", "uuid-1", "sub-1", 10, 7))
	_, _, _, adds := fake.counts()
	assert.Equal(t, 1, adds)

	stored := fake.snapshotClient("uuid-1")
	assert.Equal(t, int64(10*1024*1024*1024), stored.TotalGB)
	assert.Equal(t, fixed.UnixMilli()+7*86400*1000, stored.ExpiryTime)
	assert.True(t, stored.Enable)
	assert.Equal(t, "sub-1", stored.SubID)

	// second identical call: update succeeds, state converges
	require.NoError(t, client.UpsertClient(ctx, 3, "100", "uuid-1", "sub-1", 10, 7))
	_, _, _, adds = fake.counts()
	assert.Equal(t, 1, adds)
	assert.Equal(t, stored, fake.snapshotClient("uuid-1"))
}

func TestUpsertClientZeroMeansUnlimited(t *testing.T) {
	fake := newFakePanel()
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := newTestClient(t, server)
	ctx := context.Background()

	require.NoError(t, client.UpsertClient(ctx, 3, "100", "uuid-1", "", 0, 0))

	stored := fake.snapshotClient("uuid-1")
	assert.Zero(t, stored.TotalGB)
	assert.Zero(t, stored.ExpiryTime)
}

func TestUpsertClientPanelRefusal(t *testing.T) {
	fake := newFakePanel()
	fake.failUpdate = true
	inner := fake.handler()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "addClient") {
			writeEnvelope(w, false, "quota exceeded", nil)
			return
		}
		inner.ServeHTTP(w, r)
	}))
	defer server.Close()

	client := newTestClient(t, server)

	err := client.UpsertClient(context.Background(), 3, "100", "uuid-1", "", 10, 7)
	assert.ErrorIs(t, err, ErrRefused)
}

func TestClientStats(t *testing.T) {
	fake := newFakePanel()
	fake.traffic["100"] = Traffic{Up: 1 << 30, Down: 2 << 30, Total: 10 << 30, ExpiryTime: 1790000000000}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := newTestClient(t, server)
	ctx := context.Background()

	t.Run("known client", func(t *testing.T) {
		traffic, err := client.ClientStats(ctx, "100")
		require.NoError(t, err)
		assert.Equal(t, int64(10<<30), traffic.Total)
		assert.Equal(t, int64(1790000000000), traffic.ExpiryTime)
	})

	t.Run("unknown client yields not found", func(t *testing.T) {
		_, err := client.ClientStats(ctx, "999")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAPIURLJoinsBasePath(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Panel.Protocol = "https"
	cfg.Panel.Host = "example.com"
	cfg.Panel.Port = 2053
	cfg.Panel.WebBasePath = "/xui/"

	client, err := New(cfg, zerolog.Nop(), nil)
	require.NoError(t, err)

	url := client.apiURL(fmt.Sprintf("panel/api/inbounds/get/%d", 3))
	assert.Equal(t, "https://example.com:2053/xui/panel/api/inbounds/get/3", url)
}
