package websocket

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/kubilitics/resourcemap/internal/config"
	"github.com/kubilitics/resourcemap/internal/service"
)

type wsEnv struct {
	server   *httptest.Server
	hub      *Hub
	clusters service.ClusterService
}

func newWSEnv(t *testing.T) *wsEnv {
	t.Helper()
	cfg := &config.Config{Sources: []string{"Pod"}, LayoutCacheSize: 8}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	cs := service.NewClusterService(cfg, log)
	t.Cleanup(cs.Shutdown)
	maps := service.NewResourceMapService(cs, nil, cfg, log)
	client := fake.NewSimpleClientset(&corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{UID: "pod-1", Namespace: "shop", Name: "web-1"},
		Status: corev1.PodStatus{
			Phase:      corev1.PodRunning,
			Conditions: []corev1.PodCondition{{Type: corev1.PodReady, Status: corev1.ConditionTrue}},
		},
	})
	_, err := cs.AttachCluster(context.Background(), "prod", "Production", client)
	require.NoError(t, err)

	hub := NewHub(context.Background())
	go hub.Run()
	t.Cleanup(hub.Stop)

	h := NewHandler(context.Background(), hub, maps, []string{"http://localhost:5173"}, log)
	server := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(server.Close)
	return &wsEnv{server: server, hub: hub, clusters: cs}
}

func (e *wsEnv) url(query string) string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws/resourcemap?" + query
}

// readUntil reads messages until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(Message) bool) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func loadedMap(msg Message) bool {
	return msg.Type == MessageResourceMap && msg.Map != nil && !msg.Map.IsLoading && len(msg.Map.Nodes) > 0
}

func TestServeWS_StreamsMaps(t *testing.T) {
	env := newWSEnv(t)

	conn, _, err := websocket.DefaultDialer.Dial(env.url("cluster=prod&group=none"), nil)
	require.NoError(t, err)
	defer conn.Close()

	msg := readUntil(t, conn, loadedMap)
	assert.Equal(t, "prod", msg.Map.ClusterID)
	assert.Equal(t, "group=none", msg.Map.View)
	assert.Eventually(t, func() bool { return env.hub.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestServeWS_ViewChange(t *testing.T) {
	env := newWSEnv(t)

	conn, _, err := websocket.DefaultDialer.Dial(env.url("cluster=prod&group=none"), nil)
	require.NoError(t, err)
	defer conn.Close()
	readUntil(t, conn, loadedMap)

	require.NoError(t, conn.WriteJSON(viewRequest{Type: "view", View: "hasErrors=true"}))
	msg := readUntil(t, conn, func(m Message) bool {
		return m.Type == MessageResourceMap && m.Map.View == "hasErrors=true"
	})
	assert.Empty(t, msg.Map.Nodes, "the only pod is healthy")

	require.NoError(t, conn.WriteJSON(viewRequest{Type: "view", View: "group=bogus"}))
	msg = readUntil(t, conn, func(m Message) bool { return m.Type == MessageError })
	assert.Contains(t, msg.Error, "group")
}

func TestServeWS_ClosesWhenClusterRemoved(t *testing.T) {
	env := newWSEnv(t)

	conn, _, err := websocket.DefaultDialer.Dial(env.url("cluster=prod"), nil)
	require.NoError(t, err)
	defer conn.Close()
	readUntil(t, conn, func(m Message) bool { return m.Type == MessageResourceMap })

	require.NoError(t, env.clusters.RemoveCluster(context.Background(), "prod"))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
			break
		}
	}
	assert.Eventually(t, func() bool { return env.hub.GetClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestServeWS_RejectsBeforeUpgrade(t *testing.T) {
	env := newWSEnv(t)

	_, resp, err := websocket.DefaultDialer.Dial(env.url("cluster=missing"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(env.url("cluster=prod&aspectRatio=-1"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCheckOrigin(t *testing.T) {
	check := checkOrigin([]string{"http://localhost:5173"})

	req := httptest.NewRequest(http.MethodGet, "/ws/resourcemap", nil)
	assert.True(t, check(req), "no origin")
	req.Header.Set("Origin", "http://localhost:5173")
	assert.True(t, check(req))
	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))

	assert.True(t, checkOrigin([]string{"*"})(req))
}
