package dashboard

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"atmflow/config"
	"atmflow/internal/channel"
	"atmflow/internal/metrics"
	"atmflow/internal/pipeline"
	"atmflow/logger"
	"atmflow/models"
)

func newTestServer(t *testing.T, engine Engine, events *channel.Channels) (*Server, *gin.Engine) {
	t.Helper()
	srv, err := NewServer(config.DashboardConfig{Enabled: true, RefreshInterval: time.Second, MetricsHistory: 10, LogHistory: 10}, logger.GetLogger(), engine, events)
	if err != nil {
		t.Fatalf("NewServer error: %v", err)
	}
	t.Cleanup(srv.cleanup)
	router, err := srv.buildRouter("atmflow")
	if err != nil {
		t.Fatalf("buildRouter error: %v", err)
	}
	return srv, router
}

func get(router http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

func TestMetricsEndpointEmitsStoredMetrics(t *testing.T) {
	srv, router := newTestServer(t, newFakeEngine(), nil)

	metrics.EmitMetric(logger.Logger(), "channel_buffers", "event_buffer_length", 5, "gauge", logger.Fields{"capacity": 10})

	res := get(router, "/api/metrics?name=event_buffer_length")
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "event_buffer_length") {
		t.Fatalf("metric missing from body: %s", res.Body.String())
	}
	if len(srv.metricStore.snapshot()) == 0 {
		t.Fatalf("metrics store empty")
	}
}

func TestTrackerEndpoints(t *testing.T) {
	engine := newFakeEngine()
	engine.registry.Publish(pipeline.View{
		Tracker: "nifty_oi",
		Variant: models.VariantOI,
		Spot:    decimal.NewNullDecimal(decimal.RequireFromString("22012.35")),
		ATM:     22000,
		Rows: []pipeline.WindowRow{
			{Strike: 22000, ATM: true, CEOI: 1234567, CELastPrice: decimal.NewNullDecimal(decimal.NewFromInt(120))},
		},
		Status: metrics.StatusAppended,
	})
	engine.objects["data/nifty_oi_2025-11-20.csv"] = []byte("Date,Time,CE_Change,PE_Change\n2025-11-20,09:20,10,5\n")
	_, router := newTestServer(t, engine, nil)

	res := get(router, "/api/trackers")
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), "nifty_momentum") {
		t.Fatalf("/api/trackers = %d %s", res.Code, res.Body.String())
	}

	res = get(router, "/api/trackers/nifty_oi")
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), `"atm":22000`) {
		t.Fatalf("/api/trackers/nifty_oi = %d %s", res.Code, res.Body.String())
	}

	if res = get(router, "/api/trackers/nifty_momentum"); res.Code != http.StatusNotFound {
		t.Fatalf("tracker without a view = %d, want 404", res.Code)
	}
	if res = get(router, "/api/trackers/unknown"); res.Code != http.StatusNotFound {
		t.Fatalf("unknown tracker = %d, want 404", res.Code)
	}

	res = get(router, "/api/trackers/nifty_oi/csv")
	if res.Code != http.StatusOK {
		t.Fatalf("csv status = %d", res.Code)
	}
	if cd := res.Header().Get("Content-Disposition"); !strings.Contains(cd, `filename="nifty_oi_2025-11-20.csv"`) {
		t.Fatalf("Content-Disposition = %q", cd)
	}
	if !strings.HasPrefix(res.Body.String(), "Date,Time") {
		t.Fatalf("csv body = %q", res.Body.String())
	}

	if res = get(router, "/api/trackers/nifty_momentum/csv"); res.Code != http.StatusNotFound {
		t.Fatalf("csv without data = %d, want 404", res.Code)
	}
	if res = get(router, "/api/trackers/unknown/csv"); res.Code != http.StatusNotFound {
		t.Fatalf("csv for unknown tracker = %d, want 404", res.Code)
	}

	engine.err = errors.New("backend down")
	if res = get(router, "/api/trackers/nifty_oi/csv"); res.Code != http.StatusInternalServerError {
		t.Fatalf("csv with backend error = %d, want 500", res.Code)
	}

	res = get(router, "/")
	if res.Code != http.StatusOK {
		t.Fatalf("index status = %d", res.Code)
	}
	body := res.Body.String()
	if !strings.Contains(body, "nifty_oi") || !strings.Contains(body, "1,234,567") || !strings.Contains(body, "120.00") {
		t.Fatalf("index page missing tracker data")
	}
}

func TestQuotesLogsAndHealth(t *testing.T) {
	engine := newFakeEngine()
	engine.registry.SetQuotes([]models.Quote{
		{Symbol: "INFY", Kind: models.QuoteKindEquity, Error: "not supported"},
		{Symbol: "NIFTY 50", Kind: models.QuoteKindIndex, Last: decimal.NewNullDecimal(decimal.NewFromInt(22000))},
	})
	_, router := newTestServer(t, engine, nil)

	res := get(router, "/api/quotes")
	body := res.Body.String()
	if res.Code != http.StatusOK || strings.Index(body, "NIFTY 50") > strings.Index(body, "INFY") {
		t.Fatalf("/api/quotes = %d %s", res.Code, body)
	}

	logger.GetLogger().WithComponent("dashboard_test").Warn("something to see")
	res = get(router, "/api/logs?level=warn&component=dashboard_test")
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), "something to see") {
		t.Fatalf("/api/logs = %d %s", res.Code, res.Body.String())
	}
	if res = get(router, "/api/logs?level=loud"); res.Code != http.StatusBadRequest {
		t.Fatalf("bad level = %d, want 400", res.Code)
	}

	res = get(router, "/healthz")
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), `"trackers":2`) {
		t.Fatalf("/healthz = %d %s", res.Code, res.Body.String())
	}

	metrics.Init()
	metrics.IncrementAppend("nifty_oi")
	res = get(router, "/metrics")
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), "atmflow_appends_total") {
		t.Fatalf("/metrics = %d", res.Code)
	}
}

func TestWebsocketStreamsTickEvents(t *testing.T) {
	events := channel.NewChannels(8, nil)
	srv, router := newTestServer(t, newFakeEngine(), events)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.hub.run(ctx, events.Subscribe(wsSubscriber))

	ts := httptest.NewServer(router)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for srv.hub.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	events.Publish(ctx, models.TickEvent{Tracker: "nifty_oi", Variant: models.VariantOI, Appended: true})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev models.TickEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Tracker != "nifty_oi" || !ev.Appended {
		t.Fatalf("event = %+v", ev)
	}
}
