package dashboard

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"atmflow/config"
	"atmflow/internal/channel"
	"atmflow/internal/metrics"
	"atmflow/internal/pipeline"
	"atmflow/logger"
	"atmflow/writer"
)

//go:embed templates/*.tmpl
var embeddedFS embed.FS

const wsSubscriber = "websocket"

// Engine is the read side of the tick engine the dashboard presents.
type Engine interface {
	Registry() *pipeline.Registry
	Trackers() []pipeline.TrackerInfo
	Export(ctx context.Context, tracker string) (string, []byte, error)
}

// Server hosts the gin dashboard: tracker views, CSV downloads, the quotes
// banner, the live event stream and operational endpoints.
type Server struct {
	cfg               config.DashboardConfig
	log               *logger.Log
	engine            Engine
	events            *channel.Channels
	hub               *hub
	metricStore       *metricStore
	logStore          *logStore
	metricHandler     metrics.MetricHandlerID
	httpServer        *http.Server
	refreshIntervalMs int
	resourceSampler   *resourceSampler
}

// NewServer constructs a dashboard server when the dashboard feature is enabled.
// When the dashboard is disabled the returned server will be nil. events may
// be nil, in which case /ws accepts clients but never sends anything.
func NewServer(cfg config.DashboardConfig, log *logger.Log, engine Engine, events *channel.Channels) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if engine == nil {
		return nil, errors.New("dashboard: nil engine")
	}

	cfg.Address = normalizeAddress(cfg.Address)

	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}

	if cfg.LogHistory <= 0 {
		cfg.LogHistory = 200
	}

	if cfg.MetricsHistory <= 0 {
		cfg.MetricsHistory = 200
	}

	metricStore := newMetricStore(cfg.MetricsHistory)
	handlerID := metrics.RegisterMetricHandler(metricStore.handle)

	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	sampler := newResourceSampler(cfg.MetricsHistory, cfg.RefreshInterval, "/", log)

	return &Server{
		cfg:               cfg,
		log:               log,
		engine:            engine,
		events:            events,
		hub:               newHub(log),
		metricStore:       metricStore,
		logStore:          logStore,
		metricHandler:     handlerID,
		refreshIntervalMs: int(cfg.RefreshInterval / time.Millisecond),
		resourceSampler:   sampler,
	}, nil
}

// Run starts the dashboard HTTP server and blocks until the provided context is
// cancelled or the underlying HTTP server exits with an error.
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}

	defer s.cleanup()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}

	if s.resourceSampler != nil {
		s.resourceSampler.start(ctx)
	}
	if s.events != nil {
		go s.hub.run(ctx, s.events.Subscribe(wsSubscriber))
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.WithComponent("dashboard").WithFields(logger.Fields{
		"address": s.cfg.Address,
	}).Info("dashboard listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	if s.logStore != nil {
		s.logStore.close()
	}
	if s.resourceSampler != nil {
		s.resourceSampler.stop()
	}
	if s.events != nil {
		s.events.Unsubscribe(wsSubscriber)
	}
}

// Address reports the network address the dashboard server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

var templateFuncs = template.FuncMap{
	"comma": humanize.Comma,
	"price": func(d decimal.NullDecimal) string {
		if !d.Valid {
			return "-"
		}
		return d.Decimal.StringFixed(2)
	},
	"clock": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Format("15:04:05")
	},
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	tmpl := template.Must(template.New("dashboard").Funcs(templateFuncs).ParseFS(embeddedFS, "templates/index.tmpl"))
	router.SetHTMLTemplate(tmpl)

	router.GET("/", func(c *gin.Context) {
		c.HTML(http.StatusOK, "index.tmpl", gin.H{
			"AppName":           appName,
			"RefreshIntervalMs": s.refreshIntervalMs,
			"Views":             s.engine.Registry().List(),
			"Quotes":            s.engine.Registry().Quotes(),
		})
	})

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"trackers":  len(s.engine.Trackers()),
			"ws_client": s.hub.count(),
		})
	})

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	router.GET("/ws", func(c *gin.Context) {
		s.hub.serve(c.Writer, c.Request)
	})

	api := router.Group("/api")

	api.GET("/trackers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"trackers": s.engine.Trackers()})
	})

	api.GET("/trackers/:name", func(c *gin.Context) {
		name := c.Param("name")
		if !s.known(name) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown tracker"})
			return
		}
		view, ok := s.engine.Registry().Get(name)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no data yet"})
			return
		}
		c.JSON(http.StatusOK, view)
	})

	api.GET("/trackers/:name/csv", func(c *gin.Context) {
		name := c.Param("name")
		object, data, err := s.engine.Export(c.Request.Context(), name)
		switch {
		case errors.Is(err, pipeline.ErrUnknownTracker):
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown tracker"})
			return
		case errors.Is(err, writer.ErrNotExist):
			c.JSON(http.StatusNotFound, gin.H{"error": "no data persisted today"})
			return
		case err != nil:
			s.log.WithComponent("dashboard").WithError(err).WithFields(logger.Fields{
				"tracker": name,
			}).Warn("csv export failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Header("Content-Disposition", `attachment; filename="`+baseName(object)+`"`)
		c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
	})

	api.GET("/quotes", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"quotes": s.engine.Registry().Quotes()})
	})

	api.GET("/metrics", func(c *gin.Context) {
		metricsSnapshot := s.metricStore.named(c.Query("name"))
		payload := make([]gin.H, 0, len(metricsSnapshot))
		for _, m := range metricsSnapshot {
			payload = append(payload, gin.H{
				"timestamp": m.Timestamp.Format(time.RFC3339Nano),
				"component": m.Component,
				"name":      m.Name,
				"value":     m.Value,
				"type":      m.Type,
				"fields":    m.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"metrics": payload})
	})

	api.GET("/logs", func(c *gin.Context) {
		minLevel := logrus.TraceLevel
		if q := c.Query("level"); q != "" {
			lvl, err := logrus.ParseLevel(q)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			minLevel = lvl
		}
		logsSnapshot := s.logStore.query(minLevel, c.Query("component"))
		payload := make([]gin.H, 0, len(logsSnapshot))
		for _, l := range logsSnapshot {
			payload = append(payload, gin.H{
				"timestamp": l.Timestamp.Format(time.RFC3339Nano),
				"level":     l.Level,
				"component": l.Component,
				"message":   l.Message,
				"fields":    l.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"logs": payload})
	})

	api.GET("/resources", func(c *gin.Context) {
		snapshots := s.resourceSampler.snapshot()
		payload := make([]gin.H, 0, len(snapshots))
		for _, snap := range snapshots {
			payload = append(payload, gin.H{
				"timestamp":      snap.Timestamp.Format(time.RFC3339Nano),
				"cpu_percent":    snap.CPUPercent,
				"memory_used":    snap.MemoryUsed,
				"memory_total":   snap.MemoryTotal,
				"memory_percent": snap.MemoryPct,
				"disk_used":      snap.DiskUsed,
				"disk_total":     snap.DiskTotal,
				"disk_percent":   snap.DiskPct,
				"process_rss":    snap.ProcessRSS,
				"goroutines":     snap.Goroutines,
			})
		}
		c.JSON(http.StatusOK, gin.H{"resources": payload})
	})

	return router, nil
}

func (s *Server) known(name string) bool {
	for _, t := range s.engine.Trackers() {
		if t.Name == name {
			return true
		}
	}
	return false
}

// baseName strips any backend prefix from an object name.
func baseName(object string) string {
	if i := strings.LastIndex(object, "/"); i >= 0 {
		return object[i+1:]
	}
	return object
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8501"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8501"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8501")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8501")
	}

	return addr
}
