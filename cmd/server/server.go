package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/golang/glog"
	"github.com/thereayou/roomchat/internal/attachments"
	"github.com/thereayou/roomchat/internal/composer"
	"github.com/thereayou/roomchat/internal/config"
	"github.com/thereayou/roomchat/internal/database"
	"github.com/thereayou/roomchat/internal/handlers"
	"github.com/thereayou/roomchat/internal/messagelog"
	"github.com/thereayou/roomchat/internal/reactions"
	"github.com/thereayou/roomchat/internal/syncengine"
	ws "github.com/thereayou/roomchat/internal/websocket"
	"github.com/thereayou/roomchat/pkg/auth"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	Config     *config.Config
	Router     *gin.Engine
	DB         *database.Database
	Redis      *redis.Client
	Log        messagelog.Log
	Store      attachments.Store
	Hub        *ws.Hub
	JWTManager *auth.JWTManager

	closers []func() error
}

// NewServer connects the configured backends and builds the router. The
// memory backend with an empty ATTACHMENT_DB_PATH needs no external service.
func NewServer(cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	gin.SetMode(cfg.GinMode)

	s := &Server{Config: cfg}

	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(redisOpts)
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("redis connect failed: %w", err)
		}
		s.Redis = rdb
		s.closers = append(s.closers, rdb.Close)
	}

	switch cfg.LogBackend {
	case config.BackendPostgres:
		db := &database.Database{}
		if err := db.Connect(cfg.DatabaseURL); err != nil {
			s.Close()
			return nil, fmt.Errorf("postgres connect failed: %w", err)
		}
		s.DB = db
		s.closers = append(s.closers, db.Close)
		s.Log = messagelog.NewPostgres(db, s.Redis)
	default:
		s.Log = messagelog.NewMemory()
	}

	if cfg.AttachmentDBPath != "" {
		store, err := attachments.OpenBolt(cfg.AttachmentDBPath, cfg.PublicBaseURL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open attachment store: %w", err)
		}
		s.Store = store
		s.closers = append(s.closers, store.Close)
	} else {
		s.Store = attachments.NewMemory(cfg.PublicBaseURL)
	}

	s.JWTManager = auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL)
	s.Hub = ws.NewHub()

	comp := composer.New(s.Log, s.Store, composer.WithMaxAttachmentBytes(cfg.MaxAttachmentBytes))
	merger := reactions.NewMerger(s.Log, cfg.ReactionEmojis)
	syncOpts := syncengine.Options{RetryMin: cfg.SyncRetryMin, RetryMax: cfg.SyncRetryMax}

	messageH := handlers.NewMessageHandler(comp, merger)
	h := endpoints{
		auth:        handlers.NewAuthHandler(s.JWTManager, s.Redis),
		user:        handlers.NewUserHandler(),
		room:        handlers.NewRoomHandler(s.Hub),
		messages:    handlers.NewHTTPMessageHandler(s.Log, comp, merger, s.Store, cfg.MaxAttachmentBytes),
		attachments: handlers.NewAttachmentHandler(s.Store),
		websocket:   handlers.NewWebSocketHandler(s.Hub, messageH, s.Log, syncOpts, s.Store, cfg.AllowedOrigins),
	}

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.MaxMultipartMemory = int64(cfg.MaxAttachmentBytes) + 1<<20
	APIEndpoints(router, h, s.JWTManager, s.Redis)
	s.Router = router

	return s, nil
}

// Run serves until ctx is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	go s.Hub.Run()

	srv := &http.Server{
		Addr:    ":" + s.Config.Port,
		Handler: s.Router,
	}

	errCh := make(chan error, 1)
	go func() {
		glog.Infof("server starting on port %s (log backend %s)", s.Config.Port, s.Config.LogBackend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Hub.Stop()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	glog.Info("server shutting down")
	s.Hub.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close releases backends in reverse order of opening.
func (s *Server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			glog.Warningf("server close: %v", err)
		}
	}
	s.closers = nil
}
