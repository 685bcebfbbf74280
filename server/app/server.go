package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"carecomms/server/api"
	"carecomms/server/chat"
	commonlog "carecomms/server/common/log"
	"carecomms/server/errs"
	"carecomms/server/files"
	"carecomms/server/invite"
	"carecomms/server/network"
	"carecomms/server/notify"
	"carecomms/server/offline"
	"carecomms/server/remote"
	"carecomms/server/store"
)

type Server struct {
	HTTPServer *http.Server
	Store      *store.Store
	Redis      *redis.Client
	Monitor    *network.Monitor
	Coord      *offline.Coordinator
	Errors     *errs.Handler
	Publisher  *notify.Publisher

	cancelMonitor context.CancelFunc
}

func NewServer(cfg Config) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if dir := filepath.Dir(cfg.SQLitePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	st, err := store.Open(cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// The node must come up without connectivity; reads fall back to
		// the mirror until the hub is reachable.
		commonlog.Warnf("event=startup action=redis_ping status=failed addr=%s error=%v", cfg.RedisAddr, err)
	}

	monitor := network.NewMonitor(cfg.HubProbeURL, cfg.ProbeInterval, cfg.ProbeTimeout)
	coord := offline.NewCoordinator(monitor.IsOnline, st)
	monitor.OnOnline(coord.SyncPending)

	hub := remote.NewHubClient(cfg.HubBaseURL, redisClient, cfg.RemoteTimeout)
	errHandler := errs.NewHandler()

	var publisher *notify.Publisher
	if cfg.UseMQ {
		publisher, err = notify.NewPublisher(cfg.AMQPURL)
		if err != nil {
			commonlog.Warnf("event=startup action=mq_connect status=failed error=%v", err)
			publisher = nil
		}
	}
	var notifier chat.Notifier
	if publisher != nil {
		notifier = publisher
	}

	local := chat.NewLocalRepository(st)
	repo := chat.NewRepository(local, hub, st, coord, monitor, notifier, cfg.RemoteTimeout)

	var inviteNotifier invite.Notifier
	if publisher != nil {
		inviteNotifier = publisher
	}
	invites := invite.NewRepository(st, coord, hub, repo, inviteNotifier)

	var fileSvc *files.Service
	if cfg.UseObjectStore {
		minioClient, err := files.NewClient(cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey, cfg.MinIOUseSSL)
		if err != nil {
			commonlog.Warnf("event=startup action=minio_connect status=failed error=%v", err)
		} else {
			fileSvc = files.NewService(minioClient, cfg.MinIOBucket)
			if err := fileSvc.EnsureBucket(ctx); err != nil {
				commonlog.Warnf("event=startup action=ensure_bucket status=failed bucket=%s error=%v", cfg.MinIOBucket, err)
			}
		}
	}

	monitorCtx, cancelMonitor := context.WithCancel(context.Background())
	monitor.Start(monitorCtx)

	h := api.NewHandler(st, repo, invites, fileSvc, coord, monitor, cfg.JWTSecret, cfg.JWTTTLMinutes, errHandler)
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	h.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		HTTPServer:    httpServer,
		Store:         st,
		Redis:         redisClient,
		Monitor:       monitor,
		Coord:         coord,
		Errors:        errHandler,
		Publisher:     publisher,
		cancelMonitor: cancelMonitor,
	}, nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelMonitor()
	if s.Publisher != nil {
		s.Publisher.Close()
	}
	if s.Errors != nil {
		s.Errors.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	err := s.HTTPServer.Shutdown(ctx)
	if s.Store != nil {
		_ = s.Store.Close()
	}
	return err
}
