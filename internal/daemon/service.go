package daemon

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/presencectl/internal/config"
	"github.com/danmuck/presencectl/internal/control"
	"github.com/danmuck/presencectl/internal/ipc"
	"github.com/danmuck/presencectl/internal/presence"
	"github.com/danmuck/presencectl/internal/protocol/session"
	"github.com/danmuck/presencectl/internal/registrar"
	"github.com/danmuck/presencectl/internal/rpc"
	"github.com/danmuck/presencectl/internal/tools"
	"github.com/rs/zerolog/log"
)

var ErrInvalidHeartbeatInterval = errors.New("daemon: invalid heartbeat interval")

// ServiceConfig configures one daemon process.
type ServiceConfig struct {
	AppID        string
	SteamID      string
	AutoRegister bool

	Control control.Config
	Session session.Config

	Reconnect       bool
	BreakerFailures uint32
	BreakerCooldown time.Duration

	// IPCDir overrides the directory scanned for discord-ipc-N sockets.
	IPCDir string
	// InitialPresence is a presence document file queued before the first connect.
	InitialPresence   string
	HeartbeatInterval time.Duration
}

func DefaultServiceConfig() ServiceConfig {
	sup := DefaultSupervisorConfig()
	return ServiceConfig{
		AutoRegister: true,
		Control: control.Config{
			Addr:        control.DefaultAddr,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Session:           session.DefaultConfig(),
		Reconnect:         true,
		BreakerFailures:   sup.BreakerFailures,
		BreakerCooldown:   sup.BreakerCooldown,
		HeartbeatInterval: 30 * time.Second,
	}
}

type serviceOptions struct {
	registrar  registrar.Registrar
	clientOpts []rpc.Option
}

type ServiceOption func(*serviceOptions)

// WithRegistrar replaces the platform registrar picked from runtime.GOOS.
func WithRegistrar(r registrar.Registrar) ServiceOption {
	return func(o *serviceOptions) { o.registrar = r }
}

// WithClientOptions appends options to the engine constructor.
func WithClientOptions(opts ...rpc.Option) ServiceOption {
	return func(o *serviceOptions) { o.clientOpts = append(o.clientOpts, opts...) }
}

// Service owns one engine, its reconnect supervisor and the control API.
type Service struct {
	cfg        ServiceConfig
	client     *rpc.Client
	recorder   *control.Recorder
	control    *control.Server
	supervisor *Supervisor
	registrar  registrar.Registrar
}

func NewService(cfg ServiceConfig, opts ...ServiceOption) (*Service, error) {
	if cfg.HeartbeatInterval <= 0 {
		return nil, ErrInvalidHeartbeatInterval
	}
	cfg.Session = cfg.Session.WithDefaults()
	if err := cfg.Session.Validate(); err != nil {
		return nil, err
	}

	o := serviceOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registrar == nil {
		home, _ := os.UserHomeDir()
		o.registrar = registrar.ForPlatform(runtime.GOOS, home, tools.ExecRunner{})
	}

	clientOpts := []rpc.Option{rpc.WithConfig(cfg.Session)}
	if strings.TrimSpace(cfg.IPCDir) != "" {
		clientOpts = append(clientOpts, rpc.WithEndpointDir(cfg.IPCDir))
	}
	clientOpts = append(clientOpts, o.clientOpts...)
	client, err := rpc.New(cfg.AppID, clientOpts...)
	if err != nil {
		return nil, err
	}

	sup := NewSupervisor(client, SupervisorConfig{
		Backoff:         cfg.Session.Backoff,
		BreakerFailures: cfg.BreakerFailures,
		BreakerCooldown: cfg.BreakerCooldown,
		ConnectTimeout:  cfg.Control.ConnectTimeout,
	})

	recorder := control.NewRecorder(control.DefaultEventCapacity)
	client.SetDelegate(recorder)
	client.OnConnect(func(c *rpc.Client) {
		sup.NotifyReady()
		st := c.Status()
		if st.User != nil {
			log.Info().Msgf("daemon.Service ready user_id=%s username=%q", st.User.ID, st.User.Username)
		}
	})
	client.OnDisconnect(func(_ *rpc.Client, reason rpc.DisconnectReason) {
		log.Info().Msgf("daemon.Service disconnected code=%d has_code=%t message=%q", reason.Code, reason.HasCode, reason.Message)
		sup.NotifyDisconnected()
	})
	client.OnError(func(_ *rpc.Client, code int, message string) {
		log.Warn().Msgf("daemon.Service error event code=%d message=%q", code, message)
	})

	s := &Service{
		cfg:        cfg,
		client:     client,
		recorder:   recorder,
		supervisor: sup,
		registrar:  o.registrar,
	}
	s.control = control.New(cfg.Control, engine{s: s}, recorder)
	return s, nil
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

func (s *Service) Client() *rpc.Client         { return s.client }
func (s *Service) Recorder() *control.Recorder { return s.recorder }
func (s *Service) Control() *control.Server    { return s.control }
func (s *Service) Supervisor() *Supervisor     { return s.supervisor }
func (s *Service) Config() ServiceConfig       { return s.cfg }

// Serve runs until ctx is cancelled, then disconnects the engine.
func (s *Service) Serve(ctx context.Context) error {
	s.bootstrap()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	defer s.client.Disconnect()

	controlErr := make(chan error, 1)
	go func() {
		controlErr <- s.control.Serve(ctx)
	}()
	if s.cfg.Reconnect {
		go func() {
			_ = s.supervisor.Run(ctx)
		}()
	} else {
		go s.connectOnce(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msgf("daemon.Service shutdown app_id=%s", s.client.AppID())
			return nil
		case err := <-controlErr:
			if err != nil {
				return err
			}
		case <-ticker.C:
			st := s.client.Status()
			log.Info().Msgf(
				"daemon.Service heartbeat app_id=%s state=%s endpoint=%q presence_pending=%t join_requests=%d breaker=%s",
				st.AppID,
				st.State,
				st.Endpoint,
				st.PresencePending,
				s.recorder.PendingJoinRequests(),
				s.supervisor.BreakerState(),
			)
		}
	}
}

func (s *Service) bootstrap() {
	if s.cfg.AutoRegister {
		if err := s.registrar.Register(s.cfg.AppID, s.cfg.SteamID); err != nil {
			log.Warn().Msgf("daemon.Service register skipped app_id=%s err=%v", s.cfg.AppID, err)
		} else {
			log.Debug().Msgf("daemon.Service registered app_id=%s steam_id=%q", s.cfg.AppID, s.cfg.SteamID)
		}
	}
	if path := strings.TrimSpace(s.cfg.InitialPresence); path != "" {
		doc, err := config.LoadActivityFile(path)
		if err != nil {
			log.Warn().Msgf("daemon.Service initial presence skipped path=%q err=%v", path, err)
		} else {
			s.client.SetPresence(doc)
		}
	}
	log.Info().Msgf(
		"daemon.Service bootstrap app_id=%s control_addr=%s reconnect=%t ipc_dir=%q",
		s.cfg.AppID,
		s.control.Addr(),
		s.cfg.Reconnect,
		s.ipcDir(),
	)
}

func (s *Service) connectOnce(ctx context.Context) {
	timeout := s.cfg.Control.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultSupervisorConfig().ConnectTimeout
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.client.Connect(connectCtx); err != nil {
		log.Warn().Msgf("daemon.Service connect failed app_id=%s err=%v", s.cfg.AppID, err)
	}
}

func (s *Service) ipcDir() string {
	if strings.TrimSpace(s.cfg.IPCDir) != "" {
		return s.cfg.IPCDir
	}
	return ipc.TempDir()
}

// engine adapts the service for the control API so operator connects and
// disconnects also steer the supervisor.
type engine struct {
	s *Service
}

func (e engine) Connect(ctx context.Context) error {
	err := e.s.client.Connect(ctx)
	if e.s.cfg.Reconnect {
		e.s.supervisor.Resume()
	}
	return err
}

func (e engine) Disconnect() bool {
	e.s.supervisor.Pause()
	return e.s.client.Disconnect()
}

func (e engine) SetPresence(doc presence.Activity) { e.s.client.SetPresence(doc) }

func (e engine) ClearPresence() bool { return e.s.client.ClearPresence() }

func (e engine) Reply(req presence.JoinRequest, reply presence.JoinReply) {
	e.s.client.Reply(req, reply)
}

func (e engine) Status() rpc.Status { return e.s.client.Status() }

var _ control.Engine = engine{}
