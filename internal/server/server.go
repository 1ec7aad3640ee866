// Package server implements THE CORE of rembash: a single-threaded,
// edge-triggered one-shot event loop that admits TCP clients through a
// shared-secret handshake and bridges each admitted client to a freshly
// spawned interactive shell over a PTY.
//
// Following spec.md §9's "global state → explicit context" redesign
// note, every piece of process-wide state the original C daemon kept in
// file-scope globals is threaded here as fields of Server, with only
// the signal policy remaining process-wide (Go's signal.Ignore has no
// narrower scope).
package server

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sys/unix"
	"rembash.dev/rembash/internal/acl"
	"rembash.dev/rembash/internal/admin"
	"rembash.dev/rembash/internal/audit"
	"rembash.dev/rembash/internal/metrics"
	"rembash.dev/rembash/internal/secretstore"
	"rembash.dev/rembash/internal/secretwatch"
	"rembash.dev/rembash/internal/workerpool"
)

const maxEpollEvents = 256

// Greeting and acceptance/rejection lines of the admission handshake
// (spec.md §6). The secret line's exact text is server-configured; the
// rest of the protocol is fixed.
const (
	greetingLine = "<rembash>\n"
	okLine       = "<ok>\n"
	errorLine    = "<error>\n"
)

// Config bundles the Supervisor's startup parameters, resolved from
// internal/core's viper-backed configuration before Run is called.
type Config struct {
	ListenPort       int
	HandshakeTimeout time.Duration
	WorkerCount      int
	ShellPath        string
	AdminSocketPath  string
	AuditDBPath      string
	ACLPath          string
	Secret           string
	SecretHash       string
	SecretFilePath   string
	Logger           *slog.Logger
}

// Server is the explicit context threaded through every component,
// replacing the original implementation's process-wide globals.
type Server struct {
	cfg Config
	log *slog.Logger

	listenFD  int
	epfd      int // main event instance
	timerEpfd int // secondary event instance aggregating handshake timers

	pool *workerpool.Pool
	desc *descriptorIndex

	verifier *secretstore.Verifier
	allow    *acl.List
	auditDB  *audit.DB

	adminListener interface{ Close() error }

	handshakeTimeout time.Duration
	stopSecretWatch  chan struct{}
}

// New constructs a Server without starting it; call Run to enter the
// event loop. Resolution of the secret, ACL, and audit DB happens here
// so Run can fail fast on misconfiguration.
func New(cfg Config) (*Server, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	secret, err := secretstore.Resolve(cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("resolve shared secret: %w", err)
	}

	// A configured secret file is this deployment's rotation mechanism:
	// when present, it supplies the initial secret too, ahead of the
	// flag/env/keyring chain above, since the whole point of pointing
	// --secret-file at a file is to let that file be authoritative.
	if cfg.SecretFilePath != "" {
		fileSecret, err := secretstore.ReadSecretFile(cfg.SecretFilePath)
		if err != nil {
			return nil, fmt.Errorf("read secret file: %w", err)
		}
		secret = fileSecret
	}

	if secret == "" && cfg.SecretHash == "" {
		return nil, fmt.Errorf("no shared secret configured (set via flag, env, keyring, secret file, or config file)")
	}
	verifier := secretstore.NewVerifier(secret, cfg.SecretHash)

	allow, err := acl.Load(cfg.ACLPath)
	if err != nil {
		return nil, fmt.Errorf("load acl: %w", err)
	}

	var auditDB *audit.DB
	if cfg.AuditDBPath != "" {
		auditDB, err = audit.Open(cfg.AuditDBPath)
		if err != nil {
			return nil, fmt.Errorf("open audit db: %w", err)
		}
	}

	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Server{
		cfg:              cfg,
		log:              log,
		listenFD:         -1,
		epfd:             -1,
		timerEpfd:        -1,
		desc:             newDescriptorIndex(1024),
		verifier:         verifier,
		allow:            allow,
		auditDB:          auditDB,
		handshakeTimeout: timeout,
	}, nil
}

// Run performs Supervisor initialization (spec.md §4.1) and then enters
// the event loop, which never returns absent a fatal error.
func (s *Server) Run() error {
	// 1. Signal policy: ignore SIGPIPE, so a client hanging up mid-write
	// cannot kill the process. Children are reaped by pty.go's
	// waitAndReap, not by a signal disposition.
	installSignalPolicy()

	// 2. Listening socket: non-blocking, close-on-exec, reusable address.
	listenFD, err := s.createListener(s.cfg.ListenPort)
	if err != nil {
		return fmt.Errorf("create listener: %w", err)
	}
	s.listenFD = listenFD

	// 3. Main event instance and secondary timer event instance.
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("epoll_create1 (main): %w", err)
	}
	s.epfd = epfd

	timerEpfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("epoll_create1 (timers): %w", err)
	}
	s.timerEpfd = timerEpfd

	// 4. Register listener and timer-aggregate fd with the main instance.
	if err := s.armOneShot(s.epfd, s.listenFD, unix.EPOLLIN); err != nil {
		return fmt.Errorf("register listener: %w", err)
	}
	if err := s.armOneShot(s.epfd, s.timerEpfd, unix.EPOLLIN); err != nil {
		return fmt.Errorf("register timer instance: %w", err)
	}

	// 5. Worker pool.
	s.pool = workerpool.New(s.cfg.WorkerCount)

	if s.cfg.SecretFilePath != "" {
		s.stopSecretWatch = make(chan struct{})
		secretwatch.Watch(s.cfg.SecretFilePath, s.verifier, s.log, s.stopSecretWatch)
	}

	// Admin socket, best-effort: its absence should not prevent the
	// admission server itself from running.
	if s.cfg.AdminSocketPath != "" {
		l, err := admin.Serve(s.cfg.AdminSocketPath, s.handleAdminCommand)
		if err != nil {
			s.log.Warn("admin socket unavailable", "error", err)
		} else {
			s.adminListener = l
		}
	}

	s.log.Info("rembash listening", "port", s.cfg.ListenPort, "workers", s.cfg.WorkerCount)

	// 6. Event loop. Never returns on success.
	return s.eventLoop()
}

func (s *Server) createListener(port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}

	addr := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind :%d: %w", port, err)
	}

	const backlog = 128
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen: %w", err)
	}

	return fd, nil
}

// armOneShot registers fd for the given readiness events, edge-triggered
// and one-shot, on the given epoll instance.
func (s *Server) armOneShot(epfd, fd int, events uint32) error {
	ev := &unix.EpollEvent{
		Events: events | unix.EPOLLET | unix.EPOLLONESHOT,
		Fd:     int32(fd),
	}
	return unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, ev)
}

// rearmOneShot re-registers an already-added fd; EPOLL_CTL_MOD is
// required because one-shot registrations are consumed on delivery.
func (s *Server) rearmOneShot(epfd, fd int, events uint32) error {
	ev := &unix.EpollEvent{
		Events: events | unix.EPOLLET | unix.EPOLLONESHOT,
		Fd:     int32(fd),
	}
	return unix.EpollCtl(epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

// statusPayload is the STATUS command's Data field: a resource
// snapshot plus, when the audit log is enabled, a summary of recent
// connection lifecycle events.
type statusPayload struct {
	Snapshot     *metrics.Snapshot       `json:"snapshot"`
	EventCounts  map[string]int          `json:"event_counts,omitempty"`
	RecentEvents []audit.ConnectionEvent `json:"recent_events,omitempty"`
}

func (s *Server) handleAdminCommand(command string) admin.Response {
	var resp admin.Response
	switch command {
	case "STATUS":
		snap, err := metrics.Take(fmt.Sprintf("0.0.0.0:%d", s.cfg.ListenPort))
		if err != nil {
			resp.AddMessage(err.Error(), "ERROR")
			return resp
		}
		resp.AddMessage(snap.String(), "INFO")

		payload := statusPayload{Snapshot: snap}
		if s.auditDB != nil {
			counts := make(map[string]int)
			for _, eventType := range []string{
				audit.EventAccepted, audit.EventAdmitted,
				audit.EventRejectedSecret, audit.EventTimedOut, audit.EventTerminated,
			} {
				if n, err := s.auditDB.CountByType(eventType); err == nil {
					counts[eventType] = n
				}
			}
			payload.EventCounts = counts
			resp.AddMessage(fmt.Sprintf("admitted=%d rejected=%d timed_out=%d",
				counts[audit.EventAdmitted], counts[audit.EventRejectedSecret], counts[audit.EventTimedOut]), "INFO")

			if recent, err := s.auditDB.Recent(10); err == nil {
				payload.RecentEvents = recent
			}
		}
		resp.AddData(payload)
	case "VERSION":
		resp.AddData(map[string]string{"pid": fmt.Sprintf("%d", os.Getpid())})
	default:
		resp.AddMessage("unknown command", "ERROR")
	}
	return resp
}

// Close releases process-wide resources. Run's event loop never
// returns in normal operation, so Close exists for tests that construct
// a Server, drive it briefly, and shut it down.
func (s *Server) Close() {
	if s.stopSecretWatch != nil {
		close(s.stopSecretWatch)
	}
	if s.adminListener != nil {
		s.adminListener.Close()
	}
	if s.auditDB != nil {
		s.auditDB.Close()
	}
	if s.pool != nil {
		s.pool.Shutdown()
	}
	if s.timerEpfd >= 0 {
		unix.Close(s.timerEpfd)
	}
	if s.epfd >= 0 {
		unix.Close(s.epfd)
	}
	if s.listenFD >= 0 {
		unix.Close(s.listenFD)
	}
}
