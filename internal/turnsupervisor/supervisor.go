// Package turnsupervisor owns the lifecycle of one TURN server
// instance: binding its listeners, wiring the Credential Store's
// lookup as the authentication callback, and publishing the
// connection descriptor clients fetch over HTTP.
package turnsupervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/turn/v4"

	"relayhub/internal/credentials"
)

// channelBindTimeout is fixed by the design at 600 seconds.
const channelBindTimeout = 600 * time.Second

// State is the supervisor's lifecycle state machine.
type State int

const (
	StateConstructed State = iota
	StateBound
	StateServing
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateBound:
		return "bound"
	case StateServing:
		return "serving"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config configures one TURN supervisor instance.
type Config struct {
	// PublicIP is advertised in the connection descriptor and used as
	// the relay address generator's external address. It is never
	// bound to directly — the listener binds 0.0.0.0.
	PublicIP net.IP
	Port     int
	Realm    string
	Username string
	Password string

	// EnableTCP additionally binds a TCP listener on Port, making the
	// descriptor's advertised ?transport=tcp URL reachable. Off by
	// default to match the base design, which only binds UDP.
	EnableTCP bool
}

// Descriptor is the immutable connection descriptor clients fetch.
type Descriptor struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username"`
	Credential string   `json:"credential"`
}

// Supervisor owns one TURN server instance end to end.
type Supervisor struct {
	cfg   Config
	store credentials.Store
	log   *slog.Logger

	mu          sync.Mutex
	state       State
	server      *turn.Server
	udpConn     net.PacketConn
	tcpListener net.Listener

	allocationAttempts atomic.Int64
}

// New constructs a Supervisor and installs the single configured
// credential into store. The supervisor does not bind any socket
// until Start is called.
func New(cfg Config, store credentials.Store, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	store.Install(cfg.Username, cfg.Realm, cfg.Password)
	return &Supervisor{
		cfg:   cfg,
		store: store,
		log:   log.With("component", "turn-supervisor"),
		state: StateConstructed,
	}
}

// Start binds the configured listeners and runs the TURN engine until
// Stop is called. Bind failure is fatal and returned to the caller.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	if s.state != StateConstructed {
		s.mu.Unlock()
		return fmt.Errorf("turn supervisor: start called in state %s", s.state)
	}
	s.mu.Unlock()

	udpConn, err := net.ListenPacket("udp4", "0.0.0.0:"+strconv.Itoa(s.cfg.Port))
	if err != nil {
		return fmt.Errorf("turn supervisor: bind udp: %w", err)
	}

	var listenerConfigs []turn.ListenerConfig
	var tcpListener net.Listener
	if s.cfg.EnableTCP {
		tcpListener, err = net.Listen("tcp4", "0.0.0.0:"+strconv.Itoa(s.cfg.Port))
		if err != nil {
			_ = udpConn.Close()
			return fmt.Errorf("turn supervisor: bind tcp: %w", err)
		}
		listenerConfigs = []turn.ListenerConfig{
			{
				Listener:              tcpListener,
				RelayAddressGenerator: s.relayAddressGenerator(),
			},
		}
	}

	s.mu.Lock()
	s.udpConn = udpConn
	s.tcpListener = tcpListener
	s.state = StateBound
	s.mu.Unlock()

	server, err := turn.NewServer(turn.ServerConfig{
		Realm:       s.cfg.Realm,
		AuthHandler: s.authHandler,
		PacketConnConfigs: []turn.PacketConnConfig{
			{
				PacketConn:            udpConn,
				RelayAddressGenerator: s.relayAddressGenerator(),
			},
		},
		ListenerConfigs: listenerConfigs,
		ChannelBindTimeout: channelBindTimeout,
	})
	if err != nil {
		_ = udpConn.Close()
		if tcpListener != nil {
			_ = tcpListener.Close()
		}
		return fmt.Errorf("turn supervisor: start engine: %w", err)
	}

	s.mu.Lock()
	s.server = server
	s.state = StateServing
	s.mu.Unlock()

	s.log.Info("turn server serving", "port", s.cfg.Port, "tcp", s.cfg.EnableTCP)
	return nil
}

func (s *Supervisor) relayAddressGenerator() turn.RelayAddressGenerator {
	return &turn.RelayAddressGeneratorStatic{
		RelayAddress: s.cfg.PublicIP,
		Address:      "0.0.0.0",
	}
}

// authHandler is passed to the TURN engine as its authentication
// callback. It never blocks on anything beyond the Credential Store's
// in-memory lookup.
func (s *Supervisor) authHandler(username, realm string, srcAddr net.Addr) ([]byte, bool) {
	s.allocationAttempts.Add(1)
	key, ok := s.store.Lookup(username, realm, srcAddr.String())
	if !ok {
		return nil, false
	}
	return key, true
}

// Stop is idempotent and causes the supervisor to release its
// listeners promptly. In-flight allocations may be severed.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.state == StateStopped || s.state == StateConstructed {
		s.state = StateStopped
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	server := s.server
	udpConn := s.udpConn
	tcpListener := s.tcpListener
	s.mu.Unlock()

	var errs []error
	if server != nil {
		if err := server.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if udpConn != nil {
		_ = udpConn.Close()
	}
	if tcpListener != nil {
		_ = tcpListener.Close()
	}

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()

	return errors.Join(errs...)
}

// State returns the supervisor's current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Descriptor returns the immutable connection descriptor, derived
// purely from configuration.
func (s *Supervisor) Descriptor() Descriptor {
	host := s.cfg.PublicIP.String()
	port := strconv.Itoa(s.cfg.Port)
	return Descriptor{
		URLs: []string{
			"turn:" + host + ":" + port,
			"turn:" + host + ":" + port + "?transport=tcp",
		},
		Username:   s.cfg.Username,
		Credential: s.cfg.Password,
	}
}

// AllocationAttempts returns the count of authentication callbacks
// observed, for diagnostics only.
func (s *Supervisor) AllocationAttempts() int64 {
	return s.allocationAttempts.Load()
}
