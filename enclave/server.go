package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/google/uuid"
	"github.com/mdlayher/vsock"
	"go.uber.org/zap"

	"github.com/cloudx-io/escrowhouse/config"
	"github.com/cloudx-io/escrowhouse/engine"
	"github.com/cloudx-io/escrowhouse/journal"
	"github.com/cloudx-io/escrowhouse/rewards"
	"github.com/cloudx-io/escrowhouse/treasury"
)

const requestTimeout = 30 * time.Second

// EnclaveServer serves the auction house over a single-request-per-connection
// JSON protocol.
type EnclaveServer struct {
	cfg    config.Config
	logger *zap.Logger

	house      *engine.House
	treasury   *treasury.Treasury
	rewards    *rewards.Registry
	journal    *journal.Journal
	events     engine.EventSink
	keyManager *KeyManager

	// attester returns the NSM handle, or an error outside an enclave.
	attester func() (EnclaveAttester, error)
}

// getEnclaveAttester attempts to get the NSM attester, returns error if not available
func getEnclaveAttester() (EnclaveAttester, error) {
	handle, err := enclave.GetOrInitializeHandle()
	if err != nil {
		return nil, fmt.Errorf("NSM not available: %w", err)
	}
	return handle, nil
}

// NewEnclaveServer wires the house, its collaborators and the signing key.
func NewEnclaveServer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*EnclaveServer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	keyManager, err := NewKeyManager()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize key manager: %w", err)
	}
	logger.Info("KeyManager initialized", zap.String("key_id", keyManager.KeyID()))

	s := &EnclaveServer{
		cfg:        cfg,
		logger:     logger,
		treasury:   treasury.New(logger.Named("treasury")),
		rewards:    rewards.NewRegistry(cfg.Owner, logger.Named("rewards")),
		events:     engine.MultiSink{},
		keyManager: keyManager,
		attester:   getEnclaveAttester,
	}

	if cfg.JournalPath != "" {
		j, err := journal.Open(ctx, cfg.JournalPath)
		if err != nil {
			return nil, err
		}
		s.journal = j
		s.events = j
		logger.Info("Journal opened", zap.String("path", cfg.JournalPath))
	}

	if err := s.rewards.SetAuctionHouse(cfg.Owner, cfg.HouseIdentity); err != nil {
		return nil, fmt.Errorf("failed to register auction house: %w", err)
	}
	s.rewards.OnClaim(s.publishClaim)

	house, err := engine.New(cfg.Engine(), s.treasury,
		engine.WithLogger(logger.Named("house")),
		engine.WithEventSink(s.events),
		engine.WithRewardIssuer(s.rewards.MinterFor(cfg.HouseIdentity)),
	)
	if err != nil {
		return nil, err
	}
	s.house = house
	return s, nil
}

func (s *EnclaveServer) publishClaim(ctx context.Context, tokenID uint64, holder string) {
	auctionID, err := s.rewards.AuctionOf(tokenID)
	if err != nil {
		s.logger.Error("Failed to resolve claimed token", zap.Uint64("token_id", tokenID), zap.Error(err))
		return
	}
	ev := engine.Event{
		ID:        uuid.New(),
		Kind:      engine.EventRewardClaimed,
		AuctionID: auctionID,
		At:        time.Now().UTC(),
		TokenID:   tokenID,
		Winner:    holder,
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Error("Failed to publish event",
			zap.String("kind", string(ev.Kind)),
			zap.Uint64("token_id", tokenID),
			zap.Error(err))
	}
}

// Close releases the journal.
func (s *EnclaveServer) Close() error {
	if s.journal != nil {
		return s.journal.Close()
	}
	return nil
}

func (s *EnclaveServer) listen() (net.Listener, error) {
	switch s.cfg.Listen {
	case config.ListenVsock:
		l, err := vsock.Listen(s.cfg.VsockPort, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create vsock listener: %w", err)
		}
		s.logger.Info("Listening on vsock", zap.Uint32("port", s.cfg.VsockPort))
		return l, nil
	case config.ListenTCP:
		l, err := net.Listen("tcp", s.cfg.TCPAddress)
		if err != nil {
			return nil, fmt.Errorf("failed to create tcp listener: %w", err)
		}
		s.logger.Info("Listening on tcp", zap.String("address", l.Addr().String()))
		return l, nil
	default:
		return nil, fmt.Errorf("unknown listen mode %q", s.cfg.Listen)
	}
}

// Start listens and serves until ctx is cancelled.
func (s *EnclaveServer) Start(ctx context.Context) error {
	listener, err := s.listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is cancelled. At most
// MaxWorkers connections are handled at once; excess connections are closed
// immediately.
func (s *EnclaveServer) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		if err := listener.Close(); err != nil {
			s.logger.Error("Failed to close listener", zap.Error(err))
		}
	}()

	semaphore := make(chan struct{}, s.cfg.MaxWorkers)
	s.logger.Info("Worker pool initialized", zap.Int("max_workers", s.cfg.MaxWorkers))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.logger.Error("Failed to accept connection", zap.Error(err))
			continue
		}

		// Acquire worker slot - immediate rejection if pool full
		select {
		case semaphore <- struct{}{}:
			go func(c net.Conn) {
				defer func() { <-semaphore }()
				s.handleConnection(ctx, c)
			}(conn)
		default:
			s.logger.Warn("No workers available, rejecting connection")
			if err := conn.Close(); err != nil {
				s.logger.Error("Failed to close rejected connection", zap.Error(err))
			}
		}
	}
}

func (s *EnclaveServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in handleConnection", zap.Any("panic", r))
		}
		if err := conn.Close(); err != nil {
			s.logger.Error("Failed to close connection", zap.Error(err))
		}
	}()

	_ = conn.SetDeadline(time.Now().Add(requestTimeout))

	var raw json.RawMessage
	if err := json.NewDecoder(conn).Decode(&raw); err != nil {
		s.logger.Warn("Failed to read request", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	response := s.dispatch(ctx, raw)

	if err := json.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func main() {
	configPath := flag.String("config", os.Getenv("ESCROWHOUSE_CONFIG"), "Path to YAML config file")
	development := flag.Bool("dev", false, "Use development logging")
	flag.Parse()

	var logger *zap.Logger
	var err error
	if *development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := NewEnclaveServer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}
	defer func() {
		if err := server.Close(); err != nil {
			logger.Error("Failed to close server", zap.Error(err))
		}
	}()

	if err := server.Start(ctx); err != nil {
		logger.Error("Server stopped", zap.Error(err))
	}
}
