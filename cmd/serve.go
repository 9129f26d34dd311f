package cmd

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/keymint-ta/core/internal/ta"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

// maxFrameBytes bounds a single request frame, independent of the
// AddRngEntropy-specific MaxRngEntropyBytes limit enforced inside the TA.
const maxFrameBytes = 1 << 20

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the framed KeyMint request/response protocol",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		servedConfig = cfg
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), servedConfig)
	},
}

var servedConfig *Config

func init() {
	rootCmd.AddCommand(serveCmd)
}

// taServer serializes every request into the single-threaded KeyMintTA
// core: internal/ta.KeyMintTA documents that callers with multiple
// transport connections must serialize at the request boundary, so one
// mutex here stands in for that boundary.
type taServer struct {
	mu  sync.Mutex
	ta  *ta.KeyMintTA
	rps float64
	burst int
}

func (s *taServer) handleConn(conn net.Conn) {
	connID := uuid.NewString()
	defer conn.Close()
	slog.Info("connection opened", "conn", connID, "remote", conn.RemoteAddr())

	limiter := rate.NewLimiter(rate.Limit(s.rps), s.burst)
	for {
		if err := limiter.Wait(context.Background()); err != nil {
			slog.Warn("rate limiter wait failed", "conn", connID, "err", err)
			return
		}

		reqBytes, err := readFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Warn("reading frame", "conn", connID, "err", err)
			}
			slog.Info("connection closed", "conn", connID)
			return
		}

		reqID := uuid.NewString()
		slog.Debug("request received", "conn", connID, "request", reqID)

		s.mu.Lock()
		respBytes := s.ta.Process(context.Background(), reqBytes)
		s.mu.Unlock()

		slog.Debug("response sent", "conn", connID, "request", reqID)
		if err := writeFrame(conn, respBytes); err != nil {
			slog.Warn("writing frame", "conn", connID, "err", err)
			return
		}
	}
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit of %d", n, maxFrameBytes)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func runServe(ctx context.Context, cfg *Config) error {
	coreTA, closer, err := buildTA(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closer(); err != nil {
			slog.Warn("closing storage", "err", err)
		}
	}()

	lis, err := net.Listen(cfg.Listen.Network, cfg.Listen.Address)
	if err != nil {
		return fmt.Errorf("listening on %s %s: %w", cfg.Listen.Network, cfg.Listen.Address, err)
	}
	defer lis.Close()
	slog.Info("listening", "network", cfg.Listen.Network, "address", lis.Addr().String())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		slog.Info("shutting down")
		_ = lis.Close()
	}()

	server := &taServer{ta: coreTA, rps: cfg.RateLimit.RequestsPerSecond, burst: cfg.RateLimit.Burst}

	for {
		conn, err := lis.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accepting connection: %w", err)
		}
		go server.handleConn(conn)
	}
}
