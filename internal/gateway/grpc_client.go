package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

const analyzeRoundMethod = "/innerview.analysis.AnalysisService/AnalyzeRound"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GrpcClient talks to the analysis agent service over gRPC with a JSON
// content subtype.
type GrpcClient struct {
	conn   *grpc.ClientConn
	addr   string
	logger *slog.Logger
}

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig() GrpcClientConfig {
	return GrpcClientConfig{
		Address:          "localhost:50061",
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcClient creates a client connection to the analysis agent service.
// No network I/O happens until the first call; use WaitReady to probe the
// endpoint during startup.
func NewGrpcClient(addr string, logger *slog.Logger) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := DefaultGrpcClientConfig()
	if addr != "" {
		cfg.Address = addr
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to analysis agent at %s: %w", cfg.Address, err)
	}

	return &GrpcClient{
		conn:   conn,
		addr:   cfg.Address,
		logger: logger,
	}, nil
}

// WaitReady forces a connection attempt so bad endpoints fail fast during
// startup.
func (c *GrpcClient) WaitReady(ctx context.Context) error {
	for {
		state := c.conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			c.conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !c.conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// analyzeRoundReply is the wire shape of an AnalyzeRound response.
type analyzeRoundReply struct {
	Analysis json.RawMessage `json:"analysis"`
}

// AnalyzeRound invokes the analysis service for one round and returns the raw
// analysis payload. Transport and provider failures are mapped onto the
// gateway error taxonomy; the payload itself is not inspected here.
func (c *GrpcClient) AnalyzeRound(ctx context.Context, req AnalysisRequest) (json.RawMessage, error) {
	var reply analyzeRoundReply
	err := c.conn.Invoke(ctx, analyzeRoundMethod, &req, &reply, grpc.CallContentSubtype(jsonCodecName))
	if err != nil {
		return nil, c.mapError(err)
	}
	if len(reply.Analysis) == 0 {
		return nil, &Error{Kind: KindMalformedOutput, Err: errors.New("analysis service returned an empty payload")}
	}
	return reply.Analysis, nil
}

func (c *GrpcClient) mapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	switch status.Code(err) {
	case codes.DeadlineExceeded:
		return &Error{Kind: KindTimeout, Err: err}
	case codes.ResourceExhausted:
		return &Error{Kind: KindRateLimited, Err: err}
	case codes.Unavailable:
		return &Error{Kind: KindUnreachable, Err: err}
	case codes.InvalidArgument, codes.Internal:
		return &Error{Kind: KindMalformedOutput, Err: err}
	default:
		c.logger.Warn("unmapped analysis agent failure", "code", status.Code(err), "error", err)
		return &Error{Kind: KindUnreachable, Err: err}
	}
}

// Close closes the underlying connection.
func (c *GrpcClient) Close() error {
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close analysis agent connection: %w", err)
	}
	return nil
}

// Ensure GrpcClient implements Analyzer.
var _ Analyzer = (*GrpcClient)(nil)
