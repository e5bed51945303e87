package grpcclient

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/faceid/internal/face"
	"github.com/example/faceid/internal/logging"
)

const requestIDHeader = "x-request-id"

// Client talks to the face model service. It implements face.Detector and face.Extractor.
type Client struct {
	cc          grpc.ClientConnInterface
	conn        *grpc.ClientConn
	callTimeout time.Duration
	logger      *zap.Logger
}

// DialFaceModel returns a ready-to-use client for the model service. Message
// limits default to DefaultMaxMessageSize; pass MaxMessageSize to change them.
func DialFaceModel(ctx context.Context, addr string, callTimeout time.Duration, logger *zap.Logger, opts ...grpc.DialOption) (*Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
		MaxMessageSize(DefaultMaxMessageSize),
	}, opts...)
	conn, err := grpc.DialContext(dialCtx, addr, opts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_face_model", "", err)
		logger.Error("failed to dial face model", zap.Error(wrapped), zap.String("addr", addr))
		return nil, wrapped
	}
	c := NewClient(conn, callTimeout, logger)
	c.conn = conn
	return c, nil
}

// NewClient wraps an existing connection.
func NewClient(cc grpc.ClientConnInterface, callTimeout time.Duration, logger *zap.Logger) *Client {
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return &Client{cc: cc, callTimeout: callTimeout, logger: logger.Named("face_model")}
}

// Close releases the underlying connection when the client owns it.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Available reports whether the model connection is usable.
func (c *Client) Available() bool {
	if c.conn == nil {
		return c.cc != nil
	}
	switch c.conn.GetState() {
	case connectivity.TransientFailure, connectivity.Shutdown:
		return false
	default:
		return true
	}
}

// DetectFaces returns the raw face rectangles the model found.
func (c *Client) DetectFaces(ctx context.Context, grid *face.PixelGrid) ([]face.Region, error) {
	req, err := GridMessage(grid, nil)
	if err != nil {
		return nil, err
	}
	resp := new(structpb.Struct)
	if err := c.invoke(ctx, detectFacesMethod, req, resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.detect_faces", logging.RequestIDFromContext(ctx), err)
		c.logger.Error("face detection call failed", zap.Error(wrapped))
		return nil, wrapped
	}
	return regionsFromMessage(resp), nil
}

// Extract computes the embedding of region. A model that cannot place
// landmarks answers FailedPrecondition or an empty vector; both map to
// face.ErrExtraction.
func (c *Client) Extract(ctx context.Context, grid *face.PixelGrid, region face.Region) (face.Embedding, error) {
	req, err := GridMessage(grid, &region)
	if err != nil {
		return nil, err
	}
	resp := new(structpb.Struct)
	requestID := logging.RequestIDFromContext(ctx)
	if err := c.invoke(ctx, extractEmbeddingMethod, req, resp); err != nil {
		switch status.Code(err) {
		case codes.FailedPrecondition, codes.NotFound:
			return nil, fmt.Errorf("%w: %s", face.ErrExtraction, status.Convert(err).Message())
		}
		wrapped := logging.NewOperationError("grpcclient.extract_embedding", requestID, err)
		c.logger.Error("embedding call failed", zap.Error(wrapped))
		return nil, wrapped
	}

	emb := embeddingFromMessage(resp)
	if len(emb) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", face.ErrExtraction)
	}
	return emb, nil
}

func (c *Client) invoke(ctx context.Context, method string, req, resp interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	if id := logging.RequestIDFromContext(ctx); id != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, requestIDHeader, id)
	}
	return c.cc.Invoke(ctx, method, req, resp)
}
