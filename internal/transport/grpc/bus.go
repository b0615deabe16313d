package grpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const publishTimeout = 5 * time.Second

var errPublishRejected = errors.New("event rejected by remote event service")

// GrpcBus publishes events to a remote EventService over gRPC.
// Used when BusProvider == "grpc" in config.
type GrpcBus struct {
	conn   *grpc.ClientConn
	client *Client
}

// NewGrpcBusFromAddr dials the remote EventService and returns a GrpcBus and a cleanup function.
func NewGrpcBusFromAddr(addr string) (*GrpcBus, func(), error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { _ = conn.Close() }
	return &GrpcBus{conn: conn, client: NewClient(conn)}, cleanup, nil
}

// Publish sends an event to the remote EventService.
func (b *GrpcBus) Publish(topic string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	res, err := b.client.Publish(ctx, &EventRequest{
		Topic:   topic,
		Payload: data,
	})
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%w: %s", errPublishRejected, res.ErrorMessage)
	}
	return nil
}
