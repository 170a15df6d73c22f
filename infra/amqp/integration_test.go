//go:build integration

package amqp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/organlink/core/errs"
	"github.com/kilianp07/organlink/core/messaging"
)

// TestIntegrationDeadLetter runs a failing handler against a real broker and
// expects the message in the dead-letter queue after three attempts.
func TestIntegrationDeadLetter(t *testing.T) {
	if os.Getenv("DOCKER_AVAILABLE") != "true" && os.Getenv("DOCKER_AVAILABLE") != "1" {
		t.Skip("docker not available")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	req := tc.ContainerRequest{
		Image:        "rabbitmq:3-management-alpine",
		ExposedPorts: []string{"5672/tcp"},
		WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(90 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	defer func() { _ = container.Terminate(context.Background()) }()

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5672")
	require.NoError(t, err)
	url := fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port.Port())

	conn := NewConnectionManager(Config{URL: url, ReconnectBackoff: 500 * time.Millisecond, MaxReconnectAttempts: 20}, nil)
	require.NoError(t, conn.Connect(ctx))
	defer conn.Close()

	ch, err := conn.Channel(ctx)
	require.NoError(t, err)
	require.NoError(t, DeclareTopology(ch))
	_ = ch.Close()

	pub := NewPublisher(conn, nil)
	defer pub.Close()
	consumer := NewConsumer(conn, pub, messaging.RetryPolicy{MaxAttempts: 3, Backoff: 10 * time.Millisecond}, 1, nil, nil)

	var calls atomic.Int32
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = consumer.Run(runCtx, messaging.QueueMatchRequest, func(context.Context, messaging.Message) error {
			calls.Add(1)
			return errs.Downstream("get recipient", errors.New("unavailable"))
		})
	}()

	require.NoError(t, pub.Publish(ctx, messaging.MatchRequested{RecipientID: "r1"}))

	raw, err := amqp.Dial(url)
	require.NoError(t, err)
	defer raw.Close()
	probe, err := raw.Channel()
	require.NoError(t, err)

	var dead amqp.Delivery
	require.Eventually(t, func() bool {
		d, ok, err := probe.Get(messaging.DeadLetterQueue(messaging.QueueMatchRequest), true)
		if err != nil || !ok {
			return false
		}
		dead = d
		return true
	}, 30*time.Second, 100*time.Millisecond)

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2, RetryCount(dead.Headers))
}
