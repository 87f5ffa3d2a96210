package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// DefaultNATSImage is the NATS server image used by StartNATS.
const DefaultNATSImage = "nats:2.11.7-alpine"

// NATSServer is a NATS server running in a container.
type NATSServer struct {
	URL       string
	container testcontainers.Container
}

// Terminate stops the container.
func (s *NATSServer) Terminate(ctx context.Context) error {
	return s.container.Terminate(ctx)
}

// StartNATS starts a NATS container and returns it once the client port and
// the monitoring endpoint answer. The container is terminated when the test
// ends. The test is skipped in -short mode.
func StartNATS(t testing.TB) *NATSServer {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping NATS container test in short mode")
	}

	srv, err := NewNATSServer(context.Background(), 30*time.Second)
	if err != nil {
		t.Fatalf("start NATS container: %v", err)
	}
	t.Cleanup(func() {
		_ = srv.Terminate(context.Background()) // Best effort test cleanup
	})
	return srv
}

// NewNATSServer starts a NATS container without a testing.TB, for TestMain.
func NewNATSServer(ctx context.Context, startTimeout time.Duration) (*NATSServer, error) {
	req := testcontainers.ContainerRequest{
		Image:        DefaultNATSImage,
		ExposedPorts: []string{"4222/tcp", "8222/tcp"},
		Cmd:          []string{"--port", "4222", "--http_port", "8222"},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("4222/tcp"),
			wait.ForHTTP("/").WithPort("8222/tcp").WithStartupTimeout(startTimeout),
		),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start NATS container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	return &NATSServer{
		URL:       fmt.Sprintf("nats://%s:%s", host, port.Port()),
		container: container,
	}, nil
}
