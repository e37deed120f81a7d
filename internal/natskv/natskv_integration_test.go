//go:build integration

package natskv_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"go-anomaly-pipeline/internal/metastore"
	"go-anomaly-pipeline/internal/metastore/metastoretest"
	"go-anomaly-pipeline/internal/natskv"
)

func startNATS(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "nats:2.11.7-alpine",
		Cmd:          []string{"--port", "4222", "--http_port", "8222", "--js"},
		ExposedPorts: []string{"4222/tcp", "8222/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("4222/tcp"),
			wait.ForHTTP("/").WithPort("8222/tcp"),
		).WithDeadline(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)
	return fmt.Sprintf("nats://%s:%s", host, port.Port())
}

func TestStore(t *testing.T) {
	url := startNATS(t)

	metastoretest.Run(t, func(t *testing.T) metastore.Store {
		// one bucket per subtest keeps key sets apart
		s, err := natskv.Connect(context.Background(), natskv.Config{
			URL:    url,
			Bucket: "jobs_" + uuid.NewString()[:8],
		}, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
