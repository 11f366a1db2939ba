//go:build integration

package bus_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/CZERTAINLY/Factory/internal/bus"
	"github.com/CZERTAINLY/Factory/internal/model"

	"github.com/stretchr/testify/require"
)

// natsURL starts a NATS server container and returns its client URL.
func natsURL(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("integration tests with -short are ignored")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor: wait.ForLog("Server is ready").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("skipped, NATS container not available: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	url, err := container.PortEndpoint(ctx, "4222/tcp", "nats")
	require.NoError(t, err)
	return url
}

func TestNotifierPublishes(t *testing.T) {
	url := natsURL(t)
	ctx := t.Context()

	sub, err := bus.Connect(url)
	require.NoError(t, err)
	t.Cleanup(sub.Close)

	received := make(chan []byte, 1)
	_, err = sub.SubscribeJSON("factory.test.*.progress", func(_ context.Context, data []byte) {
		received <- data
	})
	require.NoError(t, err)
	require.NoError(t, sub.Conn().Flush())

	n, err := bus.Dial(ctx, model.NATS{Enabled: true, URL: url, Subject: "factory.test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })

	job := model.NewJob(1, "Widget", 3)
	job.Status = model.JobInWork
	job.Produce(1)
	ev := model.Event{
		Kind:      model.EventProgress,
		MachineID: uuid.New(),
		State:     model.StateRunning,
		Light:     model.Green,
		Job:       &job,
		Time:      time.Now().UTC(),
	}
	require.NoError(t, n.Notify(ctx, ev))

	select {
	case data := <-received:
		var got struct {
			Kind      string    `json:"kind"`
			MachineID uuid.UUID `json:"machine_id"`
			State     string    `json:"state"`
			Light     string    `json:"light"`
			Job       model.Job `json:"job"`
		}
		require.NoError(t, json.Unmarshal(data, &got))
		require.Equal(t, "progress", got.Kind)
		require.Equal(t, ev.MachineID, got.MachineID)
		require.Equal(t, "Running", got.State)
		require.Equal(t, "Green", got.Light)
		require.Equal(t, job, got.Job)
	case <-time.After(5 * time.Second):
		t.Fatal("event not received")
	}
}
