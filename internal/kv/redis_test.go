package kv

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRedisContractIntegration(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ns := "pglocator-test-" + uuid.NewString() + ":"
	store, err := NewRedisFromURL(context.Background(), url, ns)
	require.NoError(t, err)
	defer store.Close()

	runStoreContract(t, store)
}
