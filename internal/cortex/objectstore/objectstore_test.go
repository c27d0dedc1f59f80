package objectstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDisabledWithoutBucket(t *testing.T) {
	m, err := New(context.Background(), Config{})
	require.NoError(t, err)
	require.Nil(t, m, "an empty Bucket must disable mirroring rather than construct a client")
}

func TestKeyWithoutPrefix(t *testing.T) {
	m := &Mirror{bucket: "b"}
	require.Equal(t, "bundles/a.html", m.key("bundles", "a.html"))
}

func TestKeyWithPrefix(t *testing.T) {
	m := &Mirror{bucket: "b", prefix: "cortex"}
	require.Equal(t, "cortex/models/a.json", m.key("models", "a.json"))
}
