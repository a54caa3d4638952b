package artifact_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/iot-provisioner/pkg/artifact"
)

const noSuchKey = `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message><Key>%s</Key><BucketName>firmware</BucketName></Error>`

// fakeBucket answers the path-style requests minio-go sends for one bucket.
func fakeBucket(t *testing.T, objects map[string][]byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.URL.Query()["location"]; ok {
			w.Header().Set("Content-Type", "application/xml")
			_, _ = w.Write([]byte(`<LocationConstraint xmlns="http://s3.amazonaws.com/doc/2006-03-01/">us-east-1</LocationConstraint>`))
			return
		}

		bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
		if bucket != "firmware" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if key == "" {
			w.WriteHeader(http.StatusOK)
			return
		}

		data, ok := objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(strings.Replace(noSuchKey, "%s", key, 1)))
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.Header().Set("Last-Modified", time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC).Format(http.TimeFormat))
		_, _ = w.Write(data)
	}))
	t.Cleanup(server.Close)
	return server
}

func objectStoreConfig(server *httptest.Server, bucket string) artifact.ObjectStoreConfig {
	return artifact.ObjectStoreConfig{
		Endpoint:  strings.TrimPrefix(server.URL, "http://"),
		AccessKey: "provisioner",
		SecretKey: "provisioner-secret",
		Bucket:    bucket,
		Prefix:    "algo",
		Region:    "us-east-1",
	}
}

func TestObjectStore_Open(t *testing.T) {
	server := fakeBucket(t, map[string][]byte{"algo/8301_v3.3.0.bin": []byte("abc")})

	store, err := artifact.ConnectObjectStore(context.Background(), objectStoreConfig(server, "firmware"))
	require.NoError(t, err)

	data, err := store.Open(context.Background(), "8301_v3.3.0.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)
}

func TestObjectStore_MissingKeyIsArtifactMissing(t *testing.T) {
	server := fakeBucket(t, nil)

	store, err := artifact.ConnectObjectStore(context.Background(), objectStoreConfig(server, "firmware"))
	require.NoError(t, err)

	_, err = store.Open(context.Background(), "8186_v4.5.1.bin")
	assert.ErrorIs(t, err, artifact.ErrArtifactMissing)
	assert.ErrorContains(t, err, "s3://firmware/algo/8186_v4.5.1.bin")
}

func TestConnectObjectStore_MissingBucket(t *testing.T) {
	server := fakeBucket(t, nil)

	_, err := artifact.ConnectObjectStore(context.Background(), objectStoreConfig(server, "other"))
	assert.ErrorContains(t, err, `bucket "other" does not exist`)
}
