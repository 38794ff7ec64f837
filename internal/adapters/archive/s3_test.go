package archive_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/lpbot/internal/adapters/archive"
	"github.com/alejandrodnm/lpbot/internal/domain"
)

func closedPosition() domain.Position {
	closedAt := time.Date(2026, 4, 7, 23, 59, 0, 0, time.UTC)
	return domain.Position{
		ID:           "p-123",
		TokenAddress: "TOK",
		Status:       domain.StatusClosed,
		LastUpdated:  closedAt,
		Close:        &domain.CloseRecord{ClosedAt: closedAt, Reason: domain.ExitMaxLifespan},
	}
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "positions/2026/04/07/p-123.json", archive.ObjectKey("positions", closedPosition()))
}

func TestNewS3Archiver_RequiresBucket(t *testing.T) {
	_, err := archive.NewS3Archiver(context.Background(), archive.Config{Region: "us-east-1"})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestArchive_PutsObject(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a, err := archive.NewS3Archiver(context.Background(), archive.Config{
		Endpoint:       srv.URL,
		Region:         "us-east-1",
		Bucket:         "lp-archive",
		AccessKey:      "AKIDTEST",
		SecretKey:      "secret",
		ForcePathStyle: true,
	})
	require.NoError(t, err)

	require.NoError(t, a.Archive(context.Background(), closedPosition()))
	assert.Equal(t, "/lp-archive/positions/2026/04/07/p-123.json", gotPath)
	assert.Contains(t, gotBody, `"id": "p-123"`)
}

func TestArchive_RejectsActive(t *testing.T) {
	a, err := archive.NewS3Archiver(context.Background(), archive.Config{
		Endpoint: "http://127.0.0.1:1", Region: "us-east-1", Bucket: "b", AccessKey: "a", SecretKey: "s",
	})
	require.NoError(t, err)

	p := closedPosition()
	p.Status = domain.StatusActive
	p.Close = nil
	assert.Error(t, a.Archive(context.Background(), p))
}
