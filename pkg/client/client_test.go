package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanome-ai/plugin-vault/internal/api"
	"github.com/nanome-ai/plugin-vault/internal/filestore"
	"github.com/nanome-ai/plugin-vault/internal/logging"
	"github.com/nanome-ai/plugin-vault/internal/uploads"
	"github.com/nanome-ai/plugin-vault/pkg/protocol"
	"github.com/nanome-ai/plugin-vault/pkg/retry"
)

var fastRetry = retry.Config{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond}

func newStore(t *testing.T) *filestore.Store {
	t.Helper()
	logging.InitNop()
	store, err := filestore.New(filestore.Options{Root: filepath.Join(t.TempDir(), "vault"), KDFIterations: 1000})
	require.NoError(t, err)
	return store
}

func httpVault(t *testing.T) Vault {
	t.Helper()
	store := newStore(t)
	up, err := uploads.Open(uploads.Options{Dir: t.TempDir()}, store)
	require.NoError(t, err)
	t.Cleanup(func() { up.Close() })
	s, err := api.NewServer(api.Deps{Store: store, Uploads: up})
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return New(Config{BaseURL: ts.URL, RetryConfig: fastRetry})
}

func localVault(t *testing.T) Vault {
	t.Helper()
	return NewLocal(newStore(t))
}

// Both implementations must behave the same, errors included.
func TestVaultImplementations(t *testing.T) {
	impls := map[string]func(*testing.T) Vault{
		"http":  httpVault,
		"local": localVault,
	}
	for name, open := range impls {
		t.Run(name, func(t *testing.T) {
			v := open(t)
			ctx := context.Background()

			require.NoError(t, v.CreatePath(ctx, "docs", ""))
			assert.ErrorIs(t, v.CreatePath(ctx, "docs", ""), ErrAlreadyExists)

			stored, err := v.AddFile(ctx, "docs", "notes.pdf", []byte("pdf"), "")
			require.NoError(t, err)
			assert.Equal(t, "docs/notes.pdf", stored)
			stored, err = v.AddFile(ctx, "docs", "notes.pdf", []byte("pdf2"), "")
			require.NoError(t, err)
			assert.Equal(t, "docs/notes (2).pdf", stored)
			_, err = v.AddFile(ctx, "docs", "tool.exe", []byte("MZ"), "")
			assert.ErrorIs(t, err, ErrBadRequest)

			require.NoError(t, v.EncryptFolder(ctx, "docs", "k1"))
			assert.ErrorIs(t, v.EncryptFolder(ctx, "docs", "k1"), ErrBadRequest)

			valid, err := v.IsKeyValid(ctx, "docs", "k1")
			require.NoError(t, err)
			assert.True(t, valid)
			valid, err = v.IsKeyValid(ctx, "docs", "nope")
			require.NoError(t, err)
			assert.False(t, valid)
			valid, err = v.IsKeyValid(ctx, "docs", "")
			require.NoError(t, err)
			assert.False(t, valid)
			valid, err = v.IsKeyValid(ctx, "shared", "")
			require.NoError(t, err)
			assert.True(t, valid)

			_, err = v.ListPath(ctx, "docs", "")
			assert.ErrorIs(t, err, ErrForbidden)
			listing, err := v.ListPath(ctx, "docs", "k1")
			require.NoError(t, err)
			require.NotNil(t, listing.LockedPath)
			assert.Equal(t, "docs/", *listing.LockedPath)
			assert.Len(t, listing.Files, 2)

			data, err := v.GetFile(ctx, "docs/notes.pdf", "k1")
			require.NoError(t, err)
			assert.Equal(t, "pdf", string(data))
			_, err = v.GetFile(ctx, "docs/missing.pdf", "k1")
			assert.ErrorIs(t, err, ErrNotFound)

			assert.ErrorIs(t, v.DecryptFolder(ctx, "docs", "nope"), ErrForbidden)
			require.NoError(t, v.DecryptFolder(ctx, "docs", "k1"))

			require.NoError(t, v.RenamePath(ctx, "docs/notes (2).pdf", "draft.pdf", ""))
			require.NoError(t, v.MovePath(ctx, "docs/draft.pdf", "shared", ""))
			listing, err = v.ListPath(ctx, "shared", "")
			require.NoError(t, err)
			require.Len(t, listing.Files, 1)
			assert.Equal(t, "draft.pdf", listing.Files[0].Name)

			assert.ErrorIs(t, v.DeletePath(ctx, "shared", ""), ErrForbidden)
			require.NoError(t, v.DeletePath(ctx, "docs", ""))
			_, err = v.ListPath(ctx, "docs", "")
			assert.ErrorIs(t, err, ErrNotFound)

			ext, err := v.ListSupportedExtensions(ctx)
			require.NoError(t, err)
			assert.Contains(t, ext.Supported, "pdb")
		})
	}
}

func TestAddFileChunked(t *testing.T) {
	v := httpVault(t).(*Client)
	ctx := context.Background()
	payload := bytes.Repeat([]byte("ATOM "), 100)

	stored, err := v.AddFileChunked(ctx, "shared", "big.pdb", bytes.NewReader(payload), int64(len(payload)), "", 64)
	require.NoError(t, err)
	assert.Equal(t, "shared/big.pdb", stored)

	data, err := v.GetFile(ctx, stored, "")
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(protocol.ListResponse{Success: true, Listing: protocol.Listing{
			Folders: []protocol.Entry{{Name: "shared"}},
		}})
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL, RetryConfig: fastRetry})
	listing, err := c.ListPath(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, "shared", listing.Folders[0].Name)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: "Forbidden"})
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL, RetryConfig: fastRetry})
	err := c.DeletePath(context.Background(), "shared", "")
	assert.ErrorIs(t, err, ErrForbidden)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Forbidden", apiErr.Message)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientDoesNotRetryWrites(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()
	c := New(Config{BaseURL: ts.URL, RetryConfig: fastRetry})
	ctx := context.Background()

	_, err := c.AddFile(ctx, "shared", "a.pdb", []byte("ATOM"), "")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, int32(1), calls.Load(), "upload sent once")

	calls.Store(0)
	_, err = c.AddFileChunked(ctx, "shared", "a.pdb", bytes.NewReader([]byte("ATOM")), 4, "", 2)
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "upload-init sent once")

	calls.Store(0)
	assert.Error(t, c.CreatePath(ctx, "shared/new", ""))
	assert.Equal(t, int32(1), calls.Load())

	calls.Store(0)
	_, err = c.IsKeyValid(ctx, "shared", "k1")
	assert.Error(t, err)
	assert.Equal(t, int32(3), calls.Load(), "verify is safe to repeat")
}

func TestClientSendsCredentials(t *testing.T) {
	var gotAuth, gotKey, gotVaultKey string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get(protocol.APIKeyHeader)
		gotVaultKey = r.Header.Get(protocol.KeyHeader)
		w.Write([]byte("data"))
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL, AuthToken: "tok", APIKey: "api"})
	_, err := c.GetFile(context.Background(), "shared/a b.pdb", "k1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "api", gotKey)
	assert.Equal(t, "k1", gotVaultKey)
	assert.Equal(t, ts.URL+"/files/shared/a%20b.pdb", c.filesURL("shared/a b.pdb"))
}
