package pdf

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/invoicer/pkg/async"
	"github.com/platinummonkey/invoicer/pkg/invoice"
	"github.com/platinummonkey/invoicer/pkg/storage"
)

// memStore is an in-memory storage.ObjectStore
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	getErr  error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (m *memStore) PutObject(_ context.Context, key string, content io.Reader, _ string) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.puts++
	return nil
}

func (m *memStore) GetObject(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) DeleteObject(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memStore) ObjectExists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://s3.example.com/bucket/" + key + "?sig=1", nil
}

func (m *memStore) HealthCheck(context.Context) error { return nil }

func (m *memStore) putCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

type fakeArchiver struct {
	mu   sync.Mutex
	keys map[uuid.UUID]string
}

func (f *fakeArchiver) SetPDFKey(_ context.Context, _, id uuid.UUID, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys == nil {
		f.keys = map[uuid.UUID]string{}
	}
	f.keys[id] = key
	return nil
}

func newTestService(store storage.ObjectStore, archiver Archiver) (*Service, *async.Runner) {
	runner := async.NewRunner(nil)
	return NewService(NewRenderer("invoicer"), store, archiver, runner, DefaultConfig(), nil, nil), runner
}

func TestService_InvoiceCachesAndArchives(t *testing.T) {
	store := newMemStore()
	archiver := &fakeArchiver{}
	svc, runner := newTestService(store, archiver)
	inv := sampleInvoice(t)

	doc, err := svc.Invoice(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, "Invoice-FACT-001.pdf", doc.Filename)
	require.NoError(t, runner.Shutdown(context.Background()))

	key := ArchiveKey(inv)
	assert.Equal(t, 1, store.putCount())
	assert.Equal(t, doc.Data, store.objects[key])
	assert.Equal(t, key, archiver.keys[inv.ID])
	assert.Equal(t, 1, svc.cache.Len())

	again, err := svc.Invoice(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, doc.Data, again.Data)
	assert.Equal(t, 1, svc.cache.Len())
}

func TestService_CacheKeyFollowsUpdates(t *testing.T) {
	svc, _ := newTestService(nil, nil)
	inv := sampleInvoice(t)

	_, err := svc.Invoice(context.Background(), inv)
	require.NoError(t, err)

	inv.UpdatedAt = inv.UpdatedAt.Add(time.Minute)
	_, err = svc.Invoice(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, 2, svc.cache.Len())
}

func TestService_ConcurrentRendersShareResult(t *testing.T) {
	svc, _ := newTestService(nil, nil)
	inv := sampleInvoice(t)

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc, err := svc.Invoice(context.Background(), inv)
			if assert.NoError(t, err) {
				results[i] = doc.Data
			}
		}(i)
	}
	wg.Wait()

	for _, r := range results[1:] {
		assert.Equal(t, results[0], r)
	}
	assert.Equal(t, 1, svc.cache.Len())
}

func TestService_ReceiptRequiresPaid(t *testing.T) {
	svc, _ := newTestService(nil, nil)
	inv := sampleInvoice(t)

	_, err := svc.Receipt(context.Background(), inv)
	assert.ErrorIs(t, err, ErrNotPaid)

	inv.Status = invoice.StatusPaid
	doc, err := svc.Receipt(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, "Receipt-FACT-001.pdf", doc.Filename)
	assert.True(t, bytes.HasPrefix(doc.Data, []byte("%PDF-")))
}

func TestService_PreviewIsNotCached(t *testing.T) {
	store := newMemStore()
	svc, runner := newTestService(store, &fakeArchiver{})

	doc, err := svc.Preview(context.Background(), sampleInvoice(t))
	require.NoError(t, err)
	assert.NotEmpty(t, doc.Data)
	require.NoError(t, runner.Shutdown(context.Background()))

	assert.Zero(t, svc.cache.Len())
	assert.Zero(t, store.putCount())
}

func TestService_ShareArchivesSynchronously(t *testing.T) {
	store := newMemStore()
	archiver := &fakeArchiver{}
	svc, _ := newTestService(store, archiver)
	inv := sampleInvoice(t)

	share, err := svc.Share(context.Background(), inv)
	require.NoError(t, err)

	key := ArchiveKey(inv)
	assert.Equal(t, "https://s3.example.com/bucket/"+key+"?sig=1", share.URL)
	assert.Equal(t, key, archiver.keys[inv.ID])
	assert.Contains(t, share.Message, "Invoice FACT-001 for Client SARL")
	assert.Contains(t, share.Message, share.URL)
	assert.Contains(t, share.WhatsAppURL, "https://wa.me/?text=Invoice+FACT-001")
	assert.True(t, share.ExpiresAt.After(time.Now()))
}

func TestService_ShareReusesArchive(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(store, &fakeArchiver{})
	inv := sampleInvoice(t)
	inv.PDFKey = ArchiveKey(inv)
	store.objects[inv.PDFKey] = []byte("%PDF-archived")

	_, err := svc.Share(context.Background(), inv)
	require.NoError(t, err)
	assert.Zero(t, store.putCount())
}

func TestService_ShareWithoutStore(t *testing.T) {
	svc, _ := newTestService(nil, nil)
	_, err := svc.Share(context.Background(), sampleInvoice(t))
	assert.ErrorIs(t, err, storage.ErrPresignUnsupported)
}

func TestService_LoadsLogo(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(store, nil)
	inv := sampleInvoice(t)
	inv.LogoKey = "logos/" + inv.UserID.String() + "/logo.png"
	store.objects[inv.LogoKey] = pngLogo(t).Data

	logo, err := svc.loadLogo(context.Background(), inv.LogoKey)
	require.NoError(t, err)
	require.NotNil(t, logo)
	assert.Equal(t, "image/png", logo.ContentType)

	logo, err = svc.loadLogo(context.Background(), "logos/missing.png")
	assert.NoError(t, err)
	assert.Nil(t, logo)

	logo, err = svc.loadLogo(context.Background(), "logos/logo.gif")
	assert.NoError(t, err)
	assert.Nil(t, logo)

	store.getErr = errors.New("connection reset")
	logo, err = svc.loadLogo(context.Background(), inv.LogoKey)
	assert.Error(t, err)
	assert.Nil(t, logo)
}

func TestService_LogoOutageIsNotCachedOrArchived(t *testing.T) {
	store := newMemStore()
	archiver := &fakeArchiver{}
	svc, runner := newTestService(store, archiver)
	inv := sampleInvoice(t)
	inv.LogoKey = "logos/" + inv.UserID.String() + "/logo.png"
	store.objects[inv.LogoKey] = pngLogo(t).Data
	store.getErr = errors.New("connection reset")

	degraded, err := svc.Invoice(context.Background(), inv)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(degraded.Data, []byte("%PDF-")))
	require.NoError(t, runner.Shutdown(context.Background()))
	assert.Zero(t, svc.cache.Len())
	assert.Zero(t, store.putCount())
	assert.Empty(t, archiver.keys)

	_, err = svc.Share(context.Background(), inv)
	assert.ErrorIs(t, err, ErrLogoUnavailable)
	assert.Zero(t, store.putCount())

	// once the store recovers the full invoice is cached and archived
	store.mu.Lock()
	store.getErr = nil
	store.mu.Unlock()
	svc, runner = newTestService(store, archiver)
	full, err := svc.Invoice(context.Background(), inv)
	require.NoError(t, err)
	require.NoError(t, runner.Shutdown(context.Background()))
	assert.Greater(t, len(full.Data), len(degraded.Data))
	assert.Equal(t, 1, svc.cache.Len())
	assert.Equal(t, 1, store.putCount())
	assert.Equal(t, ArchiveKey(inv), archiver.keys[inv.ID])
}
