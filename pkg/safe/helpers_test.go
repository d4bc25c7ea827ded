package safe

import (
	"context"
	"io"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittosafe/pkg/access"
	"github.com/marmos91/dittosafe/pkg/db"
	"github.com/marmos91/dittosafe/pkg/identity"
	"github.com/marmos91/dittosafe/pkg/storage"
	"github.com/marmos91/dittosafe/pkg/storage/factory"
	"github.com/marmos91/dittosafe/pkg/storage/memory"
)

const testSafe = "vault"

// fixture is one database plus one in-memory container location.
type fixture struct {
	env     Env
	creator identity.Identity
	url     string
	metrics *recordingMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	database, err := db.OpenInMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	creator, err := identity.New("alice")
	require.NoError(t, err)

	m := &recordingMetrics{}
	return &fixture{
		env: Env{
			DB:        database,
			Connector: factory.New(factory.Options{}),
			Metrics:   m,
			Files:     afero.NewMemMapFs(),
		},
		creator: creator,
		url:     "mem://" + uuid.NewString(),
		metrics: m,
	}
}

// store returns the raw container store.
func (f *fixture) store() storage.Store {
	return memory.Shared(f.url[len("mem://"):])
}

func (f *fixture) tokenFor(t *testing.T, user identity.Identity) string {
	t.Helper()
	token, err := access.Encode(user.ID, testSafe, f.creator.ID, []string{f.url}, nil)
	require.NoError(t, err)
	return token
}

func (f *fixture) create(t *testing.T, users Users) *Safe {
	t.Helper()
	s, err := Create(context.Background(), f.env, f.creator, f.tokenFor(t, f.creator), users, CreateOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func (f *fixture) open(t *testing.T, user identity.Identity) *Safe {
	t.Helper()
	s, err := Open(context.Background(), f.env, user, f.tokenFor(t, user), OpenOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func (f *fixture) objects(t *testing.T, prefix string) []string {
	t.Helper()
	objects, err := f.store().List(context.Background(), testSafe+"/"+prefix)
	require.NoError(t, err)
	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		keys = append(keys, obj.Key)
	}
	return keys
}

func newUser(t *testing.T, nick string) identity.Identity {
	t.Helper()
	id, err := identity.New(nick)
	require.NoError(t, err)
	return id
}

func mustPut(t *testing.T, s *Safe, name, content string, opts PutOptions) Header {
	t.Helper()
	h, err := s.PutBytes(context.Background(), name, []byte(content), opts)
	require.NoError(t, err)
	return h
}

func mustGet(t *testing.T, s *Safe, name string) string {
	t.Helper()
	data, err := s.GetBytes(context.Background(), name, GetOptions{})
	require.NoError(t, err)
	return string(data)
}

func names(headers []Header) []string {
	out := make([]string, 0, len(headers))
	for _, h := range headers {
		out = append(out, h.Name)
	}
	return out
}

type recordingMetrics struct {
	mu    sync.Mutex
	ops   map[string]int
	bytes map[string]int64
}

func (m *recordingMetrics) ObserveOperation(operation string, _ time.Duration, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ops == nil {
		m.ops = make(map[string]int)
	}
	m.ops[operation]++
}

func (m *recordingMetrics) RecordBytes(operation string, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bytes == nil {
		m.bytes = make(map[string]int64)
	}
	m.bytes[operation] += n
}

// otherDevice returns an environment with its own database, reaching the
// same containers.
func (f *fixture) otherDevice(t *testing.T) Env {
	t.Helper()
	database, err := db.OpenInMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	env := f.env
	env.DB = database
	return env
}

func (f *fixture) openOn(t *testing.T, env Env, user identity.Identity) *Safe {
	t.Helper()
	s, err := Open(context.Background(), env, user, f.tokenFor(t, user), OpenOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func bytesReader(s string) io.Reader {
	return strings.NewReader(s)
}

func writeLocal(f *fixture, name, content string) error {
	if err := f.env.Files.MkdirAll(path.Dir(name), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(f.env.Files, name, []byte(content), 0o600)
}
