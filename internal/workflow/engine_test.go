package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tinypng/internal/failure"
	"tinypng/internal/tinify"
)

type staticCredentials struct {
	mu  sync.Mutex
	key string
	max int
}

func (c *staticCredentials) APIKey() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key, c.key != ""
}

func (c *staticCredentials) MaxConcurrent() int { return c.max }

func (c *staticCredentials) setKey(key string) {
	c.mu.Lock()
	c.key = key
	c.mu.Unlock()
}

type classifierFunc func(string) bool

func (f classifierFunc) IsRecognizedImage(path string) bool { return f(path) }

func acceptAll() Classifier { return classifierFunc(func(string) bool { return true }) }

// fakeTransport blocks each upload until a token arrives on release (when
// set) and answers downloads by writing payload to a temp file.
type fakeTransport struct {
	release chan struct{}
	payload []byte

	uploadErr   error
	panicUpload bool
	beforeDL    func(path string)

	mu          sync.Mutex
	uploads     []string
	downloads   []string
	inFlight    int
	maxInFlight int
}

func (f *fakeTransport) enter() {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()
}

func (f *fakeTransport) leave() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

func (f *fakeTransport) Upload(_ context.Context, path, apiKey string, progress tinify.ProgressFunc) (tinify.Result, error) {
	f.enter()
	defer f.leave()
	f.mu.Lock()
	f.uploads = append(f.uploads, path)
	f.mu.Unlock()

	if f.panicUpload {
		panic("boom")
	}
	if progress != nil {
		progress(50, 100)
	}
	if f.release != nil {
		<-f.release
	}
	if progress != nil {
		progress(100, 100)
	}
	if f.uploadErr != nil {
		return tinify.Result{}, f.uploadErr
	}
	return tinify.Result{URL: "https://x/y/" + filepath.Base(path), Ratio: 0.42}, nil
}

func (f *fakeTransport) Download(_ context.Context, rawURL, apiKey, dir string) (string, error) {
	f.enter()
	defer f.leave()
	f.mu.Lock()
	f.downloads = append(f.downloads, rawURL)
	f.mu.Unlock()

	tmp, err := os.CreateTemp(dir, ".fake-*.tmp")
	if err != nil {
		return "", err
	}
	_, _ = tmp.Write(f.payload)
	_ = tmp.Close()
	if f.beforeDL != nil {
		f.beforeDL(rawURL)
	}
	return tmp.Name(), nil
}

func (f *fakeTransport) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads), len(f.downloads)
}

// recorder collects status sequences per item ID.
type recorder struct {
	mu  sync.Mutex
	seq map[int][]Status
	all []WorkItem
}

func newRecorder() *recorder { return &recorder{seq: map[int][]Status{}} }

func (r *recorder) handle(item WorkItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, item)
	s := r.seq[item.ID]
	if len(s) == 0 || s[len(s)-1] != item.Status() {
		r.seq[item.ID] = append(s, item.Status())
	}
}

func (r *recorder) statuses(id int) []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.seq[id]...)
}

// startOrder lists item IDs in the order they were published as Started.
func (r *recorder) startOrder() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int
	for _, it := range r.all {
		if it.Status() == StatusStarted {
			ids = append(ids, it.ID)
		}
	}
	return ids
}

func writeFiles(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, n)
	for i := range paths {
		paths[i] = filepath.Join(dir, "img"+string(rune('a'+i))+".png")
		require.NoError(t, os.WriteFile(paths[i], []byte("original"), 0o640))
	}
	return paths
}

func countStatus(items []WorkItem, status Status) int {
	n := 0
	for _, it := range items {
		if it.Status() == status {
			n++
		}
	}
	return n
}

func waitSettled(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Wait(ctx))
}

func TestCapacityBoundsUploadsAndDrainsQueue(t *testing.T) {
	transport := &fakeTransport{release: make(chan struct{}), payload: []byte("small")}
	engine := New(Options{
		Transport:   transport,
		Credentials: &staticCredentials{key: "k", max: 2},
		Classifier:  acceptAll(),
	})
	defer engine.Close()

	rec := newRecorder()
	var overCapacity bool
	engine.OnStatusChanged(func(item WorkItem) {
		if engine.ActiveCount() > 2 {
			overCapacity = true
		}
		rec.handle(item)
	})

	paths := writeFiles(t, 5)
	for _, p := range paths {
		engine.Submit(p)
	}

	items := engine.Items()
	require.Len(t, items, 5)
	assert.Equal(t, 2, countStatus(items, StatusUploading))
	assert.Equal(t, 3, countStatus(items, StatusWaiting))
	assert.Equal(t, 2, engine.ActiveCount())
	assert.Equal(t, StatusUploading, items[0].Status())
	assert.Equal(t, StatusUploading, items[1].Status())

	for i := 0; i < 5; i++ {
		transport.release <- struct{}{}
	}
	waitSettled(t, engine)
	engine.Close()

	items = engine.Items()
	assert.Equal(t, 5, countStatus(items, StatusComplete))
	assert.Equal(t, 0, engine.ActiveCount())
	assert.False(t, overCapacity)

	transport.mu.Lock()
	assert.LessOrEqual(t, transport.maxInFlight, 2)
	assert.ElementsMatch(t, paths, transport.uploads)
	transport.mu.Unlock()
	assert.Equal(t, []int{1, 2, 3, 4, 5}, rec.startOrder(), "admission follows submission order")

	for i, it := range items {
		assert.Equal(t, i+1, it.ID)
		assert.Equal(t, paths[i], it.SourcePath)
		assert.Equal(t, filepath.Base(paths[i]), it.DisplayName)
		assert.Equal(t,
			[]Status{StatusWaiting, StatusStarted, StatusUploading, StatusDownloading, StatusComplete},
			rec.statuses(it.ID))

		data, err := os.ReadFile(it.SourcePath)
		require.NoError(t, err)
		assert.Equal(t, "small", string(data))
	}
}

func TestDownloadUsesUploadResultURL(t *testing.T) {
	transport := &fakeTransport{payload: []byte("x")}
	engine := New(Options{
		Transport:   transport,
		Credentials: &staticCredentials{key: "k", max: 3},
		Classifier:  acceptAll(),
	})
	defer engine.Close()

	paths := writeFiles(t, 3)
	for _, p := range paths {
		engine.Submit(p)
	}
	waitSettled(t, engine)

	transport.mu.Lock()
	defer transport.mu.Unlock()
	require.Len(t, transport.downloads, 3)
	assert.ElementsMatch(t, []string{
		"https://x/y/imga.png", "https://x/y/imgb.png", "https://x/y/imgc.png",
	}, transport.downloads)

	for _, it := range engine.Items() {
		url, ok := it.ResultURL()
		require.True(t, ok)
		assert.Equal(t, "https://x/y/"+it.DisplayName, url)
		ratio, ok := it.SavingsRatio()
		require.True(t, ok)
		assert.InDelta(t, 0.42, ratio, 1e-9)
		_, hasErr := it.ErrorDetail()
		assert.False(t, hasErr)
	}
}

func TestNonImageFailsImmediately(t *testing.T) {
	transport := &fakeTransport{}
	engine := New(Options{
		Transport:   transport,
		Credentials: &staticCredentials{key: "k", max: 2},
		Classifier:  classifierFunc(func(string) bool { return false }),
	})
	defer engine.Close()

	rec := newRecorder()
	engine.OnStatusChanged(rec.handle)

	id := engine.Submit(writeFiles(t, 1)[0])
	item, err := engine.Get(0)
	require.NoError(t, err)
	assert.Equal(t, id, item.ID)
	assert.Equal(t, StatusError, item.Status())
	detail, ok := item.ErrorDetail()
	require.True(t, ok)
	assert.Equal(t, "Not a recognized image format", detail)
	assert.Equal(t, 0, engine.ActiveCount())

	waitSettled(t, engine)
	engine.Close()
	uploads, downloads := transport.calls()
	assert.Zero(t, uploads)
	assert.Zero(t, downloads)
	assert.Equal(t, []Status{StatusError}, rec.statuses(id))
}

func TestMissingAPIKeyMakesNoNetworkCalls(t *testing.T) {
	transport := &fakeTransport{}
	engine := New(Options{
		Transport:   transport,
		Credentials: &staticCredentials{max: 2},
		Classifier:  acceptAll(),
	})
	defer engine.Close()

	for _, p := range writeFiles(t, 3) {
		engine.Submit(p)
	}
	waitSettled(t, engine)

	for _, it := range engine.Items() {
		assert.Equal(t, StatusError, it.Status())
		detail, _ := it.ErrorDetail()
		assert.Equal(t, "Missing or invalid API key", detail)
		assert.Equal(t, failure.KindConfiguration, it.State.(Failed).Err.Kind)
	}
	uploads, downloads := transport.calls()
	assert.Zero(t, uploads)
	assert.Zero(t, downloads)
}

func TestAPIKeyRemovedBeforeAdmission(t *testing.T) {
	creds := &staticCredentials{key: "k", max: 1}
	transport := &fakeTransport{release: make(chan struct{}), payload: []byte("x")}
	engine := New(Options{Transport: transport, Credentials: creds, Classifier: acceptAll()})
	defer engine.Close()

	paths := writeFiles(t, 2)
	engine.Submit(paths[0])
	engine.Submit(paths[1])

	second, err := engine.Get(1)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, second.Status())

	creds.setKey("")
	transport.release <- struct{}{}
	waitSettled(t, engine)

	first, _ := engine.Get(0)
	second, _ = engine.Get(1)
	assert.Equal(t, StatusComplete, first.Status())
	assert.Equal(t, StatusError, second.Status())
	uploads, _ := transport.calls()
	assert.Equal(t, 1, uploads)
}

func TestUploadFailureIsTerminalAndFreesSlot(t *testing.T) {
	transport := &fakeTransport{uploadErr: failure.Service(401, "BadSignature", "Credentials are invalid")}
	engine := New(Options{
		Transport:   transport,
		Credentials: &staticCredentials{key: "k", max: 1},
		Classifier:  acceptAll(),
	})
	defer engine.Close()

	rec := newRecorder()
	engine.OnStatusChanged(rec.handle)
	for _, p := range writeFiles(t, 3) {
		engine.Submit(p)
	}
	waitSettled(t, engine)
	engine.Close()

	for _, it := range engine.Items() {
		detail, ok := it.ErrorDetail()
		require.True(t, ok)
		assert.Equal(t, "Credentials are invalid", detail)
		assert.Equal(t, "Error: Credentials are invalid", it.StatusLine())
		assert.Equal(t, []Status{StatusWaiting, StatusStarted, StatusUploading, StatusError}, rec.statuses(it.ID))
	}
	_, downloads := transport.calls()
	assert.Zero(t, downloads)
}

func TestReplaceFailureIsLocalIOError(t *testing.T) {
	paths := writeFiles(t, 1)
	transport := &fakeTransport{
		payload:  []byte("x"),
		beforeDL: func(string) { _ = os.Remove(paths[0]) },
	}
	engine := New(Options{
		Transport:   transport,
		Credentials: &staticCredentials{key: "k", max: 1},
		Classifier:  acceptAll(),
	})
	defer engine.Close()

	engine.Submit(paths[0])
	waitSettled(t, engine)

	item, err := engine.Get(0)
	require.NoError(t, err)
	require.Equal(t, StatusError, item.Status())
	assert.Equal(t, failure.KindLocalIO, item.State.(Failed).Err.Kind)

	entries, err := os.ReadDir(filepath.Dir(paths[0]))
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file must not be left behind")
}

func TestPanickingTaskReleasesSlot(t *testing.T) {
	transport := &fakeTransport{panicUpload: true}
	engine := New(Options{
		Transport:   transport,
		Credentials: &staticCredentials{key: "k", max: 1},
		Classifier:  acceptAll(),
	})
	defer engine.Close()

	for _, p := range writeFiles(t, 2) {
		engine.Submit(p)
	}
	waitSettled(t, engine)

	for _, it := range engine.Items() {
		require.Equal(t, StatusError, it.Status())
		assert.Equal(t, failure.KindInternal, it.State.(Failed).Err.Kind)
	}
	assert.Equal(t, 0, engine.ActiveCount())
}

func TestGetOutOfRange(t *testing.T) {
	engine := New(Options{Credentials: &staticCredentials{max: 1}, Classifier: acceptAll()})
	defer engine.Close()

	_, err := engine.Get(0)
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))
	_, err = engine.Get(-1)
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))
	assert.Equal(t, 0, engine.Count())
}

func TestMaxConcurrentDefaultsWhenUnset(t *testing.T) {
	engine := New(Options{Credentials: &staticCredentials{max: 0}})
	defer engine.Close()
	assert.Equal(t, DefaultMaxConcurrent, engine.MaxConcurrent())
}

func TestWaitHonoursContext(t *testing.T) {
	transport := &fakeTransport{release: make(chan struct{}), payload: []byte("x")}
	engine := New(Options{
		Transport:   transport,
		Credentials: &staticCredentials{key: "k", max: 1},
		Classifier:  acceptAll(),
	})
	defer engine.Close()

	engine.Submit(writeFiles(t, 1)[0])
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, engine.Wait(ctx), context.DeadlineExceeded)

	transport.release <- struct{}{}
	waitSettled(t, engine)
}

func TestSymlinkedSourceReplacesTarget(t *testing.T) {
	realDir, linkDir := t.TempDir(), t.TempDir()
	target := filepath.Join(realDir, "real.png")
	require.NoError(t, os.WriteFile(target, []byte("original"), 0o640))
	link := filepath.Join(linkDir, "link.png")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	engine := New(Options{
		Transport:   &fakeTransport{payload: []byte("small")},
		Credentials: &staticCredentials{key: "k", max: 1},
		Classifier:  acceptAll(),
	})
	defer engine.Close()

	engine.Submit(link)
	waitSettled(t, engine)

	item, err := engine.Get(0)
	require.NoError(t, err)
	require.Equal(t, StatusComplete, item.Status(), item.StatusLine())

	info, err := os.Lstat(link)
	require.NoError(t, err)
	assert.Equal(t, os.ModeSymlink, info.Mode()&os.ModeSymlink, "link must survive")
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "small", string(data))
	info, err = os.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())

	for _, dir := range []string{realDir, linkDir} {
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1, "no temp files left in %s", dir)
	}
}
