package export

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/movatlas/movements/pkg/core"
)

type fakeRecorder struct {
	mu   sync.Mutex
	runs []core.ExportRun
	err  error
}

func (f *fakeRecorder) RecordExport(_ context.Context, run *core.ExportRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, *run)
	return f.err
}

type failingPackager struct{}

func (failingPackager) Package(string, ...File) (File, error) {
	return File{}, errors.New("compression library unavailable")
}

type failingSink struct{ failOn string }

func (s failingSink) Deliver(_ context.Context, f File) error {
	if f.Name == s.failOn {
		return errors.New("disk full")
	}
	return nil
}

func staticFetcher(records ...core.MovementRecord) Fetcher {
	return FetcherFunc(func(context.Context, core.YearRange) ([]core.MovementRecord, error) {
		return records, nil
	})
}

func request() Request {
	return Request{
		Format: core.FormatCSV,
		Scope:  core.ScopeAll,
		Range:  core.YearRange{Min: 1500, Max: 1600},
	}
}

func TestDownloader_BundlesDatasetAndReadme(t *testing.T) {
	sink := &MemorySink{}
	rec := &fakeRecorder{}
	var states []State
	d := NewDownloader(staticFetcher(lyon(), nowhere()), NewProjector(nil), sink,
		WithRecorder(rec),
		WithStateHook(func(s State) { states = append(states, s) }),
	)

	run, err := d.Run(context.Background(), request())
	require.NoError(t, err)

	assert.Equal(t, []State{Preparing, Packaging, Idle}, states)
	assert.Equal(t, Idle, d.State())
	assert.True(t, run.Bundled)
	assert.Equal(t, 2, run.Records)
	assert.NotEmpty(t, run.ID)

	files := sink.Files()
	require.Len(t, files, 1)
	assert.Equal(t, "movements_1500-1600_all.zip", files[0].Name)

	zr, err := zip.NewReader(bytes.NewReader(files[0].Data), int64(len(files[0].Data)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"movements_1500-1600_all.csv", ReadmeName}, names)

	require.Len(t, rec.runs, 1)
	assert.Empty(t, rec.runs[0].Error)
}

func TestDownloader_PackagingFailureFallsBack(t *testing.T) {
	sink := &MemorySink{}
	var states []State
	d := NewDownloader(staticFetcher(lyon()), NewProjector(nil), sink,
		WithPackager(failingPackager{}),
		WithStateHook(func(s State) { states = append(states, s) }),
	)

	run, err := d.Run(context.Background(), request())
	require.NoError(t, err)

	assert.Equal(t, []State{Preparing, Packaging, SingleFileFallback, Idle}, states)
	assert.False(t, run.Bundled)
	files := sink.Files()
	require.Len(t, files, 2)
	assert.Equal(t, "movements_1500-1600_all.csv", files[0].Name)
	assert.Equal(t, ReadmeName, files[1].Name)
	assert.Equal(t, []string{files[0].Name, files[1].Name}, run.Files)
}

func TestDownloader_FetchFailureDeliversNothing(t *testing.T) {
	sink := &MemorySink{}
	rec := &fakeRecorder{}
	fetchErr := errors.New("503 from content API")
	d := NewDownloader(FetcherFunc(func(context.Context, core.YearRange) ([]core.MovementRecord, error) {
		return nil, fetchErr
	}), NewProjector(nil), sink, WithRecorder(rec))

	run, err := d.Run(context.Background(), request())
	require.ErrorIs(t, err, fetchErr)
	assert.Empty(t, sink.Files())
	assert.Equal(t, Idle, d.State())
	require.NotNil(t, run)
	assert.NotEmpty(t, run.Error)
	require.Len(t, rec.runs, 1)
	assert.NotEmpty(t, rec.runs[0].Error)
}

func TestDownloader_DatasetDeliveryFailureIsError(t *testing.T) {
	d := NewDownloader(staticFetcher(lyon()), NewProjector(nil),
		failingSink{failOn: "movements_1500-1600_all.csv"}, WithBundle(false))
	_, err := d.Run(context.Background(), request())
	assert.Error(t, err)
}

func TestDownloader_ReadmeDeliveryFailureIsTolerated(t *testing.T) {
	d := NewDownloader(staticFetcher(lyon()), NewProjector(nil),
		failingSink{failOn: ReadmeName}, WithBundle(false))
	run, err := d.Run(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, []string{"movements_1500-1600_all.csv"}, run.Files)
}

func TestDownloader_RejectsBadRequestsAndConcurrentRuns(t *testing.T) {
	d := NewDownloader(staticFetcher(), NewProjector(nil), &MemorySink{})

	bad := request()
	bad.Format = "xml"
	_, err := d.Run(context.Background(), bad)
	assert.ErrorIs(t, err, core.ErrUnknownFormat)

	bad = request()
	bad.Range = core.YearRange{Min: 1600, Max: 1500}
	_, err = d.Run(context.Background(), bad)
	assert.ErrorIs(t, err, core.ErrInvalidRange)

	release := make(chan struct{})
	started := make(chan struct{})
	blocking := NewDownloader(FetcherFunc(func(ctx context.Context, _ core.YearRange) ([]core.MovementRecord, error) {
		close(started)
		<-release
		return nil, nil
	}), NewProjector(nil), &MemorySink{})

	done := make(chan error, 1)
	go func() {
		_, err := blocking.Run(context.Background(), request())
		done <- err
	}()
	<-started
	_, err = blocking.Run(context.Background(), request())
	assert.ErrorIs(t, err, ErrBusy)
	close(release)
	require.NoError(t, <-done)
}

func TestSelect_ScopeVisibleIntersectsBounds(t *testing.T) {
	paris := lyon()
	paris.Coordinates = &core.Coordinates{Lng: 2.35, Lat: 48.85}
	rome := lyon()
	rome.Coordinates = &core.Coordinates{Lng: 12.5, Lat: 41.9}
	late := lyon()
	late.YearStart = core.Ptr(1700)
	records := []core.MovementRecord{paris, rome, nowhere(), late}

	req := request()
	req.Bounds = &core.ViewportBounds{South: 42, West: -5, North: 51, East: 8}

	assert.Len(t, Select(records, req), 3)

	req.Scope = core.ScopeVisible
	got := Select(records, req)
	require.Len(t, got, 1)
	assert.Equal(t, paris.Coordinates, got[0].Coordinates)
}

func TestDirSink(t *testing.T) {
	dir := t.TempDir()
	f := File{Name: "movements_1500-1600_all.json", Data: []byte(`[]`)}

	require.NoError(t, DirSink{Dir: dir}.Deliver(context.Background(), f))
	data, err := os.ReadFile(filepath.Join(dir, f.Name))
	require.NoError(t, err)
	assert.Equal(t, f.Data, data)

	gzDir := filepath.Join(dir, "gz")
	require.NoError(t, DirSink{Dir: gzDir, Compress: true}.Deliver(context.Background(), f))
	fh, err := os.Open(filepath.Join(gzDir, f.Name+".gz"))
	require.NoError(t, err)
	defer fh.Close()
	gr, err := gzip.NewReader(fh)
	require.NoError(t, err)
	plain, err := io.ReadAll(gr)
	require.NoError(t, err)
	assert.Equal(t, f.Data, plain)
	assert.Equal(t, f.Name, gr.Name)
}

func TestRecorders_JoinsErrors(t *testing.T) {
	a := &fakeRecorder{}
	b := &fakeRecorder{err: errors.New("db down")}
	err := Recorders(a, nil, b).RecordExport(context.Background(), &core.ExportRun{ID: "x"})
	assert.Error(t, err)
	assert.Len(t, a.runs, 1)
	assert.Len(t, b.runs, 1)
}
