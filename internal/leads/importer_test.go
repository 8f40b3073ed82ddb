package leads

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/buyer-lead-intake/internal/identity"
	"github.com/wolfman30/buyer-lead-intake/internal/observability/metrics"
)

const csvHeader = "fullName,email,phone,city,propertyType,bhk,purpose,budgetMin,budgetMax,timeline,source,notes,tags,status"

const goodLine = `John Doe,john@example.com,9876543210,Chandigarh,Apartment,2,Buy,5000000,7000000,0-3m,Website,Looking for 2BHK,"urgent,family",New`
const badPhoneLine = `Bad Phone,,123,Chandigarh,Plot,,Buy,,,0-3m,Website,,,`

func csvBody(lines ...string) string {
	return csvHeader + "\n" + strings.Join(lines, "\n") + "\n"
}

func namedLine(name string) string {
	return name + ",,9876543210,Mohali,Plot,,Buy,,,Exploring,Call,,,"
}

var testActor = identity.Principal{ID: "user-1", Email: "agent@example.com"}

func TestParseCSVTrimsHeaderAndStripsBOM(t *testing.T) {
	rows, err := ParseCSV(strings.NewReader("\ufeff fullName , phone\nAsha,9876543210\n"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Asha", rows[0]["fullName"])
	assert.Equal(t, "9876543210", rows[0]["phone"])
}

func TestParseCSVEmptyBody(t *testing.T) {
	rows, err := ParseCSV(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestParseCSVRaggedRowsFailWholeFile(t *testing.T) {
	_, err := ParseCSV(strings.NewReader("a,b\n1,2\n3\n4,5,6\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCSVParse))

	var perr *CSVParseError
	require.True(t, errors.As(err, &perr))
	assert.Len(t, perr.Details, 2)
}

func TestPlanImportRowNumbersAndOrder(t *testing.T) {
	body := csvBody(namedLine("Alpha"), badPhoneLine, namedLine("Bravo"), badPhoneLine, namedLine("Charlie"))
	plan, err := PlanImport(strings.NewReader(body), "owner-1")
	require.NoError(t, err)

	assert.Equal(t, 5, plan.Total)
	require.Len(t, plan.Accepted, 3)
	assert.Equal(t, "Alpha", plan.Accepted[0].FullName)
	assert.Equal(t, "Bravo", plan.Accepted[1].FullName)
	assert.Equal(t, "Charlie", plan.Accepted[2].FullName)
	for _, nb := range plan.Accepted {
		assert.Equal(t, "owner-1", nb.OwnerID)
	}

	require.Len(t, plan.Rejected, 2)
	assert.Equal(t, 3, plan.Rejected[0].Row)
	assert.Equal(t, 5, plan.Rejected[1].Row)
	assert.Equal(t, []string{"phone: Phone must be 10-15 digits"}, plan.Rejected[0].Errors)
}

func TestPlanImportRowLimit(t *testing.T) {
	lines := make([]string, MaxImportRows)
	for i := range lines {
		lines[i] = badPhoneLine
	}
	plan, err := PlanImport(strings.NewReader(csvBody(lines...)), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, MaxImportRows, plan.Total)

	lines = append(lines, badPhoneLine)
	_, err = PlanImport(strings.NewReader(csvBody(lines...)), "owner-1")
	assert.ErrorIs(t, err, ErrTooManyRows)
}

func TestImporterStoresValidRowsWithHistory(t *testing.T) {
	repo := NewInMemoryRepository()
	imp := NewImporter(repo, nil)

	report, err := imp.Import(context.Background(), strings.NewReader(csvBody(goodLine, badPhoneLine, namedLine("Zed"))), testActor)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Imported)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, "Import completed. 2 valid rows imported, 1 rows had errors.", report.Message())

	buyers, total, err := repo.List(context.Background(), ListFilter{Sort: SortNameAsc})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	assert.Equal(t, "John Doe", buyers[0].FullName)
	assert.Equal(t, []string{"urgent", "family"}, buyers[0].Tags)
	assert.Equal(t, testActor.ID, buyers[0].OwnerID)

	history, err := repo.History(context.Background(), buyers[0].ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Contains(t, string(history[0].Diff), `"action":"imported"`)
	assert.Contains(t, string(history[0].Diff), `"user":"agent@example.com"`)
}

func TestImporterAllInvalidSkipsStore(t *testing.T) {
	writer := &recordingWriter{}
	imp := NewImporter(writer, nil)
	report, err := imp.Import(context.Background(), strings.NewReader(csvBody(badPhoneLine)), testActor)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Imported)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 0, writer.calls)
}

func TestImporterBatchFailureImportsNothing(t *testing.T) {
	writer := &recordingWriter{err: errors.New("connection reset")}
	imp := NewImporter(writer, nil)

	_, err := imp.Import(context.Background(), strings.NewReader(csvBody(goodLine)), testActor)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestImporterRejectsWholeFile(t *testing.T) {
	writer := &recordingWriter{}
	imp := NewImporter(writer, nil)

	_, err := imp.Import(context.Background(), strings.NewReader("a,b\n1\n"), testActor)
	assert.ErrorIs(t, err, ErrCSVParse)
	assert.Equal(t, 0, writer.calls)
}

func TestImporterBoundsConcurrency(t *testing.T) {
	release := make(chan struct{})
	writer := &recordingWriter{block: release}
	imp := NewImporter(writer, nil, WithMaxConcurrent(1))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = imp.Import(context.Background(), strings.NewReader(csvBody(goodLine)), testActor)
	}()
	require.Eventually(t, func() bool { return writer.started() }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := imp.Import(ctx, strings.NewReader(csvBody(goodLine)), testActor)
	assert.ErrorIs(t, err, ErrImportBusy)

	close(release)
	wg.Wait()
}

func TestImporterRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewImportMetrics(reg)
	imp := NewImporter(NewInMemoryRepository(), nil, WithImportMetrics(m))

	_, err := imp.Import(context.Background(), strings.NewReader(csvBody(goodLine, badPhoneLine)), testActor)
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "buyerleads_import_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNewImporterPanicsWithoutStore(t *testing.T) {
	assert.Panics(t, func() { NewImporter(nil, nil) })
}

type recordingWriter struct {
	mu      sync.Mutex
	calls   int
	err     error
	block   chan struct{}
	entered bool
}

func (w *recordingWriter) ImportBatch(ctx context.Context, rows []NewBuyer, actor identity.Principal) ([]*Buyer, error) {
	w.mu.Lock()
	w.calls++
	w.entered = true
	block := w.block
	w.mu.Unlock()
	if block != nil {
		<-block
	}
	if w.err != nil {
		return nil, w.err
	}
	return make([]*Buyer, len(rows)), nil
}

func (w *recordingWriter) started() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.entered
}
