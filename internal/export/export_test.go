package export

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Simplici0/ecominsight/internal/db"
	"github.com/Simplici0/ecominsight/internal/migrations"
	"github.com/Simplici0/ecominsight/internal/pricing"
	"github.com/Simplici0/ecominsight/internal/store"
)

func TestWriteCSV_HeaderIsColumnsThenSortedExtraNames(t *testing.T) {
	products := []store.Product{
		{
			ID:          1,
			Name:        "Mug",
			SKU:         sql.NullString{String: "M-1", Valid: true},
			BuyingPrice: decimal.NewNullDecimal(decimal.RequireFromString("10.5")),
			OtherFields: []pricing.ExtraField{
				{ID: 1, FieldName: "zeta", Value: decimal.NewFromInt(1)},
				{ID: 2, FieldName: "alpha", Value: decimal.RequireFromString("2.25")},
			},
		},
		{
			ID:          2,
			Name:        "Plate, large",
			OtherFields: []pricing.ExtraField{{ID: 3, FieldName: "beta", Value: decimal.NewFromInt(3)}},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, products))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	header := records[0]
	assert.Equal(t, Columns, header[:len(Columns)])
	assert.Equal(t, []string{"alpha", "beta", "zeta"}, header[len(Columns):])

	first := records[1]
	assert.Equal(t, "Mug", first[1])
	assert.Equal(t, "M-1", first[2])
	assert.Equal(t, "", first[3])
	assert.Equal(t, "10.50", first[5])
	assert.Equal(t, []string{"2.25", "", "1"}, first[len(Columns):])

	second := records[2]
	assert.Equal(t, "Plate, large", second[1])
	assert.Equal(t, []string{"", "3", ""}, second[len(Columns):])
}

func TestWriteCSV_NoProductsWritesHeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, Columns, records[0])
}

func newTestRunner(t *testing.T) (*Runner, *store.Store, int64, string) {
	t.Helper()
	ctx := context.Background()

	database, err := db.Open(ctx, filepath.Join(t.TempDir(), "export-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	_, err = migrations.Up(ctx, database)
	require.NoError(t, err)

	st := store.New(database)
	owner, err := st.CreateUser(ctx, "owner@example.com", "hash")
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "exports")
	return NewRunner(st, dir, 2, nil), st, owner.ID, dir
}

func startRunner(t *testing.T, runner *Runner) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitForState(t *testing.T, runner *Runner, owner int64, jobID, state string) {
	t.Helper()
	require.Eventually(t, func() bool {
		j, err := runner.Poll(context.Background(), owner, jobID)
		return err == nil && j.State == state
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRunner_SubmitPollConsume(t *testing.T) {
	runner, st, owner, dir := newTestRunner(t)
	ctx := context.Background()
	startRunner(t, runner)

	p := &store.Product{OwnerID: owner, Name: "Mug", OtherFields: []pricing.ExtraField{{FieldName: "photo", Value: decimal.NewFromInt(4)}}}
	require.NoError(t, st.CreateProduct(ctx, p))

	jobID, err := runner.Submit(ctx, owner)
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		j, err := runner.Poll(ctx, owner, jobID)
		return err == nil && j.State == store.JobReady
	}, 5*time.Second, 10*time.Millisecond)

	j, err := runner.Poll(ctx, owner, jobID)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "products_"+strconv.FormatInt(owner, 10)+".csv"), j.FilePath)

	data, err := runner.Consume(ctx, owner, jobID)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Mug")
	assert.Contains(t, string(data), "photo")

	_, err = os.Stat(j.FilePath)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = runner.Consume(ctx, owner, jobID)
	assert.ErrorIs(t, err, ErrGone)
}

func TestRunner_PollIsOwnerScoped(t *testing.T) {
	runner, st, owner, _ := newTestRunner(t)
	ctx := context.Background()

	require.NoError(t, st.CreateExportJob(ctx, "job-1", owner))

	j, err := runner.Poll(ctx, owner, "job-1")
	require.NoError(t, err)
	assert.Equal(t, store.JobPending, j.State)

	_, err = runner.Poll(ctx, owner+1, "job-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = runner.Consume(ctx, owner, "job-1")
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestRunner_TwoSubmitsThenTwoDownloads(t *testing.T) {
	runner, st, owner, _ := newTestRunner(t)
	ctx := context.Background()
	require.NoError(t, st.CreateProduct(ctx, &store.Product{OwnerID: owner, Name: "Mug"}))

	t.Run("while the first is still queued", func(t *testing.T) {
		first, err := runner.Submit(ctx, owner)
		require.NoError(t, err)
		second, err := runner.Submit(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, first, second)

		startRunner(t, runner)
		waitForState(t, runner, owner, first, store.JobReady)

		data, err := runner.Consume(ctx, owner, first)
		require.NoError(t, err)
		assert.Contains(t, string(data), "Mug")

		_, err = runner.Consume(ctx, owner, second)
		assert.ErrorIs(t, err, ErrGone)
	})

	t.Run("after the first is ready", func(t *testing.T) {
		startRunner(t, runner)

		first, err := runner.Submit(ctx, owner)
		require.NoError(t, err)
		waitForState(t, runner, owner, first, store.JobReady)

		second, err := runner.Submit(ctx, owner)
		require.NoError(t, err)
		require.NotEqual(t, first, second)
		waitForState(t, runner, owner, second, store.JobReady)

		data, err := runner.Consume(ctx, owner, first)
		require.NoError(t, err)
		assert.Contains(t, string(data), "Mug")

		j, err := runner.Poll(ctx, owner, second)
		require.NoError(t, err)
		assert.Equal(t, store.JobDownloaded, j.State)

		_, err = runner.Consume(ctx, owner, second)
		assert.ErrorIs(t, err, ErrGone)
	})
}

func TestRunner_ConsumeMissingFileIsGone(t *testing.T) {
	runner, _, owner, _ := newTestRunner(t)
	ctx := context.Background()
	startRunner(t, runner)

	jobID, err := runner.Submit(ctx, owner)
	require.NoError(t, err)
	waitForState(t, runner, owner, jobID, store.JobReady)

	j, err := runner.Poll(ctx, owner, jobID)
	require.NoError(t, err)
	require.NoError(t, os.Remove(j.FilePath))

	_, err = runner.Consume(ctx, owner, jobID)
	assert.ErrorIs(t, err, ErrGone)

	j, err = runner.Poll(ctx, owner, jobID)
	require.NoError(t, err)
	assert.Equal(t, store.JobDownloaded, j.State)
	assert.Equal(t, reasonFileMissing, j.Error)
}

func TestRunner_SubmitFailsFastWhenQueueIsFull(t *testing.T) {
	runner, st, owner, _ := newTestRunner(t)
	runner.queue = make(chan job, 1)

	other, err := st.CreateUser(context.Background(), "other@example.com", "hash")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = runner.Submit(ctx, owner)
	require.NoError(t, err)

	_, err = runner.Submit(ctx, other.ID)
	require.ErrorIs(t, err, ErrQueueFull)
	require.NoError(t, ctx.Err())

	_, err = st.ActiveExportJob(ctx, other.ID)
	assert.ErrorIs(t, err, store.ErrNotFound, "rejected job must not stay pending")
}

func TestRunner_StopLeavesNoJobPending(t *testing.T) {
	runner, st, owner, _ := newTestRunner(t)
	ctx := context.Background()

	other, err := st.CreateUser(ctx, "other@example.com", "hash")
	require.NoError(t, err)

	first, err := runner.Submit(ctx, owner)
	require.NoError(t, err)
	second, err := runner.Submit(ctx, other.ID)
	require.NoError(t, err)

	stopped, cancel := context.WithCancel(ctx)
	cancel()
	require.NoError(t, runner.Run(stopped))

	j, err := runner.Poll(ctx, owner, first)
	require.NoError(t, err)
	assert.Equal(t, store.JobFailed, j.State)

	j, err = runner.Poll(ctx, other.ID, second)
	require.NoError(t, err)
	assert.Equal(t, store.JobFailed, j.State)
	assert.Empty(t, runner.queue)
}

func TestRunner_RecoverFailsUnfinishedJobs(t *testing.T) {
	runner, st, owner, _ := newTestRunner(t)
	ctx := context.Background()

	require.NoError(t, st.CreateExportJob(ctx, "pending", owner))
	require.NoError(t, st.CreateExportJob(ctx, "running", owner))
	require.NoError(t, st.SetExportJobState(ctx, "running", store.JobRunning, "", ""))
	require.NoError(t, st.CreateExportJob(ctx, "ready", owner))
	require.NoError(t, st.SetExportJobState(ctx, "ready", store.JobReady, "/tmp/products.csv", ""))

	require.NoError(t, runner.Recover(ctx))

	for id, want := range map[string]string{"pending": store.JobFailed, "running": store.JobFailed, "ready": store.JobReady} {
		j, err := runner.Poll(ctx, owner, id)
		require.NoError(t, err)
		assert.Equal(t, want, j.State, id)
	}

	j, err := runner.Poll(ctx, owner, "pending")
	require.NoError(t, err)
	assert.Equal(t, reasonShutdown, j.Error)
	assert.True(t, j.FinishedAt.Valid)
}
