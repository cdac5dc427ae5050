package configstore

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestStore_Load(t *testing.T) {
	t.Parallel()
	mock := newMock(t)

	mock.ExpectQuery("SELECT scraper_name, retailer, concurrency").
		WithArgs("bigbox").
		WillReturnRows(pgxmock.NewRows([]string{
			"scraper_name", "retailer", "concurrency", "batch_size",
			"max_retries", "bulk_threshold", "container_state",
		}).AddRow("bigbox", "BigBox", 8, 50, 3, 250, 1))

	store := New(mock)
	settings, err := store.Load(context.Background(), "bigbox")
	require.NoError(t, err)
	require.Equal(t, Settings{
		ScraperName:    "bigbox",
		Retailer:       "BigBox",
		Concurrency:    8,
		BatchSize:      50,
		MaxRetries:     3,
		BulkThreshold:  250,
		ContainerState: 1,
	}, settings)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LoadNotFound(t *testing.T) {
	t.Parallel()
	mock := newMock(t)

	mock.ExpectQuery("SELECT scraper_name, retailer, concurrency").
		WithArgs("ghost").
		WillReturnRows(pgxmock.NewRows([]string{
			"scraper_name", "retailer", "concurrency", "batch_size",
			"max_retries", "bulk_threshold", "container_state",
		}))

	store := New(mock)
	_, err := store.Load(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_MarkRunning(t *testing.T) {
	t.Parallel()
	mock := newMock(t)

	mock.ExpectExec("UPDATE scrapers_configuration SET container_state = 1").
		WithArgs("bigbox").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	store := New(mock)
	require.NoError(t, store.MarkRunning(context.Background(), "bigbox"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_MarkRunningUnknownScraper(t *testing.T) {
	t.Parallel()
	mock := newMock(t)

	mock.ExpectExec("UPDATE scrapers_configuration SET container_state = 1").
		WithArgs("ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	store := New(mock)
	require.ErrorIs(t, store.MarkRunning(context.Background(), "ghost"), ErrNotFound)
}

func TestStore_RestartRequired(t *testing.T) {
	t.Parallel()
	mock := newMock(t)

	mock.ExpectQuery("SELECT container_state FROM scrapers_configuration").
		WithArgs("bigbox").
		WillReturnRows(pgxmock.NewRows([]string{"container_state"}).AddRow(0))

	store := New(mock)
	restart, err := store.RestartRequired(context.Background(), "bigbox")
	require.NoError(t, err)
	require.True(t, restart)
}

func TestStore_RestartNotRequired(t *testing.T) {
	t.Parallel()
	mock := newMock(t)

	mock.ExpectQuery("SELECT container_state FROM scrapers_configuration").
		WithArgs("bigbox").
		WillReturnRows(pgxmock.NewRows([]string{"container_state"}).AddRow(1))

	store := New(mock)
	restart, err := store.RestartRequired(context.Background(), "bigbox")
	require.NoError(t, err)
	require.False(t, restart)
}

func TestStore_QueryErrorIsWrapped(t *testing.T) {
	t.Parallel()
	mock := newMock(t)

	mock.ExpectQuery("SELECT container_state FROM scrapers_configuration").
		WithArgs("bigbox").
		WillReturnError(errors.New("connection refused"))

	store := New(mock)
	_, err := store.RestartRequired(context.Background(), "bigbox")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)
}
