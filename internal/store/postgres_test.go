package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/venue-leads/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return &PostgresStore{pool: mock}, mock
}

var leadColumnNames = []string{"id", "name", "website_url", "phone", "email", "address", "description", "status",
	"enrichment_data", "lead_score", "lead_score_label", "contact_name", "contact_email", "contact_phone",
	"created_at", "updated_at"}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS leads`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLead(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	score := 72
	label := "high"
	website := "https://oakhall.com"

	mock.ExpectQuery(`SELECT id, name, website_url .* FROM leads WHERE id = \$1`).
		WithArgs("oak").
		WillReturnRows(pgxmock.NewRows(leadColumnNames).AddRow(
			"oak", "Oak Hall", &website, nil, nil, nil, nil, model.LeadStatusEnriched,
			[]byte(`{"venueName":"Oak Hall","commonEventTypes":["wedding"],"amenities":[],"preferredCaterers":[]}`),
			&score, &label, nil, nil, nil, now, now,
		))

	l, err := s.GetLead(context.Background(), "oak")
	require.NoError(t, err)
	assert.Equal(t, "Oak Hall", l.Name)
	assert.Equal(t, "https://oakhall.com", l.WebsiteURL)
	assert.Empty(t, l.Phone)
	require.NotNil(t, l.LeadScore)
	assert.Equal(t, 72, *l.LeadScore)
	assert.Equal(t, model.PotentialHigh, l.LeadScoreLabel)
	require.NotNil(t, l.EnrichmentData)
	assert.Equal(t, []string{"wedding"}, l.EnrichmentData.CommonEventTypes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLead_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM leads WHERE id = \$1`).
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetLead(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLeadsByIDs(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM leads WHERE id = ANY\(\$1\)`).
		WithArgs([]string{"oak", "pine"}).
		WillReturnRows(pgxmock.NewRows(leadColumnNames).
			AddRow("oak", "Oak Hall", nil, nil, nil, nil, nil, model.LeadStatusSaved, nil, nil, nil, nil, nil, nil, now, now).
			AddRow("pine", "Pine Barn", nil, nil, nil, nil, nil, model.LeadStatusNew, nil, nil, nil, nil, nil, nil, now, now))

	leads, err := s.GetLeadsByIDs(context.Background(), []string{"oak", "pine"})
	require.NoError(t, err)
	require.Len(t, leads, 2)
	assert.Equal(t, "Pine Barn", leads[1].Name)
	assert.Nil(t, leads[0].EnrichmentData)
	assert.NoError(t, mock.ExpectationsWereMet())

	leads, err = s.GetLeadsByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, leads)
}

func TestPostgresStore_GetLeadsByIDs_NormalizesStoredEnrichment(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM leads WHERE id = ANY\(\$1\)`).
		WithArgs([]string{"oak", "pine", "elm"}).
		WillReturnRows(pgxmock.NewRows(leadColumnNames).
			AddRow("oak", "Oak Hall", nil, nil, nil, nil, nil, model.LeadStatusEnriched,
				[]byte(`{"venueCapacity":"Up to 1,200 guests","inHouseCatering":"No","amenities":null}`),
				nil, nil, nil, nil, nil, now, now).
			AddRow("pine", "Pine Barn", nil, nil, nil, nil, nil, model.LeadStatusEnriched,
				[]byte(`{"venue_name":"Pine Barn","event_manager_phone":"555-0101","common_event_types":["Weddings","weddings"]}`),
				nil, nil, nil, nil, nil, now, now).
			AddRow("elm", "Elm Lodge", nil, nil, nil, nil, nil, model.LeadStatusEnriched,
				[]byte(`["not", "an", "object"]`),
				nil, nil, nil, nil, nil, now, now))

	leads, err := s.GetLeadsByIDs(context.Background(), []string{"oak", "pine", "elm"})
	require.NoError(t, err)
	require.Len(t, leads, 3)

	oak := leads[0].EnrichmentData
	require.NotNil(t, oak)
	require.NotNil(t, oak.VenueCapacity)
	assert.Equal(t, 1200, *oak.VenueCapacity)
	require.NotNil(t, oak.InHouseCatering)
	assert.False(t, *oak.InHouseCatering)
	assert.Equal(t, []string{}, oak.Amenities)

	pine := leads[1].EnrichmentData
	require.NotNil(t, pine)
	assert.Equal(t, "Pine Barn", model.Deref(pine.VenueName))
	assert.Equal(t, "555-0101", model.Deref(pine.EventManagerPhone))
	assert.Equal(t, []string{"Weddings"}, pine.CommonEventTypes)

	assert.Nil(t, leads[2].EnrichmentData)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateLead(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	upd := model.NewLeadUpdate(model.EnrichmentRecord{
		EventManagerEmail: model.String("events@oakhall.com"),
		LeadScore:         &model.LeadScore{Score: 40, Potential: model.PotentialMedium},
	})

	mock.ExpectExec(`UPDATE leads SET enrichment_data = \$1`).
		WithArgs(pgxmock.AnyArg(), "enriched", 40, "medium", upd.ContactName, upd.ContactEmail, upd.ContactPhone, pgxmock.AnyArg(), "oak").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.UpdateLead(context.Background(), "oak", upd))

	mock.ExpectExec(`UPDATE leads`).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err := s.UpdateLead(context.Background(), "missing", upd)
	assert.ErrorIs(t, err, ErrNotFound)

	mock.ExpectExec(`UPDATE leads`).WillReturnError(errors.New("connection reset"))
	err = s.UpdateLead(context.Background(), "oak", upd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "update lead oak")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertLeads(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_leads"}, leadUpsert.Columns).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "leads"`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := s.UpsertLeads(context.Background(), []model.Lead{{Name: "Oak Hall"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateAndCompleteJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO enrichment_jobs`).
		WithArgs(pgxmock.AnyArg(), []byte(`["oak"]`), false, "queued", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	job, err := s.CreateJob(ctx, []string{"oak"}, false)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)

	mock.ExpectExec(`UPDATE enrichment_jobs SET status = \$1, updated_at`).
		WithArgs("enriching", pgxmock.AnyArg(), job.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, model.JobStatusEnriching))

	mock.ExpectExec(`UPDATE enrichment_jobs SET status = \$1, result = \$2`).
		WithArgs("failed", []byte(nil), "boom", pgxmock.AnyArg(), job.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.CompleteJob(ctx, job.ID, nil, "boom"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	jobErr := "partial"

	mock.ExpectQuery(`FROM enrichment_jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "lead_ids", "overwrite", "status", "result", "error", "created_at", "updated_at", "polled_at"}).
			AddRow("job-1", []byte(`["oak","pine"]`), true, model.JobStatusComplete, []byte(`{"processed":2,"succeeded":2}`), &jobErr, now, now, nil))

	j, err := s.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"oak", "pine"}, j.LeadIDs)
	assert.True(t, j.Overwrite)
	require.NotNil(t, j.Result)
	assert.Equal(t, 2, j.Result.Succeeded)
	assert.Equal(t, "partial", j.Error)
	assert.Nil(t, j.PolledAt)

	mock.ExpectQuery(`FROM enrichment_jobs`).WithArgs("missing").WillReturnError(pgx.ErrNoRows)
	_, err = s.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteExpiredJobs(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	cutoff := time.Now().Add(-24 * time.Hour)

	mock.ExpectExec(`DELETE FROM enrichment_jobs WHERE status IN`).
		WithArgs("complete", "failed", cutoff.UTC()).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := s.DeleteExpiredJobs(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	mock.ExpectExec(`UPDATE enrichment_jobs SET polled_at`).
		WithArgs(pgxmock.AnyArg(), "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.MarkJobPolled(context.Background(), "job-1", time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
