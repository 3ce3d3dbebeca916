package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/mapsight/places-crawler/internal/scrape"
)

func TestAppendInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink, err := NewWithPool(mock, "places")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	record := scrape.PlaceRecord{
		ID:          "rec-1",
		Title:       "Blue Bottle Coffee",
		Address:     "300 Webster St",
		Phone:       "+1 510-555-0123",
		Website:     "https://bluebottlecoffee.com",
		Rating:      4.5,
		ReviewCount: 812,
		GPS:         &scrape.GPS{Lat: 37.8, Lng: -122.27},
		URL:         "https://maps.example.com/place/blue-bottle",
		ScrapedAt:   now,
		Reviews:     []scrape.Review{{Author: "Ann", Rating: 5, Text: "Great"}},
		Photos:      []scrape.PhotoRef{{Key: "photo-rec-1-0", URL: "https://lh3.example.com/p=s1600"}},
	}

	mock.ExpectExec("INSERT INTO places").
		WithArgs(
			record.ID,
			record.Title,
			record.Address,
			record.Phone,
			record.Website,
			record.Rating,
			record.ReviewCount,
			record.GPS.Lat,
			record.GPS.Lng,
			record.URL,
			[]byte(`[{"author":"Ann","rating":5,"text":"Great"}]`),
			[]byte(`[{"key":"photo-rec-1-0","url":"https://lh3.example.com/p=s1600"}]`),
			[]byte(nil),
			record.ScrapedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, sink.Append(context.Background(), record))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendWithoutGPSUsesNulls(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink, err := NewWithPool(mock, "places")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	contact := scrape.NewContactInfo()
	contact.Emails = []string{"info@example.com"}
	record := scrape.PlaceRecord{
		ID:          "rec-2",
		Title:       "No Map Pin",
		URL:         "https://maps.example.com/place/no-pin",
		ScrapedAt:   now,
		Reviews:     []scrape.Review{},
		Photos:      []scrape.PhotoRef{},
		ContactInfo: &contact,
	}

	mock.ExpectExec("INSERT INTO places").
		WithArgs(
			record.ID,
			record.Title,
			"",
			"",
			"",
			float64(0),
			0,
			nil,
			nil,
			record.URL,
			[]byte(`[]`),
			[]byte(`[]`),
			[]byte(`{"emails":["info@example.com"],"socialMedia":{},"phoneNumbers":[]}`),
			record.ScrapedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, sink.Append(context.Background(), record))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendRequiresRecordID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink, err := NewWithPool(mock, "places")
	require.NoError(t, err)

	err = sink.Append(context.Background(), scrape.PlaceRecord{})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendWrapsExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink, err := NewWithPool(mock, "places")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO places").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(fmt.Errorf("connection reset"))

	err = sink.Append(context.Background(), scrape.PlaceRecord{ID: "rec-3"})
	require.ErrorContains(t, err, "insert place")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "places; DROP TABLE places")
	require.Error(t, err)
}
