package models

import (
	"testing"
	"time"

	"studiobook/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPriceList() PriceList {
	return NewPriceList(200000, 1, 50000, []CatalogItem{
		{Equipment: Equipment{ID: 1, Name: "CDJ-3000", Type: "cdj", Category: "player"}},
		{Equipment: Equipment{ID: 2, Name: "DJM-V10", Type: "mixer", Category: "mixer"}, PricePerHour: 25000},
		{Equipment: Equipment{ID: 3, Name: "Mic", Type: "mic", Category: "extra"}},
	})
}

func TestStatus(t *testing.T) {
	assert.True(t, StatusDeclined.IsTerminal())
	assert.True(t, StatusFinished.IsTerminal())
	assert.False(t, StatusWaitingForConfirmation.IsTerminal())
	assert.False(t, StatusConfirmed.IsTerminal())
	assert.False(t, Status("waiting for confirmation").Valid())
}

func TestPriceList_Total(t *testing.T) {
	p := testPriceList()

	t.Run("RoomOnly", func(t *testing.T) {
		assert.Equal(t, int64(400000), p.Total(2, nil, 0))
	})

	t.Run("EquipmentSurcharge", func(t *testing.T) {
		eq := []Equipment{{ID: 2}}
		assert.Equal(t, int64(3*200000+3*25000), p.Total(3, eq, 0))
	})

	t.Run("ExtraCDJs", func(t *testing.T) {
		eq := []Equipment{{ID: 1}}
		assert.Equal(t, int64(2*200000), p.Total(2, eq, 2))
		assert.Equal(t, int64(2*200000+2*50000*2), p.Total(2, eq, 4))
	})

	t.Run("CDJCountIgnoredWithoutItem", func(t *testing.T) {
		assert.Equal(t, int64(200000), p.Total(1, []Equipment{{ID: 3}}, 4))
	})
}

func TestPriceList_Reprice(t *testing.T) {
	p := testPriceList()

	b := &Booking{DurationHours: 2, Equipment: []Equipment{{ID: 1}, {ID: 2}}}
	require.NoError(t, p.Reprice(b))
	assert.Equal(t, DefaultCDJCount, b.CDJCount)
	assert.Equal(t, "DJM-V10", b.Equipment[1].Name)
	assert.Equal(t, int64(2*200000+2*25000), b.Total)

	b = &Booking{DurationHours: 2, Equipment: []Equipment{{ID: 1}}, CDJCount: 5}
	assert.True(t, apperr.Is(p.Reprice(b), apperr.KindValidation))

	b = &Booking{DurationHours: 2, Equipment: []Equipment{{ID: 99}}}
	assert.True(t, apperr.Is(p.Reprice(b), apperr.KindValidation))

	b = &Booking{DurationHours: 2, Equipment: []Equipment{{ID: 3}}, CDJCount: 3}
	require.NoError(t, p.Reprice(b))
	assert.Equal(t, 0, b.CDJCount)
}

func TestBookingPatch_Apply(t *testing.T) {
	date := "2024-05-02"
	hours := 3
	b := &Booking{ID: "b1", Date: "2024-05-01", Time: "18:00", DurationHours: 2, PaymentStatus: PaymentPending}

	require.NoError(t, (&BookingPatch{Date: &date, DurationHours: &hours}).Apply(b))
	assert.Equal(t, "2024-05-02", b.Date)
	assert.Equal(t, "18:00", b.Time)
	assert.Equal(t, 3, b.DurationHours)

	bad := "18.00"
	assert.True(t, apperr.Is((&BookingPatch{Time: &bad}).Apply(b), apperr.KindValidation))

	zero := 0
	assert.True(t, apperr.Is((&BookingPatch{DurationHours: &zero}).Apply(b), apperr.KindValidation))

	paid := PaymentPaid
	require.NoError(t, (&BookingPatch{PaymentStatus: &paid}).Apply(b))
	pending := PaymentPending
	assert.True(t, apperr.Is((&BookingPatch{PaymentStatus: &pending}).Apply(b), apperr.KindConflict))
}

func TestBooking_StartEnd(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)

	b := &Booking{Date: "2024-05-01", Time: "18:00", DurationHours: 2}
	start, err := b.Start(loc)
	require.NoError(t, err)
	end, err := b.End(loc)
	require.NoError(t, err)

	assert.Equal(t, 18, start.Hour())
	assert.Equal(t, 2*time.Hour, end.Sub(start))
	assert.Equal(t, loc, start.Location())
}

func TestBooking_Clone(t *testing.T) {
	b := &Booking{ID: "b1", Equipment: []Equipment{{ID: 1}}}
	c := b.Clone()
	c.Equipment[0].ID = 2

	assert.Equal(t, int64(1), b.Equipment[0].ID)
}
