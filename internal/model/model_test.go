package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDrawStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    DrawStatus
		wantErr bool
	}{
		{in: "upcoming", want: DrawStatusUpcoming},
		{in: "active", want: DrawStatusActive},
		{in: " Open ", want: DrawStatusActive},
		{in: "COMPLETED", want: DrawStatusCompleted},
		{in: "closed", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDrawStatus(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDrawStatus_RankOnlyForward(t *testing.T) {
	assert.Less(t, DrawStatusUpcoming.Rank(), DrawStatusActive.Rank())
	assert.Less(t, DrawStatusActive.Rank(), DrawStatusCompleted.Rank())
	assert.Equal(t, -1, DrawStatus("paused").Rank())
}

func TestDraw_HasPrice(t *testing.T) {
	d := Draw{
		Status:       DrawStatusActive,
		TicketPrices: []decimal.Decimal{decimal.RequireFromString("5"), decimal.RequireFromString("10.50")},
	}

	assert.True(t, d.AcceptsEntries())
	assert.True(t, d.HasPrice(decimal.RequireFromString("10.5")))
	assert.False(t, d.HasPrice(decimal.RequireFromString("20")))

	d.Status = DrawStatusCompleted
	assert.False(t, d.AcceptsEntries())
}

func TestCents(t *testing.T) {
	assert.Equal(t, int64(1050), ToCents(decimal.RequireFromString("10.5")))
	assert.Equal(t, int64(1), ToCents(decimal.RequireFromString("0.005")))
	assert.True(t, FromCents(1050).Equal(decimal.RequireFromString("10.50")))
	assert.Equal(t, "0.07", FromCents(7).StringFixed(2))
}

func TestRejectReason(t *testing.T) {
	assert.True(t, ReasonNumberTaken.Known())
	assert.True(t, ReasonDrawClosed.Known())
	assert.False(t, RejectReason("server_on_fire").Known())

	assert.Equal(t, "you have already entered this draw", ReasonAlreadyEntered.Message())
	assert.Equal(t, "purchase rejected", RejectReason("other").Message())
}
