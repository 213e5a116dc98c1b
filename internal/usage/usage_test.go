package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/curibio/cloud-core/internal/models"
)

func strPtr(s string) *string { return &s }

func TestEvaluate(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		snap Snapshot
		want Status
	}{
		{
			name: "unlimited plan",
			snap: Snapshot{
				UploadsCount: 5000,
				JobsCount:    9000,
				Limits:       models.ProductLimits{Uploads: Unlimited, Jobs: Unlimited},
			},
			want: Status{},
		},
		{
			name: "uploads at limit, jobs unlimited",
			snap: Snapshot{
				UploadsCount: 3,
				Limits:       models.ProductLimits{Uploads: 3, Jobs: Unlimited},
			},
			want: Status{UploadsReached: true},
		},
		{
			name: "uploads under limit",
			snap: Snapshot{
				UploadsCount: 2,
				Limits:       models.ProductLimits{Uploads: 3, Jobs: Unlimited},
			},
			want: Status{},
		},
		{
			name: "jobs at limit",
			snap: Snapshot{
				UploadsCount: 1,
				JobsCount:    20,
				Limits:       models.ProductLimits{Uploads: Unlimited, Jobs: 20},
			},
			want: Status{JobsReached: true},
		},
		{
			name: "expired plan blocks everything",
			snap: Snapshot{
				Limits: models.ProductLimits{
					Uploads:        Unlimited,
					Jobs:           Unlimited,
					ExpirationDate: strPtr("2024-01-01"),
				},
			},
			want: Status{UploadsReached: true, JobsReached: true},
		},
		{
			name: "plan lapses on the expiration day itself",
			snap: Snapshot{
				Limits: models.ProductLimits{
					Uploads:        10,
					Jobs:           10,
					ExpirationDate: strPtr("2024-06-15"),
				},
			},
			want: Status{UploadsReached: true, JobsReached: true},
		},
		{
			name: "future-dated plan stays usable",
			snap: Snapshot{
				Limits: models.ProductLimits{
					Uploads:        10,
					Jobs:           10,
					ExpirationDate: strPtr("2024-06-16"),
				},
			},
			want: Status{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(&tt.snap, now)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateBadExpirationDate(t *testing.T) {
	snap := &Snapshot{
		Limits: models.ProductLimits{ExpirationDate: strPtr("not-a-date")},
	}
	_, err := Evaluate(snap, time.Now())
	require.Error(t, err)
}
