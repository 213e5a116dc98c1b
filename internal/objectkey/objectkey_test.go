package objectkey

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestKeyLayouts(t *testing.T) {
	customerID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	userID := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	uploadID := uuid.MustParse("33333333-3333-3333-3333-333333333333")
	jobID := uuid.MustParse("44444444-4444-4444-4444-444444444444")

	require.Equal(t,
		fmt.Sprintf("%s/%s/%s/recording.zip", customerID, userID, uploadID),
		Upload(customerID, userID, uploadID, "recording.zip"))

	prefix := Upload(customerID, userID, uploadID, "recording.zip")
	require.Equal(t,
		fmt.Sprintf("%s/%s/analysis.xlsx", prefix, jobID),
		JobArtifact(prefix, jobID, "analysis.xlsx"))

	require.Equal(t,
		prefix+"/pre-process/1.0.0/pre-process.zip",
		PreProcess(prefix, "1.0.0"))

	require.Equal(t,
		fmt.Sprintf("advanced-analysis/%s/%s/%s/aggregate.xlsx", customerID, userID, jobID),
		AdvancedAnalysis(customerID, userID, jobID, "aggregate"))
}
