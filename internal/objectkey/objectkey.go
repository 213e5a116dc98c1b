// Package objectkey builds object-store key layouts. The layouts are
// compatibility-critical: existing buckets hold years of artifacts under
// these shapes.
package objectkey

import (
	"fmt"

	"github.com/google/uuid"
)

// UploadPrefix is the directory holding one upload's recording and
// derived artifacts.
func UploadPrefix(customerID, userID, uploadID uuid.UUID) string {
	return fmt.Sprintf("%s/%s/%s", customerID, userID, uploadID)
}

// Upload is where a raw recording lands.
func Upload(customerID, userID, uploadID uuid.UUID, filename string) string {
	return fmt.Sprintf("%s/%s", UploadPrefix(customerID, userID, uploadID), filename)
}

// JobArtifact stores per-job outputs under the upload's prefix.
func JobArtifact(prefix string, jobID uuid.UUID, name string) string {
	return fmt.Sprintf("%s/%s/%s", prefix, jobID, name)
}

// PreProcess is the cached pre-analysis archive for one worker version.
// Keys include the version so a new worker image never reads stale work.
func PreProcess(prefix, version string) string {
	return fmt.Sprintf("%s/pre-process/%s/pre-process.zip", prefix, version)
}

// AdvancedAnalysis is the output workbook of a multi-source job.
func AdvancedAnalysis(customerID, userID, jobID uuid.UUID, name string) string {
	return fmt.Sprintf("advanced-analysis/%s/%s/%s/%s.xlsx", customerID, userID, jobID, name)
}
