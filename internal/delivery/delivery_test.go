package delivery

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SeanSwan/reportflow/internal/models"
)

func TestObjectPathUsesReportsPrefix(t *testing.T) {
	assert.Equal(t, "reports/northgate-plaza_2026-01-05_2026-01-11.pdf",
		objectPath("northgate-plaza_2026-01-05_2026-01-11.pdf"))
}

func TestPageObjectPathNestsUnderReportFolder(t *testing.T) {
	got := pageObjectPath("northgate-plaza_2026-01-05_2026-01-11.pdf", 3)
	assert.Equal(t, "reports/northgate-plaza_2026-01-05_2026-01-11/pages/00003.pdf", got)
}

func TestPageObjectPathPadsForLexicalOrder(t *testing.T) {
	first := pageObjectPath("report.pdf", 2)
	second := pageObjectPath("report.pdf", 10)
	assert.Less(t, first, second)
}

func TestObjectURI(t *testing.T) {
	assert.Equal(t, "gs://weekly-reports/reports/report.pdf",
		objectURI("weekly-reports", "reports/report.pdf"))
}

func TestWorkflowArgumentCarriesDeliveryFacts(t *testing.T) {
	argument, err := workflowArgument(&models.ExportResult{
		Filename:  "report.pdf",
		PageCount: 4,
		ObjectURI: "gs://reports-bucket/reports/report.pdf",
	})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(argument), &decoded))
	assert.Equal(t, "report.pdf", decoded["filename"])
	assert.Equal(t, "gs://reports-bucket/reports/report.pdf", decoded["objectUri"])
	assert.Equal(t, float64(4), decoded["pageCount"])
}
