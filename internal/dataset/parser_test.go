package dataset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunekit/tunekit-api/internal/apperr"
	"github.com/tunekit/tunekit-api/internal/models"
)

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, models.DatasetFormatJSON, DetectFormat("corpus.json"))
	assert.Equal(t, models.DatasetFormatCSV, DetectFormat("corpus.CSV"))
	assert.Equal(t, models.DatasetFormatJSONL, DetectFormat("corpus.jsonl"))
	assert.Equal(t, models.DatasetFormatJSONL, DetectFormat("corpus"))
}

func TestCountSamplesJSON(t *testing.T) {
	count, err := CountSamples(models.DatasetFormatJSON, strings.NewReader(
		`[{"prompt": "a", "completion": "b"}, {"prompt": "c", "completion": "d"}]`))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = CountSamples(models.DatasetFormatJSON, strings.NewReader(`[]`))
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = CountSamples(models.DatasetFormatJSON, strings.NewReader(`{"not": "an array"}`))
	assert.True(t, apperr.IsInvalidInput(err))
}

func TestCountSamplesJSONL(t *testing.T) {
	content := `{"prompt": "a"}

{"prompt": "b"}
{"prompt": "c"}
`
	// blank lines are skipped, not counted
	count, err := CountSamples(models.DatasetFormatJSONL, strings.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	_, err = CountSamples(models.DatasetFormatJSONL, strings.NewReader("{\"ok\": 1}\nnot json\n"))
	assert.True(t, apperr.IsInvalidInput(err))
}

func TestCountSamplesCSVExcludesHeader(t *testing.T) {
	content := "prompt,completion\nhello,world\nfoo,bar\nbaz,qux\n"
	count, err := CountSamples(models.DatasetFormatCSV, strings.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// header only means zero samples
	count, err = CountSamples(models.DatasetFormatCSV, strings.NewReader("prompt,completion\n"))
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = CountSamples(models.DatasetFormatCSV, strings.NewReader(""))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCountSamplesUnknownFormat(t *testing.T) {
	_, err := CountSamples(models.DatasetFormat("parquet"), strings.NewReader(""))
	assert.True(t, apperr.IsInvalidInput(err))
}
