package errors

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	EchoID  string `validate:"required"`
	Content string `validate:"max=5"`
}

func TestFromValidation(t *testing.T) {
	err := validator.New().Struct(sample{Content: "too long content"})
	require.Error(t, err)

	appErr := FromValidation(err)
	assert.Equal(t, ErrCodeValidationFailed, appErr.Code)
	assert.Contains(t, appErr.Message, "sample.EchoID is required")
	assert.Contains(t, appErr.Message, "sample.Content must be at most 5")

	details := appErr.Details.(map[string]interface{})
	fields := details["errors"].([]FieldError)
	require.Len(t, fields, 2)
	assert.Equal(t, "required", fields[0].Tag)
}

func TestFromValidation_PlainError(t *testing.T) {
	appErr := FromValidation(assert.AnError)
	assert.Equal(t, ErrCodeValidationFailed, appErr.Code)
	assert.Nil(t, FromValidation(nil))
}

func TestRecord(t *testing.T) {
	before := testutil.ToFloat64(errorCounter.WithLabelValues("EMPTY_CONTENT", "validation", "/ai/knowledge/ingest"))
	Record(NewEmptyContentError(), "/ai/knowledge/ingest")
	Record(nil, "/ai/knowledge/ingest")
	after := testutil.ToFloat64(errorCounter.WithLabelValues("EMPTY_CONTENT", "validation", "/ai/knowledge/ingest"))
	assert.Equal(t, before+1, after)
}
