// internal/types/models_test.go
package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewRequest(t *testing.T) {
	before := time.Now()
	req := NewRequest("hello", NewOrigin("telegram", "1", "2"), SourceUserText)

	assert.NotEmpty(t, req.ID)
	assert.Equal(t, "hello", req.Prompt)
	assert.Equal(t, Origin("telegram:1:2"), req.Origin)
	assert.Equal(t, SourceUserText, req.Source)
	assert.False(t, req.SubmittedAt.Before(before))
}
