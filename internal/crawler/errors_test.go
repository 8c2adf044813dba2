package crawler

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceInterruption(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cause := errors.New("connection refused")
	si := NewServiceInterruption("server down", cause, now, time.Minute, 10*time.Minute)

	wrapped := fmt.Errorf("seed: %w", si)
	got, ok := AsServiceInterruption(wrapped)
	require.True(t, ok)
	assert.Equal(t, now.Add(time.Minute), got.RetryAt)
	assert.Equal(t, now.Add(10*time.Minute), got.FailAt)
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, "service interruption: server down: connection refused", si.Error())

	assert.False(t, si.Expired(now.Add(5*time.Minute)))
	assert.True(t, si.Expired(now.Add(10*time.Minute)))

	forever := NewServiceInterruption("retry", nil, now, time.Second, 0)
	assert.True(t, forever.FailAt.IsZero())
	assert.False(t, forever.Expired(now.Add(24*time.Hour)))

	_, ok = AsServiceInterruption(errors.New("plain"))
	assert.False(t, ok)
}

func TestDocumentSpecAndRepositoryDocument(t *testing.T) {
	t.Parallel()

	spec := DocumentSpec{}.
		Add("startpoint", map[string]string{"path": "Docs"}).
		Add("include", map[string]string{"filespec": "*.pdf"}).
		Add("startpoint", map[string]string{"path": "Other"})
	starts := spec.Of("startpoint")
	require.Len(t, starts, 2)
	assert.Equal(t, "Other", starts[1].Attr("path"))
	assert.True(t, starts[0].HasAttr("path"))
	assert.False(t, starts[0].HasAttr("value"))

	var doc RepositoryDocument
	doc.AddField("general_name", "a")
	doc.AddField("general_name", "b")
	doc.SetSecurity([]string{"1"}, []string{"DEAD_AUTHORITY"})
	assert.Equal(t, []string{"a", "b"}, doc.Fields["general_name"])
	assert.Equal(t, []string{"DEAD_AUTHORITY"}, doc.DenyACL)
}
