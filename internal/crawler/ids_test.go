package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectIDs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "F2000", FolderID(2000))
	assert.Equal(t, "F-2000", FolderID(-2000))
	assert.Equal(t, "D123", DocumentIDFor(123))
	assert.True(t, IsFolderID("F1"))
	assert.True(t, IsDocumentID("D1"))
	assert.False(t, IsDocumentID(""))
}

func TestParseObjectID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		prefix  byte
		id      int64
		wantErr bool
	}{
		{name: "document", in: "D123", prefix: 'D', id: 123},
		{name: "volume", in: "F-2000", prefix: 'F', id: -2000},
		{name: "too short", in: "D", wantErr: true},
		{name: "bad prefix", in: "X12", wantErr: true},
		{name: "not numeric", in: "Dabc", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			prefix, id, err := ParseObjectID(tt.in)
			if tt.wantErr {
				require.ErrorContains(t, err, "bad document identifier")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.prefix, prefix)
			assert.Equal(t, tt.id, id)
		})
	}
}
