package sheetpreview

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorContext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ec   *ErrorContext
		base error
		want string
	}{
		{
			name: "operation only",
			ec:   NewErrorContext("ingest", ""),
			base: nil,
			want: "sheetpreview: ingest failed",
		},
		{
			name: "file and dataset",
			ec:   NewErrorContext("ingest", "data/jobs.json").WithDataset("jobs"),
			base: errors.New("boom"),
			want: "sheetpreview: ingest failed, file: data/jobs.json, dataset: jobs: boom",
		},
		{
			name: "details",
			ec:   NewErrorContext("dump", "out").WithDetails("disk full"),
			base: errors.New("write error"),
			want: "sheetpreview: dump failed, file: out, details: disk full: write error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.EqualError(t, tt.ec.Error(tt.base), tt.want)
		})
	}
}

func TestErrorContext_Wraps(t *testing.T) {
	t.Parallel()

	err := NewErrorContext("ingest", "x.json").Error(os.ErrNotExist)
	assert.ErrorIs(t, err, os.ErrNotExist)

	err = NewErrorContext("ingest", "x.json").Error(&NotFoundError{Resource: "dataset", Name: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}
