package errors_test

import (
	goerrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kernelfs/fat32/errors"
)

func TestDiskoErrorWithMessage(t *testing.T) {
	newErr := errors.ErrNotFound.WithMessage("/foo/bar")
	assert.Equal(t, "no such file or directory: /foo/bar", newErr.Error())
	assert.ErrorIs(t, newErr, errors.ErrNotFound)
}

func TestDiskoErrorWrap(t *testing.T) {
	originalErr := goerrors.New("short read")
	newErr := errors.ErrIOFailed.Wrap(originalErr)

	assert.Equal(t, "input/output error: short read", newErr.Error())
	assert.ErrorIs(t, newErr, errors.ErrIOFailed)
	assert.ErrorIs(t, newErr, originalErr)
}
