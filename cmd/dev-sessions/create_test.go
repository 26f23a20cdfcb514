package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCodeForNilIsZero(t *testing.T) {
	assert.Equal(t, 0, exitCodeFor(nil))
}

func TestExitCodeForErrorIsOne(t *testing.T) {
	assert.Equal(t, 1, exitCodeFor(assertError("boom")))
}

type assertError string

func (e assertError) Error() string { return string(e) }
