package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun_Flags(t *testing.T) {
	assert.NoError(t, run([]string{"--help"}))
	assert.NoError(t, run([]string{"-h"}))
	assert.EqualError(t, run([]string{"extra"}), "unexpected argument: extra")
	assert.Error(t, run([]string{"--unknown"}))
}
