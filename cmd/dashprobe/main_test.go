package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/dashprobe/cmd"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitOK},
		{"verification failed", cmd.ErrVerificationFailed, exitFailed},
		{"wrapped verification failure", fmt.Errorf("verify: %w", cmd.ErrVerificationFailed), exitFailed},
		{"interrupted", context.Canceled, exitFailed},
		{"bad configuration", errors.New("invalid configuration"), exitError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestHandlePanic(t *testing.T) {
	var code int
	osExit = func(c int) { code = c }
	t.Cleanup(func() { osExit = os.Exit })

	func() {
		defer handlePanic()
		panic("boom")
	}()
	assert.Equal(t, exitError, code)
}
