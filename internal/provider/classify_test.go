package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyHTTPStatuses(t *testing.T) {
	tests := []struct {
		status int
		want   Class
	}{
		{408, ClassRetriable},
		{429, ClassRetriable},
		{500, ClassRetriable},
		{502, ClassRetriable},
		{503, ClassRetriable},
		{400, ClassRejected},
		{401, ClassRejected},
		{403, ClassRejected},
		{404, ClassRejected},
		{422, ClassRejected},
	}
	for _, tt := range tests {
		err := &HTTPError{Status: tt.status, Body: "x"}
		assert.Equal(t, tt.want, Classify(err), "status %d", tt.status)
	}
}

func TestClassifyWrappedHTTPError(t *testing.T) {
	err := fmt.Errorf("openai: %w", &HTTPError{Status: 429})
	assert.Equal(t, ClassRetriable, Classify(err))
}

func TestClassifyAbortIsFatal(t *testing.T) {
	assert.Equal(t, ClassFatal, Classify(context.Canceled))
	assert.Equal(t, ClassFatal, Classify(context.DeadlineExceeded))
	assert.Equal(t, ClassFatal, Classify(fmt.Errorf("gen: %w", context.Canceled)))
}

func TestClassifyTransportErrors(t *testing.T) {
	assert.Equal(t, ClassRetriable, Classify(syscall.ECONNRESET))
	assert.Equal(t, ClassRetriable, Classify(syscall.ECONNREFUSED))
	assert.Equal(t, ClassRetriable, Classify(syscall.ETIMEDOUT))
	assert.Equal(t, ClassRetriable, Classify(&net.OpError{Op: "dial", Err: errors.New("down")}))
}

func TestClassifyUnknownIsFatal(t *testing.T) {
	assert.Equal(t, ClassFatal, Classify(errors.New("something odd")))
	assert.Equal(t, ClassFatal, Classify(nil))
}
