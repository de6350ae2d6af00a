package gcp

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
)

func TestGetEnvReturnsValueWhenSet(t *testing.T) {
	t.Setenv("REPORTFLOW_TEST_VALUE", "configured")
	assert.Equal(t, "configured", GetEnv("REPORTFLOW_TEST_VALUE", "fallback"))
}

func TestGetEnvFallsBackWhenUnset(t *testing.T) {
	// t.Setenv registers the restore; Unsetenv makes the variable truly absent.
	t.Setenv("REPORTFLOW_TEST_VALUE", "")
	os.Unsetenv("REPORTFLOW_TEST_VALUE")
	assert.Equal(t, "fallback", GetEnv("REPORTFLOW_TEST_VALUE", "fallback"))
}

func TestGetEnvDistinguishesEmptyFromUnset(t *testing.T) {
	t.Setenv("REPORTFLOW_TEST_VALUE", "")
	assert.Equal(t, "", GetEnv("REPORTFLOW_TEST_VALUE", "fallback"))
}

func TestIsPreconditionFailedDetects412(t *testing.T) {
	direct := &googleapi.Error{Code: 412, Message: "conditionNotMet"}
	assert.True(t, isPreconditionFailed(direct))

	wrapped := fmt.Errorf("failed to finalize GCS write: %w", direct)
	assert.True(t, isPreconditionFailed(wrapped))
}

func TestIsPreconditionFailedIgnoresOtherFailures(t *testing.T) {
	assert.False(t, isPreconditionFailed(&googleapi.Error{Code: 403, Message: "forbidden"}))
	assert.False(t, isPreconditionFailed(errors.New("connection reset")))
	assert.False(t, isPreconditionFailed(nil))
}
