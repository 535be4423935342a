package fdk_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/featuredemo/fdk"
	"github.com/featuredemo/fdk/test"
	"github.com/pkg/errors"
)

func TestRunCommand(t *testing.T) {
	buf := &bytes.Buffer{}
	err := fdk.RunCommand(context.Background(), "echo hello", buf, nil)
	test.ErrNil(t, err, "running")
	out := buf.String()
	for _, exp := range []string{"Command: echo hello", "Status: 0", "hello"} {
		if !strings.Contains(out, exp) {
			t.Fatalf("output %q does not contain %q", out, exp)
		}
	}
}

func TestRunCommandFailure(t *testing.T) {
	buf := &bytes.Buffer{}
	err := fdk.RunCommand(context.Background(), "echo oops >&2; exit 3", buf, fdk.NopLogger{})
	ece, ok := errors.Cause(err).(*fdk.ExternalCommandError)
	if !ok {
		t.Fatalf("expected ExternalCommandError, got %v", err)
	}
	test.MustBe(t, 3, ece.Status)
	test.MustBe(t, "oops\n", ece.Output)
	if !strings.Contains(buf.String(), "Status: 3") {
		t.Fatalf("status not printed: %q", buf.String())
	}
}
