package fdk

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/pkg/errors"
)

// RunCommand runs command with "sh -c", waits for it and prints the command,
// its exit status and its combined output to out. A non-zero exit status is
// returned as an *ExternalCommandError carrying the output.
func RunCommand(ctx context.Context, command string, out io.Writer, log Logger) error {
	if log == nil {
		log = NopLogger{}
	}
	log.Debugf("running '%s'", command)
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	buf := &bytes.Buffer{}
	cmd.Stdout = buf
	cmd.Stderr = buf
	err := cmd.Run()
	status := 0
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return errors.Wrapf(err, "starting '%s'", command)
		}
		status = exitErr.ExitCode()
	}
	fmt.Fprintf(out, "Command: %s\n", command)
	fmt.Fprintf(out, "Status: %d\n", status)
	fmt.Fprintf(out, "Output:\n%s\n", buf.String())
	if status != 0 {
		return &ExternalCommandError{Command: command, Status: status, Output: buf.String()}
	}
	return nil
}
