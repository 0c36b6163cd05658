package shell

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	log "github.com/sirupsen/logrus"
)

// RunBash executes a bash script and waits for it to finish, honoring the
// context deadline. The subprocess is killed when the deadline elapses and
// the returned error wraps context.DeadlineExceeded.
func RunBash(ctx context.Context, script string) (string, error) {
	log.Debugf("run: %s", script)
	cmd := exec.CommandContext(ctx, "bash", "-c", script)
	stdout, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return string(stdout), fmt.Errorf("command timed out: %w", ctxErr)
		}
		return string(stdout), errors.New(fmt.Sprint(err) + " : " + string(stdout))
	}
	return string(stdout), nil
}
