package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/openfroyo/graphpatch/pkg/config"
	"github.com/openfroyo/graphpatch/pkg/engine"
)

// Exit codes.
const (
	exitError    = 1
	exitRejected = 2
	exitGate     = 3
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ReportError writes err for a person reading the terminal.
func ReportError(w io.Writer, err error) {
	var rejected *engine.PlanRejectedError
	var loadErr *config.LoadError
	switch {
	case errors.As(err, &rejected):
		fmt.Fprintln(w, "Plan rejected:")
		for _, line := range rejected.Lines() {
			fmt.Fprintln(w, "  "+line)
		}
	case errors.As(err, &loadErr):
		fmt.Fprintln(w, "Invalid configuration:")
		for _, ve := range loadErr.Errors {
			fmt.Fprintln(w, "  "+ve.String())
		}
	case errors.Is(err, engine.ErrNoPendingPatch):
		fmt.Fprintln(w, "Error: nothing to apply. Run `graphpatch plan` first.")
	case errors.Is(err, engine.ErrPatchExpired):
		fmt.Fprintln(w, "Error: the pending patch expired and was discarded. Plan it again.")
	case errors.Is(err, engine.ErrInvalidCode):
		fmt.Fprintln(w, "Error: confirmation code does not match the pending patch.")
	case errors.Is(err, engine.ErrDestructiveBlocked):
		fmt.Fprintln(w, "Error: the patch contains destructive actions. Re-run with --allow-destructive.")
	case errors.Is(err, engine.ErrPlanReplaced):
		fmt.Fprintln(w, "Error: the pending patch was replaced or applied elsewhere. Check `graphpatch status`.")
	default:
		fmt.Fprintf(w, "Error: %v\n", err)
	}
}

// ExitCode maps err to the process exit status.
func ExitCode(err error) int {
	if engine.IsGate(err) {
		return exitGate
	}
	switch engine.ClassOf(err) {
	case engine.ErrorClassParse, engine.ErrorClassPolicy:
		return exitRejected
	default:
		return exitError
	}
}

// readScript reads a patch script from path, or stdin when path is "-".
func readScript(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read script: %w", err)
	}
	return string(data), nil
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
