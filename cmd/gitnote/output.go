package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/YusukeImai797/Gitnote"
)

func printJSON(cmd *cobra.Command, v any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// readBody returns the contents of path, or stdin for "-".
func readBody(cmd *cobra.Command, path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}
	return string(data), nil
}

// explainConflict adds the resolve hint to a conflict error.
func explainConflict(id string, err error) error {
	var ce *gitnote.ConflictError
	if errors.As(err, &ce) {
		return fmt.Errorf("%w\nresolve with 'gitnote resolve %s --force' or 'gitnote resolve %s --accept'", err, id, id)
	}
	return err
}
