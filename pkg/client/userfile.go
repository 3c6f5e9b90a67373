package client

import (
	"fmt"
	"os"
)

// AppendIdentity appends identity to the file at path, creating it if
// needed. Nothing else is written: no newline or separator is added. The file
// is synced and closed before returning.
func AppendIdentity(path, identity string) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open user file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close user file: %w", cerr)
		}
	}()

	if _, err := f.WriteString(identity); err != nil {
		return fmt.Errorf("write user file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync user file: %w", err)
	}
	return nil
}
