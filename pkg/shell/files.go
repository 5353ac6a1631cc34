package shell

import (
	"context"
	"fmt"
	"os"
	"sort"
)

// Write stores data in the remote file through a local temporary file.
func (s *Shell) Write(ctx context.Context, file string, data []byte) error {
	tmp, err := os.CreateTemp("", "yodler-write-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	return s.backend.Send(ctx, tmp.Name(), file)
}

// Read returns the content of the remote file.
func (s *Shell) Read(ctx context.Context, file string) ([]byte, error) {
	tmp, err := os.CreateTemp("", "yodler-read-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	name := tmp.Name()
	tmp.Close()
	defer os.Remove(name)

	if err := s.backend.Recv(ctx, file, name); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read temp file: %w", err)
	}
	return data, nil
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
