package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
)

// DefaultSettingsPath returns the default path to Claude Code's settings.json.
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".claude", "settings.json")
}

// Merge adds the OTel variables for opts.Target to the "env" block of the
// settings file and writes it back atomically. Other keys are preserved.
// A missing file is created. A malformed file is backed up to .bak and left
// untouched.
func Merge(opts MergeOptions) MergeOutput {
	path := opts.SettingsPath
	if path == "" {
		path = DefaultSettingsPath()
	}
	out := MergeOutput{Path: path}

	required, err := RequiredOTelEnv(opts.Target)
	if err != nil {
		return fail(out, err)
	}

	doc, indent, err := readSettings(path)
	if err != nil {
		return fail(out, err)
	}
	env := envBlock(doc)

	changed := false
	for _, key := range slices.Sorted(maps.Keys(required)) {
		want := required[key]
		cur, exists := env[key]
		curStr, _ := cur.(string)

		switch {
		case !exists:
			env[key] = want
			changed = true
			out.Messages = append(out.Messages, fmt.Sprintf("Added %s=%s", key, want))
		case curStr == want:
		case opts.Force:
			env[key] = want
			changed = true
			out.Messages = append(out.Messages, fmt.Sprintf("Updated %s from %q to %q", key, curStr, want))
		default:
			out.Warnings = append(out.Warnings, fmt.Sprintf(
				"%s is set to %q (expected %q), not overwriting; use --force to replace it",
				key, curStr, want,
			))
		}
	}

	if !changed {
		if len(out.Warnings) == 0 {
			out.Result = MergeAlreadyConfigured
			out.Messages = []string{"All OTel environment variables are already configured"}
			return out
		}
		out.Result = MergeSuccess
		return out
	}

	if opts.DryRun {
		out.Result = MergeSuccess
		return out
	}
	if err := writeSettingsAtomic(path, doc, indent); err != nil {
		return fail(out, fmt.Errorf("writing settings file: %w", err))
	}
	out.Result = MergeSuccess
	return out
}

func fail(out MergeOutput, err error) MergeOutput {
	out.Result = MergeError
	out.Err = err
	return out
}

// readSettings loads path as a JSON object. A missing file yields an empty
// document.
func readSettings(path string) (map[string]any, string, error) {
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return make(map[string]any), "  ", nil
	case errors.Is(err, fs.ErrPermission):
		return nil, "", fmt.Errorf("permission denied reading %s", path)
	case err != nil:
		return nil, "", fmt.Errorf("reading settings file: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil || doc == nil {
		bak := path + ".bak"
		if bakErr := os.WriteFile(bak, data, 0644); bakErr != nil {
			return nil, "", fmt.Errorf("%s contains invalid JSON and backup failed: %w", path, bakErr)
		}
		return nil, "", fmt.Errorf("%s contains invalid JSON (backup saved to %s)", path, bak)
	}
	return doc, detectIndent(data), nil
}

// envBlock returns doc's "env" object, replacing it if it is missing or not
// an object.
func envBlock(doc map[string]any) map[string]any {
	if env, ok := doc["env"].(map[string]any); ok {
		return env
	}
	env := make(map[string]any)
	doc["env"] = env
	return env
}

// writeSettingsAtomic writes doc through a temp file and rename so a reader
// never sees a partial file. Existing permissions are kept.
func writeSettingsAtomic(path string, doc map[string]any, indent string) error {
	data, err := json.MarshalIndent(doc, "", indent)
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.json.tmp")
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("permission denied writing to %s", dir)
		}
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	mode := fs.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	_ = os.Chmod(tmpPath, mode)

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp file to %s: %w", path, err)
	}
	tmpPath = ""
	return nil
}
