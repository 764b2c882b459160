package mockbackend

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/c360studio/datafactory/stage"
)

// numberedFileRe matches files like "generate-schema.1.json".
var numberedFileRe = regexp.MustCompile(`^(.+)\.(\d+)\.json$`)

// LoadFixtures reads JSON reply files from dir, keyed by stage name.
//
// For each stage, replies are ordered:
//  1. Numbered files (stage.1.json, stage.2.json, ...) in numeric order
//  2. Base file (stage.json) appended as the final fallback
//
// A fixture may wrap its body as {"status_code": 500, "body": {...}} to
// script a non-200 reply.
func LoadFixtures(dir string) (map[stage.Name][]Reply, error) {
	known := make(map[stage.Name]bool)
	for _, n := range stage.Names() {
		known[n] = true
	}

	base := make(map[stage.Name]Reply)
	numbered := make(map[stage.Name]map[int]Reply)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		reply, err := parseReply(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		if m := numberedFileRe.FindStringSubmatch(d.Name()); m != nil {
			name := stage.Name(m[1])
			if !known[name] {
				return fmt.Errorf("%s: unknown stage %q", path, name)
			}
			idx, _ := strconv.Atoi(m[2])
			if numbered[name] == nil {
				numbered[name] = make(map[int]Reply)
			}
			numbered[name][idx] = reply
			return nil
		}

		name := stage.Name(strings.TrimSuffix(d.Name(), ".json"))
		if !known[name] {
			return fmt.Errorf("%s: unknown stage %q", path, name)
		}
		base[name] = reply
		return nil
	})
	if err != nil {
		return nil, err
	}

	fixtures := make(map[stage.Name][]Reply)
	for name, replies := range numbered {
		indices := make([]int, 0, len(replies))
		for idx := range replies {
			indices = append(indices, idx)
		}
		sort.Ints(indices)
		for _, idx := range indices {
			fixtures[name] = append(fixtures[name], replies[idx])
		}
	}
	for name, reply := range base {
		fixtures[name] = append(fixtures[name], reply)
	}

	if len(fixtures) == 0 {
		return nil, fmt.Errorf("no fixture files found in %s", dir)
	}
	return fixtures, nil
}

func parseReply(data []byte) (Reply, error) {
	if !json.Valid(data) {
		return Reply{}, fmt.Errorf("invalid JSON")
	}
	var wrapped struct {
		StatusCode int             `json:"status_code"`
		Body       json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.StatusCode != 0 && wrapped.Body != nil {
		return Reply{Status: wrapped.StatusCode, Body: string(wrapped.Body)}, nil
	}
	return Reply{Status: 200, Body: string(data)}, nil
}
