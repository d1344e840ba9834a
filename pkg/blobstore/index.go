package blobstore

import (
	"fmt"
	"strconv"
	"strings"
)

// encodeIndex renders the index.txt format: the last-used
// sequence number on the first line, then alternating (key, filename)
// lines. fileToKeys is reconstructed on load from the key->filename pairs,
// so only keyToFile needs to be serialized.
func encodeIndex(seq uint64, keyToFile map[string]string) string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(seq, 10))
	b.WriteByte('\n')
	for key, file := range keyToFile {
		b.WriteString(key)
		b.WriteByte('\n')
		b.WriteString(file)
		b.WriteByte('\n')
	}
	return b.String()
}

func decodeIndex(raw string) (seq uint64, keyToFile map[string]string, fileToKeys map[string]map[string]struct{}, err error) {
	lines := strings.Split(raw, "\n")
	if len(lines) == 0 {
		return 0, nil, nil, fmt.Errorf("empty index")
	}
	seq, err = strconv.ParseUint(strings.TrimSpace(lines[0]), 10, 64)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("parse sequence: %w", err)
	}

	keyToFile = make(map[string]string)
	fileToKeys = make(map[string]map[string]struct{})
	rest := lines[1:]
	for i := 0; i+1 < len(rest); i += 2 {
		key, file := rest[i], rest[i+1]
		if key == "" && file == "" {
			continue
		}
		keyToFile[key] = file
		if fileToKeys[file] == nil {
			fileToKeys[file] = make(map[string]struct{})
		}
		fileToKeys[file][key] = struct{}{}
	}
	return seq, keyToFile, fileToKeys, nil
}
