// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ingest

import (
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"
)

// TopicFile is the on-disk list of topic queries.
//
//	topics:
//	  - social media
//	  - robotics
type TopicFile struct {
	Topics []string `yaml:"topics"`
}

// LoadTopics reads a topic file. Blank and repeated entries are dropped
// and order is preserved.
func LoadTopics(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading topic file: %w", err)
	}
	var tf TopicFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parsing topic file: %w", err)
	}
	topics := CleanTopics(tf.Topics)
	if len(topics) == 0 {
		return nil, fmt.Errorf("topic file %s lists no topics", path)
	}
	return topics, nil
}

// WriteTopics saves topics to path.
func WriteTopics(path string, topics []string) error {
	data, err := yaml.Marshal(&TopicFile{Topics: CleanTopics(topics)})
	if err != nil {
		return fmt.Errorf("marshaling topic file: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// CleanTopics trims entries and removes blanks and duplicates.
func CleanTopics(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, t := range in {
		t = strings.TrimSpace(t)
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}
