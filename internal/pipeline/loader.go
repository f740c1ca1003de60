package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadAndCompileDir discovers pipeline files in <dir>/*.yaml, parses
// all definitions, and compiles them into a validated Set.
func LoadAndCompileDir(dir string) (*Set, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return &Set{Pipelines: map[string]*Pipeline{}}, nil
		}
		return nil, fmt.Errorf("read pipelines directory %q: %w", dir, err)
	}

	var yamlFiles []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		yamlFiles = append(yamlFiles, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(yamlFiles)

	var specs []PipelineSpec
	for _, filePath := range yamlFiles {
		fileSpec, err := LoadFile(filePath)
		if err != nil {
			return nil, err
		}
		specs = append(specs, fileSpec.Pipelines...)
	}

	return CompileSpecs(specs)
}

// LoadFile parses one pipeline YAML file.
func LoadFile(path string) (*FileSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file %q: %w", path, err)
	}

	var fileSpec FileSpec
	if err := yaml.Unmarshal(data, &fileSpec); err != nil {
		return nil, fmt.Errorf("parse pipeline file %q: %w", path, err)
	}

	for i, p := range fileSpec.Pipelines {
		fileSpec.Pipelines[i].Name = strings.TrimSpace(p.Name)
	}
	return &fileSpec, nil
}

func sortStrings(s []string) {
	sort.Strings(s)
}
