// Package workspace recognises what kind of project lives in a build
// directory and how to build and test it.
package workspace

import (
	"os"
	"path/filepath"
	"strings"
)

// ProjectType represents the type of project.
type ProjectType string

const (
	ProjectTypeNode    ProjectType = "node"
	ProjectTypePython  ProjectType = "python"
	ProjectTypeGo      ProjectType = "go"
	ProjectTypeRust    ProjectType = "rust"
	ProjectTypeUnknown ProjectType = "unknown"
)

// Stack is the toolchain for one project type.
type Stack struct {
	Type      ProjectType
	Image     string
	Manifests []string
	Exts      []string
	Install   string
	Build     string
	Test      string
}

// Stacks are checked in order; node first since most MVPs are web apps.
var Stacks = []Stack{
	{
		Type:      ProjectTypeNode,
		Image:     "node:20-alpine",
		Manifests: []string{"package.json"},
		Exts:      []string{".ts", ".tsx", ".js", ".jsx"},
		Install:   "npm install",
		Build:     "npm run build",
		Test:      "npm test",
	},
	{
		Type:      ProjectTypePython,
		Image:     "python:3.12-alpine",
		Manifests: []string{"pyproject.toml", "requirements.txt"},
		Exts:      []string{".py"},
		Install:   "pip install -r requirements.txt",
		Test:      "pytest",
	},
	{
		Type:      ProjectTypeGo,
		Image:     "golang:alpine",
		Manifests: []string{"go.mod"},
		Exts:      []string{".go"},
		Install:   "go mod download",
		Build:     "go build ./...",
		Test:      "go test ./...",
	},
	{
		Type:      ProjectTypeRust,
		Image:     "rust:alpine",
		Manifests: []string{"Cargo.toml"},
		Exts:      []string{".rs"},
		Build:     "cargo build",
		Test:      "cargo test",
	},
}

// Unknown is returned when nothing matches; the image still has a shell.
var Unknown = Stack{Type: ProjectTypeUnknown, Image: "node:20-alpine"}

// Detect finds the stack of the project at root: manifests first, then the
// dominant source extension (at least three files) at the top level.
func Detect(root string) Stack {
	for _, s := range Stacks {
		for _, m := range s.Manifests {
			if _, err := os.Stat(filepath.Join(root, m)); err == nil {
				return s
			}
		}
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return Unknown
	}
	counts := make(map[string]int)
	for _, e := range entries {
		if !e.IsDir() {
			counts[strings.ToLower(filepath.Ext(e.Name()))]++
		}
	}

	best, bestCount := Unknown, 0
	for _, s := range Stacks {
		n := 0
		for _, ext := range s.Exts {
			n += counts[ext]
		}
		if n > bestCount {
			best, bestCount = s, n
		}
	}
	if bestCount >= 3 {
		return best
	}
	return Unknown
}

// Lookup returns the stack for a type name, or Unknown.
func Lookup(t ProjectType) Stack {
	for _, s := range Stacks {
		if s.Type == t {
			return s
		}
	}
	return Unknown
}
