package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const maxGrepMatches = 200

// GrepTool searches file contents with a regular expression.
type GrepTool struct{}

func (GrepTool) Name() string { return "grep" }
func (GrepTool) Description() string {
	return "Search file contents under a directory with a regular expression; returns file:line matches."
}
func (GrepTool) Parameters() map[string]any {
	return objectSchema([]string{"path", "pattern"}, map[string]any{
		"path":    pathParam("Directory or file to search"),
		"pattern": map[string]any{"type": "string", "description": "Go regular expression"},
	})
}

func (GrepTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	root := stringArg(args, "path")
	pattern := stringArg(args, "pattern")
	if root == "" || pattern == "" {
		return Errorf("path and pattern are required"), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Errorf("bad pattern: %v", err), nil
	}

	var matches []string
	walkErr := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || len(matches) >= maxGrepMatches {
			if len(matches) >= maxGrepMatches {
				return filepath.SkipAll
			}
			return nil
		}
		grepFile(p, re, &matches)
		return nil
	})
	if walkErr != nil {
		return Errorf("grep: %v", walkErr), nil
	}
	if len(matches) == 0 {
		return Result{Content: "no matches"}, nil
	}
	out := strings.Join(matches, "\n")
	if len(matches) >= maxGrepMatches {
		out += fmt.Sprintf("\n... (stopped at %d matches)", maxGrepMatches)
	}
	return Result{Content: out}, nil
}

func grepFile(path string, re *regexp.Regexp, matches *[]string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(*matches) >= maxGrepMatches {
			return
		}
		text := scanner.Text()
		if re.MatchString(text) {
			*matches = append(*matches, fmt.Sprintf("%s:%d:%s", path, line, text))
		}
	}
}
