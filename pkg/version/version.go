// Package version derives the server's version string from build metadata.
package version

import "runtime/debug"

// commit can be set with -ldflags for builds without VCS metadata.
var commit string

// Full returns "symphony/<short-commit>", falling back to "symphony/dev"
// when no commit is known.
func Full() string {
	return "symphony/" + shortCommit()
}

func shortCommit() string {
	c := commit
	if c == "" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" {
					c = s.Value
					break
				}
			}
		}
	}
	if c == "" {
		return "dev"
	}
	if len(c) > 8 {
		c = c[:8]
	}
	return c
}
