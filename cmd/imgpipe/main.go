// Command imgpipe is a thin CLI front end over the imagepipeline library,
// wiring its default memory/disk cache and HTTP transport implementations
// the way a real caller would.
package main

import "github.com/loadkit/imagepipeline/cmd/imgpipe/cmd"

func main() {
	cmd.Execute()
}
