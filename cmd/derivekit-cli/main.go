/*
Copyright © 2026 tealdao
*/
package main

import "github.com/tealdao/derivekit/cmd/derivekit-cli/cmd"

func main() {
	cmd.Execute()
}
