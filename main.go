// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/muxrun/mux/cmd/mux"

func main() {
	cmd.Execute()
}
