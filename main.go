package main

import "github.com/GughanS/erpnext-ast-analyzer/cmd"

func main() {
	cmd.Execute()
}
