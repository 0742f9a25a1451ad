package main

import "github.com/tabuladb/tabula/cmd/tabula"

func main() {
	tabula.Main()
}
