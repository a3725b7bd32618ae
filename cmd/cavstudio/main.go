// Package main is the cavstudio command line: the API server plus offline
// ingest, training, ranking and localization tools.
package main

func main() {
	Execute()
}
