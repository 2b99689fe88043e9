// Command tilecache serves tiles out of MRF pyramids and packs tile
// directories into them.
package main

func main() {
	Execute()
}
