// Command tally reconciles cloud resources into a local record store.
package main

func main() {
	Execute()
}
