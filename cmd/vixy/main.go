// Command vixy is a health-aware reverse proxy for Ethereum Execution
// Layer and Consensus Layer nodes.
package main

func main() {
	Execute()
}
